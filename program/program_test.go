package program

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueArithmeticFoldsConstants(t *testing.T) {
	assert.Equal(t, Const(0.75), Add(Const(0.5), Const(0.25)))
	assert.Equal(t, Const(0.25), Sub(Const(0.5), Const(0.25)))
	assert.Equal(t, Const(-0.5), Neg(Const(0.5)))
	assert.Equal(t, Const(2), Div(Const(1), Const(0.5)))
	assert.False(t, Div(Const(1), Const(0)).IsSet())
}

func TestValueArithmeticBuildsExpressions(t *testing.T) {
	x := Expr("x")
	assert.Equal(t, "(x - 0.5)", Sub(x, Const(0.5)).String())
	assert.Equal(t, "(x + (-0.5))", Add(x, Const(-0.5)).String())
	assert.Equal(t, x, Add(Const(0), x))
	assert.Equal(t, Const(0), Mul(x, Const(0)))
	assert.Equal(t, x, Scale(x, 1))
	assert.Equal(t, "int((x * 1024))", Truncate(Mul(x, Const(1024))).String())
	assert.True(t, Abs(x).IsSymbolic())
}

func TestValueUnsetFallsBack(t *testing.T) {
	var v Value
	assert.False(t, v.IsSet())
	assert.Equal(t, Int(16), v.Or(Int(16)))
	assert.Equal(t, Int(8), Int(8).Or(Int(16)))
}

func TestProgramDeclareProducesUniqueIdentifiers(t *testing.T) {
	p := New()
	_, err := uuid.Parse(p.ID())
	require.NoError(t, err)

	a := p.Declare("P1 level", TypeFixed, Const(0.1))
	b := p.Declare("P1 level", TypeFixed, Value{})
	assert.NotEqual(t, a.Name, b.Name)
	assert.Regexp(t, identPattern, a.Name)

	instrs := p.Instructions()
	require.Len(t, instrs, 2)
	assert.Equal(t, OpDeclare, instrs[1].Op)
	assert.Equal(t, Const(0), instrs[1].Value)
}

func TestProgramInputValidation(t *testing.T) {
	p := New()
	_, err := p.Input("amp", TypeFixed)
	require.NoError(t, err)
	_, err = p.Input("amp", TypeFixed)
	require.Error(t, err)
	_, err = p.Input("not valid", TypeFixed)
	require.Error(t, err)
}

func TestProgramLoopBalance(t *testing.T) {
	p := New()
	require.Error(t, p.EndLoop())
	require.Error(t, p.BeginLoop(Const(1.5)))
	require.NoError(t, p.BeginLoop(Int(3)))
	require.Error(t, p.Validate())
	require.NoError(t, p.EndLoop())
	require.NoError(t, p.Validate())
}

func TestValidateRejectsMalformedExpressions(t *testing.T) {
	p := New()
	p.Channel("A").Step(Expr("(x +"), Int(16))
	require.Error(t, p.Validate())
}

func TestSimulateStepRampAndHold(t *testing.T) {
	p := New()
	ch := p.Channel("A")
	ch.Step(Const(0.5), Int(100))
	ch.Ramp(Const(-0.5), Int(40))
	ch.Hold(Int(20))

	res, err := Simulate(p, nil)
	require.NoError(t, err)
	state := res.Channels["A"]
	assert.InDelta(t, 0, state.Level, 1e-12)
	assert.InDelta(t, 0.5*100+0.25*40, state.Area, 1e-9)
	assert.InDelta(t, 160, state.Time, 1e-12)
}

func TestSimulateEvaluatesInputsAndLoops(t *testing.T) {
	p := New()
	amp, err := p.Input("amp", TypeFixed)
	require.NoError(t, err)
	counter := p.Declare("count", TypeInt, Int(0))
	ch := p.Channel("A")

	require.NoError(t, p.BeginLoop(Int(3)))
	ch.Step(Ref(amp), Int(16))
	ch.Step(Neg(Ref(amp)), Int(16))
	p.Assign(counter, Add(Ref(counter), Int(1)))
	require.NoError(t, p.EndLoop())

	res, err := Simulate(p, map[string]any{"amp": 0.25})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Vars[counter.Name])
	assert.InDelta(t, 0, res.Channels["A"].Level, 1e-12)
	assert.InDelta(t, 3*0.25*16, res.Channels["A"].Area, 1e-9)

	_, err = Simulate(p, nil)
	require.Error(t, err)
}

func TestWriteTextIndentsLoops(t *testing.T) {
	p := New()
	ch := p.Channel("A")
	require.NoError(t, p.BeginLoop(Int(2)))
	ch.Step(Const(0.5), Int(16))
	ch.RampToZero()
	require.NoError(t, p.EndLoop())

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, p))
	want := "loop 2 {\n  step A delta=0.5 scale=2 duration=16\n  ramp_to_zero A\n}\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteJSONListsInputs(t *testing.T) {
	p := New()
	_, err := p.Input("amp", TypeFixed)
	require.NoError(t, err)
	p.Channel("A", WithAmplified()).Wait(Int(16))

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, p))

	var doc jsonProgram
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, p.ID(), doc.ID)
	assert.Equal(t, []string{"amp"}, doc.Inputs)
	require.Len(t, doc.Instructions, 1)
	assert.Equal(t, "wait", doc.Instructions[0].Op)
	assert.Equal(t, AmplifiedPulseAmplitude, p.Channel("A").Pulse().Amplitude)
}
