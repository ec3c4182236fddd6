package voltage

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/voltseq/program"
)

func newBuilder(t *testing.T, set *ChannelSet, p *program.Program, opts ...SequenceOption) *Builder {
	t.Helper()
	b, err := set.NewSequence(p, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func integral(t *testing.T, b *Builder, channel string) float64 {
	t.Helper()
	tr, ok := b.Tracker(channel)
	require.True(t, ok)
	f, ok := tr.IntegratedLevel().Float()
	require.True(t, ok, "integrated level of %s is symbolic", channel)
	return f
}

func current(t *testing.T, b *Builder, channel string) float64 {
	t.Helper()
	tr, ok := b.Tracker(channel)
	require.True(t, ok)
	f, ok := tr.CurrentLevel().Float()
	require.True(t, ok, "level of %s is symbolic", channel)
	return f
}

func opsFor(p *program.Program, channel string) []program.Instruction {
	var out []program.Instruction
	for _, in := range p.Instructions() {
		if in.Channel == channel {
			out = append(out, in)
		}
	}
	return out
}

func TestNewSequenceStartsAtZero(t *testing.T) {
	p, set := newSet(t, "A", "B")
	b := newBuilder(t, set, p, WithTracking(true))

	require.Len(t, b.Trackers(), 2)
	for _, tr := range b.Trackers() {
		assert.Equal(t, program.Const(0), tr.CurrentLevel())
		assert.Equal(t, program.Const(0), tr.IntegratedLevel())
		assert.Equal(t, ScaleFactor, tr.ScaleFactor())
		assert.False(t, tr.LevelPromoted())
		assert.False(t, tr.IntegralPromoted())
	}
	assert.True(t, b.TrackingEnabled())
	assert.Same(t, set, b.Set())
}

func TestStepToLevelsEmitsRelativeSteps(t *testing.T) {
	p, set := newSet(t, "A", "B")
	b := newBuilder(t, set, p, WithTracking(true))

	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.5, "B": 0.25}), program.Int(100)))
	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.25}), program.Int(16)))

	a := opsFor(p, "A")
	require.Len(t, a, 2)
	assert.Equal(t, program.OpStep, a[0].Op)
	assert.Equal(t, program.Const(0.5), a[0].Value)
	assert.Equal(t, program.Const(-0.25), a[1].Value)
	assert.Equal(t, program.Int(16), a[1].Duration)

	bOps := opsFor(p, "B")
	require.Len(t, bOps, 2)
	assert.Equal(t, program.Const(-0.25), bOps[1].Value)

	assert.Equal(t, 0.25, current(t, b, "A"))
	assert.Equal(t, 0.0, current(t, b, "B"))
	assert.Equal(t, float64(0.5*100*1024+0.25*16*1024), integral(t, b, "A"))
	assert.Equal(t, float64(0.25*100*1024), integral(t, b, "B"))
}

func TestRampTrapezoidIntegral(t *testing.T) {
	p, set := newSet(t, "A")
	b := newBuilder(t, set, p, WithTracking(true))

	require.NoError(t, b.RampToLevels(Volts(map[string]float64{"A": 1.0}), program.Int(100), program.Int(40)))
	assert.Equal(t, float64(120*ScaleFactor), integral(t, b, "A"))
	assert.Equal(t, 1.0, current(t, b, "A"))

	ops := opsFor(p, "A")
	require.Len(t, ops, 2)
	assert.Equal(t, program.OpRamp, ops[0].Op)
	assert.Equal(t, program.Const(1), ops[0].Value)
	assert.Equal(t, program.Int(40), ops[0].Duration)
	assert.Equal(t, program.OpHold, ops[1].Op)
	assert.Equal(t, program.Int(100), ops[1].Duration)
}

func TestIntegratedLevelRoundsEachContribution(t *testing.T) {
	p, set := newSet(t, "A")
	b := newBuilder(t, set, p, WithTracking(true))

	// 0.1 V held for 20 ns is exactly 2048 units.
	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.1}), program.Int(20)))
	assert.Equal(t, 2048.0, integral(t, b, "A"))
}

func TestTrackingDisabledKeepsIntegralAtZero(t *testing.T) {
	p, set := newSet(t, "A")
	b := newBuilder(t, set, p)

	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.5}), program.Int(100)))
	assert.Equal(t, 0.0, integral(t, b, "A"))
	require.ErrorIs(t, b.ApplyCompensationPulse(DefaultMaxCompensationLevel), ErrTrackingDisabled)
}

func TestVirtualResolutionIsMemoryless(t *testing.T) {
	p := program.New()
	set, err := NewVirtualChannelSet("device", outputs(p, "A", "B"))
	require.NoError(t, err)
	layer, err := set.AddLayer([]string{"x", "y"}, []string{"A", "B"}, [][]float64{{1, 0.5}, {0.5, 1}})
	require.NoError(t, err)
	inv := layer.Inverse()

	b := newBuilder(t, set.ChannelSet, p)
	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"x": 0.2, "y": 0.1}), program.Int(100)))
	assert.InDelta(t, inv[0][0]*0.2+inv[0][1]*0.1, current(t, b, "A"), 1e-12)

	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"x": 0.2}), program.Int(100)))
	assert.InDelta(t, inv[0][0]*0.2, current(t, b, "A"), 1e-12)
	assert.InDelta(t, inv[1][0]*0.2, current(t, b, "B"), 1e-12)

	a := opsFor(p, "A")
	require.Len(t, a, 2)
	delta, ok := a[1].Value.Float()
	require.True(t, ok)
	assert.InDelta(t, -inv[0][1]*0.1, delta, 1e-12)
}

func TestStepAndRampToPoint(t *testing.T) {
	p, set := newSet(t, "A", "B")
	require.NoError(t, set.AddPoint("load", map[string]float64{"A": 0.5}, 200, false))
	b := newBuilder(t, set, p, WithTracking(true))

	require.NoError(t, b.StepToPoint("load"))
	ops := opsFor(p, "A")
	require.Len(t, ops, 1)
	assert.Equal(t, program.Int(200), ops[0].Duration)

	require.NoError(t, b.RampToPoint("load", program.Int(16), WithHold(program.Int(32))))
	ops = opsFor(p, "A")
	require.Len(t, ops, 3)
	assert.Equal(t, program.Const(0), ops[1].Value)
	assert.Equal(t, program.Int(32), ops[2].Duration)

	err := b.StepToPoint("missing")
	require.ErrorIs(t, err, ErrVoltagePoint)
	assert.Contains(t, err.Error(), "load")
}

func TestRampToZeroClearsIntegral(t *testing.T) {
	p, set := newSet(t, "A", "B")
	b := newBuilder(t, set, p, WithTracking(true))

	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.5, "B": -0.25}), program.Int(100)))
	require.NoError(t, b.RampToZero(program.Int(40)))

	ops := opsFor(p, "B")
	require.Len(t, ops, 2)
	assert.Equal(t, program.OpRamp, ops[1].Op)
	assert.Equal(t, program.Const(0.25), ops[1].Value)
	for _, name := range []string{"A", "B"} {
		assert.Equal(t, 0.0, current(t, b, name))
		assert.Equal(t, 0.0, integral(t, b, name))
	}

	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.5}), program.Int(100)))
	require.NoError(t, b.RampToZero(program.Value{}))
	ops = opsFor(p, "A")
	assert.Equal(t, program.OpRampToZero, ops[len(ops)-1].Op)
}

func TestWaitIntegratesStickyLevel(t *testing.T) {
	p, set := newSet(t, "A")
	b := newBuilder(t, set, p, WithTracking(true))

	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.25}), program.Int(100)))
	require.NoError(t, b.Wait(program.Int(200)))
	require.NoError(t, b.Account(program.Int(20)))

	assert.Equal(t, float64(0.25*(100+200+20)*1024), integral(t, b, "A"))
	ops := opsFor(p, "A")
	require.Len(t, ops, 2)
	assert.Equal(t, program.OpWait, ops[1].Op)

	res, err := program.Simulate(p, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.25*300, res.Channels["A"].Area, 1e-9)
}

func TestDurationValidation(t *testing.T) {
	p, set := newSet(t, "A")
	b := newBuilder(t, set, p)
	levels := Volts(map[string]float64{"A": 0.1})

	for _, d := range []program.Value{program.Int(0), program.Int(-16), program.Int(18), program.Int(12), program.Const(16.5), {}} {
		require.ErrorIs(t, b.StepToLevels(levels, d), ErrTiming, "duration %s", d)
	}
	require.ErrorIs(t, b.RampToLevels(levels, program.Int(100), program.Int(10)), ErrTiming)
	require.ErrorIs(t, b.RampToZero(program.Int(6)), ErrTiming)
	require.ErrorIs(t, b.Account(program.Int(2)), ErrTiming)
	require.NoError(t, b.Account(program.Int(8)))
	require.NoError(t, b.StepToLevels(levels, program.Expr("t_hold")))
}

func TestFailedCallEmitsNothing(t *testing.T) {
	p, set := newSet(t, "A")
	b := newBuilder(t, set, p)

	require.ErrorIs(t, b.StepToLevels(Volts(map[string]float64{"Z": 0.1}), program.Int(100)), ErrUnknownChannel)
	assert.Equal(t, 0, p.Len())
}

func TestSymbolicLevelPromotesTracker(t *testing.T) {
	p, set := newSet(t, "A", "B")
	amp, err := p.Input("amp", program.TypeFixed)
	require.NoError(t, err)
	b := newBuilder(t, set, p, WithTracking(true))

	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.25}), program.Int(100)))
	require.NoError(t, b.StepToLevels(Levels{"A": program.Ref(amp)}, program.Int(100)))

	tr, _ := b.Tracker("A")
	assert.True(t, tr.LevelPromoted())
	assert.True(t, tr.IntegralPromoted())
	assert.Equal(t, program.Ref(amp), tr.LastCommanded())

	// A constant write after promotion is an assignment, never a demotion.
	require.NoError(t, b.StepToLevels(Volts(map[string]float64{"A": 0.5}), program.Int(100)))
	assert.True(t, tr.LevelPromoted())
	assert.True(t, tr.CurrentLevel().IsSymbolic())

	other, _ := b.Tracker("B")
	assert.False(t, other.LevelPromoted())

	res, err := program.Simulate(p, map[string]any{"amp": 0.125})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Channels["A"].Level, 1e-12)
	assert.InDelta(t, (0.25+0.125+0.5)*100, res.Channels["A"].Area, 1e-9)
	got, ok := res.Vars[tr.IntegratedLevel().String()].(int)
	require.True(t, ok)
	assert.InDelta(t, (0.25+0.125+0.5)*100*1024, float64(got), 2)
}

func TestBuilderLogsOperations(t *testing.T) {
	p, set := newSet(t, "A")
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	b := newBuilder(t, set, p, WithLogger(logger))

	require.NoError(t, b.StepToLevels(nil, program.Int(16)))
	assert.True(t, strings.Contains(buf.String(), `"op":"step"`))
	assert.True(t, strings.Contains(buf.String(), `"channel_set":"dot"`))
}

func TestWithLoopPolicyRejectsUnknownPolicy(t *testing.T) {
	p, set := newSet(t, "A")
	_, err := set.NewSequence(p, WithLoopPolicy(LoopPolicy(7)))
	require.Error(t, err)
	_, err = set.NewSequence(nil)
	require.Error(t, err)
}
