package voltage

import (
	"github.com/shopspring/decimal"

	"github.com/timzifer/voltseq/program"
)

// ScaleFactor converts a time-voltage area in V·ns into integrated level units.
const ScaleFactor = 1024

// Scope is the control program a sequence records into. Trackers declare and
// assign runtime variables through it.
type Scope interface {
	Declare(label string, typ program.VarType, init program.Value) *program.Var
	Assign(v *program.Var, value program.Value)
	BeginLoop(iterations program.Value) error
	EndLoop() error
}

// Tracker follows the level and integrated level of one physical channel.
// Both components start as constants and move to runtime variables the first
// time a symbolic value reaches them. They never move back.
type Tracker struct {
	channel string
	scope   Scope

	level    float64
	levelVar *program.Var
	last     program.Value

	integral    int64
	integralVar *program.Var
}

func newTracker(channel string, scope Scope) *Tracker {
	return &Tracker{channel: channel, scope: scope, last: program.Const(0)}
}

// Channel returns the tracked channel name.
func (t *Tracker) Channel() string { return t.channel }

// ScaleFactor returns the integrated level scale.
func (t *Tracker) ScaleFactor() int { return ScaleFactor }

// CurrentLevel returns the level the channel holds: a constant, or a
// reference to the runtime variable once promoted.
func (t *Tracker) CurrentLevel() program.Value {
	if t.levelVar != nil {
		return program.Ref(t.levelVar)
	}
	return program.Const(t.level)
}

// LastCommanded returns the last level written to the channel as given by
// the caller, even after promotion.
func (t *Tracker) LastCommanded() program.Value { return t.last }

// IntegratedLevel returns the accumulated area in scaled units.
func (t *Tracker) IntegratedLevel() program.Value {
	if t.integralVar != nil {
		return program.Ref(t.integralVar)
	}
	return program.Const(float64(t.integral))
}

// LevelPromoted reports whether the level lives in a runtime variable.
func (t *Tracker) LevelPromoted() bool { return t.levelVar != nil }

// IntegralPromoted reports whether the integrated level lives in a runtime variable.
func (t *Tracker) IntegralPromoted() bool { return t.integralVar != nil }

func (t *Tracker) setLevel(target program.Value) {
	t.last = target
	if t.levelVar == nil {
		if f, ok := target.Float(); ok {
			t.level = f
			return
		}
		t.levelVar = t.scope.Declare(t.channel+"_level", program.TypeFixed, program.Const(t.level))
	}
	t.scope.Assign(t.levelVar, target)
}

func (t *Tracker) promoteIntegral() {
	if t.integralVar != nil {
		return
	}
	t.integralVar = t.scope.Declare(t.channel+"_integrated", program.TypeInt, program.Const(float64(t.integral)))
}

// addHold integrates level held for duration.
func (t *Tracker) addHold(level, duration program.Value) {
	l, okL := level.Float()
	d, okD := duration.Float()
	if okL && okD {
		t.addStatic(scaledArea(decimal.NewFromFloat(l), d))
		return
	}
	t.addDynamic(program.Truncate(program.Mul(program.Scale(duration, ScaleFactor), level)))
}

// addRamp integrates a linear segment from one level to another.
func (t *Tracker) addRamp(from, to, duration program.Value) {
	f, okF := from.Float()
	g, okG := to.Float()
	d, okD := duration.Float()
	if okF && okG && okD {
		avg := decimal.NewFromFloat(f).Add(decimal.NewFromFloat(g)).Div(decimal.NewFromInt(2))
		t.addStatic(scaledArea(avg, d))
		return
	}
	avg := program.Scale(program.Add(from, to), 0.5)
	t.addDynamic(program.Truncate(program.Mul(program.Scale(duration, ScaleFactor), avg)))
}

func (t *Tracker) addStatic(contribution int64) {
	if t.integralVar == nil {
		t.integral += contribution
		return
	}
	if contribution == 0 {
		return
	}
	t.scope.Assign(t.integralVar, program.Add(program.Ref(t.integralVar), program.Const(float64(contribution))))
}

func (t *Tracker) addDynamic(contribution program.Value) {
	t.promoteIntegral()
	t.scope.Assign(t.integralVar, program.Add(program.Ref(t.integralVar), contribution))
}

func (t *Tracker) resetIntegral() {
	t.integral = 0
	if t.integralVar != nil {
		t.scope.Assign(t.integralVar, program.Int(0))
	}
}

// scaledArea returns round(level * duration * ScaleFactor) with ties to even.
func scaledArea(level decimal.Decimal, duration float64) int64 {
	return level.
		Mul(decimal.NewFromFloat(duration)).
		Mul(decimal.NewFromInt(ScaleFactor)).
		RoundBank(0).
		IntPart()
}
