package voltage

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/timzifer/voltseq/program"
)

const (
	// DefaultMaxCompensationLevel bounds the compensation pulse amplitude.
	DefaultMaxCompensationLevel = 0.49
	// MinCompensationDuration is the shortest compensation pulse.
	MinCompensationDuration = program.MinPulseNs
)

// ApplyCompensationPulse plays, on every channel, a pulse whose area cancels
// the integrated level, then returns the channel to zero. The pulse is the
// shortest tick multiple that keeps its amplitude within maxLevel. Channels
// with nothing integrated are left alone.
func (b *Builder) ApplyCompensationPulse(maxLevel float64) error {
	if err := b.check(); err != nil {
		return err
	}
	if !b.settings.track {
		return ErrTrackingDisabled
	}
	if math.IsNaN(maxLevel) || math.IsInf(maxLevel, 0) || maxLevel <= 0 {
		return &InvalidLevelError{Name: "max compensation level", Value: maxLevel, Reason: "must be positive"}
	}
	for _, name := range b.channels {
		tr, out := b.trackers[name], b.set.outputs[name]
		var (
			level    program.Value
			duration program.Value
		)
		if tr.IntegralPromoted() {
			level, duration = b.dynamicCompensation(tr, maxLevel)
		} else {
			if tr.integral == 0 {
				continue
			}
			level, duration = staticCompensation(tr.integral, maxLevel)
		}
		out.Step(program.Sub(level, tr.CurrentLevel()), duration)
		tr.addHold(level, duration)
		out.Step(program.Neg(level), program.Int(program.MinPulseNs))
		tr.setLevel(program.Const(0))
		b.emitted("step")
		b.emitted("step")
		b.settings.collector.IncCompensation(b.set.id, name)
		b.logger.Debug().
			Str("channel", name).
			Str("level", level.String()).
			Str("duration", duration.String()).
			Msg("compensation pulse")
	}
	return nil
}

func staticCompensation(integral int64, maxLevel float64) (program.Value, program.Value) {
	area := decimal.NewFromInt(integral).Div(decimal.NewFromInt(ScaleFactor))
	ideal := area.Abs().Div(decimal.NewFromFloat(maxLevel)).Ceil().IntPart()
	duration := compensationDuration(ideal)
	level := area.Neg().Div(decimal.NewFromInt(duration)).InexactFloat64()
	return program.Const(level), program.Int(int(duration))
}

func compensationDuration(ideal int64) int64 {
	if ideal < MinCompensationDuration {
		ideal = MinCompensationDuration
	}
	if rem := ideal % program.TickNs; rem != 0 {
		ideal += program.TickNs - rem
	}
	return ideal
}

// dynamicCompensation computes the pulse at runtime from the integral variable.
func (b *Builder) dynamicCompensation(tr *Tracker, maxLevel float64) (program.Value, program.Value) {
	area := program.Scale(tr.IntegratedLevel(), 1.0/ScaleFactor)
	ideal := program.Div(program.Abs(area), program.Const(maxLevel))
	durationVar := b.scope.Declare(tr.channel+"_compensation_duration", program.TypeInt, program.Int(MinCompensationDuration))
	b.scope.Assign(durationVar, program.Max(program.CeilMultiple(ideal, program.TickNs), program.Int(MinCompensationDuration)))
	duration := program.Ref(durationVar)
	levelVar := b.scope.Declare(tr.channel+"_compensation_level", program.TypeFixed, program.Const(0))
	b.scope.Assign(levelVar, program.Div(program.Neg(area), duration))
	return program.Ref(levelVar), duration
}
