package voltage

import (
	"math"

	"github.com/timzifer/voltseq/program"
)

const loopLevelTolerance = 1e-12

// Loop records body inside a repeated region of the program. The builder
// sees the body once, so every channel must end the body at the level it
// started with; otherwise the loop fails with a LoopInvarianceError, or only
// logs it under LoopWarn. With tracking enabled the integrated levels move to
// runtime variables first so that every iteration accumulates.
func (b *Builder) Loop(iterations program.Value, body func(*Builder) error) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.settings.track {
		for _, tr := range b.Trackers() {
			tr.promoteIntegral()
		}
	}
	start := b.snapshot()
	if err := b.scope.BeginLoop(iterations); err != nil {
		return &TimingError{Param: "loop iterations", Reason: err.Error()}
	}
	if err := body(b); err != nil {
		return err
	}
	if err := b.scope.EndLoop(); err != nil {
		return err
	}
	mismatches := compareLevels(b.channels, start, b.snapshot())
	if len(mismatches) == 0 {
		return nil
	}
	loopErr := &LoopInvarianceError{Mismatches: mismatches}
	if b.settings.loopPolicy == LoopWarn {
		b.logger.Warn().Err(loopErr).Msg("loop body is not level invariant")
		return nil
	}
	return loopErr
}

func (b *Builder) snapshot() map[string]program.Value {
	out := make(map[string]program.Value, len(b.channels))
	for _, name := range b.channels {
		out[name] = b.trackers[name].LastCommanded()
	}
	return out
}

func compareLevels(channels []string, start, end map[string]program.Value) []LoopMismatch {
	var mismatches []LoopMismatch
	for _, name := range channels {
		if !sameLevel(start[name], end[name]) {
			mismatches = append(mismatches, LoopMismatch{Channel: name, Start: start[name].String(), End: end[name].String()})
		}
	}
	return mismatches
}

func sameLevel(a, b program.Value) bool {
	x, okA := a.Float()
	y, okB := b.Float()
	if okA && okB {
		return math.Abs(x-y) <= loopLevelTolerance
	}
	return a.IsSymbolic() && b.IsSymbolic() && a.String() == b.String()
}
