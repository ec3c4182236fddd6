package voltage

import (
	"fmt"

	"github.com/timzifer/voltseq/program"
)

// Macro is a reusable operation applied to a builder.
type Macro interface {
	Apply(b *Builder) error
}

// StepPointMacro steps to a point, optionally overriding its hold.
type StepPointMacro struct {
	Point string
	Hold  program.Value
}

func (m StepPointMacro) Apply(b *Builder) error {
	var opts []PointOption
	if m.Hold.IsSet() {
		opts = append(opts, WithHold(m.Hold))
	}
	return b.StepToPoint(m.Point, opts...)
}

// RampPointMacro ramps to a point, optionally overriding its hold.
type RampPointMacro struct {
	Point string
	Ramp  program.Value
	Hold  program.Value
}

func (m RampPointMacro) Apply(b *Builder) error {
	var opts []PointOption
	if m.Hold.IsSet() {
		opts = append(opts, WithHold(m.Hold))
	}
	return b.RampToPoint(m.Point, m.Ramp, opts...)
}

// MacroSequence applies macros in order and stops at the first failure.
type MacroSequence []Macro

func (s MacroSequence) Apply(b *Builder) error {
	for i, m := range s {
		if err := m.Apply(b); err != nil {
			return fmt.Errorf("macro %d: %w", i, err)
		}
	}
	return nil
}
