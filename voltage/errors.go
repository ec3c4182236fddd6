package voltage

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every error returned by this package matches exactly one
// of them with errors.Is.
var (
	ErrVoltagePoint   = errors.New("voltage point error")
	ErrTiming         = errors.New("timing error")
	ErrState          = errors.New("state error")
	ErrSingularMatrix = errors.New("singular matrix")
	ErrUnknownChannel = errors.New("unknown channel")
)

// State errors with a fixed cause.
var (
	ErrTrackingDisabled = fmt.Errorf("%w: integrated level tracking is disabled", ErrState)
	ErrSequenceActive   = fmt.Errorf("%w: channel set has an active sequence", ErrState)
	ErrBuilderClosed    = fmt.Errorf("%w: sequence builder is closed", ErrState)
)

// PointNotFoundError reports a lookup of an unregistered tuning point.
type PointNotFoundError struct {
	Name      string
	Available []string
}

func (e *PointNotFoundError) Error() string {
	return fmt.Sprintf("tuning point %q not found; available points: [%s]", e.Name, strings.Join(e.Available, ", "))
}

func (e *PointNotFoundError) Unwrap() error { return ErrVoltagePoint }

// DuplicatePointError reports an attempt to overwrite a point without replace.
type DuplicatePointError struct {
	Name string
}

func (e *DuplicatePointError) Error() string {
	return fmt.Sprintf("tuning point %q already exists; pass replace to overwrite it", e.Name)
}

func (e *DuplicatePointError) Unwrap() error { return ErrVoltagePoint }

// InvalidLevelError reports an unusable voltage value.
type InvalidLevelError struct {
	Name   string
	Value  float64
	Reason string
}

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("invalid level %g for %s: %s", e.Value, e.Name, e.Reason)
}

func (e *InvalidLevelError) Unwrap() error { return ErrVoltagePoint }

// TimingError reports a duration that cannot be scheduled.
type TimingError struct {
	Param    string
	Duration float64
	Reason   string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("%s %g ns: %s", e.Param, e.Duration, e.Reason)
}

func (e *TimingError) Unwrap() error { return ErrTiming }

// MatrixError reports a layer matrix that is not square or not invertible.
type MatrixError struct {
	Matrix      [][]float64
	Determinant float64
	Reason      string
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("%s: matrix %v (determinant %g)", e.Reason, e.Matrix, e.Determinant)
}

func (e *MatrixError) Unwrap() error { return ErrSingularMatrix }

// UnknownChannelError reports a name outside the resolvable namespace.
type UnknownChannelError struct {
	Name      string
	Namespace []string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("channel %q is not resolvable; namespace: [%s]", e.Name, strings.Join(e.Namespace, ", "))
}

func (e *UnknownChannelError) Unwrap() error { return ErrUnknownChannel }

// LayerError reports a naming conflict when appending a virtualisation layer.
type LayerError struct {
	Name   string
	Reason string
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("layer channel %q: %s", e.Name, e.Reason)
}

func (e *LayerError) Unwrap() error { return ErrUnknownChannel }

// LoopMismatch describes one channel whose level differs across a loop body.
type LoopMismatch struct {
	Channel string
	Start   string
	End     string
}

// LoopInvarianceError reports channels that end a loop body at a different
// level than they started it.
type LoopInvarianceError struct {
	Mismatches []LoopMismatch
}

func (e *LoopInvarianceError) Error() string {
	parts := make([]string, 0, len(e.Mismatches))
	for _, m := range e.Mismatches {
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", m.Channel, m.Start, m.End))
	}
	return "loop body is not level invariant: " + strings.Join(parts, "; ")
}

func (e *LoopInvarianceError) Unwrap() error { return ErrState }
