package voltage

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/timzifer/voltseq/program"
	"github.com/timzifer/voltseq/telemetry"
)

// LoopPolicy selects how a loop body that changes channel levels is reported.
type LoopPolicy uint8

const (
	// LoopStrict fails the build.
	LoopStrict LoopPolicy = iota
	// LoopWarn logs a warning and continues.
	LoopWarn
)

type sequenceSettings struct {
	track      bool
	logger     zerolog.Logger
	collector  telemetry.Collector
	loopPolicy LoopPolicy
}

// SequenceOption configures a Builder.
type SequenceOption func(*sequenceSettings) error

// WithTracking enables integrated level tracking, required for compensation pulses.
func WithTracking(enabled bool) SequenceOption {
	return func(s *sequenceSettings) error {
		s.track = enabled
		return nil
	}
}

// WithLogger provides a logger for emitted operations.
func WithLogger(logger zerolog.Logger) SequenceOption {
	return func(s *sequenceSettings) error {
		s.logger = logger
		return nil
	}
}

// WithCollector injects a telemetry collector.
func WithCollector(collector telemetry.Collector) SequenceOption {
	return func(s *sequenceSettings) error {
		if collector == nil {
			collector = telemetry.Noop()
		}
		s.collector = collector
		return nil
	}
}

// WithLoopPolicy selects the handling of loop bodies that are not level invariant.
func WithLoopPolicy(policy LoopPolicy) SequenceOption {
	return func(s *sequenceSettings) error {
		if policy != LoopStrict && policy != LoopWarn {
			return fmt.Errorf("unknown loop policy %d", policy)
		}
		s.loopPolicy = policy
		return nil
	}
}

// Builder turns absolute level operations on a channel set into relative
// instructions on its outputs. It owns one Tracker per physical channel and
// is bound to a single program build.
type Builder struct {
	set      *ChannelSet
	scope    Scope
	channels []string
	trackers map[string]*Tracker
	settings sequenceSettings
	logger   zerolog.Logger
	closed   bool
}

// NewSequence starts a sequence on the set, recording into scope. The set
// accepts no new points or layers until the builder is closed.
func (c *ChannelSet) NewSequence(scope Scope, opts ...SequenceOption) (*Builder, error) {
	if scope == nil {
		return nil, fmt.Errorf("channel set %s: sequence scope must not be nil", c.id)
	}
	if c.active != nil {
		return nil, ErrSequenceActive
	}
	settings := sequenceSettings{
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}
	b := &Builder{
		set:      c,
		scope:    scope,
		channels: c.Channels(),
		trackers: make(map[string]*Tracker, len(c.physical)),
		settings: settings,
		logger:   settings.logger.With().Str("component", "sequence").Str("channel_set", c.id).Logger(),
	}
	for _, name := range b.channels {
		b.trackers[name] = newTracker(name, scope)
	}
	c.active = b
	return b, nil
}

// Set returns the bound channel set.
func (b *Builder) Set() *ChannelSet { return b.set }

// TrackingEnabled reports whether integrated levels are tracked.
func (b *Builder) TrackingEnabled() bool { return b.settings.track }

// Tracker returns the tracker of a physical channel.
func (b *Builder) Tracker(channel string) (*Tracker, bool) {
	tr, ok := b.trackers[normalizeName(channel)]
	return tr, ok
}

// Trackers returns all trackers ordered by channel name.
func (b *Builder) Trackers() []*Tracker {
	out := make([]*Tracker, 0, len(b.channels))
	for _, name := range b.channels {
		out = append(out, b.trackers[name])
	}
	return out
}

// Close ends the sequence and releases the channel set.
func (b *Builder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.set.active == b {
		b.set.active = nil
	}
	return nil
}

func (b *Builder) check() error {
	if b.closed {
		return ErrBuilderClosed
	}
	return nil
}

func (b *Builder) emitted(op string) {
	b.settings.collector.IncInstruction(b.set.id, op)
}

// StepToLevels jumps every channel to its resolved level and holds it for duration.
func (b *Builder) StepToLevels(levels Levels, duration program.Value) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := validateDuration("duration", duration); err != nil {
		return err
	}
	resolved, err := b.set.ResolveVoltages(levels)
	if err != nil {
		return err
	}
	for _, name := range b.channels {
		tr, out, target := b.trackers[name], b.set.outputs[name], resolved[name]
		out.Step(program.Sub(target, tr.CurrentLevel()), duration)
		b.emitted("step")
		if b.settings.track {
			tr.addHold(target, duration)
		}
		tr.setLevel(target)
	}
	b.logger.Debug().Str("op", "step").Str("duration", duration.String()).Msg("levels applied")
	return nil
}

// RampToLevels ramps every channel to its resolved level over rampDuration and
// then holds it for duration.
func (b *Builder) RampToLevels(levels Levels, duration, rampDuration program.Value) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := validateDuration("duration", duration); err != nil {
		return err
	}
	if err := validateDuration("ramp duration", rampDuration); err != nil {
		return err
	}
	resolved, err := b.set.ResolveVoltages(levels)
	if err != nil {
		return err
	}
	for _, name := range b.channels {
		tr, out, target := b.trackers[name], b.set.outputs[name], resolved[name]
		current := tr.CurrentLevel()
		out.Ramp(program.Sub(target, current), rampDuration)
		out.Hold(duration)
		b.emitted("ramp")
		b.emitted("hold")
		if b.settings.track {
			tr.addRamp(current, target, rampDuration)
			tr.addHold(target, duration)
		}
		tr.setLevel(target)
	}
	b.logger.Debug().
		Str("op", "ramp").
		Str("duration", duration.String()).
		Str("ramp_duration", rampDuration.String()).
		Msg("levels applied")
	return nil
}

type pointSettings struct {
	hold program.Value
}

// PointOption adjusts a point operation.
type PointOption func(*pointSettings)

// WithHold overrides the duration stored with the point.
func WithHold(duration program.Value) PointOption {
	return func(s *pointSettings) { s.hold = duration }
}

func (b *Builder) point(name string, opts []PointOption) (Levels, program.Value, error) {
	point, err := b.set.Point(name)
	if err != nil {
		return nil, program.Value{}, err
	}
	var settings pointSettings
	for _, opt := range opts {
		opt(&settings)
	}
	return Volts(point.Voltages), settings.hold.Or(program.Int(point.Duration)), nil
}

// StepToPoint steps to a registered tuning point.
func (b *Builder) StepToPoint(name string, opts ...PointOption) error {
	if err := b.check(); err != nil {
		return err
	}
	levels, duration, err := b.point(name, opts)
	if err != nil {
		return err
	}
	return b.StepToLevels(levels, duration)
}

// RampToPoint ramps to a registered tuning point over rampDuration.
func (b *Builder) RampToPoint(name string, rampDuration program.Value, opts ...PointOption) error {
	if err := b.check(); err != nil {
		return err
	}
	levels, duration, err := b.point(name, opts)
	if err != nil {
		return err
	}
	return b.RampToLevels(levels, duration, rampDuration)
}

// RampToZero returns every channel to zero, immediately when rampDuration is
// unset, and clears the integrated levels.
func (b *Builder) RampToZero(rampDuration program.Value) error {
	if err := b.check(); err != nil {
		return err
	}
	if rampDuration.IsSet() {
		if err := validateDuration("ramp duration", rampDuration); err != nil {
			return err
		}
	}
	for _, name := range b.channels {
		tr, out := b.trackers[name], b.set.outputs[name]
		if rampDuration.IsSet() {
			out.Ramp(program.Neg(tr.CurrentLevel()), rampDuration)
			b.emitted("ramp")
		} else {
			out.RampToZero()
			b.emitted("ramp_to_zero")
		}
		tr.setLevel(program.Const(0))
		tr.resetIntegral()
	}
	b.logger.Debug().Str("op", "ramp_to_zero").Msg("levels cleared")
	return nil
}

// Wait idles every channel for duration. The held levels keep contributing
// to the integrated levels.
func (b *Builder) Wait(duration program.Value) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := validateDuration("wait duration", duration); err != nil {
		return err
	}
	for _, name := range b.channels {
		tr := b.trackers[name]
		b.set.outputs[name].Wait(duration)
		b.emitted("wait")
		if b.settings.track {
			tr.addHold(tr.CurrentLevel(), duration)
		}
	}
	return nil
}

// Account integrates time consumed by operations on other elements while the
// channels keep their levels. Nothing is emitted.
func (b *Builder) Account(duration program.Value) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := validateTicks("elapsed duration", duration); err != nil {
		return err
	}
	if !b.settings.track {
		return nil
	}
	for _, tr := range b.Trackers() {
		tr.addHold(tr.CurrentLevel(), duration)
	}
	return nil
}

func validateTicks(param string, duration program.Value) error {
	if duration.IsSymbolic() {
		return nil
	}
	d, ok := duration.Float()
	if !ok {
		return &TimingError{Param: param, Reason: "duration is required"}
	}
	switch {
	case math.IsNaN(d) || math.IsInf(d, 0) || d != math.Trunc(d):
		return &TimingError{Param: param, Duration: d, Reason: "must be a whole number of nanoseconds"}
	case d <= 0:
		return &TimingError{Param: param, Duration: d, Reason: "must be positive"}
	case int64(d)%program.TickNs != 0:
		return &TimingError{Param: param, Duration: d, Reason: fmt.Sprintf("must be a multiple of the %d ns tick", program.TickNs)}
	}
	return nil
}

// validateDuration checks a constant duration against the tick and the base
// pulse length. Symbolic durations are checked at runtime.
func validateDuration(param string, duration program.Value) error {
	if err := validateTicks(param, duration); err != nil {
		return err
	}
	if d, ok := duration.Float(); ok && d < program.MinPulseNs {
		return &TimingError{Param: param, Duration: d, Reason: fmt.Sprintf("shorter than the %d ns base pulse", program.MinPulseNs)}
	}
	return nil
}
