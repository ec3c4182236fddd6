package program

import "fmt"

const (
	// TickNs is the minimal schedulable time unit.
	TickNs = 4
	// MinPulseNs is the length of the base constant pulse.
	MinPulseNs = 16
	// DefaultPulseAmplitude is the base pulse amplitude of a direct output.
	DefaultPulseAmplitude = 0.25
	// AmplifiedPulseAmplitude is the base pulse amplitude of an amplified output.
	AmplifiedPulseAmplitude = 1.25
)

// Pulse describes the constant-output primitive every step is built on.
type Pulse struct {
	Amplitude float64
	Length    int
}

// ChannelOption customises a channel handle.
type ChannelOption func(*Channel)

// WithAmplified selects the amplified output range.
func WithAmplified() ChannelOption {
	return func(c *Channel) { c.pulse.Amplitude = AmplifiedPulseAmplitude }
}

// WithPulse overrides the base pulse.
func WithPulse(p Pulse) ChannelOption {
	return func(c *Channel) { c.pulse = p }
}

// Channel is a sticky output handle recording into one program. Every
// instruction is relative to the level the channel currently holds.
type Channel struct {
	name  string
	prog  *Program
	pulse Pulse
}

// Channel returns the handle for name, creating it on first use. Options only
// apply on creation.
func (p *Program) Channel(name string, opts ...ChannelOption) *Channel {
	if ch, ok := p.channels[name]; ok {
		return ch
	}
	ch := &Channel{
		name:  name,
		prog:  p,
		pulse: Pulse{Amplitude: DefaultPulseAmplitude, Length: MinPulseNs},
	}
	for _, opt := range opts {
		opt(ch)
	}
	p.channels[name] = ch
	return ch
}

func (c *Channel) Name() string { return c.name }

// Pulse returns the base pulse of the channel.
func (c *Channel) Pulse() Pulse { return c.pulse }

// Step plays the base pulse scaled to delta and stretched to duration. The
// new level persists afterwards.
func (c *Channel) Step(delta, duration Value) {
	c.prog.emit(Instruction{Op: OpStep, Channel: c.name, Value: delta, Duration: duration})
}

// Ramp changes the level by delta linearly over duration.
func (c *Channel) Ramp(delta, duration Value) {
	c.prog.emit(Instruction{Op: OpRamp, Channel: c.name, Value: delta, Duration: duration})
}

// Hold keeps the current level while occupying the channel for duration.
func (c *Channel) Hold(duration Value) {
	c.prog.emit(Instruction{Op: OpHold, Channel: c.name, Duration: duration})
}

// Wait idles the channel for duration. The sticky level keeps being output.
func (c *Channel) Wait(duration Value) {
	c.prog.emit(Instruction{Op: OpWait, Channel: c.name, Duration: duration})
}

// RampToZero returns the output to zero immediately.
func (c *Channel) RampToZero() {
	c.prog.emit(Instruction{Op: OpRampToZero, Channel: c.name})
}

// AmplitudeScale returns the factor applied to the base pulse to realise delta.
func (c *Channel) AmplitudeScale(delta Value) Value {
	return Scale(delta, 1/c.pulse.Amplitude)
}

func (c *Channel) String() string {
	return fmt.Sprintf("%s(%gV/%dns)", c.name, c.pulse.Amplitude, c.pulse.Length)
}
