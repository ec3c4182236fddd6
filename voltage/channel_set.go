package voltage

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/timzifer/voltseq/program"
)

// Output is a sticky hardware output channel. Every instruction is relative
// to the level the output currently holds.
type Output interface {
	Name() string
	Step(delta, duration program.Value)
	Ramp(delta, duration program.Value)
	Hold(duration program.Value)
	Wait(duration program.Value)
	RampToZero()
}

// Levels maps channel names to target levels.
type Levels map[string]program.Value

// Volts converts constant voltages to Levels.
func Volts(voltages map[string]float64) Levels {
	out := make(Levels, len(voltages))
	for name, v := range voltages {
		out[name] = program.Const(v)
	}
	return out
}

// TuningPoint is a named set of target voltages with a default hold duration.
type TuningPoint struct {
	Name     string
	Voltages map[string]float64
	Duration int
}

func (p TuningPoint) clone() TuningPoint {
	voltages := make(map[string]float64, len(p.Voltages))
	for k, v := range p.Voltages {
		voltages[k] = v
	}
	p.Voltages = voltages
	return p
}

// ChannelSet owns a fixed group of outputs and a registry of tuning points.
type ChannelSet struct {
	id       string
	outputs  map[string]Output
	physical []string
	points   map[string]TuningPoint
	layers   []*Layer
	active   *Builder
}

func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NewChannelSet creates a set over the given outputs keyed by channel name.
func NewChannelSet(id string, outputs map[string]Output) (*ChannelSet, error) {
	id = normalizeName(id)
	if id == "" {
		return nil, fmt.Errorf("channel set id must not be empty")
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("channel set %s: at least one channel is required", id)
	}
	set := &ChannelSet{
		id:      id,
		outputs: make(map[string]Output, len(outputs)),
		points:  make(map[string]TuningPoint),
	}
	for raw, out := range outputs {
		name := normalizeName(raw)
		if name == "" {
			return nil, fmt.Errorf("channel set %s: channel name must not be empty", id)
		}
		if out == nil {
			return nil, fmt.Errorf("channel set %s: channel %s has no output", id, name)
		}
		if _, exists := set.outputs[name]; exists {
			return nil, fmt.Errorf("channel set %s: duplicate channel %s", id, name)
		}
		set.outputs[name] = out
		set.physical = append(set.physical, name)
	}
	sort.Strings(set.physical)
	return set, nil
}

// ID returns the set identifier.
func (c *ChannelSet) ID() string { return c.id }

// Channels returns the physical channel names in sorted order.
func (c *ChannelSet) Channels() []string {
	return append([]string(nil), c.physical...)
}

// Output returns the handle of a physical channel.
func (c *ChannelSet) Output(name string) (Output, bool) {
	out, ok := c.outputs[normalizeName(name)]
	return out, ok
}

// Namespace returns every resolvable name: physical channels first, then the
// source names of each layer in the order layers were added.
func (c *ChannelSet) Namespace() []string {
	names := append([]string(nil), c.physical...)
	for _, layer := range c.layers {
		names = append(names, layer.source...)
	}
	return names
}

func (c *ChannelSet) resolvable(name string) bool {
	if _, ok := c.outputs[name]; ok {
		return true
	}
	for _, layer := range c.layers {
		for _, src := range layer.source {
			if src == name {
				return true
			}
		}
	}
	return false
}

// AddPoint registers a tuning point. An existing point is only overwritten
// when replace is set.
func (c *ChannelSet) AddPoint(name string, voltages map[string]float64, duration int, replace bool) error {
	if c.active != nil {
		return ErrSequenceActive
	}
	name = normalizeName(name)
	if name == "" {
		return &InvalidLevelError{Name: c.id, Reason: "tuning point name must not be empty"}
	}
	if err := validateDuration("point duration", program.Int(duration)); err != nil {
		return err
	}
	if _, exists := c.points[name]; exists && !replace {
		return &DuplicatePointError{Name: name}
	}
	stored := make(map[string]float64, len(voltages))
	for raw, v := range voltages {
		key := normalizeName(raw)
		if !c.resolvable(key) {
			return &UnknownChannelError{Name: key, Namespace: c.Namespace()}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidLevelError{Name: key, Value: v, Reason: "level must be finite"}
		}
		stored[key] = v
	}
	c.points[name] = TuningPoint{Name: name, Voltages: stored, Duration: duration}
	return nil
}

// Point returns a copy of the named tuning point.
func (c *ChannelSet) Point(name string) (TuningPoint, error) {
	point, ok := c.points[normalizeName(name)]
	if !ok {
		return TuningPoint{}, &PointNotFoundError{Name: name, Available: c.PointNames()}
	}
	return point.clone(), nil
}

// PointNames returns the registered point names in sorted order.
func (c *ChannelSet) PointNames() []string {
	names := make([]string, 0, len(c.points))
	for name := range c.points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveVoltages completes partial into a level for every physical channel.
// Channels not addressed resolve to zero; nothing is carried over from
// earlier calls. Virtual names are flattened through the layer stack.
func (c *ChannelSet) ResolveVoltages(partial Levels) (Levels, error) {
	acc := make(Levels, len(partial)+len(c.physical))
	for raw, level := range partial {
		name := normalizeName(raw)
		if !c.resolvable(name) {
			return nil, &UnknownChannelError{Name: name, Namespace: c.Namespace()}
		}
		if !level.IsSet() {
			return nil, &InvalidLevelError{Name: name, Reason: "level is unset"}
		}
		if f, ok := level.Float(); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return nil, &InvalidLevelError{Name: name, Value: f, Reason: "level must be finite"}
		}
		acc[name] = program.Add(acc[name].Or(program.Const(0)), level)
	}
	for i := len(c.layers) - 1; i >= 0; i-- {
		c.layers[i].flatten(acc)
	}
	resolved := make(Levels, len(c.physical))
	for _, name := range c.physical {
		resolved[name] = acc[name].Or(program.Const(0))
	}
	return resolved, nil
}
