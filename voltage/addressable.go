package voltage

import (
	"fmt"

	"github.com/timzifer/voltseq/program"
)

// VoltageAddressable is implemented by any component whose tuning points live
// in a channel set. Point names are stored prefixed with the component ID.
type VoltageAddressable interface {
	ID() string
	ChannelSet() *ChannelSet
}

// PointName returns the name under which a component's point is stored.
func PointName(c VoltageAddressable, point string) string {
	return c.ID() + "_" + normalizeName(point)
}

// ValidateAddressable checks that the component can address points.
func ValidateAddressable(c VoltageAddressable) error {
	if c == nil {
		return fmt.Errorf("component is nil")
	}
	if normalizeName(c.ID()) == "" {
		return fmt.Errorf("component id must not be empty")
	}
	if c.ChannelSet() == nil {
		return fmt.Errorf("component %s has no channel set", c.ID())
	}
	return nil
}

// AddPoint registers a point for the component and returns its stored name.
func AddPoint(c VoltageAddressable, point string, voltages map[string]float64, duration int, replace bool) (string, error) {
	if err := ValidateAddressable(c); err != nil {
		return "", err
	}
	name := PointName(c, point)
	if err := c.ChannelSet().AddPoint(name, voltages, duration, replace); err != nil {
		return "", err
	}
	return name, nil
}

// StepToPoint steps b to one of the component's points.
func StepToPoint(b *Builder, c VoltageAddressable, point string, opts ...PointOption) error {
	if err := ValidateAddressable(c); err != nil {
		return err
	}
	return b.StepToPoint(PointName(c, point), opts...)
}

// RampToPoint ramps b to one of the component's points.
func RampToPoint(b *Builder, c VoltageAddressable, point string, rampDuration program.Value, opts ...PointOption) error {
	if err := ValidateAddressable(c); err != nil {
		return err
	}
	return b.RampToPoint(PointName(c, point), rampDuration, opts...)
}

// Component is a plain VoltageAddressable, for example a quantum dot or a
// sensor bound to the set that drives its gates.
type Component struct {
	id  string
	set *ChannelSet
}

// NewComponent binds a component ID to a channel set.
func NewComponent(id string, set *ChannelSet) *Component {
	return &Component{id: normalizeName(id), set: set}
}

func (c *Component) ID() string              { return c.id }
func (c *Component) ChannelSet() *ChannelSet { return c.set }
