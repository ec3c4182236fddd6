package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	URL     string            `yaml:"url" json:"url"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level" json:"level"`
	Format string     `yaml:"format,omitempty" json:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki" json:"loki"`
}

// TelemetryConfig toggles the Prometheus collector.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// ChannelConfig declares one physical output channel.
type ChannelConfig struct {
	Name      string `yaml:"name" json:"name"`
	Amplified bool   `yaml:"amplified,omitempty" json:"amplified,omitempty"`
}

// LayerConfig describes a virtualisation layer. Matrix rows follow Source,
// columns follow Target.
type LayerConfig struct {
	Source []string    `yaml:"source" json:"source"`
	Target []string    `yaml:"target" json:"target"`
	Matrix [][]float64 `yaml:"matrix" json:"matrix"`
}

// PointConfig registers a tuning point. When Component is set the point name
// is prefixed with the component identifier.
type PointConfig struct {
	Name      string             `yaml:"name" json:"name"`
	Component string             `yaml:"component,omitempty" json:"component,omitempty"`
	Voltages  map[string]float64 `yaml:"voltages" json:"voltages"`
	Duration  int                `yaml:"duration" json:"duration"`
	Replace   bool               `yaml:"replace,omitempty" json:"replace,omitempty"`
}

// ChannelSetConfig groups channels, layers and points. A set with layers is
// compiled as a virtual channel set.
type ChannelSetConfig struct {
	ID       string          `yaml:"id" json:"id"`
	Channels []ChannelConfig `yaml:"channels" json:"channels"`
	Layers   []LayerConfig   `yaml:"layers,omitempty" json:"layers,omitempty"`
	Points   []PointConfig   `yaml:"points,omitempty" json:"points,omitempty"`
}

// InputConfig declares a runtime input of a sequence.
type InputConfig struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// StepConfig is one scripted builder call. Numeric fields accept either a
// number or the name of a declared input.
type StepConfig struct {
	Op         string                 `yaml:"op" json:"op"`
	Levels     map[string]interface{} `yaml:"levels,omitempty" json:"levels,omitempty"`
	Point      string                 `yaml:"point,omitempty" json:"point,omitempty"`
	Component  string                 `yaml:"component,omitempty" json:"component,omitempty"`
	Duration   interface{}            `yaml:"duration,omitempty" json:"duration,omitempty"`
	Ramp       interface{}            `yaml:"ramp,omitempty" json:"ramp,omitempty"`
	Hold       interface{}            `yaml:"hold,omitempty" json:"hold,omitempty"`
	MaxLevel   float64                `yaml:"max_level,omitempty" json:"max_level,omitempty"`
	Iterations interface{}            `yaml:"iterations,omitempty" json:"iterations,omitempty"`
	Body       []StepConfig           `yaml:"body,omitempty" json:"body,omitempty"`
}

// SequenceConfig describes a scripted sequence on one channel set.
type SequenceConfig struct {
	ID              string        `yaml:"id" json:"id"`
	Set             string        `yaml:"set" json:"set"`
	TrackIntegrated bool          `yaml:"track_integrated,omitempty" json:"track_integrated,omitempty"`
	LoopPolicy      string        `yaml:"loop_policy,omitempty" json:"loop_policy,omitempty"`
	Inputs          []InputConfig `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Steps           []StepConfig  `yaml:"steps" json:"steps"`
}

// Config is the root of a setup file.
type Config struct {
	Logging     LoggingConfig      `yaml:"logging" json:"logging"`
	Telemetry   TelemetryConfig    `yaml:"telemetry" json:"telemetry"`
	ChannelSets []ChannelSetConfig `yaml:"channel_sets" json:"channel_sets"`
	Sequences   []SequenceConfig   `yaml:"sequences" json:"sequences"`

	// Sources lists the files the configuration was loaded from.
	Sources []string `yaml:"-" json:"-"`
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func ensureIdentifier(value, kind string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s identifier must not be empty", kind)
	}
	if !identifierPattern.MatchString(value) {
		return fmt.Errorf("%s identifier %q must start with a letter or underscore and contain only letters, digits or underscores", kind, value)
	}
	return nil
}

// ChannelSet returns the channel set with the given identifier.
func (c *Config) ChannelSet(id string) (ChannelSetConfig, bool) {
	if c == nil {
		return ChannelSetConfig{}, false
	}
	for _, set := range c.ChannelSets {
		if set.ID == id {
			return set, true
		}
	}
	return ChannelSetConfig{}, false
}

// Sequence returns the sequence with the given identifier.
func (c *Config) Sequence(id string) (SequenceConfig, bool) {
	if c == nil {
		return SequenceConfig{}, false
	}
	for _, seq := range c.Sequences {
		if seq.ID == id {
			return seq, true
		}
	}
	return SequenceConfig{}, false
}

// Validate checks identifiers and cross references. Numeric and matrix
// constraints are left to the voltage package, which reports them with
// more context.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	sets := make(map[string]struct{}, len(c.ChannelSets))
	for i, set := range c.ChannelSets {
		if err := ensureIdentifier(set.ID, "channel set"); err != nil {
			return fmt.Errorf("channel_sets[%d]: %w", i, err)
		}
		if _, dup := sets[set.ID]; dup {
			return fmt.Errorf("channel set %s declared twice", set.ID)
		}
		sets[set.ID] = struct{}{}
		if len(set.Channels) == 0 {
			return fmt.Errorf("channel set %s: at least one channel is required", set.ID)
		}
		channels := make(map[string]struct{}, len(set.Channels))
		for _, ch := range set.Channels {
			name := strings.TrimSpace(ch.Name)
			if name == "" {
				return fmt.Errorf("channel set %s: channel name must not be empty", set.ID)
			}
			if _, dup := channels[name]; dup {
				return fmt.Errorf("channel set %s: channel %s declared twice", set.ID, name)
			}
			channels[name] = struct{}{}
		}
		for _, point := range set.Points {
			if strings.TrimSpace(point.Name) == "" {
				return fmt.Errorf("channel set %s: point name must not be empty", set.ID)
			}
		}
	}

	sequences := make(map[string]struct{}, len(c.Sequences))
	for i, seq := range c.Sequences {
		if err := ensureIdentifier(seq.ID, "sequence"); err != nil {
			return fmt.Errorf("sequences[%d]: %w", i, err)
		}
		if _, dup := sequences[seq.ID]; dup {
			return fmt.Errorf("sequence %s declared twice", seq.ID)
		}
		sequences[seq.ID] = struct{}{}
		if _, ok := sets[seq.Set]; !ok {
			return fmt.Errorf("sequence %s: unknown channel set %q", seq.ID, seq.Set)
		}
		switch seq.LoopPolicy {
		case "", "strict", "warn":
		default:
			return fmt.Errorf("sequence %s: unknown loop policy %q", seq.ID, seq.LoopPolicy)
		}
		inputs := make(map[string]struct{}, len(seq.Inputs))
		for _, in := range seq.Inputs {
			if err := ensureIdentifier(in.Name, "input"); err != nil {
				return fmt.Errorf("sequence %s: %w", seq.ID, err)
			}
			if _, dup := inputs[in.Name]; dup {
				return fmt.Errorf("sequence %s: input %s declared twice", seq.ID, in.Name)
			}
			inputs[in.Name] = struct{}{}
		}
		if err := validateSteps(seq.Steps); err != nil {
			return fmt.Errorf("sequence %s: %w", seq.ID, err)
		}
	}
	return nil
}

func validateSteps(steps []StepConfig) error {
	for i, step := range steps {
		if strings.TrimSpace(step.Op) == "" {
			return fmt.Errorf("step %d: op must not be empty", i)
		}
		if step.Op != "loop" && len(step.Body) > 0 {
			return fmt.Errorf("step %d: only loop steps carry a body", i)
		}
		if err := validateSteps(step.Body); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// SourceFiles returns the absolute paths of the files that contributed to the
// configuration.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	files := make(map[string]struct{}, len(cfg.Sources))
	for _, path := range cfg.Sources {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		files[abs] = struct{}{}
	}
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
