package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/timzifer/voltseq/config"
	"github.com/timzifer/voltseq/program"
	"github.com/timzifer/voltseq/telemetry"
	"github.com/timzifer/voltseq/voltage"
)

// Compiled is one sequence turned into a program.
type Compiled struct {
	Sequence string
	Set      string
	Program  *program.Program
	// Final holds the level each physical channel ends at.
	Final map[string]program.Value
	// Integrated holds the integrated level per channel when tracking is on.
	Integrated map[string]program.Value
}

// Compiler builds channel sets and sequences described by a setup.
type Compiler struct {
	cfg       *config.Config
	logger    zerolog.Logger
	collector telemetry.Collector
	steps     map[string]StepFunc
}

// New validates cfg and prepares a compiler.
func New(cfg *config.Config, opts ...Option) (*Compiler, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := settings{logger: zerolog.Nop(), telemetry: telemetry.Noop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&s); err != nil {
			return nil, err
		}
	}
	return &Compiler{
		cfg:       cfg,
		logger:    s.logger.With().Str("component", "compiler").Logger(),
		collector: s.telemetry,
		steps:     s.steps,
	}, nil
}

func (c *Compiler) lookup(op string) (StepFunc, bool) {
	if fn, ok := c.steps[op]; ok {
		return fn, true
	}
	return registeredStep(op)
}

// Compile builds the sequence with the given identifier into a fresh program.
func (c *Compiler) Compile(ctx context.Context, id string) (*Compiled, error) {
	seq, ok := c.cfg.Sequence(id)
	if !ok {
		return nil, fmt.Errorf("unknown sequence %q", id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	setCfg, _ := c.cfg.ChannelSet(seq.Set)

	p := program.New()
	set, components, err := buildChannelSet(setCfg, p)
	if err != nil {
		return nil, fmt.Errorf("channel set %s: %w", setCfg.ID, err)
	}
	for _, in := range seq.Inputs {
		typ, err := program.ParseVarType(in.Type)
		if err != nil {
			return nil, fmt.Errorf("sequence %s: input %s: %w", seq.ID, in.Name, err)
		}
		if _, err := p.Input(in.Name, typ); err != nil {
			return nil, fmt.Errorf("sequence %s: %w", seq.ID, err)
		}
	}

	policy := voltage.LoopStrict
	if seq.LoopPolicy == "warn" {
		policy = voltage.LoopWarn
	}
	b, err := set.NewSequence(p,
		voltage.WithTracking(seq.TrackIntegrated),
		voltage.WithLogger(c.logger.With().Str("sequence", seq.ID).Logger()),
		voltage.WithCollector(c.collector),
		voltage.WithLoopPolicy(policy),
	)
	if err != nil {
		return nil, fmt.Errorf("sequence %s: %w", seq.ID, err)
	}
	defer b.Close()

	env := &Env{Builder: b, Program: p, ctx: ctx, components: components, lookup: c.lookup}
	if err := env.Run(seq.Steps); err != nil {
		return nil, fmt.Errorf("sequence %s: %w", seq.ID, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("sequence %s: %w", seq.ID, err)
	}

	out := &Compiled{
		Sequence:   seq.ID,
		Set:        set.ID(),
		Program:    p,
		Final:      make(map[string]program.Value),
		Integrated: make(map[string]program.Value),
	}
	for _, tr := range b.Trackers() {
		out.Final[tr.Channel()] = tr.CurrentLevel()
		if b.TrackingEnabled() {
			out.Integrated[tr.Channel()] = tr.IntegratedLevel()
		}
	}
	c.logger.Info().
		Str("sequence", seq.ID).
		Str("channel_set", set.ID()).
		Str("program", p.ID()).
		Int("instructions", p.Len()).
		Msg("sequence compiled")
	return out, nil
}

// CompileAll compiles every sequence in declaration order.
func (c *Compiler) CompileAll(ctx context.Context) ([]*Compiled, error) {
	out := make([]*Compiled, 0, len(c.cfg.Sequences))
	for _, seq := range c.cfg.Sequences {
		compiled, err := c.Compile(ctx, seq.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}

// Check builds every channel set, including those no sequence uses, and
// compiles every sequence. All failures are reported together.
func (c *Compiler) Check(ctx context.Context) error {
	var errs []error
	for _, setCfg := range c.cfg.ChannelSets {
		if _, _, err := buildChannelSet(setCfg, program.New()); err != nil {
			errs = append(errs, fmt.Errorf("channel set %s: %w", setCfg.ID, err))
		}
	}
	for _, seq := range c.cfg.Sequences {
		if _, err := c.Compile(ctx, seq.ID); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildChannelSet binds the configured channels to outputs of p and
// registers layers and points.
func buildChannelSet(cfg config.ChannelSetConfig, p *program.Program) (*voltage.ChannelSet, map[string]*voltage.Component, error) {
	outputs := make(map[string]voltage.Output, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		var opts []program.ChannelOption
		if ch.Amplified {
			opts = append(opts, program.WithAmplified())
		}
		outputs[ch.Name] = p.Channel(ch.Name, opts...)
	}

	var set *voltage.ChannelSet
	if len(cfg.Layers) > 0 {
		virtual, err := voltage.NewVirtualChannelSet(cfg.ID, outputs)
		if err != nil {
			return nil, nil, err
		}
		for i, layer := range cfg.Layers {
			if _, err := virtual.AddLayer(layer.Source, layer.Target, layer.Matrix); err != nil {
				return nil, nil, fmt.Errorf("layer %d: %w", i, err)
			}
		}
		set = virtual.ChannelSet
	} else {
		plain, err := voltage.NewChannelSet(cfg.ID, outputs)
		if err != nil {
			return nil, nil, err
		}
		set = plain
	}

	components := make(map[string]*voltage.Component)
	for _, point := range cfg.Points {
		if point.Component == "" {
			if err := set.AddPoint(point.Name, point.Voltages, point.Duration, point.Replace); err != nil {
				return nil, nil, err
			}
			continue
		}
		c, ok := components[point.Component]
		if !ok {
			c = voltage.NewComponent(point.Component, set)
			components[point.Component] = c
		}
		if _, err := voltage.AddPoint(c, point.Name, point.Voltages, point.Duration, point.Replace); err != nil {
			return nil, nil, err
		}
	}
	return set, components, nil
}
