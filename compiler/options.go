package compiler

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/voltseq/telemetry"
)

// Option configures the compiler during construction.
type Option func(*settings) error

type settings struct {
	logger    zerolog.Logger
	telemetry telemetry.Collector
	steps     map[string]StepFunc
}

// WithLogger provides a logger for the compiler and the sequence builders it
// creates.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		return nil
	}
}

// WithTelemetry injects a collector. A nil collector disables metrics.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		return nil
	}
}

// WithStep adds a step handler for this compiler only. It may shadow a
// registered handler.
func WithStep(op string, fn StepFunc) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		op = strings.TrimSpace(op)
		if op == "" {
			return fmt.Errorf("step op must not be empty")
		}
		if fn == nil {
			return fmt.Errorf("step %s: handler must not be nil", op)
		}
		if cfg.steps == nil {
			cfg.steps = make(map[string]StepFunc)
		}
		cfg.steps[op] = fn
		return nil
	}
}
