package compiler

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/timzifer/voltseq/config"
	"github.com/timzifer/voltseq/program"
	"github.com/timzifer/voltseq/voltage"
)

// StepFunc applies one scripted step to the sequence held by env.
type StepFunc func(env *Env, step config.StepConfig) error

var (
	registryMu sync.RWMutex
	registry   = make(map[string]StepFunc)
)

// RegisterStep makes a step op available to every compiler.
func RegisterStep(op string, fn StepFunc) {
	if op == "" {
		panic("step op must not be empty")
	}
	if fn == nil {
		panic("step handler must not be nil")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[op]; exists {
		panic(fmt.Sprintf("step handler for %s already registered", op))
	}
	registry[op] = fn
}

// RegisteredOps lists the globally registered step ops.
func RegisteredOps() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ops := make([]string, 0, len(registry))
	for op := range registry {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func registeredStep(op string) (StepFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[op]
	return fn, ok
}

func init() {
	RegisterStep("step", stepLevels)
	RegisterStep("ramp", rampLevels)
	RegisterStep("step_point", stepPoint)
	RegisterStep("ramp_point", rampPoint)
	RegisterStep("ramp_to_zero", rampToZero)
	RegisterStep("compensate", compensate)
	RegisterStep("wait", wait)
	RegisterStep("account", account)
	RegisterStep("loop", loop)
}

// Env is the state a step handler works on.
type Env struct {
	Builder *voltage.Builder
	Program *program.Program

	ctx        context.Context
	components map[string]*voltage.Component
	lookup     func(op string) (StepFunc, bool)
}

// Run applies steps in order and stops at the first failure.
func (e *Env) Run(steps []config.StepConfig) error {
	for i, step := range steps {
		if e.ctx != nil {
			if err := e.ctx.Err(); err != nil {
				return err
			}
		}
		fn, ok := e.lookup(step.Op)
		if !ok {
			return fmt.Errorf("step %d: unknown op %q", i, step.Op)
		}
		if err := fn(e, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}
	return nil
}

// Value converts a scripted number or input name into a program value. A nil
// raw value yields an unset value.
func (e *Env) Value(raw interface{}) (program.Value, error) {
	switch v := raw.(type) {
	case nil:
		return program.Value{}, nil
	case int:
		return program.Int(v), nil
	case int64:
		return program.Const(float64(v)), nil
	case int32:
		return program.Const(float64(v)), nil
	case uint64:
		return program.Const(float64(v)), nil
	case uint32:
		return program.Const(float64(v)), nil
	case float64:
		return program.Const(v), nil
	case float32:
		return program.Const(float64(v)), nil
	case *big.Int:
		if !v.IsInt64() {
			return program.Value{}, fmt.Errorf("value %s out of range", v)
		}
		return program.Const(float64(v.Int64())), nil
	case string:
		name := strings.TrimSpace(v)
		variable, ok := e.Program.Lookup(name)
		if !ok || !variable.Input {
			return program.Value{}, fmt.Errorf("unknown input %q", name)
		}
		return program.Ref(variable), nil
	default:
		return program.Value{}, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

// Levels converts a scripted level map.
func (e *Env) Levels(raw map[string]interface{}) (voltage.Levels, error) {
	levels := make(voltage.Levels, len(raw))
	for name, value := range raw {
		v, err := e.Value(value)
		if err != nil {
			return nil, fmt.Errorf("level %s: %w", name, err)
		}
		levels[name] = v
	}
	return levels, nil
}

// Component returns the component registered for point prefixes.
func (e *Env) Component(id string) (*voltage.Component, error) {
	c, ok := e.components[id]
	if !ok {
		return nil, fmt.Errorf("unknown component %q", id)
	}
	return c, nil
}

func stepLevels(env *Env, step config.StepConfig) error {
	levels, err := env.Levels(step.Levels)
	if err != nil {
		return err
	}
	duration, err := env.Value(step.Duration)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	return env.Builder.StepToLevels(levels, duration)
}

func rampLevels(env *Env, step config.StepConfig) error {
	levels, err := env.Levels(step.Levels)
	if err != nil {
		return err
	}
	duration, err := env.Value(step.Duration)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	ramp, err := env.Value(step.Ramp)
	if err != nil {
		return fmt.Errorf("ramp: %w", err)
	}
	return env.Builder.RampToLevels(levels, duration, ramp)
}

func pointMacro(env *Env, step config.StepConfig, ramped bool) (voltage.Macro, error) {
	hold, err := env.Value(step.Hold)
	if err != nil {
		return nil, fmt.Errorf("hold: %w", err)
	}
	point := step.Point
	if step.Component != "" {
		c, err := env.Component(step.Component)
		if err != nil {
			return nil, err
		}
		point = voltage.PointName(c, point)
	}
	if !ramped {
		return voltage.StepPointMacro{Point: point, Hold: hold}, nil
	}
	ramp, err := env.Value(step.Ramp)
	if err != nil {
		return nil, fmt.Errorf("ramp: %w", err)
	}
	return voltage.RampPointMacro{Point: point, Ramp: ramp, Hold: hold}, nil
}

func stepPoint(env *Env, step config.StepConfig) error {
	m, err := pointMacro(env, step, false)
	if err != nil {
		return err
	}
	return m.Apply(env.Builder)
}

func rampPoint(env *Env, step config.StepConfig) error {
	m, err := pointMacro(env, step, true)
	if err != nil {
		return err
	}
	return m.Apply(env.Builder)
}

func rampToZero(env *Env, step config.StepConfig) error {
	ramp, err := env.Value(step.Ramp)
	if err != nil {
		return fmt.Errorf("ramp: %w", err)
	}
	return env.Builder.RampToZero(ramp)
}

func compensate(env *Env, step config.StepConfig) error {
	maxLevel := step.MaxLevel
	if maxLevel == 0 {
		maxLevel = voltage.DefaultMaxCompensationLevel
	}
	return env.Builder.ApplyCompensationPulse(maxLevel)
}

func wait(env *Env, step config.StepConfig) error {
	duration, err := env.Value(step.Duration)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	return env.Builder.Wait(duration)
}

func account(env *Env, step config.StepConfig) error {
	duration, err := env.Value(step.Duration)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	return env.Builder.Account(duration)
}

func loop(env *Env, step config.StepConfig) error {
	iterations, err := env.Value(step.Iterations)
	if err != nil {
		return fmt.Errorf("iterations: %w", err)
	}
	return env.Builder.Loop(iterations, func(*voltage.Builder) error {
		return env.Run(step.Body)
	})
}
