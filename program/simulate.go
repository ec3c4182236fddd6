package program

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ChannelState is the simulated state of one output after execution.
type ChannelState struct {
	Level float64 `json:"level"`
	// Area is the time-voltage integral in V·ns.
	Area float64 `json:"area"`
	// Time is the elapsed channel time in ns.
	Time float64 `json:"time"`
}

// Result holds the outcome of a simulation run.
type Result struct {
	Channels map[string]*ChannelState `json:"channels"`
	Vars     map[string]any           `json:"vars"`
}

type simulator struct {
	prog     *Program
	env      map[string]any
	cache    map[string]*vm.Program
	loopEnd  map[int]int
	channels map[string]*ChannelState
}

// Simulate executes p with the given input values, unrolling loops and
// evaluating symbolic values, and returns the final state of every channel.
func Simulate(p *Program, inputs map[string]any) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &simulator{
		prog:     p,
		env:      make(map[string]any, len(p.vars)),
		cache:    make(map[string]*vm.Program),
		loopEnd:  make(map[int]int),
		channels: make(map[string]*ChannelState, len(p.channels)),
	}
	for name := range p.channels {
		s.channels[name] = &ChannelState{}
	}
	for _, v := range p.vars {
		if !v.Input {
			continue
		}
		raw, ok := inputs[v.Name]
		if !ok {
			return nil, fmt.Errorf("missing value for input %s", v.Name)
		}
		f, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", v.Name, err)
		}
		s.env[v.Name] = coerce(f, v.Type)
	}
	var stack []int
	for i, in := range p.instrs {
		switch in.Op {
		case OpLoopBegin:
			stack = append(stack, i)
		case OpLoopEnd:
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			s.loopEnd[start] = i
		}
	}
	if err := s.run(0, len(p.instrs)); err != nil {
		return nil, err
	}
	vars := make(map[string]any, len(s.env))
	for k, v := range s.env {
		vars[k] = v
	}
	return &Result{Channels: s.channels, Vars: vars}, nil
}

func (s *simulator) run(from, to int) error {
	for i := from; i < to; i++ {
		in := s.prog.instrs[i]
		switch in.Op {
		case OpDeclare, OpAssign:
			f, err := s.eval(in.Value)
			if err != nil {
				return fmt.Errorf("%s %s: %w", in.Op, in.Var.Name, err)
			}
			s.env[in.Var.Name] = coerce(f, in.Var.Type)
		case OpLoopBegin:
			end := s.loopEnd[i]
			n, err := s.eval(in.Value)
			if err != nil {
				return fmt.Errorf("loop iterations: %w", err)
			}
			for k := 0; k < int(n); k++ {
				if err := s.run(i+1, end); err != nil {
					return err
				}
			}
			i = end
		case OpLoopEnd:
		default:
			if err := s.apply(in); err != nil {
				return fmt.Errorf("%s %s: %w", in.Op, in.Channel, err)
			}
		}
	}
	return nil
}

func (s *simulator) apply(in Instruction) error {
	ch, ok := s.channels[in.Channel]
	if !ok {
		ch = &ChannelState{}
		s.channels[in.Channel] = ch
	}
	if in.Op == OpRampToZero {
		ch.Level = 0
		return nil
	}
	dur, err := s.eval(in.Duration)
	if err != nil {
		return err
	}
	if dur < 0 {
		return fmt.Errorf("negative duration %g", dur)
	}
	switch in.Op {
	case OpStep:
		delta, err := s.eval(in.Value)
		if err != nil {
			return err
		}
		ch.Level += delta
		ch.Area += ch.Level * dur
	case OpRamp:
		delta, err := s.eval(in.Value)
		if err != nil {
			return err
		}
		ch.Area += (2*ch.Level + delta) / 2 * dur
		ch.Level += delta
	case OpHold, OpWait:
		ch.Area += ch.Level * dur
	}
	ch.Time += dur
	return nil
}

func (s *simulator) eval(v Value) (float64, error) {
	if f, ok := v.Float(); ok {
		return f, nil
	}
	if !v.IsSymbolic() {
		return 0, nil
	}
	text := v.String()
	compiled, ok := s.cache[text]
	if !ok {
		var err error
		compiled, err = expr.Compile(text)
		if err != nil {
			return 0, fmt.Errorf("compile %q: %w", text, err)
		}
		s.cache[text] = compiled
	}
	out, err := expr.Run(compiled, s.env)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", text, err)
	}
	return toFloat(out)
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

func coerce(f float64, typ VarType) any {
	if typ == TypeInt {
		return int(math.Trunc(f))
	}
	return f
}
