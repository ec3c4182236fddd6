package program

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
)

// VarType is the numeric type of a runtime variable.
type VarType uint8

const (
	// TypeInt variables hold integers. Integral accumulators use this type.
	TypeInt VarType = iota
	// TypeFixed variables hold fixed-point reals. Levels use this type.
	TypeFixed
)

func (t VarType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFixed:
		return "fixed"
	default:
		return fmt.Sprintf("VarType(%d)", t)
	}
}

// ParseVarType maps a textual type to a VarType.
func ParseVarType(s string) (VarType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return TypeInt, nil
	case "fixed", "float", "":
		return TypeFixed, nil
	default:
		return 0, fmt.Errorf("unknown variable type %q", s)
	}
}

// Var is a runtime variable of the control program.
type Var struct {
	Name  string
	Type  VarType
	Input bool
}

// Op enumerates instruction kinds.
type Op uint8

const (
	OpDeclare Op = iota
	OpAssign
	OpStep
	OpRamp
	OpHold
	OpWait
	OpRampToZero
	OpLoopBegin
	OpLoopEnd
)

var opNames = [...]string{
	OpDeclare:    "declare",
	OpAssign:     "assign",
	OpStep:       "step",
	OpRamp:       "ramp",
	OpHold:       "hold",
	OpWait:       "wait",
	OpRampToZero: "ramp_to_zero",
	OpLoopBegin:  "loop",
	OpLoopEnd:    "end",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// Instruction is one entry of the instruction stream. Value carries the
// level delta for step and ramp, the assigned value for declare and assign,
// and the iteration count for loops.
type Instruction struct {
	Op       Op
	Channel  string
	Var      *Var
	Value    Value
	Duration Value
}

// Program is a linear control-program build.
type Program struct {
	id       string
	instrs   []Instruction
	vars     []*Var
	names    map[string]*Var
	counter  int
	depth    int
	channels map[string]*Channel
}

// New starts an empty program.
func New() *Program {
	return &Program{
		id:       uuid.Must(uuid.NewV7()).String(),
		names:    make(map[string]*Var),
		channels: make(map[string]*Channel),
	}
}

// ID returns the program identifier.
func (p *Program) ID() string { return p.id }

// Instructions returns a copy of the recorded instruction stream.
func (p *Program) Instructions() []Instruction {
	out := make([]Instruction, len(p.instrs))
	copy(out, p.instrs)
	return out
}

// Len returns the number of recorded instructions.
func (p *Program) Len() int { return len(p.instrs) }

// Vars returns declared variables and inputs in declaration order.
func (p *Program) Vars() []*Var {
	out := make([]*Var, len(p.vars))
	copy(out, p.vars)
	return out
}

// Depth returns the current loop nesting depth.
func (p *Program) Depth() int { return p.depth }

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func sanitize(label string) string {
	var b strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "v_" + out
	}
	return out
}

// Declare adds a program variable initialised to init. The final name is
// derived from label and made unique.
func (p *Program) Declare(label string, typ VarType, init Value) *Var {
	p.counter++
	name := fmt.Sprintf("%s_%d", sanitize(label), p.counter)
	for p.names[name] != nil {
		p.counter++
		name = fmt.Sprintf("%s_%d", sanitize(label), p.counter)
	}
	v := &Var{Name: name, Type: typ}
	p.vars = append(p.vars, v)
	p.names[name] = v
	p.instrs = append(p.instrs, Instruction{Op: OpDeclare, Var: v, Value: init.Or(Const(0))})
	return v
}

// Input registers an externally supplied variable such as a sweep parameter.
func (p *Program) Input(name string, typ VarType) (*Var, error) {
	if !identPattern.MatchString(name) {
		return nil, fmt.Errorf("input name %q is not a valid identifier", name)
	}
	if _, exists := p.names[name]; exists {
		return nil, fmt.Errorf("input %s already declared", name)
	}
	v := &Var{Name: name, Type: typ, Input: true}
	p.vars = append(p.vars, v)
	p.names[name] = v
	return v, nil
}

// Lookup returns the variable or input with the given name.
func (p *Program) Lookup(name string) (*Var, bool) {
	v, ok := p.names[name]
	return v, ok
}

// Assign records v = value.
func (p *Program) Assign(v *Var, value Value) {
	p.instrs = append(p.instrs, Instruction{Op: OpAssign, Var: v, Value: value})
}

// BeginLoop opens a repeated region executed iterations times.
func (p *Program) BeginLoop(iterations Value) error {
	if f, ok := iterations.Float(); ok && (f < 0 || f != float64(int64(f))) {
		return fmt.Errorf("loop iterations must be a non-negative integer, got %s", iterations)
	}
	if !iterations.IsSet() {
		return fmt.Errorf("loop iterations must be set")
	}
	p.depth++
	p.instrs = append(p.instrs, Instruction{Op: OpLoopBegin, Value: iterations})
	return nil
}

// EndLoop closes the innermost repeated region.
func (p *Program) EndLoop() error {
	if p.depth == 0 {
		return fmt.Errorf("end of loop without matching begin")
	}
	p.depth--
	p.instrs = append(p.instrs, Instruction{Op: OpLoopEnd})
	return nil
}

// Validate checks that loops are balanced and that every symbolic value
// parses as an expression.
func (p *Program) Validate() error {
	if p.depth != 0 {
		return fmt.Errorf("%d loop(s) left open", p.depth)
	}
	for i, in := range p.instrs {
		for _, v := range []Value{in.Value, in.Duration} {
			if !v.IsSymbolic() {
				continue
			}
			if _, err := expr.Compile(v.String(), expr.AllowUndefinedVariables()); err != nil {
				return fmt.Errorf("instruction %d (%s): %w", i, in.Op, err)
			}
		}
	}
	return nil
}

func (p *Program) emit(in Instruction) {
	p.instrs = append(p.instrs, in)
}
