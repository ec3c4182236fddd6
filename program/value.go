package program

import (
	"fmt"
	"math"
	"strconv"
)

type valueKind uint8

const (
	kindUnset valueKind = iota
	kindConst
	kindExpr
)

// Value is either a compile-time constant or a symbolic expression over
// runtime variables of the control program. The zero Value is unset and is
// used for optional arguments.
type Value struct {
	kind valueKind
	num  float64
	expr string
}

// Const returns a constant value.
func Const(v float64) Value {
	return Value{kind: kindConst, num: v}
}

// Int returns a constant integer value.
func Int(v int) Value {
	return Value{kind: kindConst, num: float64(v)}
}

// Expr returns a symbolic value. The text must be a valid expression over
// program variables and inputs.
func Expr(text string) Value {
	return Value{kind: kindExpr, expr: text}
}

// Ref returns a symbolic reference to v.
func Ref(v *Var) Value {
	if v == nil {
		return Value{}
	}
	return Expr(v.Name)
}

// IsSet reports whether the value has been assigned.
func (v Value) IsSet() bool { return v.kind != kindUnset }

// IsSymbolic reports whether the value is only known at runtime.
func (v Value) IsSymbolic() bool { return v.kind == kindExpr }

// Float returns the constant and true, or false for symbolic and unset values.
func (v Value) Float() (float64, bool) {
	if v.kind != kindConst {
		return 0, false
	}
	return v.num, true
}

// Or returns v when set, otherwise fallback.
func (v Value) Or(fallback Value) Value {
	if v.IsSet() {
		return v
	}
	return fallback
}

func (v Value) String() string {
	switch v.kind {
	case kindConst:
		return formatFloat(v.num)
	case kindExpr:
		return v.expr
	default:
		return "<unset>"
	}
}

// operand renders v for embedding in a larger expression.
func (v Value) operand() string {
	switch v.kind {
	case kindConst:
		if v.num < 0 {
			return "(" + formatFloat(v.num) + ")"
		}
		return formatFloat(v.num)
	case kindExpr:
		return v.expr
	default:
		return "0"
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Sprint(f)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isZero(v Value) bool {
	f, ok := v.Float()
	return ok && f == 0
}

// Add returns a + b.
func Add(a, b Value) Value {
	x, okA := a.Float()
	y, okB := b.Float()
	switch {
	case okA && okB:
		return Const(x + y)
	case isZero(a):
		return b
	case isZero(b):
		return a
	}
	return Expr("(" + a.operand() + " + " + b.operand() + ")")
}

// Sub returns a - b.
func Sub(a, b Value) Value {
	x, okA := a.Float()
	y, okB := b.Float()
	switch {
	case okA && okB:
		return Const(x - y)
	case isZero(b):
		return a
	}
	return Expr("(" + a.operand() + " - " + b.operand() + ")")
}

// Mul returns a * b.
func Mul(a, b Value) Value {
	x, okA := a.Float()
	y, okB := b.Float()
	switch {
	case okA && okB:
		return Const(x * y)
	case isZero(a) || isZero(b):
		return Const(0)
	case okA && x == 1:
		return b
	case okB && y == 1:
		return a
	}
	return Expr("(" + a.operand() + " * " + b.operand() + ")")
}

// Div returns a / b. Constant division by zero yields an unset value.
func Div(a, b Value) Value {
	x, okA := a.Float()
	y, okB := b.Float()
	if okB && y == 0 {
		return Value{}
	}
	switch {
	case okA && okB:
		return Const(x / y)
	case okB && y == 1:
		return a
	}
	return Expr("(" + a.operand() + " / " + b.operand() + ")")
}

// Neg returns -a.
func Neg(a Value) Value {
	if x, ok := a.Float(); ok {
		return Const(-x)
	}
	return Expr("(-" + a.operand() + ")")
}

// Scale returns a * c.
func Scale(a Value, c float64) Value {
	return Mul(a, Const(c))
}

// Truncate wraps a in an integer conversion. Constants are truncated toward zero.
func Truncate(a Value) Value {
	if x, ok := a.Float(); ok {
		return Const(math.Trunc(x))
	}
	return Expr("int(" + a.String() + ")")
}

// Abs returns |a|.
func Abs(a Value) Value {
	if x, ok := a.Float(); ok {
		return Const(math.Abs(x))
	}
	return Expr("(" + a.operand() + " < 0 ? -" + a.operand() + " : " + a.operand() + ")")
}

// Max returns the larger of a and b.
func Max(a, b Value) Value {
	x, okA := a.Float()
	y, okB := b.Float()
	if okA && okB {
		return Const(math.Max(x, y))
	}
	return Expr("(" + a.operand() + " > " + b.operand() + " ? " + a.operand() + " : " + b.operand() + ")")
}

// CeilMultiple rounds a non-negative value up to the next multiple of m.
func CeilMultiple(v Value, m int) Value {
	if x, ok := v.Float(); ok {
		return Const(math.Ceil(x/float64(m)) * float64(m))
	}
	base := Scale(Truncate(Div(v, Int(m))), float64(m))
	step := strconv.Itoa(m)
	return Expr("(" + base.operand() + " < " + v.operand() + " ? " + base.operand() + " + " + step + " : " + base.operand() + ")")
}
