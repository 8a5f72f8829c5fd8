package formula

import (
	"fmt"
	"strconv"
)

// Mode distinguishes plain expressions from the sum/avg aggregate forms.
type Mode int

const (
	// ModePlain is an ordinary arithmetic expression.
	ModePlain Mode = iota
	// ModeSum is sum(a, b, ...).
	ModeSum
	// ModeAvg is avg(a, b, ...).
	ModeAvg
)

func (m Mode) String() string {
	switch m {
	case ModeSum:
		return "sum"
	case ModeAvg:
		return "avg"
	default:
		return "plain"
	}
}

// Aggregate reports whether missing and ND operands are tolerated.
func (m Mode) Aggregate() bool { return m != ModePlain }

// Node is an element of a parsed formula.
type Node interface {
	fmt.Stringer
	eval(resolve resolver) (float64, error)
}

type resolver func(code string) (float64, error)

// Number is a numeric literal.
type Number struct {
	Value float64
	Text  string
}

func (n *Number) String() string { return n.Text }

func (n *Number) eval(resolver) (float64, error) { return n.Value, nil }

// Ref is a reference to a data type code.
type Ref struct {
	Code string
}

func (r *Ref) String() string { return r.Code }

func (r *Ref) eval(resolve resolver) (float64, error) { return resolve(r.Code) }

// Unary negates or keeps the sign of its operand.
type Unary struct {
	Op byte
	X  Node
}

func (u *Unary) String() string { return "(" + string(u.Op) + u.X.String() + ")" }

func (u *Unary) eval(resolve resolver) (float64, error) {
	v, err := u.X.eval(resolve)
	if err != nil {
		return 0, err
	}
	if u.Op == '-' {
		return -v, nil
	}
	return v, nil
}

// Binary applies one of + - * / to two operands.
type Binary struct {
	Op   byte
	L, R Node
}

func (b *Binary) String() string {
	return "(" + b.L.String() + " " + string(b.Op) + " " + b.R.String() + ")"
}

func (b *Binary) eval(resolve resolver) (float64, error) {
	l, err := b.L.eval(resolve)
	if err != nil {
		return 0, err
	}
	r, err := b.R.eval(resolve)
	if err != nil {
		return 0, err
	}
	switch b.Op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	default:
		return 0, fmt.Errorf("unknown operator %s", strconv.QuoteRune(rune(b.Op)))
	}
}

// Expression is a parsed formula ready for evaluation.
type Expression struct {
	// Source is the formula as authored.
	Source string
	// Expanded is the plain expression actually parsed; for sum/avg it is the
	// operand list joined with '+'.
	Expanded string
	Mode     Mode
	Root     Node
	// Operands lists every operand occurrence in source order, literals included.
	Operands []string
	// Codes lists the distinct referenced data type codes in first-seen order.
	Codes []string
}

// OperandCount is the number of operand occurrences, used as the avg divisor
// before absent operands are discounted.
func (e *Expression) OperandCount() int { return len(e.Operands) }
