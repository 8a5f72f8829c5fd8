package formula

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSyntax marks formulas rejected by ValidateSyntax or Parse.
	ErrSyntax = errors.New("formula syntax error")
	// ErrUnknownOperand marks formulas referencing codes outside the known set.
	ErrUnknownOperand = errors.New("formula references unknown operand")
	// ErrComputation marks evaluations that cannot produce a number.
	ErrComputation = errors.New("formula computation error")
	// ErrCycle marks operation sets whose formulas depend on each other.
	ErrCycle = errors.New("formula dependency cycle")
)

// SyntaxError describes a structurally invalid formula.
type SyntaxError struct {
	Formula string
	Offset  int
	Reason  string
}

func (e *SyntaxError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("formula %q: %s", e.Formula, e.Reason)
	}
	return fmt.Sprintf("formula %q: %s at offset %d", e.Formula, e.Reason, e.Offset)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// UnknownOperandError lists operands that are neither numeric nor known codes.
type UnknownOperandError struct {
	Operands []string
}

func (e *UnknownOperandError) Error() string {
	return fmt.Sprintf("unknown operands: %s", strings.Join(e.Operands, ", "))
}

func (e *UnknownOperandError) Unwrap() error { return ErrUnknownOperand }

// ComputationError is produced when a formula cannot be evaluated to a finite number.
type ComputationError struct {
	Formula string
	Reason  string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("formula %q: %s", e.Formula, e.Reason)
}

func (e *ComputationError) Unwrap() error { return ErrComputation }

// CycleError reports one dependency cycle as a closed path of codes.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "formula dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycle }
