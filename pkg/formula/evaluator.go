package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// NoData is the stored marker for a value the respondent declared unavailable.
	NoData = "ND"
	// ErrorText is the rendering of a failed evaluation.
	ErrorText = "ERROR"
)

// Values maps data type codes to raw stored strings.
type Values map[string]string

// Value is the outcome of an evaluation: a number rounded to two decimals or
// a computation error.
type Value struct {
	number float64
	err    *ComputationError
}

// NumberValue wraps n after rounding it to two decimals.
func NumberValue(n float64) Value { return Value{number: Round2(n)} }

// ErrorValue builds a failed evaluation for formula.
func ErrorValue(formula, reason string) Value {
	return Value{err: &ComputationError{Formula: formula, Reason: reason}}
}

// Number returns the result and true, or 0 and false for an error.
func (v Value) Number() (float64, bool) {
	if v.err != nil {
		return 0, false
	}
	return v.number, true
}

// IsError reports whether the evaluation failed.
func (v Value) IsError() bool { return v.err != nil }

// Err returns the computation error, or nil.
func (v Value) Err() error {
	if v.err == nil {
		return nil
	}
	return v.err
}

// String renders the value the way it is persisted: two decimals or ERROR.
func (v Value) String() string {
	if v.err != nil {
		return ErrorText
	}
	return strconv.FormatFloat(v.number, 'f', 2, 64)
}

// Round2 rounds half away from zero to two decimals and folds -0 into 0.
// Ties are decided on the shortest decimal text of n, so 1.005 becomes 1.01
// even though its binary value sits just below the tie.
func Round2(n float64) float64 {
	abs := math.Abs(n)
	if math.IsNaN(n) || abs >= 1e15 {
		return n
	}
	whole, frac, _ := strings.Cut(strconv.FormatFloat(abs, 'f', -1, 64), ".")
	frac += "000"
	cents, err := strconv.ParseInt(whole+frac[:2], 10, 64)
	if err != nil {
		return n
	}
	if frac[2] >= '5' {
		cents++
	}
	r := float64(cents) / 100
	if r == 0 {
		return 0
	}
	if n < 0 {
		return -r
	}
	return r
}

// Evaluate parses and evaluates formula against values. It never returns a Go
// error: every failure is folded into an error Value.
func Evaluate(formula string, values Values) Value {
	expr, err := Parse(formula)
	if err != nil {
		return ErrorValue(formula, err.Error())
	}
	return expr.Evaluate(values)
}

// Evaluate computes the expression against values.
//
// In sum and avg forms an ND operand counts as present with value 0 and a
// missing or empty operand counts as absent with value 0; avg divides by the
// number of present operands. In plain expressions both are errors.
func (e *Expression) Evaluate(values Values) Value {
	aggregate := e.Mode.Aggregate()
	absent := 0
	resolve := func(code string) (float64, error) {
		raw, ok := values[code]
		raw = strings.TrimSpace(raw)
		switch {
		case !ok || raw == "":
			if !aggregate {
				return 0, fmt.Errorf("operand %s has no value", code)
			}
			absent++
			return 0, nil
		case raw == NoData:
			if !aggregate {
				return 0, fmt.Errorf("operand %s is %s", code, NoData)
			}
			return 0, nil
		case raw == ErrorText:
			return 0, fmt.Errorf("operand %s is in error", code)
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("operand %s value %q is not numeric", code, raw)
		}
		return n, nil
	}

	result, err := e.Root.eval(resolve)
	if err != nil {
		return ErrorValue(e.Source, err.Error())
	}
	if e.Mode == ModeAvg {
		present := e.OperandCount() - absent
		if present <= 0 {
			return ErrorValue(e.Source, "average of no present operands")
		}
		result /= float64(present)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return ErrorValue(e.Source, "result is not finite")
	}
	return NumberValue(result)
}
