package formula

import (
	"regexp"
	"strings"
)

var (
	functionPattern = regexp.MustCompile(`(?i)^(sum|avg)\([A-Za-z0-9_, ]*\)$`)
	functionName    = regexp.MustCompile(`(?i)^(sum|avg)\(`)
)

// IsFunction reports whether formula is exactly one sum(...) or avg(...)
// call whose body holds only codes, digits, commas and spaces.
func IsFunction(formula string) bool {
	return functionPattern.MatchString(formula)
}

// IsSum reports whether formula is a sum(...) call.
func IsSum(formula string) bool {
	return IsFunction(formula) && strings.EqualFold(formula[:3], "sum")
}

// IsAvg reports whether formula is an avg(...) call.
func IsAvg(formula string) bool {
	return IsFunction(formula) && strings.EqualFold(formula[:3], "avg")
}

// FunctionMode returns the aggregate mode of formula, or ModePlain when it is
// not a function call.
func FunctionMode(formula string) Mode {
	switch {
	case IsSum(formula):
		return ModeSum
	case IsAvg(formula):
		return ModeAvg
	default:
		return ModePlain
	}
}

// ExpandFunctionToSum rewrites sum(A, B, C) or avg(A, B, C) to A+B+C.
// Spaces are dropped. Formulas that are not function calls are returned unchanged.
func ExpandFunctionToSum(formula string) string {
	if !IsFunction(formula) {
		return formula
	}
	body := functionName.ReplaceAllString(formula, "")
	body = strings.TrimSuffix(body, ")")
	body = strings.ReplaceAll(body, " ", "")
	return strings.ReplaceAll(body, ",", "+")
}
