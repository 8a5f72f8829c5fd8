package formula

import (
	"regexp"
	"sort"
	"strings"
)

var operandStrip = regexp.MustCompile(`[^A-Za-z0-9_.]`)

// CodeSet is the set of data type codes a formula may reference.
type CodeSet map[string]struct{}

// NewCodeSet builds a CodeSet from codes.
func NewCodeSet(codes ...string) CodeSet {
	set := make(CodeSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether code is in the set.
func (s CodeSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Add inserts code into the set.
func (s CodeSet) Add(code string) { s[code] = struct{}{} }

// Sorted returns the codes in lexical order.
func (s CodeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type located struct {
	c   byte
	pos int
}

// ValidateSyntax checks the structure of formula. Function calls accepted by
// IsFunction skip the parenthesis adjacency checks. Whitespace is ignored.
//
// A '(' must open the formula or follow an operator or another '(' and must be
// followed by an operand, a sign or another '('. A ')' must follow an operand
// or another ')' and must end the formula or precede an operator or another ')'.
func ValidateSyntax(formula string) error {
	if !IsFunction(formula) {
		if err := checkParentheses(formula); err != nil {
			return err
		}
	}
	_, err := Parse(formula)
	return err
}

func checkParentheses(formula string) error {
	chars := make([]located, 0, len(formula))
	for i := 0; i < len(formula); i++ {
		if !isSpace(formula[i]) {
			chars = append(chars, located{c: formula[i], pos: i})
		}
	}
	if len(chars) == 0 {
		return &SyntaxError{Formula: formula, Offset: -1, Reason: "empty formula"}
	}
	fail := func(at located, reason string) error {
		return &SyntaxError{Formula: formula, Offset: at.pos, Reason: reason}
	}
	opens, closes := 0, 0
	for i, cur := range chars {
		var prev, next byte
		if i > 0 {
			prev = chars[i-1].c
		}
		if i < len(chars)-1 {
			next = chars[i+1].c
		}
		switch cur.c {
		case '(':
			opens++
			if i > 0 && !isOperator(prev) && prev != '(' {
				return fail(cur, "'(' must follow an operator")
			}
			if next == 0 || next == ')' || next == '*' || next == '/' || next == ',' {
				return fail(cur, "'(' must be followed by an operand")
			}
		case ')':
			closes++
			if closes > opens {
				return fail(cur, "unbalanced parentheses")
			}
			if i == 0 || isOperator(prev) || prev == '(' {
				return fail(cur, "')' must follow an operand")
			}
			if next != 0 && !isOperator(next) && next != ')' {
				return fail(cur, "')' must be followed by an operator")
			}
		}
	}
	if opens != closes {
		return &SyntaxError{Formula: formula, Offset: -1, Reason: "unbalanced parentheses"}
	}
	return nil
}

// ExtractOperands returns the operand tokens of formula in source order:
// function calls are expanded first, the result is split on operators and
// every character outside [A-Za-z0-9_.] is removed. Empty pieces are dropped.
func ExtractOperands(formula string) []string {
	src := ExpandFunctionToSum(formula)
	pieces := strings.FieldsFunc(src, func(r rune) bool {
		return r < 128 && isOperator(byte(r))
	})
	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		cleaned := operandStrip.ReplaceAllString(piece, "")
		if cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

// ValidateOperands checks that every operand is numeric or a known code.
// Unknown operands are reported once each, in first-seen order.
func ValidateOperands(operands []string, known CodeSet) error {
	var unknown []string
	seen := make(map[string]struct{})
	for _, op := range operands {
		if IsNumeric(op) || known.Has(op) {
			continue
		}
		if _, dup := seen[op]; dup {
			continue
		}
		seen[op] = struct{}{}
		unknown = append(unknown, op)
	}
	if len(unknown) > 0 {
		return &UnknownOperandError{Operands: unknown}
	}
	return nil
}

// Validate runs ValidateSyntax then ValidateOperands.
func Validate(formula string, known CodeSet) error {
	if err := ValidateSyntax(formula); err != nil {
		return err
	}
	return ValidateOperands(ExtractOperands(formula), known)
}
