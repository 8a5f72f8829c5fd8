package formula

import (
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOperator
	tokLParen
	tokRParen
	tokComma
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of formula"
	case tokNumber:
		return "number"
	case tokIdent:
		return "operand"
	case tokOperator:
		return "operator"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	default:
		return "token"
	}
}

type token struct {
	kind  tokenKind
	text  string
	pos   int
	value float64
}

func isOperator(c byte) bool {
	return c == '+' || c == '-' || c == '*' || c == '/'
}

func isOperandChar(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// tokenize splits src into tokens. Operand runs are maximal sequences of
// [A-Za-z0-9_.]; a run made only of digits and dots is a numeric literal.
func tokenize(src string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case isSpace(c):
			i++
		case isOperator(c):
			tokens = append(tokens, token{kind: tokOperator, text: string(c), pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case isOperandChar(c):
			start := i
			for i < len(src) && isOperandChar(src[i]) {
				i++
			}
			tok, err := classifyOperand(src, src[start:i], start)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
		default:
			return nil, &SyntaxError{Formula: src, Offset: i, Reason: "unexpected character " + strconv.QuoteRune(rune(c))}
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

func classifyOperand(src, text string, pos int) (token, error) {
	if IsNumeric(text) {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token{}, &SyntaxError{Formula: src, Offset: pos, Reason: "malformed number " + strconv.Quote(text)}
		}
		return token{kind: tokNumber, text: text, pos: pos, value: v}, nil
	}
	if strings.Contains(text, ".") {
		return token{}, &SyntaxError{Formula: src, Offset: pos, Reason: "malformed operand " + strconv.Quote(text)}
	}
	return token{kind: tokIdent, text: text, pos: pos}, nil
}

// IsNumeric reports whether s is a numeric literal: digits and dots only,
// parseable as a float.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '.' && (s[i] < '0' || s[i] > '9') {
			return false
		}
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
