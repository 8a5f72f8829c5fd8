package formula

import (
	"strconv"
)

// Parse turns formula into an Expression. Function calls are expanded to
// their operand sum before parsing; the returned Mode records which one.
func Parse(formula string) (*Expression, error) {
	mode := FunctionMode(formula)
	src := ExpandFunctionToSum(formula)
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, &SyntaxError{Formula: formula, Offset: -1, Reason: "empty formula"}
	}
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.unexpected(tok)
	}
	return &Expression{
		Source:   formula,
		Expanded: src,
		Mode:     mode,
		Root:     root,
		Operands: p.operands,
		Codes:    p.codes,
	}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(formula string) *Expression {
	expr, err := Parse(formula)
	if err != nil {
		panic(err)
	}
	return expr
}

type parser struct {
	src      string
	tokens   []token
	pos      int
	operands []string
	codes    []string
	seen     map[string]struct{}
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) unexpected(tok token) error {
	reason := "unexpected " + tok.kind.String()
	if tok.kind == tokIdent || tok.kind == tokNumber || tok.kind == tokOperator {
		reason += " " + strconv.Quote(tok.text)
	}
	return &SyntaxError{Formula: p.src, Offset: tok.pos, Reason: reason}
}

// expression := term (('+' | '-') term)*
func (p *parser) parseExpression() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOperator || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: tok.text[0], L: left, R: right}
	}
}

// term := unary (('*' | '/') unary)*
func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOperator || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: tok.text[0], L: left, R: right}
	}
}

// unary := ('+' | '-') unary | primary
func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.kind == tokOperator && (tok.text == "+" || tok.text == "-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: tok.text[0], X: x}, nil
	}
	return p.parsePrimary()
}

// primary := number | code | '(' expression ')'
func (p *parser) parsePrimary() (Node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		p.operands = append(p.operands, tok.text)
		return &Number{Value: tok.value, Text: tok.text}, nil
	case tokIdent:
		p.operands = append(p.operands, tok.text)
		p.addCode(tok.text)
		return &Ref{Code: tok.text}, nil
	case tokLParen:
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			if closing.kind == tokEOF {
				return nil, &SyntaxError{Formula: p.src, Offset: tok.pos, Reason: "unbalanced parentheses"}
			}
			return nil, p.unexpected(closing)
		}
		return inner, nil
	default:
		return nil, p.unexpected(tok)
	}
}

func (p *parser) addCode(code string) {
	if p.seen == nil {
		p.seen = make(map[string]struct{})
	}
	if _, ok := p.seen[code]; ok {
		return
	}
	p.seen[code] = struct{}{}
	p.codes = append(p.codes, code)
}
