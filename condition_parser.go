package rowguard

import (
	"strconv"
	"strings"
)

// ParseCondition parses a permission condition string into its expression
// tree. The grammar is deliberately small:
//
//	expr       := comparison (("AND"|"OR") comparison)*
//	comparison := operand "=" operand
//	operand    := placeholder | fieldName | stringLiteral | numberLiteral | boolLiteral
//
// Placeholders are {userId} and {user.<property>}. Equality ("=") is the only
// comparator; "==" in particular is rejected. Mixed AND/OR without grouping
// folds strictly left to right, so "a OR b AND c" means "(a OR b) AND c".
// Parsing is pure: no side effects, and every failure is a *SyntaxError
// carrying the offending substring.
func ParseCondition(raw string) (Expr, error) {
	p := &condParser{input: raw}
	if err := p.lex(); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		tok := p.peek()
		return nil, &SyntaxError{Condition: raw, Offending: tok.text, Pos: tok.pos}
	}
	return expr, nil
}

type tokenKind uint8

const (
	tokIdent tokenKind = iota
	tokPlaceholder
	tokString
	tokNumber
	tokEquals
	tokAnd
	tokOr
)

type token struct {
	kind tokenKind
	text string
	pos  int
	val  any // decoded literal / placeholder property
}

type condParser struct {
	input  string
	tokens []token
	cur    int
}

func (p *condParser) lex() error {
	s := p.input
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isSpace(c):
			i++
		case c == '=':
			// "==" is the classic mistake; reject it loudly instead of
			// silently treating it as equality.
			if i+1 < len(s) && s[i+1] == '=' {
				return &SyntaxError{Condition: p.input, Offending: "==", Pos: i}
			}
			p.tokens = append(p.tokens, token{kind: tokEquals, text: "=", pos: i})
			i++
		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return &SyntaxError{Condition: p.input, Offending: s[i:], Pos: i}
			}
			text := s[i : i+end+1]
			prop, ok := placeholderProperty(s[i+1 : i+end])
			if !ok {
				return &SyntaxError{Condition: p.input, Offending: text, Pos: i}
			}
			p.tokens = append(p.tokens, token{kind: tokPlaceholder, text: text, pos: i, val: prop})
			i += end + 1
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(s) && s[j] != quote {
				j++
			}
			if j >= len(s) {
				return &SyntaxError{Condition: p.input, Offending: s[i:], Pos: i}
			}
			p.tokens = append(p.tokens, token{kind: tokString, text: s[i : j+1], pos: i, val: s[i+1 : j]})
			i = j + 1
		case c >= '0' && c <= '9' || c == '-':
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			text := s[i:j]
			if n, err := strconv.ParseInt(text, 10, 64); err == nil {
				p.tokens = append(p.tokens, token{kind: tokNumber, text: text, pos: i, val: n})
			} else if f, err := strconv.ParseFloat(text, 64); err == nil {
				p.tokens = append(p.tokens, token{kind: tokNumber, text: text, pos: i, val: f})
			} else {
				return &SyntaxError{Condition: p.input, Offending: text, Pos: i}
			}
			i = j
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			text := s[i:j]
			switch strings.ToUpper(text) {
			case "AND":
				p.tokens = append(p.tokens, token{kind: tokAnd, text: text, pos: i})
			case "OR":
				p.tokens = append(p.tokens, token{kind: tokOr, text: text, pos: i})
			default:
				p.tokens = append(p.tokens, token{kind: tokIdent, text: text, pos: i})
			}
			i = j
		default:
			// any other operator (!=, <, >, parens, ...) is outside the grammar
			j := i
			for j < len(s) && !isSpace(s[j]) {
				j++
			}
			return &SyntaxError{Condition: p.input, Offending: s[i:j], Pos: i}
		}
	}
	if len(p.tokens) == 0 {
		return &SyntaxError{Condition: p.input, Offending: "", Pos: 0}
	}
	return nil
}

// placeholderProperty validates the inside of a {...} placeholder and
// returns the session property name ("" for userId).
func placeholderProperty(inner string) (string, bool) {
	if inner == "userId" {
		return "", true
	}
	prop, ok := strings.CutPrefix(inner, "user.")
	if !ok || prop == "" {
		return "", false
	}
	if !isIdentStart(prop[0]) {
		return "", false
	}
	for i := 1; i < len(prop); i++ {
		if !isIdentPart(prop[i]) {
			return "", false
		}
	}
	return prop, true
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (p *condParser) done() bool { return p.cur >= len(p.tokens) }

func (p *condParser) peek() token { return p.tokens[p.cur] }

func (p *condParser) next() token {
	t := p.tokens[p.cur]
	p.cur++
	return t
}

// parseExpr folds comparisons left to right over AND/OR with no precedence.
func (p *condParser) parseExpr() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for !p.done() {
		var op BoolOp
		switch p.peek().kind {
		case tokAnd:
			op = OpAnd
		case tokOr:
			op = OpOr
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BooleanCombination{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *condParser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.done() || p.peek().kind != tokEquals {
		tok := p.lastOrPeek()
		return nil, &SyntaxError{Condition: p.input, Offending: tok.text, Pos: tok.pos}
	}
	p.next()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &Comparison{Left: left, Right: right}, nil
}

func (p *condParser) parseOperand() (Operand, error) {
	if p.done() {
		tok := p.lastOrPeek()
		return nil, &SyntaxError{Condition: p.input, Offending: tok.text, Pos: tok.pos}
	}
	tok := p.next()
	switch tok.kind {
	case tokIdent:
		switch tok.text {
		case "true":
			return Literal{Value: true}, nil
		case "false":
			return Literal{Value: false}, nil
		}
		return FieldRef{Name: tok.text}, nil
	case tokPlaceholder:
		return Placeholder{Property: tok.val.(string)}, nil
	case tokString:
		return Literal{Value: tok.val.(string)}, nil
	case tokNumber:
		return Literal{Value: tok.val}, nil
	}
	return nil, &SyntaxError{Condition: p.input, Offending: tok.text, Pos: tok.pos}
}

// lastOrPeek returns the current token, or the final one when the stream is
// exhausted, so errors always point somewhere inside the input.
func (p *condParser) lastOrPeek() token {
	if p.done() {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.cur]
}
