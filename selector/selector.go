// Package selector parses and evaluates JMS-style message selectors such
// as "STREAM = '2.13' AND priority > 4".
//
// Supported: comparison operators (=, <>, <, <=, >, >=), arithmetic,
// AND/OR/NOT, [NOT] BETWEEN, [NOT] IN, [NOT] LIKE with ESCAPE, IS [NOT] NULL,
// string, numeric and boolean literals. Keywords are case-insensitive;
// property names are not. Evaluation uses SQL three-valued logic: a
// message matches only when the expression is TRUE, so comparisons with a
// missing property never match.
package selector

import (
	"fmt"
	"regexp"
	"strings"
)

// SyntaxError reports an expression that does not parse.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("selector: %s at offset %d in %q", e.Msg, e.Pos, e.Expr)
}

// Selector is a parsed expression. The zero value and the result of
// parsing an empty expression match every message.
type Selector struct {
	expr string
	root node
}

// Parse compiles expr.
func Parse(expr string) (*Selector, error) {
	if strings.TrimSpace(expr) == "" {
		return &Selector{expr: expr}, nil
	}
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	if !isConditional(root) {
		return nil, &SyntaxError{Expr: expr, Pos: 0, Msg: "expression is not a condition"}
	}
	return &Selector{expr: expr, root: root}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) *Selector {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source expression.
func (s *Selector) String() string {
	if s == nil {
		return ""
	}
	return s.expr
}

// Matches reports whether props satisfy the selector.
func (s *Selector) Matches(props map[string]any) bool {
	if s == nil || s.root == nil {
		return true
	}
	v := s.root.eval(props)
	return v.k == kindBool && v.b
}

type parser struct {
	expr string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokKeyword && t.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Expr: p.expr, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) condition(n node, t token) (node, error) {
	if !isConditional(n) {
		return nil, p.errorf(t, "operand is not a condition")
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	start := p.peek()
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !p.keyword("OR") {
			return left, nil
		}
		if left, err = p.condition(left, start); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if right, err = p.condition(right, t); err != nil {
			return nil, err
		}
		left = &logical{or: true, l: left, r: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	start := p.peek()
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !p.keyword("AND") {
			return left, nil
		}
		if left, err = p.condition(left, start); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if right, err = p.condition(right, t); err != nil {
			return nil, err
		}
		left = &logical{l: left, r: right}
	}
}

func (p *parser) parseNot() (node, error) {
	t := p.peek()
	if p.keyword("NOT") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if x, err = p.condition(x, t); err != nil {
			return nil, err
		}
		return &not{x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	t := p.peek()
	switch {
	case t.kind == tokOp && isComparison(t.text):
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &compare{op: t.text, l: left, r: right}, nil

	case t.kind == tokKeyword && t.text == "IS":
		p.next()
		negate := p.keyword("NOT")
		if !p.keyword("NULL") {
			return nil, p.errorf(p.peek(), "expected NULL after IS")
		}
		return &isNull{x: left, not: negate}, nil
	}

	negate := false
	if t.kind == tokKeyword && t.text == "NOT" {
		nt := p.toks[p.pos+1]
		if nt.kind == tokKeyword && (nt.text == "BETWEEN" || nt.text == "IN" || nt.text == "LIKE") {
			p.next()
			negate = true
			t = p.peek()
		}
	}

	if t.kind != tokKeyword {
		return left, nil
	}
	switch t.text {
	case "BETWEEN":
		p.next()
		lo, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			return nil, p.errorf(p.peek(), "expected AND in BETWEEN")
		}
		hi, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &between{x: left, lo: lo, hi: hi, not: negate}, nil

	case "IN":
		p.next()
		return p.parseIn(left, negate)

	case "LIKE":
		p.next()
		return p.parseLike(left, negate)
	}
	if negate {
		return nil, p.errorf(t, "expected BETWEEN, IN or LIKE after NOT")
	}
	return left, nil
}

func (p *parser) parseIn(x node, negate bool) (node, error) {
	if t := p.next(); t.kind != tokLParen {
		return nil, p.errorf(t, "expected ( after IN")
	}
	set := make(map[string]struct{})
	for {
		t := p.next()
		if t.kind != tokString {
			return nil, p.errorf(t, "IN list accepts string literals only")
		}
		set[t.text] = struct{}{}

		t = p.next()
		if t.kind == tokRParen {
			return &in{x: x, set: set, not: negate}, nil
		}
		if t.kind != tokComma {
			return nil, p.errorf(t, "expected , or ) in IN list")
		}
	}
}

func (p *parser) parseLike(x node, negate bool) (node, error) {
	pat := p.next()
	if pat.kind != tokString {
		return nil, p.errorf(pat, "LIKE pattern must be a string literal")
	}
	var escape rune
	if p.keyword("ESCAPE") {
		e := p.next()
		if e.kind != tokString || len([]rune(e.text)) != 1 {
			return nil, p.errorf(e, "ESCAPE must be a single character string")
		}
		escape = []rune(e.text)[0]
	}
	re, err := likePattern(pat.text, escape)
	if err != nil {
		return nil, p.errorf(pat, "invalid LIKE pattern: %v", err)
	}
	return &like{x: x, re: re, not: negate}, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &arith{op: t.text[0], l: left, r: right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arith{op: t.text[0], l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "+" || t.text == "-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if t.text == "-" {
			return &minus{x: x}, nil
		}
		return x, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, p.errorf(c, "expected )")
		}
		return n, nil
	case tokString:
		return &literal{v: value{k: kindString, s: t.text}}, nil
	case tokNumber:
		return &literal{v: value{k: kindNumber, n: t.num}}, nil
	case tokIdent:
		return &ident{name: t.text}, nil
	case tokKeyword:
		switch t.text {
		case "TRUE":
			return &literal{v: value{k: kindBool, b: true}}, nil
		case "FALSE":
			return &literal{v: value{k: kindBool, b: false}}, nil
		}
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	}
	return nil, p.errorf(t, "unexpected %q", t.text)
}

func isComparison(op string) bool {
	switch op {
	case "=", "<>", "<", "<=", ">", ">=":
		return true
	}
	return false
}

// isConditional reports whether n can yield a boolean. Identifiers qualify
// because a property may hold a boolean.
func isConditional(n node) bool {
	switch n := n.(type) {
	case *logical, *not, *compare, *between, *in, *like, *isNull, *ident:
		return true
	case *literal:
		return n.v.k == kindBool
	}
	return false
}

// likePattern translates a LIKE pattern into an anchored regexp.
func likePattern(pattern string, escape rune) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("(?s)^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case escape != 0 && r == escape:
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("dangling escape character")
			}
			i++
			sb.WriteString(regexp.QuoteMeta(string(runes[i])))
		case r == '%':
			sb.WriteString(".*")
		case r == '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
