package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// colonCallRe matches the builtin shorthand "name:args", e.g.
// "random:length=8", "env:HOME:/tmp" or "now:format=YYYY-MM-DD".
var colonCallRe = regexp.MustCompile(`(?s)^([A-Za-z_][A-Za-z0-9_]*)\s*:(.*)$`)

var namedArgRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=(.*)$`)

type parser struct {
	toks []token
	pos  int
}

// parsePlaceholder parses the body of a ${...} group.
func parsePlaceholder(src string) (node, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	if m := colonCallRe.FindStringSubmatch(src); m != nil {
		return parseColonCall(m[1], m[2]), nil
	}
	return parseExpression(src)
}

// parseExpression parses a full expression. ${...} groups may appear
// anywhere a primary is allowed.
func parseExpression(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, fmt.Errorf("unexpected %s at offset %d", t, t.pos)
	}
	return n, nil
}

func parseColonCall(name, rest string) node {
	call := &colonCallNode{name: name, named: map[string]any{}}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return call
	}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if m := namedArgRe.FindStringSubmatch(part); m != nil {
			call.named[m[1]] = strings.TrimSpace(m[2])
			continue
		}
		for _, arg := range strings.Split(part, ":") {
			call.args = append(call.args, arg)
		}
	}
	return call
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tkOp && t.kind != tkIdent {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s, found %s at offset %d", what, t, t.pos)
	}
	return t, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("||", "or"); !ok {
			return left, nil
		}
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "||", l: left, r: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("&&", "and"); !ok {
			return left, nil
		}
		p.next()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "&&", l: left, r: right}
	}
}

func (p *parser) parseEquality() (node, error) {
	return p.parseBinary(p.parseComparison, "==", "!=")
}

func (p *parser) parseComparison() (node, error) {
	return p.parseBinary(p.parseAdditive, "<", "<=", ">", ">=")
}

func (p *parser) parseAdditive() (node, error) {
	return p.parseBinary(p.parseMultiplicative, "+", "-")
}

func (p *parser) parseMultiplicative() (node, error) {
	return p.parseBinary(p.parseUnary, "*", "/", "%")
}

func (p *parser) parseBinary(operand func() (node, error), ops ...string) (node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tkOp {
			return left, nil
		}
		op, ok := p.isOp(ops...)
		if !ok {
			return left, nil
		}
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, l: left, r: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.isOp("!", "-", "not"); ok {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "not" {
			op = "!"
		}
		return &unaryNode{op: op, x: x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tkDot:
			p.next()
			t := p.next()
			if t.kind != tkIdent && t.kind != tkNumber {
				return nil, fmt.Errorf("expected field name after '.', found %s at offset %d", t, t.pos)
			}
			if path, ok := n.(*pathNode); ok {
				path.parts = append(path.parts, t.text)
				continue
			}
			n = &indexNode{target: n, index: &literalNode{v: t.text}}
		case tkLBrack:
			p.next()
			idx, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tkRBrack, "']'"); err != nil {
				return nil, err
			}
			n = &indexNode{target: n, index: idx}
		default:
			return n, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tkNumber:
		return parseNumber(t)
	case tkString:
		return &literalNode{v: t.text}, nil
	case tkPlaceholder:
		return parsePlaceholder(t.text)
	case tkLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tkRParen, "')'"); err != nil {
			return nil, err
		}
		return n, nil
	case tkLBrack:
		items, err := p.parseList(tkRBrack, "']'")
		if err != nil {
			return nil, err
		}
		return &listNode{items: items}, nil
	case tkIdent:
		switch t.text {
		case "true":
			return &literalNode{v: true}, nil
		case "false":
			return &literalNode{v: false}, nil
		case "null", "nil":
			return &literalNode{v: nil}, nil
		}
		if p.peek().kind == tkLParen {
			p.next()
			args, err := p.parseList(tkRParen, "')'")
			if err != nil {
				return nil, err
			}
			return &callNode{name: t.text, args: args}, nil
		}
		return &pathNode{parts: []string{t.text}}, nil
	default:
		return nil, fmt.Errorf("unexpected %s at offset %d", t, t.pos)
	}
}

func (p *parser) parseList(end tokenKind, what string) ([]node, error) {
	var items []node
	if p.peek().kind == end {
		p.next()
		return items, nil
	}
	for {
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		items = append(items, n)
		t := p.next()
		if t.kind == end {
			return items, nil
		}
		if t.kind != tkComma {
			return nil, fmt.Errorf("expected ',' or %s, found %s at offset %d", what, t, t.pos)
		}
	}
}

func parseNumber(t token) (node, error) {
	if !strings.ContainsAny(t.text, ".eE") {
		if n, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return &literalNode{v: int(n)}, nil
		}
	}
	f, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", t.text)
	}
	return &literalNode{v: f}, nil
}
