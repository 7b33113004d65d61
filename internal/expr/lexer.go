package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkIdent
	tkNumber
	tkString
	tkPlaceholder // ${...} group; text holds the inner source
	tkOp
	tkDot
	tkComma
	tkLParen
	tkRParen
	tkLBrack
	tkRBrack
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tkEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q", t.text)
}

var twoCharOps = []string{"==", "!=", ">=", "<=", "&&", "||"}

// lex splits src into tokens. ${...} groups are returned whole so that a
// condition such as "${a} == 1" parses like "(a) == 1".
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '$' && i+1 < len(src) && src[i+1] == '{':
			end, err := matchBrace(src, i+2)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tkPlaceholder, text: src[i+2 : end], pos: i})
			i = end + 1
		case isDigit(c):
			start := i
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			// After a dot we are inside a path ("items.0.id"): integers only.
			afterDot := len(toks) > 0 && toks[len(toks)-1].kind == tkDot
			if !afterDot && i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			if !afterDot && i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			toks = append(toks, token{kind: tkNumber, text: src[start:i], pos: start})
		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			toks = append(toks, token{kind: tkIdent, text: src[start:i], pos: start})
		case c == '\'' || c == '"':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tkString, text: s, pos: i})
			i = next
		case c == '.':
			toks = append(toks, token{kind: tkDot, text: ".", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tkComma, text: ",", pos: i})
			i++
		case c == '(':
			toks = append(toks, token{kind: tkLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tkRParen, text: ")", pos: i})
			i++
		case c == '[':
			toks = append(toks, token{kind: tkLBrack, text: "[", pos: i})
			i++
		case c == ']':
			toks = append(toks, token{kind: tkRBrack, text: "]", pos: i})
			i++
		default:
			if op := twoCharOp(src[i:]); op != "" {
				toks = append(toks, token{kind: tkOp, text: op, pos: i})
				i += 2
				continue
			}
			if strings.IndexByte("+-*/%<>!", c) >= 0 {
				toks = append(toks, token{kind: tkOp, text: string(c), pos: i})
				i++
				continue
			}
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, token{kind: tkEOF, pos: len(src)})
	return toks, nil
}

func twoCharOp(s string) string {
	if len(s) < 2 {
		return ""
	}
	for _, op := range twoCharOps {
		if s[:2] == op {
			return op
		}
	}
	return ""
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			switch n := src[i+1]; n {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(n)
			}
			i += 2
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string starting at offset %d", start)
}

// matchBrace returns the index of the '}' closing a group whose body starts
// at from. Quoted strings and nested braces are skipped.
func matchBrace(src string, from int) (int, error) {
	depth := 1
	for i := from; i < len(src); i++ {
		switch c := src[i]; c {
		case '\'', '"':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(src) {
				return 0, fmt.Errorf("unterminated string starting at offset %d", i)
			}
			i = j
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("unterminated ${ at offset %d", from-2)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
