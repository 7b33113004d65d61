package expr

import (
	"strings"
)

type segment struct {
	text string
	src  string
	expr node
}

// template is a parsed string with interleaved literal text and ${...}
// placeholders.
type template struct {
	segs []segment
}

// single reports whether the template is exactly one placeholder, in which
// case evaluation yields the native value rather than a string.
func (t *template) single() bool {
	return len(t.segs) == 1 && t.segs[0].expr != nil
}

func (t *template) literal() bool {
	return len(t.segs) == 0 || (len(t.segs) == 1 && t.segs[0].expr == nil)
}

func parseTemplate(src string) (*template, error) {
	t := &template{}
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			t.segs = append(t.segs, segment{text: text.String()})
			text.Reset()
		}
	}
	i := 0
	for i < len(src) {
		// "$${" escapes a literal "${".
		if strings.HasPrefix(src[i:], "$${") {
			text.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(src[i:], "${") {
			text.WriteByte(src[i])
			i++
			continue
		}
		end, err := matchBrace(src, i+2)
		if err != nil {
			return nil, err
		}
		inner := src[i+2 : end]
		n, err := parsePlaceholder(inner)
		if err != nil {
			return nil, err
		}
		flush()
		t.segs = append(t.segs, segment{src: inner, expr: n})
		i = end + 1
	}
	flush()
	return t, nil
}

// HasPlaceholder reports whether s contains a ${...} group.
func HasPlaceholder(s string) bool {
	return strings.Contains(s, "${")
}
