package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/petrijr/apiflow/internal/expr"
)

var matcherKinds = map[string]bool{
	"type": true, "regex": true,
	"gte": true, "lte": true, "gt": true, "lt": true, "between": true,
	"contains": true, "len": true, "length": true,
	"extract": true,
}

// matcher is a parsed leaf matcher such as "type:string" or "${gte:10}".
type matcher struct {
	kind string
	arg  string
}

func (m matcher) String() string { return m.kind + ":" + m.arg }

func parseMatcher(s string) (matcher, bool) {
	body := s
	if strings.HasPrefix(s, "${") {
		if !strings.HasSuffix(s, "}") {
			return matcher{}, false
		}
		body = s[2 : len(s)-1]
	}
	kind, arg, ok := strings.Cut(body, ":")
	if !ok || !matcherKinds[kind] {
		return matcher{}, false
	}
	return matcher{kind: kind, arg: arg}, true
}

// operatorKeys are the dict-style matchers: {"$gte": 10}.
var operatorKeys = map[string]string{
	"$type":     "type",
	"$regex":    "regex",
	"$gte":      "gte",
	"$lte":      "lte",
	"$gt":       "gt",
	"$lt":       "lt",
	"$between":  "between",
	"$contains": "contains",
	"$len":      "len",
}

// operatorMatchers returns the matchers of an operator dict, or false when m
// is an ordinary object expectation.
func operatorMatchers(m map[string]any) ([]matcher, bool) {
	var out []matcher
	for k, v := range m {
		kind, ok := operatorKeys[k]
		if !ok {
			continue
		}
		arg := expr.Stringify(v)
		if kind == "between" {
			if l, ok := v.([]any); ok && len(l) == 2 {
				arg = expr.Stringify(l[0]) + "," + expr.Stringify(l[1])
			}
		}
		out = append(out, matcher{kind: kind, arg: arg})
	}
	return out, len(out) > 0
}

// match applies m to actual.
func (m matcher) match(actual any) (bool, error) {
	switch m.kind {
	case "extract":
		// Marks a value the step extracts; any value passes.
		return true, nil
	case "type":
		return checkType(actual, strings.TrimSpace(m.arg))
	case "regex":
		if actual == nil {
			return false, nil
		}
		re, err := regexp.Compile("^(?:" + m.arg + ")")
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", m.arg, err)
		}
		return re.MatchString(expr.Stringify(actual)), nil
	case "gte", "lte", "gt", "lt":
		bound, err := cast.ToFloat64E(strings.TrimSpace(m.arg))
		if err != nil {
			return false, fmt.Errorf("invalid bound %q", m.arg)
		}
		x, ok := number(actual)
		if !ok {
			return false, nil
		}
		switch m.kind {
		case "gte":
			return x >= bound, nil
		case "lte":
			return x <= bound, nil
		case "gt":
			return x > bound, nil
		default:
			return x < bound, nil
		}
	case "between":
		lo, hi, ok := strings.Cut(m.arg, ",")
		if !ok {
			return false, fmt.Errorf("between expects min,max; got %q", m.arg)
		}
		l, err1 := cast.ToFloat64E(strings.TrimSpace(lo))
		h, err2 := cast.ToFloat64E(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return false, fmt.Errorf("invalid between range %q", m.arg)
		}
		x, ok := number(actual)
		return ok && x >= l && x <= h, nil
	case "contains":
		return containsValue(actual, m.arg), nil
	case "len", "length":
		n, ok := expr.Len(actual)
		if !ok {
			return false, nil
		}
		if inner, ok := parseMatcher(m.arg); ok {
			return inner.match(n)
		}
		want, err := cast.ToIntE(strings.TrimSpace(m.arg))
		if err != nil {
			return false, fmt.Errorf("invalid length %q", m.arg)
		}
		return n == want, nil
	}
	return false, fmt.Errorf("unknown matcher %q", m.kind)
}

func number(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	if _, isBool := v.(bool); isBool {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	return f, err == nil
}

func checkType(v any, want string) (bool, error) {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok, nil
	case "number":
		return expr.IsNumber(v), nil
	case "integer", "int":
		if expr.IsInteger(v) {
			return true, nil
		}
		f, ok := v.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0), nil
	case "float":
		// Decoded JSON does not distinguish 1 from 1.0.
		return expr.IsNumber(v), nil
	case "boolean", "bool":
		_, ok := v.(bool)
		return ok, nil
	case "array", "list":
		_, ok := v.([]any)
		return ok, nil
	case "object", "map":
		_, ok := v.(map[string]any)
		return ok, nil
	case "null":
		return v == nil, nil
	}
	return false, fmt.Errorf("unknown type %q", want)
}

func containsValue(actual any, needle string) bool {
	switch a := actual.(type) {
	case string:
		return strings.Contains(a, needle)
	case []any:
		for _, it := range a {
			if expr.Equal(it, needle) || strings.Contains(expr.Stringify(it), needle) {
				return true
			}
		}
	case map[string]any:
		_, ok := a[needle]
		return ok
	}
	return false
}
