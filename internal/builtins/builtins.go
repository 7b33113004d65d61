// Package builtins provides the default function registry available to
// expressions. Every source of non-determinism (clock, randomness and the
// process environment) is injected so tests can pin it down.
package builtins

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/petrijr/apiflow/internal/expr"
	"github.com/petrijr/apiflow/pkg/api"
)

const randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// EnvLookup reads an environment variable.
type EnvLookup func(name string) (string, bool)

// Deps are the collaborators builtins draw from.
type Deps struct {
	Clock api.Clock
	RNG   api.RNG
	Env   EnvLookup
}

// Default returns the standard registry. Nil collaborators are replaced by
// the system clock, a time-seeded RNG and os.LookupEnv.
func Default(d Deps) api.Builtins {
	if d.Clock == nil {
		d.Clock = api.SystemClock{}
	}
	if d.RNG == nil {
		d.RNG = api.NewLockedRNG(time.Now().UnixNano())
	}
	if d.Env == nil {
		d.Env = os.LookupEnv
	}
	f := &funcs{Deps: d}
	return api.Builtins{
		"now":       f.now,
		"timestamp": f.timestamp,
		"uuid":      f.uuid,
		"random":    f.random,
		"randint":   f.randint,
		"env":       f.env,
		"faker":     f.faker,

		"len":      length,
		"map":      mapPath,
		"filter":   filter,
		"upper":    strFunc(strings.ToUpper),
		"lower":    strFunc(strings.ToLower),
		"trim":     strFunc(strings.TrimSpace),
		"concat":   concat,
		"join":     join,
		"split":    split,
		"contains": contains,
		"int":      toInt,
		"float":    toFloat,
		"string":   toString,
		"min":      minMax(-1),
		"max":      minMax(1),
		"first":    first,
		"last":     last,
		"keys":     keys,
	}
}

type funcs struct {
	Deps
}

// arg returns the named argument if present, else the positional one.
func arg(call api.BuiltinCall, name string, pos int) (any, bool) {
	if v, ok := call.Named[name]; ok {
		return v, true
	}
	if pos < len(call.Args) {
		return call.Args[pos], true
	}
	return nil, false
}

func wantArgs(call api.BuiltinCall, n int) error {
	if len(call.Args) != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", call.Name, n, len(call.Args))
	}
	return nil
}

// now renders the current UTC time, ISO-8601 by default. A format may use
// the tokens YYYY MM DD HH mm ss or a Go layout.
func (f *funcs) now(call api.BuiltinCall) (any, error) {
	t := f.Clock.Now().UTC()
	format, ok := arg(call, "format", 0)
	if !ok || cast.ToString(format) == "" || strings.EqualFold(cast.ToString(format), "ISO") {
		return t.Format(time.RFC3339), nil
	}
	return t.Format(goLayout(cast.ToString(format))), nil
}

var layoutTokens = strings.NewReplacer(
	"YYYY", "2006",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

func goLayout(format string) string {
	if strings.Contains(format, "2006") {
		return format
	}
	return layoutTokens.Replace(format)
}

func (f *funcs) timestamp(call api.BuiltinCall) (any, error) {
	return f.Clock.Now().UTC().Format("20060102150405"), nil
}

func (f *funcs) uuid(call api.BuiltinCall) (any, error) {
	id, err := uuid.NewRandomFromReader(rngReader{f.RNG})
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

// random yields an 8 character lowercase alphanumeric string, a string of
// the given length, or an integer in [min, max].
func (f *funcs) random(call api.BuiltinCall) (any, error) {
	minV, hasMin := call.Named["min"]
	maxV, hasMax := call.Named["max"]
	if hasMin && hasMax {
		return f.between(minV, maxV)
	}
	n := 8
	if v, ok := arg(call, "length", 0); ok {
		l, err := cast.ToIntE(v)
		if err != nil || l < 0 {
			return nil, fmt.Errorf("random: invalid length %v", v)
		}
		n = l
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = randomAlphabet[f.RNG.Int63n(int64(len(randomAlphabet)))]
	}
	return string(b), nil
}

func (f *funcs) randint(call api.BuiltinCall) (any, error) {
	minV, ok1 := arg(call, "min", 0)
	maxV, ok2 := arg(call, "max", 1)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("randint expects (min, max)")
	}
	return f.between(minV, maxV)
}

func (f *funcs) between(minV, maxV any) (any, error) {
	lo, err := cast.ToIntE(minV)
	if err != nil {
		return nil, fmt.Errorf("invalid min %v", minV)
	}
	hi, err := cast.ToIntE(maxV)
	if err != nil {
		return nil, fmt.Errorf("invalid max %v", maxV)
	}
	if hi < lo {
		return nil, fmt.Errorf("max %d is less than min %d", hi, lo)
	}
	return lo + int(f.RNG.Int63n(int64(hi-lo+1))), nil
}

// env reads NAME, falling back to an optional default. An unset variable
// without a default is an error.
func (f *funcs) env(call api.BuiltinCall) (any, error) {
	if len(call.Args) == 0 {
		return nil, fmt.Errorf("env expects a variable name")
	}
	name := cast.ToString(call.Args[0])
	if v, ok := f.Env(name); ok {
		return v, nil
	}
	if len(call.Args) > 1 {
		parts := make([]string, 0, len(call.Args)-1)
		for _, a := range call.Args[1:] {
			parts = append(parts, cast.ToString(a))
		}
		// Defaults may themselves contain ':' (URLs, times).
		return strings.Join(parts, ":"), nil
	}
	return nil, &api.EvaluationError{Kind: api.UndefinedVariable, Name: "env:" + name, Message: "environment variable not set"}
}

type rngReader struct{ rng api.RNG }

func (r rngReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.rng.Int63n(256))
	}
	return len(p), nil
}

func length(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 1); err != nil {
		return nil, err
	}
	n, ok := expr.Len(call.Args[0])
	if !ok {
		return nil, fmt.Errorf("len: unsupported type %T", call.Args[0])
	}
	return n, nil
}

func toList(name string, v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case nil:
		return nil, nil
	}
	out, err := cast.ToSliceE(v)
	if err != nil {
		return nil, fmt.Errorf("%s: expected a list, got %T", name, v)
	}
	return out, nil
}

// mapPath plucks a dotted path from every element: map(users, "id").
func mapPath(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 2); err != nil {
		return nil, err
	}
	items, err := toList("map", call.Args[0])
	if err != nil {
		return nil, err
	}
	path := cast.ToString(call.Args[1])
	out := make([]any, 0, len(items))
	for _, it := range items {
		v, _ := expr.Traverse(it, path)
		out = append(out, v)
	}
	return out, nil
}

// filter keeps the elements whose path equals value:
// filter(orders, "status", "done").
func filter(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 3); err != nil {
		return nil, err
	}
	items, err := toList("filter", call.Args[0])
	if err != nil {
		return nil, err
	}
	path := cast.ToString(call.Args[1])
	out := make([]any, 0)
	for _, it := range items {
		if v, ok := expr.Traverse(it, path); ok && expr.Equal(v, call.Args[2]) {
			out = append(out, it)
		}
	}
	return out, nil
}

func strFunc(fn func(string) string) api.BuiltinFunc {
	return func(call api.BuiltinCall) (any, error) {
		if err := wantArgs(call, 1); err != nil {
			return nil, err
		}
		return fn(expr.Stringify(call.Args[0])), nil
	}
}

func concat(call api.BuiltinCall) (any, error) {
	var b strings.Builder
	for _, a := range call.Args {
		b.WriteString(expr.Stringify(a))
	}
	return b.String(), nil
}

func join(call api.BuiltinCall) (any, error) {
	if len(call.Args) < 1 || len(call.Args) > 2 {
		return nil, fmt.Errorf("join expects (list[, separator])")
	}
	items, err := toList("join", call.Args[0])
	if err != nil {
		return nil, err
	}
	sep := ","
	if len(call.Args) == 2 {
		sep = expr.Stringify(call.Args[1])
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = expr.Stringify(it)
	}
	return strings.Join(parts, sep), nil
}

func split(call api.BuiltinCall) (any, error) {
	if len(call.Args) < 1 || len(call.Args) > 2 {
		return nil, fmt.Errorf("split expects (string[, separator])")
	}
	sep := ","
	if len(call.Args) == 2 {
		sep = expr.Stringify(call.Args[1])
	}
	parts := strings.Split(expr.Stringify(call.Args[0]), sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func contains(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 2); err != nil {
		return nil, err
	}
	switch h := call.Args[0].(type) {
	case string:
		return strings.Contains(h, expr.Stringify(call.Args[1])), nil
	case map[string]any:
		_, ok := h[expr.Stringify(call.Args[1])]
		return ok, nil
	}
	items, err := toList("contains", call.Args[0])
	if err != nil {
		return nil, err
	}
	return slices.ContainsFunc(items, func(v any) bool { return expr.Equal(v, call.Args[1]) }), nil
}

func toInt(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 1); err != nil {
		return nil, err
	}
	return cast.ToIntE(call.Args[0])
}

func toFloat(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 1); err != nil {
		return nil, err
	}
	return cast.ToFloat64E(call.Args[0])
}

func toString(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 1); err != nil {
		return nil, err
	}
	return expr.Stringify(call.Args[0]), nil
}

// minMax accepts either a single list or several values.
func minMax(sign int) api.BuiltinFunc {
	return func(call api.BuiltinCall) (any, error) {
		items := call.Args
		if len(items) == 1 {
			l, err := toList(call.Name, items[0])
			if err != nil {
				return nil, err
			}
			items = l
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%s of an empty list", call.Name)
		}
		best := items[0]
		for _, v := range items[1:] {
			op := "<"
			if sign > 0 {
				op = ">"
			}
			better, err := expr.Compare(op, v, best)
			if err != nil {
				return nil, err
			}
			if better {
				best = v
			}
		}
		return best, nil
	}
}

func first(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 1); err != nil {
		return nil, err
	}
	items, err := toList("first", call.Args[0])
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func last(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 1); err != nil {
		return nil, err
	}
	items, err := toList("last", call.Args[0])
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[len(items)-1], nil
}

func keys(call api.BuiltinCall) (any, error) {
	if err := wantArgs(call, 1); err != nil {
		return nil, err
	}
	m, err := cast.ToStringMapE(call.Args[0])
	if err != nil {
		return nil, fmt.Errorf("keys: expected a map, got %T", call.Args[0])
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]any, len(names))
	for i, k := range names {
		out[i] = k
	}
	return out, nil
}
