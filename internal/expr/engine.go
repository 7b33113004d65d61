// Package expr implements the ${...} substitution and condition language.
//
// The language is deliberately small: variable paths, literals, function
// calls, list literals and the usual arithmetic, comparison and boolean
// operators. Evaluation is side-effect free apart from whatever the injected
// builtins do.
package expr

import (
	"errors"
	"maps"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/petrijr/apiflow/pkg/api"
)

// DefaultCacheSize bounds the number of parsed expressions kept in memory.
const DefaultCacheSize = 1024

// Engine evaluates templates and conditions. Parsed syntax trees are cached;
// values never are, so every builtin occurrence is evaluated afresh.
// An Engine is safe for concurrent use.
type Engine struct {
	cache *lru.Cache[string, any]
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	cacheSize int
}

// WithCacheSize overrides DefaultCacheSize.
func WithCacheSize(n int) Option {
	return func(o *engineOptions) { o.cacheSize = n }
}

// New creates an expression Engine.
func New(opts ...Option) *Engine {
	o := engineOptions{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize <= 0 {
		o.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, any](o.cacheSize)
	if err != nil {
		// Only returned for a non-positive size, which is excluded above.
		panic(err)
	}
	return &Engine{cache: cache}
}

// Evaluate evaluates a template. If src is exactly one placeholder the
// native value is returned; otherwise the result is a string with every
// placeholder rendered by Stringify. Text without placeholders is returned
// unchanged.
func (e *Engine) Evaluate(src string, scope Scope, builtins api.Builtins) (any, error) {
	if !HasPlaceholder(src) {
		return src, nil
	}
	t, err := e.template(src)
	if err != nil {
		return nil, err
	}
	c := &evalCtx{scope: scope, builtins: builtins}
	if t.single() {
		v, err := t.segs[0].expr.eval(c)
		if err != nil {
			return nil, withExpr(err, src)
		}
		return v, nil
	}
	var b strings.Builder
	for _, seg := range t.segs {
		if seg.expr == nil {
			b.WriteString(seg.text)
			continue
		}
		v, err := seg.expr.eval(c)
		if err != nil {
			return nil, withExpr(err, src)
		}
		b.WriteString(Stringify(v))
	}
	return b.String(), nil
}

// EvaluateString is Evaluate with the result rendered as text.
func (e *Engine) EvaluateString(src string, scope Scope, builtins api.Builtins) (string, error) {
	v, err := e.Evaluate(src, scope, builtins)
	if err != nil {
		return "", err
	}
	return Stringify(v), nil
}

// EvaluateCondition evaluates src as a boolean expression. ${...} groups
// act as parenthesised sub-expressions, so "${count} > 2" and "count > 2"
// are equivalent. An empty condition is true.
func (e *Engine) EvaluateCondition(src string, scope Scope, builtins api.Builtins) (bool, error) {
	if strings.TrimSpace(src) == "" {
		return true, nil
	}
	n, err := e.condition(src)
	if err != nil {
		return false, err
	}
	v, err := n.eval(&evalCtx{scope: scope, builtins: builtins})
	if err != nil {
		return false, withExpr(err, src)
	}
	return Truthy(v), nil
}

// EvaluateValue templates every string inside v, recursing into maps and
// lists. Map keys are templated too when they contain placeholders. Other
// values are returned as-is.
func (e *Engine) EvaluateValue(v any, scope Scope, builtins api.Builtins) (any, error) {
	switch t := v.(type) {
	case string:
		return e.Evaluate(t, scope, builtins)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key := k
			if HasPlaceholder(k) {
				s, err := e.EvaluateString(k, scope, builtins)
				if err != nil {
					return nil, err
				}
				key = s
			}
			ev, err := e.EvaluateValue(val, scope, builtins)
			if err != nil {
				return nil, err
			}
			out[key] = ev
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ev, err := e.Evaluate(val, scope, builtins)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			ev, err := e.EvaluateValue(val, scope, builtins)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

// EvaluateMap evaluates each value of vars against scope. Later entries do
// not see earlier ones.
func (e *Engine) EvaluateMap(vars map[string]any, scope Scope, builtins api.Builtins) (map[string]any, error) {
	out := maps.Clone(vars)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range vars {
		ev, err := e.EvaluateValue(v, scope, builtins)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

// Compile checks the syntax of a template without evaluating it.
func (e *Engine) Compile(src string) error {
	if !HasPlaceholder(src) {
		return nil
	}
	_, err := e.template(src)
	return err
}

// CompileCondition checks the syntax of a condition.
func (e *Engine) CompileCondition(src string) error {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	_, err := e.condition(src)
	return err
}

func (e *Engine) template(src string) (*template, error) {
	key := "t\x00" + src
	if v, ok := e.cache.Get(key); ok {
		return v.(*template), nil
	}
	t, err := parseTemplate(src)
	if err != nil {
		return nil, malformed(src, err)
	}
	e.cache.Add(key, t)
	return t, nil
}

func (e *Engine) condition(src string) (node, error) {
	key := "c\x00" + src
	if v, ok := e.cache.Get(key); ok {
		return v.(node), nil
	}
	n, err := parseExpression(strings.TrimSpace(src))
	if err != nil {
		return nil, malformed(src, err)
	}
	e.cache.Add(key, n)
	return n, nil
}

func malformed(src string, err error) error {
	return &api.EvaluationError{Kind: api.MalformedExpression, Expr: src, Message: err.Error()}
}

// withExpr stamps the full expression text onto an EvaluationError.
func withExpr(err error, src string) error {
	var ee *api.EvaluationError
	if !errors.As(err, &ee) || ee.Expr != "" {
		return err
	}
	out := *ee
	out.Expr = src
	return &out
}
