package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/petrijr/apiflow/pkg/api"
	"github.com/spf13/cast"
)

type evalCtx struct {
	scope    Scope
	builtins api.Builtins
}

type node interface {
	eval(c *evalCtx) (any, error)
}

type literalNode struct{ v any }

func (n *literalNode) eval(*evalCtx) (any, error) { return n.v, nil }

// pathNode is a dotted variable reference such as user.address.city.
type pathNode struct{ parts []string }

func (n *pathNode) eval(c *evalCtx) (any, error) {
	// The longest bound prefix wins so that dotted names like
	// "steps.login" resolve before plain "steps".
	if c.scope != nil {
		for k := len(n.parts); k >= 1; k-- {
			name := strings.Join(n.parts[:k], ".")
			v, ok := c.scope.Lookup(name)
			if !ok {
				continue
			}
			for _, key := range n.parts[k:] {
				next, ok := Member(v, key)
				if !ok {
					name += "." + key
					return nil, &api.EvaluationError{Kind: api.UndefinedVariable, Name: name, Message: "no such field"}
				}
				v = next
				name += "." + key
			}
			return v, nil
		}
	}
	if len(n.parts) == 1 {
		if fn, ok := c.builtins[n.parts[0]]; ok {
			return callBuiltin(fn, api.BuiltinCall{Name: n.parts[0]})
		}
	}
	return nil, &api.EvaluationError{Kind: api.UndefinedVariable, Name: strings.Join(n.parts, "."), Message: "not bound"}
}

type indexNode struct {
	target node
	index  node
}

func (n *indexNode) eval(c *evalCtx) (any, error) {
	v, err := n.target.eval(c)
	if err != nil {
		return nil, err
	}
	idx, err := n.index.eval(c)
	if err != nil {
		return nil, err
	}
	key := Stringify(idx)
	out, ok := Member(v, key)
	if !ok {
		return nil, &api.EvaluationError{Kind: api.UndefinedVariable, Name: "[" + key + "]", Message: fmt.Sprintf("no such element in %T", v)}
	}
	return out, nil
}

type listNode struct{ items []node }

func (n *listNode) eval(c *evalCtx) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, it := range n.items {
		v, err := it.eval(c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type unaryNode struct {
	op string
	x  node
}

func (n *unaryNode) eval(c *evalCtx) (any, error) {
	v, err := n.x.eval(c)
	if err != nil {
		return nil, err
	}
	if n.op == "!" {
		return !Truthy(v), nil
	}
	return Arith("*", v, -1)
}

type binaryNode struct {
	op   string
	l, r node
}

func (n *binaryNode) eval(c *evalCtx) (any, error) {
	l, err := n.l.eval(c)
	if err != nil {
		return nil, err
	}
	r, err := n.r.eval(c)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "<", "<=", ">", ">=":
		return Compare(n.op, l, r)
	default:
		return Arith(n.op, l, r)
	}
}

type logicalNode struct {
	op   string
	l, r node
}

func (n *logicalNode) eval(c *evalCtx) (any, error) {
	l, err := n.l.eval(c)
	if err != nil {
		return nil, err
	}
	lt := Truthy(l)
	if n.op == "&&" && !lt {
		return false, nil
	}
	if n.op == "||" && lt {
		return true, nil
	}
	r, err := n.r.eval(c)
	if err != nil {
		return nil, err
	}
	return Truthy(r), nil
}

type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(c *evalCtx) (any, error) {
	switch n.name {
	case "if":
		return n.evalIf(c)
	case "default":
		return n.evalDefault(c)
	}
	fn, ok := c.builtins[n.name]
	if !ok {
		return nil, &api.EvaluationError{Kind: api.UnknownFunction, Name: n.name}
	}
	args := make([]any, 0, len(n.args))
	for _, a := range n.args {
		v, err := a.eval(c)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return callBuiltin(fn, api.BuiltinCall{Name: n.name, Args: args})
}

func (n *callNode) evalIf(c *evalCtx) (any, error) {
	if len(n.args) < 2 || len(n.args) > 3 {
		return nil, &api.EvaluationError{Kind: api.TypeError, Name: "if", Message: "expects (condition, then[, else])"}
	}
	cond, err := n.args[0].eval(c)
	if err != nil {
		return nil, err
	}
	if Truthy(cond) {
		return n.args[1].eval(c)
	}
	if len(n.args) == 3 {
		return n.args[2].eval(c)
	}
	return nil, nil
}

// evalDefault is the explicit opt-in for soft defaulting: the fallback is
// used when the first argument is unbound or null.
func (n *callNode) evalDefault(c *evalCtx) (any, error) {
	if len(n.args) != 2 {
		return nil, &api.EvaluationError{Kind: api.TypeError, Name: "default", Message: "expects (value, fallback)"}
	}
	v, err := n.args[0].eval(c)
	switch {
	case err != nil && !api.IsUndefinedVariable(err):
		return nil, err
	case err != nil || v == nil:
		return n.args[1].eval(c)
	default:
		return v, nil
	}
}

// colonCallNode is the "name:arg:arg" / "name:key=value,..." shorthand.
// Its arguments are literal strings.
type colonCallNode struct {
	name  string
	args  []any
	named map[string]any
}

func (n *colonCallNode) eval(c *evalCtx) (any, error) {
	fn, ok := c.builtins[n.name]
	if !ok {
		return nil, &api.EvaluationError{Kind: api.UnknownFunction, Name: n.name}
	}
	return callBuiltin(fn, api.BuiltinCall{Name: n.name, Args: n.args, Named: n.named})
}

func callBuiltin(fn api.BuiltinFunc, call api.BuiltinCall) (any, error) {
	if call.Named == nil {
		call.Named = map[string]any{}
	}
	v, err := fn(call)
	if err == nil {
		return v, nil
	}
	var ee *api.EvaluationError
	if errors.As(err, &ee) {
		return nil, err
	}
	return nil, &api.EvaluationError{Kind: api.TypeError, Name: call.Name, Message: err.Error()}
}

// Arith applies + - * / % to two values. + concatenates when either side is
// a string and appends when both are lists.
func Arith(op string, a, b any) (any, error) {
	if op == "+" {
		_, as := a.(string)
		_, bs := b.(string)
		if as || bs {
			return Stringify(a) + Stringify(b), nil
		}
		al, aok := a.([]any)
		bl, bok := b.([]any)
		if aok && bok {
			out := make([]any, 0, len(al)+len(bl))
			return append(append(out, al...), bl...), nil
		}
	}
	if !IsNumber(a) || !IsNumber(b) {
		return nil, &api.EvaluationError{Kind: api.TypeError, Message: fmt.Sprintf("cannot apply %s to %T and %T", op, a, b)}
	}
	if IsInteger(a) && IsInteger(b) {
		x, y := cast.ToInt64(a), cast.ToInt64(b)
		switch op {
		case "+":
			return int(x + y), nil
		case "-":
			return int(x - y), nil
		case "*":
			return int(x * y), nil
		case "/", "%":
			if y == 0 {
				return nil, &api.EvaluationError{Kind: api.TypeError, Message: "division by zero"}
			}
			if op == "%" {
				return int(x % y), nil
			}
			if x%y == 0 {
				return int(x / y), nil
			}
			return float64(x) / float64(y), nil
		}
	}
	x, y := cast.ToFloat64(a), cast.ToFloat64(b)
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/", "%":
		if y == 0 {
			return nil, &api.EvaluationError{Kind: api.TypeError, Message: "division by zero"}
		}
		if op == "%" {
			return math.Mod(x, y), nil
		}
		return x / y, nil
	}
	return nil, &api.EvaluationError{Kind: api.MalformedExpression, Message: "unknown operator " + op}
}
