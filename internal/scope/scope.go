// Package scope implements the layered variable scope shared by the steps of
// a workflow run.
//
// A Scope is a chain of layers. Lookups walk from the innermost layer to the
// outermost and return the first binding found. Layers are written only while
// they are being built; once sealed they are immutable and may be read from
// any number of goroutines.
package scope

import (
	"errors"
	"maps"
	"slices"
)

// Kind tags a layer with its origin. It is informational only; lookup
// precedence comes from the chain order.
type Kind int

const (
	Global Kind = iota
	Workflow
	Step
	Iteration
	Extracted
)

func (k Kind) String() string {
	switch k {
	case Global:
		return "global"
	case Workflow:
		return "workflow"
	case Step:
		return "step"
	case Iteration:
		return "iteration"
	case Extracted:
		return "extracted"
	default:
		return "unknown"
	}
}

// ErrSealed is returned by Set on a sealed layer.
var ErrSealed = errors.New("scope: layer is sealed")

// Scope is one layer of the chain.
type Scope struct {
	kind   Kind
	vars   map[string]any
	parent *Scope
	sealed bool
}

// New creates a root layer holding a copy of vars. The layer is not sealed.
func New(kind Kind, vars map[string]any) *Scope {
	return &Scope{kind: kind, vars: clone(vars)}
}

// Child creates a new unsealed layer on top of s holding a copy of vars.
func (s *Scope) Child(kind Kind, vars map[string]any) *Scope {
	return &Scope{kind: kind, vars: clone(vars), parent: s}
}

// Set binds name in this layer.
func (s *Scope) Set(name string, value any) error {
	if s.sealed {
		return ErrSealed
	}
	s.vars[name] = value
	return nil
}

// Seal makes the layer immutable and returns it for chaining.
func (s *Scope) Seal() *Scope {
	s.sealed = true
	return s
}

// Sealed reports whether Set will be rejected.
func (s *Scope) Sealed() bool { return s.sealed }

// Kind returns the layer kind.
func (s *Scope) Kind() Kind { return s.kind }

// Parent returns the enclosing layer, nil for a root.
func (s *Scope) Parent() *Scope { return s.parent }

// Lookup returns the innermost binding of name. Dotted names such as
// "steps.login" are ordinary names here; path traversal is the expression
// engine's job.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Local returns the bindings of this layer only.
func (s *Scope) Local() map[string]any {
	return maps.Clone(s.vars)
}

// Flatten returns every visible binding, inner layers shadowing outer ones.
// It is meant for debugging and reports.
func (s *Scope) Flatten() map[string]any {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make(map[string]any)
	for _, layer := range slices.Backward(chain) {
		maps.Copy(out, layer.vars)
	}
	return out
}

// Depth returns the number of layers in the chain.
func (s *Scope) Depth() int {
	n := 0
	for cur := s; cur != nil; cur = cur.parent {
		n++
	}
	return n
}

func clone(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	maps.Copy(out, vars)
	return out
}
