package expr

// Scope is the read side of a variable scope. *scope.Scope implements it.
type Scope interface {
	Lookup(name string) (any, bool)
}

// Vars is a flat Scope backed by a map.
type Vars map[string]any

func (v Vars) Lookup(name string) (any, bool) {
	out, ok := v[name]
	return out, ok
}

type overlay struct {
	vars   Vars
	parent Scope
}

func (o overlay) Lookup(name string) (any, bool) {
	if v, ok := o.vars[name]; ok {
		return v, true
	}
	if o.parent == nil {
		return nil, false
	}
	return o.parent.Lookup(name)
}

// With returns a Scope that consults vars before parent. It is used for
// short-lived bindings such as response.* during validation.
func With(parent Scope, vars map[string]any) Scope {
	return overlay{vars: vars, parent: parent}
}
