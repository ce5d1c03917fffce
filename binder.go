package sqlmap

import (
	"fmt"
	"reflect"
)

// Source resolves placeholder names to values.
type Source interface {
	Lookup(name string) (any, bool)
}

// Args is the explicit name→value binding form. Names the template does not
// use are ignored.
type Args map[string]any

// Lookup implements Source.
func (a Args) Lookup(name string) (any, bool) {
	v, ok := a[name]
	return v, ok
}

// Param declares one accessor of a Params table.
type Param[T any] struct {
	name string
	get  func(T) any
}

// P declares the placeholder name and the accessor extracting its value
// from a T. The accessor's result type is kept as is, so drivers receive
// native values.
func P[T, V any](name string, get func(T) V) Param[T] {
	return Param[T]{
		name: name,
		get:  func(v T) any { return get(v) },
	}
}

// Params is the accessor binding form: a table of named accessors declared
// once per type and reused for every instance. Build it with NewParams.
type Params[T any] struct {
	names []string
	get   map[string]func(T) any
}

// NewParams builds an accessor table. Empty or duplicate names are rejected.
func NewParams[T any](params ...Param[T]) (*Params[T], error) {
	p := &Params[T]{
		names: make([]string, 0, len(params)),
		get:   make(map[string]func(T) any, len(params)),
	}
	for i, prm := range params {
		if prm.name == "" {
			return nil, fmt.Errorf("sqlmap: parameter #%d of %s has no name", i, reflect.TypeFor[T]())
		}
		if prm.get == nil {
			return nil, fmt.Errorf("sqlmap: parameter %q of %s has no accessor", prm.name, reflect.TypeFor[T]())
		}
		if _, dup := p.get[prm.name]; dup {
			return nil, fmt.Errorf("sqlmap: duplicate parameter %q for %s", prm.name, reflect.TypeFor[T]())
		}
		p.names = append(p.names, prm.name)
		p.get[prm.name] = prm.get
	}
	return p, nil
}

// MustParams is like NewParams but panics on error. It is meant for
// package-level declarations.
func MustParams[T any](params ...Param[T]) *Params[T] {
	p, err := NewParams(params...)
	if err != nil {
		panic(err)
	}
	return p
}

// Names returns the declared parameter names in declaration order.
func (p *Params[T]) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Check verifies that every placeholder of t has an accessor. A nil table
// only covers templates without placeholders.
func (p *Params[T]) Check(t *Template) error {
	for _, n := range t.names {
		if p == nil {
			return &MissingParameterError{Name: n}
		}
		if _, ok := p.get[n]; !ok {
			return &MissingParameterError{Name: n}
		}
	}
	return nil
}

// For returns a Source reading values from v through the table's accessors.
func (p *Params[T]) For(v T) Source {
	if p == nil {
		return Args(nil)
	}
	return instanceSource[T]{params: p, v: v}
}

type instanceSource[T any] struct {
	params *Params[T]
	v      T
}

func (s instanceSource[T]) Lookup(name string) (any, bool) {
	get, ok := s.params.get[name]
	if !ok {
		return nil, false
	}
	return get(s.v), true
}

// Bind resolves every placeholder of t, in order, against src and returns
// the positional argument list. A nil src only binds templates without
// placeholders. Values are passed through untouched.
func (t *Template) Bind(src Source) ([]any, error) {
	if len(t.names) == 0 {
		return nil, nil
	}
	if src == nil {
		return nil, &MissingParameterError{Name: t.names[0]}
	}
	args := make([]any, len(t.names))
	for i, name := range t.names {
		v, ok := src.Lookup(name)
		if !ok {
			return nil, &MissingParameterError{Name: name}
		}
		args[i] = v
	}
	return args, nil
}
