package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Entity is a generic map-backed Record bound to a Type.
//
// Entities are not safe for concurrent use.
type Entity struct {
	typ   *Type
	attrs map[string]any

	persisted bool
	unloaded  map[string]bool
	loader    DeferredLoader

	pending []LogMessage
	logged  bool
}

// New constructs a transient entity and assigns attrs through SetAttr.
func New(typ *Type, attrs map[string]any) (*Entity, error) {
	e := &Entity{typ: typ, attrs: make(map[string]any, len(attrs))}
	for name, v := range attrs {
		if err := e.SetAttr(name, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// MustNew is like New but panics on error. For tests and static fixtures.
func MustNew(typ *Type, attrs map[string]any) *Entity {
	e, err := New(typ, attrs)
	if err != nil {
		panic(err)
	}
	return e
}

// Restore rebuilds a persisted entity from decoded storage values. Deferred
// attributes listed in unloaded are materialized later through loader.
func Restore(typ *Type, attrs map[string]any, unloaded []string, loader DeferredLoader) (*Entity, error) {
	e := &Entity{typ: typ, attrs: make(map[string]any, len(attrs)), persisted: true, loader: loader}
	for name, raw := range attrs {
		if err := e.SetAttr(name, raw); err != nil {
			return nil, err
		}
	}
	if len(unloaded) > 0 {
		e.unloaded = make(map[string]bool, len(unloaded))
		for _, name := range unloaded {
			if _, ok := e.attrs[name]; !ok {
				e.unloaded[name] = true
			}
		}
	}
	return e, nil
}

// Type returns the entity's type.
func (e *Entity) Type() *Type {
	return e.typ
}

// Attr returns the materialized value of name without loading anything.
func (e *Entity) Attr(name string) (any, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

// SetAttr coerces v to the declared kind of name and assigns it.
func (e *Entity) SetAttr(name string, v any) error {
	a, ok := e.typ.Attribute(name)
	if !ok {
		return NewConfigurationError(e.typ.Name, name, "attribute is not declared")
	}
	c, err := Coerce(a, v)
	if err != nil {
		return NewInvalidValueError(e.typ.Name, name, a.Kind, v, err)
	}
	if s, ok := c.(string); ok && a.MaxLength > 0 && len(s) > a.MaxLength {
		return NewInvalidValueError(e.typ.Name, name, a.Kind, v,
			fmt.Errorf("length %d exceeds max length %d", len(s), a.MaxLength))
	}
	e.attrs[name] = c
	delete(e.unloaded, name)
	return nil
}

// Unset removes a materialized value, leaving the attribute absent.
func (e *Entity) Unset(name string) {
	delete(e.attrs, name)
}

// Get returns an attribute, loading deferred attributes of a persisted
// entity first. Transient entities never touch a store.
func (e *Entity) Get(ctx context.Context, name string) (any, error) {
	if e.unloaded[name] {
		if err := e.Load(ctx); err != nil {
			return nil, err
		}
	}
	return e.attrs[name], nil
}

// Load materializes every unloaded deferred attribute.
func (e *Entity) Load(ctx context.Context) error {
	if len(e.unloaded) == 0 || !e.persisted || e.loader == nil {
		return nil
	}
	vals, err := e.loader.LoadDeferred(ctx, e.typ, e.Key())
	if err != nil {
		return fmt.Errorf("load deferred attributes of %s: %w", e, err)
	}
	for name := range e.unloaded {
		if err := e.SetAttr(name, vals[name]); err != nil {
			return err
		}
	}
	e.unloaded = nil
	return nil
}

// Unloaded returns the names of deferred attributes not yet materialized.
func (e *Entity) Unloaded() []string {
	out := make([]string, 0, len(e.unloaded))
	for name := range e.unloaded {
		out = append(out, name)
	}
	return out
}

// Attrs returns a copy of the materialized attributes.
func (e *Entity) Attrs() map[string]any {
	out := make(map[string]any, len(e.attrs))
	for k, v := range e.attrs {
		out[k] = v
	}
	return out
}

// Key returns the key attribute as a string, or "" if unset.
func (e *Entity) Key() string {
	return e.stringAttr(e.typ.KeyAttribute())
}

// Slug returns the slug attribute as a string, or "" if unset.
func (e *Entity) Slug() string {
	return e.stringAttr(e.typ.SlugAttribute())
}

func (e *Entity) stringAttr(name string) string {
	if name == "" {
		return ""
	}
	s, _ := e.attrs[name].(string)
	return s
}

// Persisted reports whether the entity has been written to a store.
func (e *Entity) Persisted() bool {
	return e.persisted
}

// MarkPersisted records a successful write and the loader for deferred
// attributes.
func (e *Entity) MarkPersisted(loader DeferredLoader) {
	e.persisted = true
	e.loader = loader
}

// DeletedAt returns the soft-delete time, or the zero time.
func (e *Entity) DeletedAt() time.Time {
	t, _ := e.attrs[AttrDeleteTime].(time.Time)
	return t
}

// IsDeleted reports whether the entity is soft-deleted.
func (e *Entity) IsDeleted() bool {
	return !e.DeletedAt().IsZero()
}

// String renders the entity as Type(key="...").
func (e *Entity) String() string {
	var b strings.Builder
	b.WriteString(e.typ.Name)
	b.WriteByte('(')
	if name := e.typ.KeyAttribute(); name != "" {
		fmt.Fprintf(&b, "%s=%q", name, e.Key())
	}
	b.WriteByte(')')
	return b.String()
}
