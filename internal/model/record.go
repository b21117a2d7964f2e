package model

import "context"

// Record is the view of a record used by key derivation, slug resolution
// and serialization.
type Record interface {
	// Type returns the record's type descriptor.
	Type() *Type

	// Attr returns the materialized value of an attribute. It never forces
	// a load from a store: unloaded deferred attributes and never-set
	// attributes report ok=false. An attribute explicitly set to null
	// reports (nil, true).
	Attr(name string) (any, bool)

	// SetAttr assigns an attribute value, coercing it to the declared kind.
	SetAttr(name string, v any) error
}

// Keyed is implemented by records that supply their key configuration
// directly rather than through their Type.
type Keyed interface {
	KeySpec() (KeySpec, bool)
}

// Slugged is implemented by records that supply their slug configuration
// directly rather than through their Type.
type Slugged interface {
	SlugSpec() (SlugSpec, bool)
}

// SerializableRecord is implemented by records that supply their
// serialization configuration directly rather than through their Type.
type SerializableRecord interface {
	SerializationSpec() (SerializationSpec, bool)
}

// FieldSerializer is implemented by records with per-field serialization
// overrides. handled=false falls through to type dispatch.
type FieldSerializer interface {
	SerializeField(name string) (v any, handled bool, err error)
}

// DeferredLoader materializes deferred attributes of a persisted record.
type DeferredLoader interface {
	LoadDeferred(ctx context.Context, typ *Type, key string) (map[string]any, error)
}

// KeySpecOf returns r's key configuration, preferring the Keyed capability.
func KeySpecOf(r Record) (KeySpec, bool) {
	if k, ok := r.(Keyed); ok {
		return k.KeySpec()
	}
	if t := r.Type(); t != nil && t.Key != nil {
		return *t.Key, true
	}
	return KeySpec{}, false
}

// SlugSpecOf returns r's slug configuration, preferring the Slugged
// capability. The returned spec has MaxLength resolved against the target
// attribute.
func SlugSpecOf(r Record) (SlugSpec, bool) {
	if s, ok := r.(Slugged); ok {
		return s.SlugSpec()
	}
	t := r.Type()
	if t == nil || t.Slug == nil {
		return SlugSpec{}, false
	}
	spec := *t.Slug
	spec.MaxLength = t.SlugMaxLength()
	return spec, true
}

// SerializationSpecOf returns r's serialization configuration, preferring
// the SerializableRecord capability. Types without one get their
// DefaultFields and no overrides.
func SerializationSpecOf(r Record) SerializationSpec {
	if s, ok := r.(SerializableRecord); ok {
		if spec, ok := s.SerializationSpec(); ok {
			return spec
		}
	}
	t := r.Type()
	if t == nil {
		return SerializationSpec{}
	}
	spec := SerializationSpec{Fields: t.DefaultFields()}
	if t.Serialization != nil {
		spec.Overrides = t.Serialization.Overrides
	}
	return spec
}
