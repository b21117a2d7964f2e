package model

import "fmt"

// Kind is the value kind of an attribute.
type Kind string

const (
	KindString       Kind = "string"
	KindInt          Kind = "int"
	KindFloat        Kind = "float"
	KindBool         Kind = "bool"
	KindTime         Kind = "time"
	KindDate         Kind = "date"
	KindDecimal      Kind = "decimal"
	KindSet          Kind = "set"
	KindJSON         Kind = "json"
	KindFile         Kind = "file"
	KindPoint        Kind = "point"
	KindMultiPolygon Kind = "multipolygon"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindTime, KindDate, KindDecimal,
		KindSet, KindJSON, KindFile, KindPoint, KindMultiPolygon:
		return true
	}
	return false
}

// Implicit attribute names.
const (
	DefaultKeyAttribute  = "key"
	DefaultSlugAttribute = "slug"
	AttrDeleteTime       = "delete_time"
	AttrCreateTime       = "ctime"
	AttrModifyTime       = "mtime"
)

// KeyLength is the length of a derived key: a hex-encoded 160-bit digest.
const KeyLength = 40

// Attribute declares one named attribute of a record type.
type Attribute struct {
	Name string
	Kind Kind

	// MaxLength bounds string attributes. Zero means unbounded.
	MaxLength int

	// Deferred attributes are not loaded with the record; they are
	// materialized on demand through Entity.Load.
	Deferred bool

	// Prefix is the blob path prefix of a file attribute.
	Prefix string

	// SRID of a geometry attribute. Zero means geom.DefaultSRID.
	SRID int
}

// KeySpec configures key derivation.
//
// An empty KeyedOn selects the derive-from-uuid mode; otherwise the key is the
// digest of the named attributes' string forms concatenated in order.
type KeySpec struct {
	Attribute string
	KeyedOn   []string
}

// Target returns the attribute the key is stored in.
func (k KeySpec) Target() string {
	if k.Attribute == "" {
		return DefaultKeyAttribute
	}
	return k.Attribute
}

// FromUUID reports whether keys are derived from a random nonce.
func (k KeySpec) FromUUID() bool {
	return len(k.KeyedOn) == 0
}

// SlugSpec configures slug derivation.
type SlugSpec struct {
	Attribute string
	NamedWith []string

	// MaxLength overrides the target attribute's MaxLength when non-zero.
	MaxLength int

	// Separator replaces runs of whitespace and hyphens. Defaults to "-".
	Separator string
}

// Target returns the attribute the slug is stored in.
func (s SlugSpec) Target() string {
	if s.Attribute == "" {
		return DefaultSlugAttribute
	}
	return s.Attribute
}

// SerializationSpec configures the default serializable field set and
// per-field overrides. Overrides take precedence over type dispatch.
type SerializationSpec struct {
	Fields    []string
	Overrides map[string]func(Record) (any, error)
}

// LoggingSpec configures audit logging.
type LoggingSpec struct {
	// Required makes inserts and updates fail unless a log message is queued.
	Required bool
}

// Type describes a record type. Types are immutable once declared.
type Type struct {
	Name       string
	Attributes []Attribute

	Key           *KeySpec
	Slug          *SlugSpec
	Serialization *SerializationSpec
	Logging       *LoggingSpec

	// SoftDelete marks records deleted through delete_time instead of
	// removing them.
	SoftDelete bool

	// Timestamps maintains ctime and mtime.
	Timestamps bool
}

// Attribute returns the named attribute, including implicit attributes
// contributed by the type's behaviors.
func (t *Type) Attribute(name string) (Attribute, bool) {
	for _, a := range t.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	if t.Key != nil && name == t.Key.Target() {
		return Attribute{Name: name, Kind: KindString, MaxLength: KeyLength}, true
	}
	if t.Slug != nil && name == t.Slug.Target() {
		return Attribute{Name: name, Kind: KindString, MaxLength: t.Slug.MaxLength}, true
	}
	if t.SoftDelete && name == AttrDeleteTime {
		return Attribute{Name: name, Kind: KindTime}, true
	}
	if t.Timestamps && (name == AttrCreateTime || name == AttrModifyTime) {
		return Attribute{Name: name, Kind: KindTime}, true
	}
	return Attribute{}, false
}

// AllAttributes returns declared attributes followed by any implicit ones
// not already declared.
func (t *Type) AllAttributes() []Attribute {
	out := make([]Attribute, 0, len(t.Attributes)+5)
	out = append(out, t.Attributes...)
	declared := func(name string) bool {
		for _, a := range t.Attributes {
			if a.Name == name {
				return true
			}
		}
		return false
	}
	var implicit []string
	if t.Key != nil {
		implicit = append(implicit, t.Key.Target())
	}
	if t.Slug != nil {
		implicit = append(implicit, t.Slug.Target())
	}
	if t.SoftDelete {
		implicit = append(implicit, AttrDeleteTime)
	}
	if t.Timestamps {
		implicit = append(implicit, AttrCreateTime, AttrModifyTime)
	}
	for _, name := range implicit {
		if declared(name) {
			continue
		}
		a, _ := t.Attribute(name)
		out = append(out, a)
	}
	return out
}

// KeyAttribute returns the key attribute name, or "" if the type is not keyed.
func (t *Type) KeyAttribute() string {
	if t.Key == nil {
		return ""
	}
	return t.Key.Target()
}

// SlugAttribute returns the slug attribute name, or "" if the type has no slug.
func (t *Type) SlugAttribute() string {
	if t.Slug == nil {
		return ""
	}
	return t.Slug.Target()
}

// SlugMaxLength returns the effective slug length bound (0 = unbounded).
func (t *Type) SlugMaxLength() int {
	if t.Slug == nil {
		return 0
	}
	if t.Slug.MaxLength > 0 {
		return t.Slug.MaxLength
	}
	for _, a := range t.Attributes {
		if a.Name == t.Slug.Target() {
			return a.MaxLength
		}
	}
	return 0
}

// DefaultFields returns the default serializable field set: the configured
// set, or every non-deferred attribute when none is configured.
func (t *Type) DefaultFields() []string {
	if t.Serialization != nil && t.Serialization.Fields != nil {
		return append([]string(nil), t.Serialization.Fields...)
	}
	var fields []string
	for _, a := range t.AllAttributes() {
		if !a.Deferred {
			fields = append(fields, a.Name)
		}
	}
	return fields
}

// Validate checks that the type is well formed: attribute names are unique
// and kinds valid, and every behavior references declared attributes.
func (t *Type) Validate() error {
	if t.Name == "" {
		return NewConfigurationError("", "", "record type has no name")
	}
	seen := make(map[string]bool, len(t.Attributes))
	for _, a := range t.Attributes {
		if a.Name == "" {
			return NewConfigurationError(t.Name, "", "attribute has no name")
		}
		if seen[a.Name] {
			return NewConfigurationError(t.Name, a.Name, "duplicate attribute")
		}
		seen[a.Name] = true
		if !a.Kind.Valid() {
			return NewConfigurationError(t.Name, a.Name, fmt.Sprintf("unknown kind %q", a.Kind))
		}
		if a.MaxLength < 0 {
			return NewConfigurationError(t.Name, a.Name, "negative max length")
		}
	}
	if t.Key != nil {
		for _, name := range t.Key.KeyedOn {
			if _, ok := t.Attribute(name); !ok {
				return NewConfigurationError(t.Name, name, "key seed attribute is not declared")
			}
		}
	}
	if t.Slug != nil {
		if len(t.Slug.NamedWith) == 0 {
			return NewConfigurationError(t.Name, t.Slug.Target(), "slug has no seed attributes")
		}
		for _, name := range t.Slug.NamedWith {
			if _, ok := t.Attribute(name); !ok {
				return NewConfigurationError(t.Name, name, "slug seed attribute is not declared")
			}
		}
	}
	if t.Serialization != nil {
		for _, name := range t.Serialization.Fields {
			if _, ok := t.Attribute(name); !ok && t.Serialization.Overrides[name] == nil {
				return NewConfigurationError(t.Name, name, "serializable field is not declared")
			}
		}
	}
	return nil
}

// Registry maps type names to types.
type Registry map[string]*Type

// NewRegistry validates types and indexes them by name.
func NewRegistry(types ...*Type) (Registry, error) {
	r := make(Registry, len(types))
	for _, t := range types {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r[t.Name]; dup {
			return nil, NewConfigurationError(t.Name, "", "duplicate record type")
		}
		r[t.Name] = t
	}
	return r, nil
}

// Lookup returns the named type.
func (r Registry) Lookup(name string) (*Type, bool) {
	t, ok := r[name]
	return t, ok
}
