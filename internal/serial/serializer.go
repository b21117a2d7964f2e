// Package serial converts records into plain trees.
//
// A tree is built from nil, bool, numbers, strings, []any and
// map[string]any, ready for JSON encoding. Conversion is type directed and
// checks, in order: a serializer registered for the value's runtime type
// name, null, primitives, self-serialization (Marshaler or a nested
// model.Record), sequences and sets, and mappings. Anything else is a
// serialization error; a failed field fails the whole call.
//
// Records are read through model.Record.Attr, which never loads from a
// store, so serializing a transient record cannot reach a backing store.
package serial

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/batteries/internal/model"
)

// Marshaler is implemented by values that convert themselves.
type Marshaler interface {
	Serialize() (any, error)
}

// Selection chooses the fields of a record to serialize.
//
// When Fields is non-nil exactly those fields are used. Otherwise the type's
// default serializable set is used, Include is added to it and Exclude is
// removed from the result. Exclude always wins.
type Selection struct {
	Fields  []string
	Include []string
	Exclude []string
}

// Resolve returns the selected field names in a stable order: the base set
// in its declared order followed by included fields in argument order.
func (s Selection) Resolve(defaults []string) []string {
	var base []string
	if s.Fields != nil {
		base = s.Fields
	} else {
		base = append(append([]string(nil), defaults...), s.Include...)
	}
	excluded := make(map[string]bool, len(s.Exclude))
	if s.Fields == nil {
		for _, f := range s.Exclude {
			excluded[f] = true
		}
	}
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base))
	for _, f := range base {
		if seen[f] || excluded[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Serializer converts records and values with a fixed set of Options.
// A Serializer is immutable and safe for concurrent use.
type Serializer struct {
	opts Options
}

// New returns a Serializer using opts.
func New(opts Options) *Serializer {
	if opts.serializers == nil {
		opts.serializers = map[string]TypeFunc{}
	}
	return &Serializer{opts: opts}
}

var defaultSerializer = New(DefaultOptions())

// Default returns the Serializer built from DefaultOptions.
func Default() *Serializer {
	return defaultSerializer
}

// Serialize converts r with the default Serializer.
func Serialize(r model.Record, sel Selection) (map[string]any, error) {
	return defaultSerializer.Serialize(r, sel)
}

// SerializeWith converts r under opts instead of a Serializer's fixed
// options, for callers that vary formats per call.
func SerializeWith(r model.Record, sel Selection, opts Options) (map[string]any, error) {
	return New(opts).Serialize(r, sel)
}

// Options returns the serializer's options.
func (s *Serializer) Options() Options {
	return s.opts
}

// Serialize converts the selected fields of r into a tree.
//
// Each field uses the record's override for that field when one exists
// (FieldSerializer first, then the type's Overrides). Otherwise the
// materialized attribute value is converted; an absent value becomes null.
func (s *Serializer) Serialize(r model.Record, sel Selection) (map[string]any, error) {
	spec := model.SerializationSpecOf(r)
	typeName := ""
	if t := r.Type(); t != nil {
		typeName = t.Name
	}

	fields := sel.Resolve(spec.Fields)
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if fs, ok := r.(model.FieldSerializer); ok {
			v, handled, err := fs.SerializeField(field)
			if err != nil {
				return nil, fmt.Errorf("serialize %s.%s: %w", typeName, field, err)
			}
			if handled {
				out[field] = v
				continue
			}
		}
		if fn := spec.Overrides[field]; fn != nil {
			v, err := fn(r)
			if err != nil {
				return nil, fmt.Errorf("serialize %s.%s: %w", typeName, field, err)
			}
			out[field] = v
			continue
		}

		raw, _ := r.Attr(field)
		v, err := s.convert(raw, typeName, field)
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

// Convert converts a single value into tree form.
func (s *Serializer) Convert(v any) (any, error) {
	return s.convert(v, "", "")
}

func (s *Serializer) convert(v any, typeName, field string) (any, error) {
	if v != nil {
		if fn, ok := s.opts.serializers[TypeName(v)]; ok {
			return fn(v, s.opts)
		}
	}
	if isNull(v) {
		return nil, nil
	}

	switch val := v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case Marshaler:
		return val.Serialize()
	case model.Record:
		return s.Serialize(val, Selection{})
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return v, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			elem, err := s.convert(rv.Index(i).Interface(), typeName, field)
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Elem().Kind() == reflect.Struct && rv.Type().Elem().NumField() == 0 {
			return s.convertSet(rv, typeName, field)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			elem, err := s.convert(iter.Value().Interface(), typeName, field)
			if err != nil {
				return nil, err
			}
			out[mapKey(iter.Key())] = elem
		}
		return out, nil
	}
	return nil, model.NewSerializationError(typeName, field, v)
}

// convertSet turns a map[T]struct{} into a list sorted by key string form.
func (s *Serializer) convertSet(rv reflect.Value, typeName, field string) (any, error) {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return mapKey(keys[i]) < mapKey(keys[j]) })
	out := make([]any, len(keys))
	for i, k := range keys {
		elem, err := s.convert(k.Interface(), typeName, field)
		if err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}

// TypeName returns the runtime type name used to look up type serializers,
// e.g. "time.Time" or "*apd.Decimal".
func TypeName(v any) string {
	return reflect.TypeOf(v).String()
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}
