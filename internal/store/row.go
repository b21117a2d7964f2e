package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/batteries/internal/model"
)

// Row is the storage form of an entity shared by every backend.
type Row struct {
	Type       string
	Key        string
	Slug       string // "" stores NULL
	Attrs      []byte
	Deferred   []byte
	DeleteTime string // "" stores NULL
}

// EncodeRow converts e to its storage form. Deferred attributes that were
// never loaded must be materialized first (see Prepare).
func EncodeRow(e *model.Entity) (Row, error) {
	typ := e.Type()
	if typ.Key == nil {
		return Row{}, model.NewConfigurationError(typ.Name, "", "type has no key and cannot be stored")
	}
	key := e.Key()
	if key == "" {
		return Row{}, model.NewConfigurationError(typ.Name, typ.KeyAttribute(), "record has no key")
	}

	attrs := map[string]any{}
	deferred := map[string]any{}
	for _, a := range typ.AllAttributes() {
		v, ok := e.Attr(a.Name)
		if !ok {
			continue
		}
		enc, err := model.Encode(a, v)
		if err != nil {
			return Row{}, model.NewInvalidValueError(typ.Name, a.Name, a.Kind, v, err)
		}
		if a.Deferred {
			deferred[a.Name] = enc
		} else {
			attrs[a.Name] = enc
		}
	}

	row := Row{Type: typ.Name, Key: key, Slug: e.Slug()}
	var err error
	if row.Attrs, err = json.Marshal(attrs); err != nil {
		return Row{}, fmt.Errorf("encode attrs of %s: %w", e, err)
	}
	if row.Deferred, err = json.Marshal(deferred); err != nil {
		return Row{}, fmt.Errorf("encode deferred attrs of %s: %w", e, err)
	}
	if t := e.DeletedAt(); !t.IsZero() {
		row.DeleteTime = t.UTC().Format(time.RFC3339Nano)
	}
	return row, nil
}

// DecodeRow restores an entity from its attrs column. Deferred attributes
// are left unloaded and materialized through loader on demand.
func DecodeRow(typ *model.Type, attrs []byte, loader model.DeferredLoader) (*model.Entity, error) {
	values, err := DecodeJSON(attrs)
	if err != nil {
		return nil, fmt.Errorf("decode %s attrs: %w", typ.Name, err)
	}
	return model.Restore(typ, values, DeferredNames(typ), loader)
}

// DecodeJSON decodes a JSON object, keeping numbers as json.Number so
// integers survive intact.
func DecodeJSON(data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(data) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeferredNames lists typ's deferred attributes.
func DeferredNames(typ *model.Type) []string {
	var names []string
	for _, a := range typ.AllAttributes() {
		if a.Deferred {
			names = append(names, a.Name)
		}
	}
	return names
}

// Prepare loads any unloaded deferred attributes of a persisted entity so
// that a rewrite does not drop them.
func Prepare(ctx context.Context, e *model.Entity) error {
	if len(e.Unloaded()) == 0 {
		return nil
	}
	return e.Load(ctx)
}

// AttrText renders a decoded storage value as the text lookups compare
// against. Numbers keep the literal JSON spelling, booleans are "true" and
// "false".
func AttrText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// MatchAttr reports whether the stored attrs hold attr with the text form
// value. Null and absent attributes never match.
func MatchAttr(attrs []byte, attr, value string) (bool, error) {
	vals, err := DecodeJSON(attrs)
	if err != nil {
		return false, err
	}
	v, ok := vals[attr]
	if !ok || v == nil {
		return false, nil
	}
	return AttrText(v) == value, nil
}
