package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/batteries/internal/model"
)

// CompileRecord parses a CUE value into a record Type.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the record struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`record: article: { ... }`)
//	typ, err := CompileRecord(v.LookupPath(cue.ParsePath("record.article")))
//
// A record declares ordered attributes and optional behaviors:
//
//	record: article: {
//		attributes: {
//			title: {kind: "string", max_length: 200}
//			body:  {kind: "string", deferred: true}
//			views: "int"
//		}
//		key:         {keyed_on: ["title"]} // or `key: true` for random keys
//		slug:        {named_with: ["title"], max_length: 50}
//		serialize:   ["title", "slug"]
//		soft_delete: true
//		timestamps:  true
//		logging:     {required: true}
//	}
func CompileRecord(v cue.Value) (*model.Type, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	typ := &model.Type{}

	// Record name from struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		typ.Name = labels[len(labels)-1].String()
	}
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		typ.Name = name
	}
	if typ.Name == "" {
		return nil, &CompileError{Field: "name", Message: "record name is required", Pos: v.Pos()}
	}

	var err error
	typ.Attributes, err = parseAttributes(v)
	if err != nil {
		return nil, err
	}
	if len(typ.Attributes) == 0 {
		return nil, &CompileError{
			Field:   "attributes",
			Message: "at least one attribute is required",
			Pos:     v.Pos(),
		}
	}

	if typ.Key, err = parseKey(v); err != nil {
		return nil, err
	}
	if typ.Slug, err = parseSlug(v); err != nil {
		return nil, err
	}

	if fields, ok, err := stringList(v, "serialize"); err != nil {
		return nil, err
	} else if ok {
		typ.Serialization = &model.SerializationSpec{Fields: fields}
	}

	if typ.SoftDelete, err = optionalBool(v, "soft_delete"); err != nil {
		return nil, err
	}
	if typ.Timestamps, err = optionalBool(v, "timestamps"); err != nil {
		return nil, err
	}

	logVal := v.LookupPath(cue.ParsePath("logging"))
	if logVal.Exists() {
		required, err := optionalBool(logVal, "required")
		if err != nil {
			return nil, err
		}
		typ.Logging = &model.LoggingSpec{Required: required}
	}

	if err := typ.Validate(); err != nil {
		return nil, &CompileError{Field: "record", Message: err.Error(), Pos: v.Pos()}
	}
	return typ, nil
}

// parseAttributes reads attributes in declaration order. An attribute is
// either a kind string or a struct with a kind field.
func parseAttributes(v cue.Value) ([]model.Attribute, error) {
	attrsVal := v.LookupPath(cue.ParsePath("attributes"))
	if !attrsVal.Exists() {
		return nil, nil
	}

	iter, err := attrsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var attrs []model.Attribute
	for iter.Next() {
		attr, err := parseAttribute(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func parseAttribute(name string, v cue.Value) (model.Attribute, error) {
	attr := model.Attribute{Name: name}

	// Shorthand: title: "string"
	if kind, err := v.String(); err == nil {
		attr.Kind = model.Kind(kind)
		return attr, checkKind(attr, v.Pos())
	}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return attr, &CompileError{
			Field:   "kind",
			Message: fmt.Sprintf("attribute %s: kind is required", name),
			Pos:     v.Pos(),
		}
	}
	kind, err := kindVal.String()
	if err != nil {
		return attr, formatCUEError(err)
	}
	attr.Kind = model.Kind(kind)
	if err := checkKind(attr, kindVal.Pos()); err != nil {
		return attr, err
	}

	if attr.MaxLength, err = optionalInt(v, "max_length"); err != nil {
		return attr, err
	}
	if attr.SRID, err = optionalInt(v, "srid"); err != nil {
		return attr, err
	}
	if attr.Deferred, err = optionalBool(v, "deferred"); err != nil {
		return attr, err
	}
	if prefixVal := v.LookupPath(cue.ParsePath("prefix")); prefixVal.Exists() {
		if attr.Prefix, err = prefixVal.String(); err != nil {
			return attr, formatCUEError(err)
		}
	}
	return attr, nil
}

func checkKind(attr model.Attribute, pos token.Pos) error {
	if attr.Kind.Valid() {
		return nil
	}
	return &CompileError{
		Field:   "kind",
		Message: fmt.Sprintf("attribute %s: unknown kind %q", attr.Name, attr.Kind),
		Pos:     pos,
	}
}

// parseKey accepts `key: true` (random keys), or a struct with optional
// attribute and keyed_on fields.
func parseKey(v cue.Value) (*model.KeySpec, error) {
	keyVal := v.LookupPath(cue.ParsePath("key"))
	if !keyVal.Exists() {
		return nil, nil
	}
	if keyVal.IncompleteKind() == cue.BoolKind {
		on, err := keyVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if !on {
			return nil, nil
		}
		return &model.KeySpec{}, nil
	}

	spec := &model.KeySpec{}
	if attrVal := keyVal.LookupPath(cue.ParsePath("attribute")); attrVal.Exists() {
		s, err := attrVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Attribute = s
	}
	seeds, _, err := stringList(keyVal, "keyed_on")
	if err != nil {
		return nil, err
	}
	spec.KeyedOn = seeds
	return spec, nil
}

func parseSlug(v cue.Value) (*model.SlugSpec, error) {
	slugVal := v.LookupPath(cue.ParsePath("slug"))
	if !slugVal.Exists() {
		return nil, nil
	}

	spec := &model.SlugSpec{}
	seeds, ok, err := stringList(slugVal, "named_with")
	if err != nil {
		return nil, err
	}
	if !ok || len(seeds) == 0 {
		return nil, &CompileError{
			Field:   "slug",
			Message: "named_with must list at least one attribute",
			Pos:     slugVal.Pos(),
		}
	}
	spec.NamedWith = seeds

	if attrVal := slugVal.LookupPath(cue.ParsePath("attribute")); attrVal.Exists() {
		if spec.Attribute, err = attrVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	if sepVal := slugVal.LookupPath(cue.ParsePath("separator")); sepVal.Exists() {
		if spec.Separator, err = sepVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	if spec.MaxLength, err = optionalInt(slugVal, "max_length"); err != nil {
		return nil, err
	}
	return spec, nil
}

func stringList(v cue.Value, field string) ([]string, bool, error) {
	listVal := v.LookupPath(cue.ParsePath(field))
	if !listVal.Exists() {
		return nil, false, nil
	}
	iter, err := listVal.List()
	if err != nil {
		return nil, false, &CompileError{Field: field, Message: "must be a list of strings", Pos: listVal.Pos()}
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, false, &CompileError{Field: field, Message: "must be a list of strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, true, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &CompileError{Field: field, Message: "must be a bool", Pos: fv.Pos()}
	}
	return b, nil
}

func optionalInt(v cue.Value, field string) (int, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, &CompileError{Field: field, Message: "must be an integer", Pos: fv.Pos()}
	}
	return int(n), nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
