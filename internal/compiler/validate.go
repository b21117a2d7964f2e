package compiler

import (
	"fmt"

	"github.com/roach88/batteries/internal/model"
)

// Validation error codes (E100-E199)
const (
	// Attribute errors (E101-E109)
	ErrUnknownKind        = "E101" // attribute kind is not recognized
	ErrDuplicateAttribute = "E102" // attribute declared twice
	ErrMisplacedOption    = "E103" // option does not apply to the attribute kind
	ErrNegativeLength     = "E104" // max_length below zero

	// Behavior errors (E110-E119)
	ErrUndeclaredSeed     = "E110" // key or slug seed attribute not declared
	ErrNoSlugSeeds        = "E111" // slug without named_with
	ErrDeferredSeed       = "E112" // seed attribute is deferred
	ErrUndeclaredField    = "E113" // serializable field not declared
	ErrTargetKindMismatch = "E114" // key/slug target declared with a non-string kind
)

// ValidationError represents a record type validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a record type against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(typ *model.Type) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	seen := make(map[string]bool, len(typ.Attributes))
	for _, a := range typ.Attributes {
		field := "attributes." + a.Name
		if seen[a.Name] {
			add(ErrDuplicateAttribute, field, "attribute declared more than once")
		}
		seen[a.Name] = true

		if !a.Kind.Valid() {
			add(ErrUnknownKind, field, "unknown kind %q", a.Kind)
		}
		if a.MaxLength < 0 {
			add(ErrNegativeLength, field, "max_length must not be negative")
		}
		if a.MaxLength > 0 && a.Kind != model.KindString {
			add(ErrMisplacedOption, field, "max_length applies only to string attributes")
		}
		if a.Prefix != "" && a.Kind != model.KindFile {
			add(ErrMisplacedOption, field, "prefix applies only to file attributes")
		}
		if a.SRID != 0 && a.Kind != model.KindPoint && a.Kind != model.KindMultiPolygon {
			add(ErrMisplacedOption, field, "srid applies only to geometry attributes")
		}
	}

	checkSeeds := func(behavior string, seeds []string) {
		for _, name := range seeds {
			a, ok := typ.Attribute(name)
			if !ok {
				add(ErrUndeclaredSeed, behavior, "seed attribute %q is not declared", name)
				continue
			}
			if a.Deferred {
				add(ErrDeferredSeed, behavior, "seed attribute %q is deferred", name)
			}
		}
	}
	checkTarget := func(behavior, target string) {
		for _, a := range typ.Attributes {
			if a.Name == target && a.Kind != model.KindString {
				add(ErrTargetKindMismatch, behavior, "target attribute %q must be a string, got %s", target, a.Kind)
			}
		}
	}

	if typ.Key != nil {
		checkSeeds("key", typ.Key.KeyedOn)
		checkTarget("key", typ.Key.Target())
	}
	if typ.Slug != nil {
		if len(typ.Slug.NamedWith) == 0 {
			add(ErrNoSlugSeeds, "slug", "named_with must list at least one attribute")
		}
		checkSeeds("slug", typ.Slug.NamedWith)
		checkTarget("slug", typ.Slug.Target())
	}
	if typ.Serialization != nil {
		for _, name := range typ.Serialization.Fields {
			if _, ok := typ.Attribute(name); !ok && typ.Serialization.Overrides[name] == nil {
				add(ErrUndeclaredField, "serialize", "field %q is not declared", name)
			}
		}
	}

	return errs
}
