// Package slug derives unique human-readable record identifiers.
//
// EnsureSlug joins the seed attributes with a hyphen, normalizes them with
// Slugify, truncates to the slug attribute's max length and probes the
// record store until it finds a value no live record of the same type holds.
// On collision it appends -1, -2, … truncating the base so the suffixed
// candidate still fits.
//
// The probe is read-then-decide and therefore racy under concurrent writers.
// Stores enforce uniqueness of live slugs and report model.ErrConflict;
// the resolver does not retry on conflict.
package slug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/batteries/internal/keys"
	"github.com/roach88/batteries/internal/model"
)

// DefaultMaxAttempts is the number of candidates probed before giving up:
// the unsuffixed root plus suffixes 1 through 99.
const DefaultMaxAttempts = 100

// Lookup finds a live record of typ whose attribute equals value. It
// returns an error wrapping model.ErrNotFound when there is none.
type Lookup interface {
	LookupByAttribute(ctx context.Context, typ *model.Type, attr, value string) (*model.Entity, error)
}

// Observer receives probe events. metrics.Collectors implements it.
type Observer interface {
	SlugProbed(typeName string)
	SlugCollided(typeName string)
	SlugExhausted(typeName string)
}

// Resolver assigns unique slugs.
type Resolver struct {
	lookup      Lookup
	maxAttempts int
	separator   string
	logger      *slog.Logger
	observer    Observer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxAttempts sets the probe budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithSeparator sets the separator used when a type does not declare one.
func WithSeparator(sep string) Option {
	return func(r *Resolver) { r.separator = sep }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observer = o }
}

// NewResolver returns a Resolver probing lookup.
func NewResolver(lookup Lookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:      lookup,
		maxAttempts: DefaultMaxAttempts,
		separator:   DefaultSeparator,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSlug returns the record's slug, resolving and assigning one first if
// the slug attribute holds no value. Records whose type has no slug return
// "" with no effect.
func (r *Resolver) EnsureSlug(ctx context.Context, rec model.Record) (string, error) {
	spec, ok := model.SlugSpecOf(rec)
	if !ok {
		return "", nil
	}
	typ := rec.Type()
	target := spec.Target()
	if v, ok := rec.Attr(target); ok && v != nil {
		if s, isString := v.(string); isString {
			return s, nil
		}
		return "", model.NewConfigurationError(typ.Name, target, fmt.Sprintf("slug holds %T, want string", v))
	}

	seeds := make([]string, 0, len(spec.NamedWith))
	for _, name := range spec.NamedWith {
		v, ok := rec.Attr(name)
		if !ok || v == nil {
			return "", model.NewConfigurationError(typ.Name, name, "slug seed attribute is null")
		}
		seeds = append(seeds, keys.Stringify(v))
	}

	sep := spec.Separator
	if sep == "" {
		sep = r.separator
	}
	root := Slugify(strings.Join(seeds, "-"), sep)
	if root == "" {
		return "", model.NewConfigurationError(typ.Name, target, fmt.Sprintf("seed %q normalizes to an empty slug", strings.Join(seeds, "-")))
	}
	root = truncate(root, spec.MaxLength)

	s, err := r.Available(ctx, typ, target, root, spec.MaxLength)
	if err != nil {
		return "", err
	}
	if err := rec.SetAttr(target, s); err != nil {
		return "", err
	}
	return s, nil
}

// Available returns the first candidate derived from root that no live
// record of typ holds in attr. root must already be normalized. The search
// stops early once a suffix leaves no room for any of root.
func (r *Resolver) Available(ctx context.Context, typ *model.Type, attr, root string, maxLength int) (string, error) {
	attempts := 0
	for ; attempts < r.maxAttempts; attempts++ {
		candidate, ok := Candidate(root, attempts, maxLength)
		if !ok {
			r.logger.Debug("slug suffix exceeds max length", "type", typ.Name, "root", root, "attempt", attempts+1, "max_length", maxLength)
			break
		}
		if r.observer != nil {
			r.observer.SlugProbed(typ.Name)
		}
		_, err := r.lookup.LookupByAttribute(ctx, typ, attr, candidate)
		if errors.Is(err, model.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		if r.observer != nil {
			r.observer.SlugCollided(typ.Name)
		}
		r.logger.Debug("slug collision", "type", typ.Name, "candidate", candidate, "attempt", attempts+1)
	}
	if r.observer != nil {
		r.observer.SlugExhausted(typ.Name)
	}
	r.logger.Warn("slug search exhausted", "type", typ.Name, "root", root, "attempts", attempts)
	return "", model.NewResourceExhaustedError(typ.Name, attr, attempts, root)
}

// Candidate returns the n-th candidate for root: root itself for n == 0,
// otherwise root with "-n" appended, the base truncated so the whole fits
// in maxLength (0 = unbounded). A hyphen left dangling by the truncation is
// dropped. ok is false when the suffix leaves no room for the base.
func Candidate(root string, n, maxLength int) (candidate string, ok bool) {
	if n == 0 {
		return truncate(root, maxLength), root != ""
	}
	suffix := "-" + strconv.Itoa(n)
	base := root
	if maxLength > 0 && len(base)+len(suffix) > maxLength {
		keep := maxLength - len(suffix)
		if keep <= 0 {
			return "", false
		}
		base = strings.TrimRight(base[:keep], "-")
	}
	if base == "" {
		return "", false
	}
	return base + suffix, true
}

func truncate(s string, maxLength int) string {
	if maxLength > 0 && len(s) > maxLength {
		return s[:maxLength]
	}
	return s
}
