// Package keys derives record keys.
//
// A key is a 40-character lowercase hex SHA-1 digest. Types keyed on
// attributes hash the string forms of those attributes concatenated in
// order, so equal seeds always give equal keys. Types keyed on uuid hash a
// fresh random nonce. Either way the digest fixes the key's length and
// alphabet.
//
// Keys are set at most once: EnsureKey leaves a record whose key attribute
// already holds a value untouched.
package keys

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/batteries/internal/model"
)

// Observer receives derivation events. metrics.Collectors implements it.
type Observer interface {
	KeyDerived(typeName string, fromUUID bool)
}

// Deriver computes and assigns record keys.
type Deriver struct {
	nonce    func() string
	logger   *slog.Logger
	observer Observer
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithNonce overrides the random nonce source used by uuid-keyed types.
func WithNonce(fn func() string) Option {
	return func(d *Deriver) { d.nonce = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deriver) { d.logger = l }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(d *Deriver) { d.observer = o }
}

// NewDeriver returns a Deriver. By default nonces are random version 4
// UUIDs rendered as 32 lowercase hex characters.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		nonce:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EnsureKey returns the record's key, deriving and assigning it first if the
// key attribute holds no value. Records whose type is not keyed return ""
// with no effect.
//
// A null or absent seed attribute fails with a configuration error and
// leaves the record unmodified.
func (d *Deriver) EnsureKey(r model.Record) (string, error) {
	spec, ok := model.KeySpecOf(r)
	if !ok {
		return "", nil
	}
	target := spec.Target()
	if v, ok := r.Attr(target); ok && v != nil {
		s, isString := v.(string)
		if !isString {
			return "", model.NewConfigurationError(r.Type().Name, target, fmt.Sprintf("key holds %T, want string", v))
		}
		return s, nil
	}

	var key string
	if spec.FromUUID() {
		key = Digest(d.nonce())
	} else {
		values := make(map[string]any, len(spec.KeyedOn))
		for _, name := range spec.KeyedOn {
			v, ok := r.Attr(name)
			if !ok || v == nil {
				return "", model.NewConfigurationError(r.Type().Name, name, "key seed attribute is null")
			}
			values[name] = v
		}
		var err error
		key, err = MakeKey(spec, values)
		if err != nil {
			return "", err
		}
	}

	if err := r.SetAttr(target, key); err != nil {
		return "", err
	}
	if d.observer != nil {
		d.observer.KeyDerived(r.Type().Name, spec.FromUUID())
	}
	d.logger.Debug("key derived", "type", r.Type().Name, "key", key, "from_uuid", spec.FromUUID())
	return key, nil
}

// MakeKey computes the key for seed values without a record. It is what
// EnsureKey assigns for an attribute-keyed type given the same values.
func MakeKey(spec model.KeySpec, values map[string]any) (string, error) {
	if spec.FromUUID() {
		return "", fmt.Errorf("uuid-keyed types have no deterministic key")
	}
	h := sha1.New()
	for _, name := range spec.KeyedOn {
		v, ok := values[name]
		if !ok || v == nil {
			return "", model.NewConfigurationError("", name, "key seed attribute is null")
		}
		if _, err := io.WriteString(h, Stringify(v)); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Digest returns the hex SHA-1 digest of s.
func Digest(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Stringify returns the string form of a seed value used for hashing.
// Times use RFC 3339 in UTC so the same instant always hashes alike.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
