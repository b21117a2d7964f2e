package serial

import (
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/ncruces/go-strftime"

	"github.com/roach88/batteries/internal/model"
)

// TypeFunc converts values of one runtime type into tree form.
type TypeFunc func(v any, opts Options) (any, error)

// Registered type names of the default type serializers.
const (
	TypeTime       = "time.Time"
	TypeDate       = "model.Date"
	TypeDecimal    = "*apd.Decimal"
	TypeDecimalVal = "apd.Decimal"
	TypeSet        = "model.Set"
)

// Default formats.
const (
	DefaultDateFormat = "%Y-%m-%d"

	// EpochFormat renders timestamps as integer seconds since the epoch.
	// An empty DateTimeFormat means the same.
	EpochFormat = "%s"
)

// Options configures a Serializer. Options values are treated as immutable:
// the With* methods return modified copies and never touch the receiver's
// serializer table.
type Options struct {
	// DateFormat is the strftime pattern for dates.
	DateFormat string

	// DateTimeFormat is the strftime pattern for timestamps. Empty or
	// EpochFormat yields epoch seconds. A pattern whose output parses as an
	// integer yields that integer.
	DateTimeFormat string

	serializers map[string]TypeFunc
}

// DefaultOptions returns the default options: dates as YYYY-MM-DD,
// timestamps as epoch seconds, decimals as floats and sets as sorted lists.
func DefaultOptions() Options {
	return Options{
		DateFormat: DefaultDateFormat,
		serializers: map[string]TypeFunc{
			TypeTime:       serializeTime,
			TypeDate:       serializeDate,
			TypeDecimal:    serializeDecimal,
			TypeDecimalVal: serializeDecimal,
			TypeSet:        serializeSet,
		},
	}
}

// WithDateFormat returns a copy of o using format for dates.
func (o Options) WithDateFormat(format string) Options {
	o.DateFormat = format
	return o
}

// WithDateTimeFormat returns a copy of o using format for timestamps.
func (o Options) WithDateTimeFormat(format string) Options {
	o.DateTimeFormat = format
	return o
}

// WithSerializer returns a copy of o with fn registered for values whose
// runtime type name (see TypeName) is typeName. A nil fn removes the entry.
func (o Options) WithSerializer(typeName string, fn TypeFunc) Options {
	next := make(map[string]TypeFunc, len(o.serializers)+1)
	for k, v := range o.serializers {
		next[k] = v
	}
	if fn == nil {
		delete(next, typeName)
	} else {
		next[typeName] = fn
	}
	o.serializers = next
	return o
}

// Serializer returns the function registered for typeName.
func (o Options) Serializer(typeName string) (TypeFunc, bool) {
	fn, ok := o.serializers[typeName]
	return fn, ok
}

func serializeTime(v any, opts Options) (any, error) {
	t := v.(time.Time)
	if opts.DateTimeFormat == "" || opts.DateTimeFormat == EpochFormat {
		return t.Unix(), nil
	}
	s := strftime.Format(opts.DateTimeFormat, t)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	return s, nil
}

func serializeDate(v any, opts Options) (any, error) {
	d := v.(model.Date)
	format := opts.DateFormat
	if format == "" {
		format = DefaultDateFormat
	}
	return strftime.Format(format, d.Time()), nil
}

func serializeDecimal(v any, _ Options) (any, error) {
	var d *apd.Decimal
	switch val := v.(type) {
	case *apd.Decimal:
		if val == nil {
			return nil, nil
		}
		d = val
	case apd.Decimal:
		d = &val
	}
	return d.Float64()
}

func serializeSet(v any, _ Options) (any, error) {
	members := v.(model.Set).Sorted()
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out, nil
}
