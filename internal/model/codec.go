package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/paulmach/orb"

	"github.com/roach88/batteries/internal/attach"
	"github.com/roach88/batteries/internal/geom"
)

// Coerce converts v to the in-memory representation of attribute a.
//
// It accepts both application values (time.Time, *apd.Decimal, orb.Point…)
// and the storage-neutral forms produced by Encode once they have been
// through JSON, so stores decode rows with the same function. nil passes
// through as an explicit null.
func Coerce(a Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch a.Kind {
	case KindString:
		switch s := v.(type) {
		case string:
			return s, nil
		case []byte:
			return string(s), nil
		case fmt.Stringer:
			return s.String(), nil
		}
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) {
				return int64(n), nil
			}
		case json.Number:
			return n.Int64()
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			return n.Float64()
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, err
			}
			return parsed.UTC(), nil
		}
	case KindDate:
		switch d := v.(type) {
		case Date:
			return d, nil
		case time.Time:
			return DateOf(d), nil
		case string:
			return ParseDate(d)
		}
	case KindDecimal:
		return toDecimal(v)
	case KindSet:
		switch s := v.(type) {
		case Set:
			return s, nil
		case []string:
			return NewSet(s...), nil
		case []any:
			set := make(Set, len(s))
			for _, it := range s {
				str, ok := it.(string)
				if !ok {
					return nil, fmt.Errorf("set member %T is not a string", it)
				}
				set[str] = struct{}{}
			}
			return set, nil
		}
	case KindJSON:
		return v, nil
	case KindFile:
		switch f := v.(type) {
		case *attach.File:
			return f, nil
		case string:
			return attach.New(a.Prefix, f), nil
		}
	case KindPoint:
		return geom.ToPoint(v)
	case KindMultiPolygon:
		return geom.ToMultiPolygon(v)
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, a.Kind)
}

// Encode converts an in-memory value of attribute a to a JSON-compatible
// storage form. Times become RFC 3339 UTC strings, dates YYYY-MM-DD,
// decimals their exact string, sets sorted string lists, files their
// filename and geometries hex EWKB.
func Encode(a Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch a.Kind {
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	case KindDate:
		if d, ok := v.(Date); ok {
			return d.String(), nil
		}
	case KindDecimal:
		if d, ok := v.(*apd.Decimal); ok {
			return d.String(), nil
		}
	case KindSet:
		if s, ok := v.(Set); ok {
			return s.Sorted(), nil
		}
	case KindFile:
		if f, ok := v.(*attach.File); ok {
			return f.Filename, nil
		}
	case KindPoint, KindMultiPolygon:
		c, err := Coerce(a, v)
		if err != nil {
			return nil, err
		}
		return geom.Encode(c.(orb.Geometry), a.SRID)
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot encode %T as %s", v, a.Kind)
}

func toDecimal(v any) (*apd.Decimal, error) {
	switch d := v.(type) {
	case *apd.Decimal:
		return d, nil
	case apd.Decimal:
		return &d, nil
	case int:
		return apd.New(int64(d), 0), nil
	case int64:
		return apd.New(d, 0), nil
	case float64:
		out := new(apd.Decimal)
		if _, err := out.SetFloat64(d); err != nil {
			return nil, err
		}
		return out, nil
	case json.Number:
		out, _, err := apd.NewFromString(d.String())
		return out, err
	case string:
		out, _, err := apd.NewFromString(d)
		return out, err
	}
	return nil, fmt.Errorf("cannot use %T as decimal", v)
}
