// Package geom marshals geometry attributes.
//
// Point and MultiPolygon values are held in memory as orb geometries and
// persisted as hex-encoded EWKB carrying the attribute's SRID.
package geom

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
)

// DefaultSRID is used when an attribute does not declare one (WGS 84).
const DefaultSRID = 4326

// Encode returns the hex EWKB form of g tagged with srid.
func Encode(g orb.Geometry, srid int) (string, error) {
	if srid == 0 {
		srid = DefaultSRID
	}
	s, err := ewkb.MarshalToHex(g, srid)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", g.GeoJSONType(), err)
	}
	return s, nil
}

// Decode parses hex EWKB into a geometry and its SRID.
func Decode(s string) (orb.Geometry, int, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, 0, fmt.Errorf("decode ewkb hex: %w", err)
	}
	g, srid, err := ewkb.Unmarshal(b)
	if err != nil {
		return nil, 0, fmt.Errorf("unmarshal ewkb: %w", err)
	}
	return g, srid, nil
}

// ToPoint coerces v into a point. Accepted forms are orb.Point, a coordinate
// slice of two numbers, and hex EWKB.
func ToPoint(v any) (orb.Point, error) {
	switch val := v.(type) {
	case orb.Point:
		return val, nil
	case [2]float64:
		return orb.Point(val), nil
	case string:
		g, _, err := Decode(val)
		if err != nil {
			return orb.Point{}, err
		}
		p, ok := g.(orb.Point)
		if !ok {
			return orb.Point{}, fmt.Errorf("ewkb holds %s, want Point", g.GeoJSONType())
		}
		return p, nil
	default:
		return coordinate(v)
	}
}

// ToMultiPolygon coerces v into a multipolygon. Accepted forms are
// orb.MultiPolygon, orb.Polygon (wrapped), nested coordinate slices
// (polygons of rings of points), and hex EWKB.
func ToMultiPolygon(v any) (orb.MultiPolygon, error) {
	switch val := v.(type) {
	case orb.MultiPolygon:
		return val, nil
	case orb.Polygon:
		return orb.MultiPolygon{val}, nil
	case string:
		g, _, err := Decode(val)
		if err != nil {
			return nil, err
		}
		switch gg := g.(type) {
		case orb.MultiPolygon:
			return gg, nil
		case orb.Polygon:
			return orb.MultiPolygon{gg}, nil
		}
		return nil, fmt.Errorf("ewkb holds %s, want MultiPolygon", g.GeoJSONType())
	}

	polys, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("cannot use %T as multipolygon", v)
	}
	mp := make(orb.MultiPolygon, 0, len(polys))
	for i, p := range polys {
		rings, ok := p.([]any)
		if !ok {
			return nil, fmt.Errorf("polygon %d: cannot use %T", i, p)
		}
		poly := make(orb.Polygon, 0, len(rings))
		for j, r := range rings {
			pts, ok := r.([]any)
			if !ok {
				return nil, fmt.Errorf("polygon %d ring %d: cannot use %T", i, j, r)
			}
			ring := make(orb.Ring, 0, len(pts))
			for k, pt := range pts {
				c, err := coordinate(pt)
				if err != nil {
					return nil, fmt.Errorf("polygon %d ring %d point %d: %w", i, j, k, err)
				}
				ring = append(ring, c)
			}
			poly = append(poly, ring)
		}
		mp = append(mp, poly)
	}
	return mp, nil
}

// Describe renders a short human-readable form of g: the coordinates of a
// point or the bounds of anything else.
func Describe(g orb.Geometry) string {
	if p, ok := g.(orb.Point); ok {
		return fmt.Sprintf("<Point (%v, %v)>", p.X(), p.Y())
	}
	b := g.Bound()
	return fmt.Sprintf("<%s (%v, %v, %v, %v)>", g.GeoJSONType(), b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}

func coordinate(v any) (orb.Point, error) {
	var nums []float64
	switch val := v.(type) {
	case []float64:
		nums = val
	case []any:
		nums = make([]float64, 0, len(val))
		for _, n := range val {
			f, ok := toFloat(n)
			if !ok {
				return orb.Point{}, fmt.Errorf("coordinate component %T is not a number", n)
			}
			nums = append(nums, f)
		}
	default:
		return orb.Point{}, fmt.Errorf("cannot use %T as point", v)
	}
	if len(nums) != 2 {
		return orb.Point{}, fmt.Errorf("point needs 2 coordinates, got %d", len(nums))
	}
	return orb.Point{nums[0], nums[1]}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// IsHex reports whether s looks like hex EWKB.
func IsHex(s string) bool {
	if len(s)%2 != 0 || len(s) == 0 {
		return false
	}
	return strings.Trim(strings.ToLower(s), "0123456789abcdef") == ""
}
