package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Dialect adapts SQLStore queries to a database engine.
type Dialect struct {
	Name string

	// Rebind rewrites '?' placeholders into the engine's syntax.
	Rebind func(query string) string

	// AttrEquals returns a predicate comparing the text form of one JSON
	// attribute to a parameter. It consumes two parameters: the attribute
	// selector (see AttrParam) and the value.
	AttrEquals string

	// AttrParam renders an attribute name as the selector parameter.
	AttrParam func(name string) string

	// IsConflict reports whether err is a uniqueness violation.
	IsConflict func(err error) bool
}

// SQLite is the dialect for mattn/go-sqlite3.
var SQLite = Dialect{
	Name:       "sqlite",
	Rebind:     func(q string) string { return q },
	AttrEquals: "CAST(json_extract(attrs, ?) AS TEXT) = ?",
	AttrParam:  func(name string) string { return `$."` + name + `"` },
	IsConflict: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
	},
}

// RebindDollar rewrites '?' placeholders into $1, $2, ...
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
