package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/attach"
)

func articleType() *Type {
	return &Type{
		Name: "Article",
		Attributes: []Attribute{
			{Name: "title", Kind: KindString, MaxLength: 200},
			{Name: "views", Kind: KindInt},
			{Name: "price", Kind: KindDecimal},
			{Name: "body", Kind: KindString, Deferred: true},
			{Name: "tags", Kind: KindSet},
			{Name: "published", Kind: KindDate},
			{Name: "location", Kind: KindPoint},
			{Name: "cover", Kind: KindFile, Prefix: "covers"},
		},
		Key:        &KeySpec{KeyedOn: []string{"title"}},
		Slug:       &SlugSpec{NamedWith: []string{"title"}, MaxLength: 50},
		SoftDelete: true,
		Timestamps: true,
	}
}

func TestType_ImplicitAttributes(t *testing.T) {
	typ := articleType()
	require.NoError(t, typ.Validate())

	key, ok := typ.Attribute("key")
	require.True(t, ok)
	assert.Equal(t, KeyLength, key.MaxLength)

	_, ok = typ.Attribute(AttrDeleteTime)
	assert.True(t, ok)
	_, ok = typ.Attribute(AttrCreateTime)
	assert.True(t, ok)
	_, ok = typ.Attribute("nope")
	assert.False(t, ok)

	names := make([]string, 0)
	for _, a := range typ.AllAttributes() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"title", "views", "price", "body", "tags", "published", "location", "cover",
		"key", "slug", "delete_time", "ctime", "mtime"}, names)
	assert.Equal(t, 50, typ.SlugMaxLength())
	assert.NotContains(t, typ.DefaultFields(), "body")
}

func TestType_Validate(t *testing.T) {
	tests := []struct {
		name string
		typ  *Type
	}{
		{"no name", &Type{}},
		{"dup attribute", &Type{Name: "T", Attributes: []Attribute{{Name: "a", Kind: KindString}, {Name: "a", Kind: KindInt}}}},
		{"bad kind", &Type{Name: "T", Attributes: []Attribute{{Name: "a", Kind: "blob"}}}},
		{"key seed undeclared", &Type{Name: "T", Key: &KeySpec{KeyedOn: []string{"missing"}}}},
		{"slug no seeds", &Type{Name: "T", Slug: &SlugSpec{}}},
		{"slug seed undeclared", &Type{Name: "T", Slug: &SlugSpec{NamedWith: []string{"x"}}}},
		{"field undeclared", &Type{Name: "T", Serialization: &SerializationSpec{Fields: []string{"x"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.typ.Validate()
			require.Error(t, err)
			assert.True(t, IsConfigurationError(err))
		})
	}
}

func TestNewRegistry_Duplicate(t *testing.T) {
	_, err := NewRegistry(articleType(), articleType())
	assert.True(t, IsConfigurationError(err))

	r, err := NewRegistry(articleType())
	require.NoError(t, err)
	_, ok := r.Lookup("Article")
	assert.True(t, ok)
}

func TestEntity_Coercion(t *testing.T) {
	e, err := New(articleType(), map[string]any{
		"title":     "Hello",
		"views":     json.Number("12"),
		"price":     "19.99",
		"tags":      []any{"b", "a"},
		"published": "2024-03-01",
		"location":  []any{1.5, 2.5},
		"cover":     "cover.png",
	})
	require.NoError(t, err)

	v, _ := e.Attr("views")
	assert.Equal(t, int64(12), v)
	v, _ = e.Attr("price")
	assert.Equal(t, "19.99", v.(*apd.Decimal).String())
	v, _ = e.Attr("tags")
	assert.Equal(t, []string{"a", "b"}, v.(Set).Sorted())
	v, _ = e.Attr("published")
	assert.Equal(t, Date{2024, time.March, 1}, v)
	v, _ = e.Attr("location")
	assert.Equal(t, orb.Point{1.5, 2.5}, v)
	v, _ = e.Attr("cover")
	assert.Equal(t, "covers/cover.png", v.(*attach.File).Key())
}

func TestEntity_SetAttrErrors(t *testing.T) {
	e := MustNew(articleType(), nil)

	err := e.SetAttr("undeclared", 1)
	assert.True(t, IsConfigurationError(err))

	err = e.SetAttr("views", "many")
	assert.True(t, IsInvalidValue(err))

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'x'
	}
	err = e.SetAttr("title", string(long))
	assert.True(t, IsInvalidValue(err))
}

func TestEntity_AttrDistinguishesNullFromAbsent(t *testing.T) {
	e := MustNew(articleType(), map[string]any{"title": nil})

	v, ok := e.Attr("title")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = e.Attr("views")
	assert.False(t, ok)

	e.Unset("title")
	_, ok = e.Attr("title")
	assert.False(t, ok)
}

type countingLoader struct {
	calls int
	vals  map[string]any
}

func (l *countingLoader) LoadDeferred(context.Context, *Type, string) (map[string]any, error) {
	l.calls++
	return l.vals, nil
}

func TestEntity_DeferredLoad(t *testing.T) {
	loader := &countingLoader{vals: map[string]any{"body": "long text"}}
	e, err := Restore(articleType(), map[string]any{"title": "T", "key": "k"}, []string{"body"}, loader)
	require.NoError(t, err)
	assert.True(t, e.Persisted())
	assert.Equal(t, []string{"body"}, e.Unloaded())

	_, ok := e.Attr("body")
	assert.False(t, ok, "Attr must not load")
	assert.Equal(t, 0, loader.calls)

	v, err := e.Get(context.Background(), "body")
	require.NoError(t, err)
	assert.Equal(t, "long text", v)
	assert.Equal(t, 1, loader.calls)

	_, err = e.Get(context.Background(), "body")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
}

func TestEntity_TransientNeverLoads(t *testing.T) {
	e := MustNew(articleType(), map[string]any{"title": "T"})
	v, err := e.Get(context.Background(), "body")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestEntity_StringAndDeleted(t *testing.T) {
	e := MustNew(articleType(), map[string]any{"key": "abc"})
	assert.Equal(t, `Article(key="abc")`, e.String())
	assert.False(t, e.IsDeleted())

	require.NoError(t, e.SetAttr(AttrDeleteTime, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, e.IsDeleted())
}

func TestEncode(t *testing.T) {
	typ := articleType()
	e := MustNew(typ, map[string]any{
		"price":     "1.50",
		"tags":      []string{"z", "y"},
		"published": "2024-01-31",
		"cover":     "a.txt",
		"location":  orb.Point{1, 2},
	})
	for name, want := range map[string]any{
		"price":     "1.50",
		"tags":      []string{"y", "z"},
		"published": "2024-01-31",
		"cover":     "a.txt",
	} {
		a, _ := typ.Attribute(name)
		v, _ := e.Attr(name)
		got, err := Encode(a, v)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	a, _ := typ.Attribute("location")
	v, _ := e.Attr("location")
	hexed, err := Encode(a, v)
	require.NoError(t, err)
	back, err := Coerce(a, hexed)
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1, 2}, back)
}

func TestLogMessage_Format(t *testing.T) {
	m := LogMessage{
		Level:     LevelInfo,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Qualifier: "import",
		Message:   "created",
	}
	assert.Equal(t, "   INFO [2024-01-02 03:04:05+00:00] <import> created", m.String())

	// Sizes use binary units.
	for size, want := range map[int]string{512: "512 B", 1024: "1.0 KiB", 1500: "1.5 KiB", 3 << 20: "3.0 MiB"} {
		m.Data = make([]byte, size)
		assert.Equal(t, "   INFO [2024-01-02 03:04:05+00:00] <import> created @{"+want+"}", m.String())
	}
}

func TestEntity_Log(t *testing.T) {
	e := MustNew(articleType(), nil)
	assert.False(t, e.Logged())

	_, err := e.Log("trace", "q", "m", nil)
	assert.Error(t, err)

	_, err = e.Warn("q", "m", nil)
	require.NoError(t, err)
	assert.True(t, e.Logged())

	now := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)
	e.StampPendingLogs(now)
	require.Len(t, e.PendingLogs(), 1)
	assert.Equal(t, now, e.PendingLogs()[0].Timestamp)

	e.ClearLogs()
	assert.False(t, e.Logged())
	assert.Empty(t, e.PendingLogs())
}

func TestErrors_Wrapped(t *testing.T) {
	err := fmt.Errorf("insert: %w", NewResourceExhaustedError("Article", "slug", 100, "test"))
	assert.True(t, IsResourceExhausted(err))
	assert.False(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "type=Article")

	wrapped := &Error{Code: ErrCodeInvalidValue, Message: "bad", Err: ErrConflict}
	assert.True(t, errors.Is(wrapped, ErrConflict))
}
