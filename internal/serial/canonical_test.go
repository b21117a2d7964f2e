package serial

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/model"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, "null"},
		{"string", "hello", `"hello"`},
		{"no html escape", "<a&b>", `"<a&b>"`},
		{"control", "a\nb\x01", `"a\nb\u0001"`},
		{"int", int64(-7), "-7"},
		{"float", 19.99, "19.99"},
		{"whole float", 3.0, "3"},
		{"number", json.Number("12"), "12"},
		{"array", []any{1, "x", nil}, `[1,"x",null]`},
		{"sorted keys", map[string]any{"z": 1, "a": 2}, `{"a":2,"z":1}`},
		{"nested", map[string]any{"b": map[string]any{"y": true, "x": false}}, `{"b":{"x":false,"y":true}}`},
		{"nfc", "é", "\"é\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonical_UTF16Order(t *testing.T) {
	// U+1F600 encodes to surrogates 0xD83D... which sort before U+FF61.
	got, err := MarshalCanonical(map[string]any{"｡": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"｡\":1}", string(got))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	_, err := MarshalCanonical(math.NaN())
	assert.Error(t, err)
	_, err = MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

func goldenArticle() *model.Entity {
	typ := &model.Type{
		Name: "Article",
		Attributes: []model.Attribute{
			{Name: "title", Kind: model.KindString},
			{Name: "views", Kind: model.KindInt},
			{Name: "rating", Kind: model.KindFloat},
			{Name: "price", Kind: model.KindDecimal},
			{Name: "tags", Kind: model.KindSet},
			{Name: "published", Kind: model.KindDate},
			{Name: "updated", Kind: model.KindTime},
			{Name: "location", Kind: model.KindPoint},
			{Name: "cover", Kind: model.KindFile, Prefix: "covers"},
			{Name: "meta", Kind: model.KindJSON},
			{Name: "body", Kind: model.KindString, Deferred: true},
		},
		Key:  &model.KeySpec{},
		Slug: &model.SlugSpec{NamedWith: []string{"title"}},
	}
	return model.MustNew(typ, map[string]any{
		"title":     "Crème & <b>",
		"views":     12,
		"rating":    4.5,
		"price":     "19.99",
		"tags":      []string{"go", "db"},
		"published": "2024-03-01",
		"updated":   time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		"location":  orb.Point{1.5, 2.5},
		"cover":     "cover.png",
		"meta":      map[string]any{"b": []any{1, 2}, "a": "x"},
		"key":       "abc",
		"slug":      "creme",
	})
}

func TestGolden_ArticleDefault(t *testing.T) {
	tree, err := Serialize(goldenArticle(), Selection{})
	require.NoError(t, err)
	data, err := MarshalCanonical(tree)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "article_default", data)
}

func TestGolden_ArticleFormatted(t *testing.T) {
	s := New(DefaultOptions().WithDateFormat("%d/%m/%Y").WithDateTimeFormat("%Y-%m-%dT%H:%M:%SZ"))
	tree, err := s.Serialize(goldenArticle(), Selection{Fields: []string{"title", "published", "updated"}})
	require.NoError(t, err)
	data, err := MarshalCanonical(tree)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "article_formatted", data)
}
