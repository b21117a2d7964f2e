package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/model"
)

func compile(t *testing.T, src, path string) (*model.Type, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileRecord(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileRecordBasic(t *testing.T) {
	typ, err := compile(t, `
		record: article: {
			attributes: {
				title: {kind: "string", max_length: 200}
				body:  {kind: "string", deferred: true}
				views: "int"
				cover: {kind: "file", prefix: "covers"}
				spot:  {kind: "point", srid: 3857}
			}
			key:         {keyed_on: ["title"]}
			slug:        {named_with: ["title"], max_length: 50}
			serialize:   ["title", "slug", "views"]
			soft_delete: true
			timestamps:  true
			logging:     {required: true}
		}
	`, "record.article")
	require.NoError(t, err)

	assert.Equal(t, "article", typ.Name)
	require.Len(t, typ.Attributes, 5)
	assert.Equal(t, model.Attribute{Name: "title", Kind: model.KindString, MaxLength: 200}, typ.Attributes[0])
	assert.True(t, typ.Attributes[1].Deferred)
	assert.Equal(t, model.KindInt, typ.Attributes[2].Kind)
	assert.Equal(t, "covers", typ.Attributes[3].Prefix)
	assert.Equal(t, 3857, typ.Attributes[4].SRID)

	require.NotNil(t, typ.Key)
	assert.Equal(t, []string{"title"}, typ.Key.KeyedOn)
	require.NotNil(t, typ.Slug)
	assert.Equal(t, 50, typ.Slug.MaxLength)
	assert.Equal(t, []string{"title", "slug", "views"}, typ.Serialization.Fields)
	assert.True(t, typ.SoftDelete)
	assert.True(t, typ.Timestamps)
	assert.True(t, typ.Logging.Required)
}

func TestCompileRecordRandomKey(t *testing.T) {
	typ, err := compile(t, `
		record: token: {
			attributes: label: "string"
			key: true
		}
	`, "record.token")
	require.NoError(t, err)
	require.NotNil(t, typ.Key)
	assert.True(t, typ.Key.FromUUID())
	assert.Equal(t, "key", typ.Key.Target())
}

func TestCompileRecordExplicitName(t *testing.T) {
	typ, err := compile(t, `
		record: a: {
			name: "Article"
			attributes: title: "string"
		}
	`, "record.a")
	require.NoError(t, err)
	assert.Equal(t, "Article", typ.Name)
}

func TestCompileRecordErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"no attributes", `record: x: {soft_delete: true}`, "at least one attribute"},
		{"unknown kind", `record: x: attributes: a: "blob"`, `unknown kind "blob"`},
		{"missing kind", `record: x: attributes: a: {max_length: 3}`, "kind is required"},
		{"slug without seeds", `record: x: {attributes: a: "string", slug: {max_length: 3}}`, "named_with"},
		{"undeclared key seed", `record: x: {attributes: a: "string", key: keyed_on: ["b"]}`, "not declared"},
		{"bad bool", `record: x: {attributes: a: "string", timestamps: "yes"}`, "must be a bool"},
		{"bad list", `record: x: {attributes: a: "string", serialize: "a"}`, "list of strings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(t, tt.src, "record.x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var ce *CompileError
			assert.ErrorAs(t, err, &ce)
		})
	}
}
