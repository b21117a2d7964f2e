// Package storetest holds behavior tests shared by every store.Backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/batteries/internal/model"
	"github.com/roach88/batteries/internal/store"
)

// Factory opens an empty backend for one test.
type Factory func(t *testing.T) store.Backend

// NoteType is the record type exercised by Run.
func NoteType() *model.Type {
	return &model.Type{
		Name: "note",
		Attributes: []model.Attribute{
			{Name: "title", Kind: model.KindString},
			{Name: "views", Kind: model.KindInt},
			{Name: "tags", Kind: model.KindSet},
			{Name: "pinned", Kind: model.KindBool},
			{Name: "score", Kind: model.KindFloat},
			{Name: "body", Kind: model.KindString, Deferred: true},
		},
		Key:        &model.KeySpec{KeyedOn: []string{"title"}},
		Slug:       &model.SlugSpec{NamedWith: []string{"title"}, MaxLength: 50},
		SoftDelete: true,
	}
}

// NewNote builds a transient note with its key and slug already set.
func NewNote(t *testing.T, key, slug, title string) *model.Entity {
	t.Helper()
	e, err := model.New(NoteType(), map[string]any{
		"key":   key,
		"slug":  slug,
		"title": title,
		"views": 3,
		"tags":  []string{"b", "a"},
		"body":  "long text " + title,
	})
	require.NoError(t, err)
	return e
}

// Run executes the shared backend tests.
func Run(t *testing.T, open Factory) {
	t.Run("InsertThenLookupByKey", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		typ := NoteType()

		e := NewNote(t, "k1", "hello", "Hello")
		require.NoError(t, b.Insert(ctx, e))

		got, err := b.LookupByKey(ctx, typ, "k1")
		require.NoError(t, err)
		assert.Equal(t, "k1", got.Key())
		assert.Equal(t, "hello", got.Slug())
		assert.True(t, got.Persisted())

		views, _ := got.Attr("views")
		assert.Equal(t, int64(3), views)
		tags, _ := got.Attr("tags")
		assert.Equal(t, model.NewSet("a", "b"), tags)
	})

	t.Run("DeferredAttributesLoadOnDemand", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		require.NoError(t, b.Insert(ctx, NewNote(t, "k1", "hello", "Hello")))

		got, err := b.LookupByKey(ctx, NoteType(), "k1")
		require.NoError(t, err)

		_, ok := got.Attr("body")
		assert.False(t, ok, "deferred attribute must not be loaded with the record")
		assert.Equal(t, []string{"body"}, got.Unloaded())

		body, err := got.Get(ctx, "body")
		require.NoError(t, err)
		assert.Equal(t, "long text Hello", body)
		assert.Empty(t, got.Unloaded())
	})

	t.Run("LookupMissing", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)

		_, err := b.LookupByKey(ctx, NoteType(), "nope")
		assert.ErrorIs(t, err, model.ErrNotFound)

		_, err = b.LookupByAttribute(ctx, NoteType(), "slug", "nope")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("LookupByAttribute", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		typ := NoteType()
		require.NoError(t, b.Insert(ctx, NewNote(t, "k1", "hello", "Hello")))
		require.NoError(t, b.Insert(ctx, NewNote(t, "k2", "world", "World")))

		got, err := b.LookupByAttribute(ctx, typ, "slug", "world")
		require.NoError(t, err)
		assert.Equal(t, "k2", got.Key())

		got, err = b.LookupByAttribute(ctx, typ, "title", "Hello")
		require.NoError(t, err)
		assert.Equal(t, "k1", got.Key())

		got, err = b.LookupByAttribute(ctx, typ, "views", "3")
		require.NoError(t, err)
		assert.Equal(t, "k1", got.Key())

		_, err = b.LookupByAttribute(ctx, typ, "missing", "x")
		assert.True(t, model.IsConfigurationError(err))
	})

	t.Run("LookupByAttributeUsesJSONText", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		typ := NoteType()

		plain := NewNote(t, "k1", "plain", "Plain")
		require.NoError(t, plain.SetAttr("pinned", false))
		require.NoError(t, plain.SetAttr("score", 2.5))
		require.NoError(t, b.Insert(ctx, plain))

		tiny := NewNote(t, "k2", "tiny", "Tiny")
		require.NoError(t, tiny.SetAttr("pinned", true))
		require.NoError(t, tiny.SetAttr("score", 1e-07))
		require.NoError(t, b.Insert(ctx, tiny))

		got, err := b.LookupByAttribute(ctx, typ, "pinned", "true")
		require.NoError(t, err)
		assert.Equal(t, "k2", got.Key())

		got, err = b.LookupByAttribute(ctx, typ, "pinned", "false")
		require.NoError(t, err)
		assert.Equal(t, "k1", got.Key())

		got, err = b.LookupByAttribute(ctx, typ, "score", "1e-07")
		require.NoError(t, err)
		assert.Equal(t, "k2", got.Key())

		got, err = b.LookupByAttribute(ctx, typ, "score", "2.5")
		require.NoError(t, err)
		assert.Equal(t, "k1", got.Key())

		// Engine-specific spellings never match.
		_, err = b.LookupByAttribute(ctx, typ, "pinned", "1")
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = b.LookupByAttribute(ctx, typ, "score", "1.0e-07")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("DuplicateKeyConflicts", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		require.NoError(t, b.Insert(ctx, NewNote(t, "k1", "hello", "Hello")))

		err := b.Insert(ctx, NewNote(t, "k1", "other", "Other"))
		assert.ErrorIs(t, err, model.ErrConflict)
	})

	t.Run("DuplicateLiveSlugConflicts", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		require.NoError(t, b.Insert(ctx, NewNote(t, "k1", "hello", "Hello")))

		err := b.Insert(ctx, NewNote(t, "k2", "hello", "Hello again"))
		assert.ErrorIs(t, err, model.ErrConflict)
	})

	t.Run("SoftDeletedRecordsReleaseSlug", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		typ := NoteType()

		e := NewNote(t, "k1", "hello", "Hello")
		require.NoError(t, b.Insert(ctx, e))
		e.MarkPersisted(b)
		require.NoError(t, e.SetAttr(model.AttrDeleteTime, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
		require.NoError(t, b.Update(ctx, e))

		_, err := b.LookupByAttribute(ctx, typ, "slug", "hello")
		assert.ErrorIs(t, err, model.ErrNotFound)

		got, err := b.LookupByKey(ctx, typ, "k1")
		require.NoError(t, err)
		assert.True(t, got.IsDeleted())

		require.NoError(t, b.Insert(ctx, NewNote(t, "k2", "hello", "Hello")))
	})

	t.Run("UpdateKeepsUnloadedDeferred", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		typ := NoteType()
		require.NoError(t, b.Insert(ctx, NewNote(t, "k1", "hello", "Hello")))

		got, err := b.LookupByKey(ctx, typ, "k1")
		require.NoError(t, err)
		require.NoError(t, got.SetAttr("views", 10))
		require.NoError(t, b.Update(ctx, got))

		again, err := b.LookupByKey(ctx, typ, "k1")
		require.NoError(t, err)
		views, _ := again.Attr("views")
		assert.Equal(t, int64(10), views)
		body, err := again.Get(ctx, "body")
		require.NoError(t, err)
		assert.Equal(t, "long text Hello", body)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		b := open(t)
		err := b.Update(context.Background(), NewNote(t, "k1", "hello", "Hello"))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("LogsPersistWithWrites", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		typ := NoteType()
		ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		e := NewNote(t, "k1", "hello", "Hello")
		_, err := e.Info("create", "created", nil)
		require.NoError(t, err)
		e.StampPendingLogs(ts)
		require.NoError(t, b.Insert(ctx, e))
		e.ClearLogs()

		_, err = e.Warn("edit", "edited", []byte("diff"))
		require.NoError(t, err)
		e.StampPendingLogs(ts.Add(time.Minute))
		require.NoError(t, b.Update(ctx, e))

		msgs, err := b.Logs(ctx, typ, "k1")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, model.LevelInfo, msgs[0].Level)
		assert.Equal(t, "create", msgs[0].Qualifier)
		assert.True(t, ts.Equal(msgs[0].Timestamp))
		assert.Equal(t, model.LevelWarn, msgs[1].Level)
		assert.Equal(t, []byte("diff"), msgs[1].Data)
	})

	t.Run("DeleteRemovesRecordAndLogs", func(t *testing.T) {
		ctx := context.Background()
		b := open(t)
		typ := NoteType()

		e := NewNote(t, "k1", "hello", "Hello")
		_, err := e.Info("create", "created", nil)
		require.NoError(t, err)
		e.StampPendingLogs(time.Now())
		require.NoError(t, b.Insert(ctx, e))

		require.NoError(t, b.Delete(ctx, typ, "k1"))
		_, err = b.LookupByKey(ctx, typ, "k1")
		assert.ErrorIs(t, err, model.ErrNotFound)
		msgs, err := b.Logs(ctx, typ, "k1")
		require.NoError(t, err)
		assert.Empty(t, msgs)

		assert.ErrorIs(t, b.Delete(ctx, typ, "k1"), model.ErrNotFound)
	})

	t.Run("UnkeyedTypeCannotBeStored", func(t *testing.T) {
		b := open(t)
		typ := &model.Type{Name: "loose", Attributes: []model.Attribute{{Name: "x", Kind: model.KindString}}}
		e, err := model.New(typ, map[string]any{"x": "y"})
		require.NoError(t, err)
		assert.True(t, model.IsConfigurationError(b.Insert(context.Background(), e)))
	})
}
