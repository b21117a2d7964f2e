package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/batteries/internal/attach"
	"github.com/roach88/batteries/internal/blob"
	blobmemory "github.com/roach88/batteries/internal/blob/memory"
	"github.com/roach88/batteries/internal/keys"
	"github.com/roach88/batteries/internal/metrics"
	"github.com/roach88/batteries/internal/model"
	"github.com/roach88/batteries/internal/serial"
	"github.com/roach88/batteries/internal/store/memory"
	"github.com/roach88/batteries/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func postType() *model.Type {
	return &model.Type{
		Name: "post",
		Attributes: []model.Attribute{
			{Name: "title", Kind: model.KindString},
			{Name: "body", Kind: model.KindString, Deferred: true},
			{Name: "cover", Kind: model.KindFile, Prefix: "covers"},
		},
		Key:        &model.KeySpec{},
		Slug:       &model.SlugSpec{NamedWith: []string{"title"}, MaxLength: 40},
		SoftDelete: true,
		Timestamps: true,
	}
}

func auditedType() *model.Type {
	return &model.Type{
		Name:       "invoice",
		Attributes: []model.Attribute{{Name: "number", Kind: model.KindString}},
		Key:        &model.KeySpec{KeyedOn: []string{"number"}},
		Logging:    &model.LoggingSpec{Required: true},
	}
}

type fixture struct {
	s     *Session
	blobs *blobmemory.Store
	spans *tracetest.SpanRecorder
	reg   *prometheus.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	blobs := blobmemory.New()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	clock := testutil.NewDeterministicClock(epoch).WithStep(time.Minute)
	s := New(memory.New(),
		WithClock(clock.Now),
		WithBlobStore(blobs),
		WithTracerProvider(tp),
		WithMetrics(m),
		WithDeriver(keys.NewDeriver(keys.WithNonce(testutil.SequenceNonce("n")), keys.WithObserver(m))),
	)
	return fixture{s: s, blobs: blobs, spans: spans, reg: reg}
}

func newPost(t *testing.T, title string) *model.Entity {
	t.Helper()
	e, err := model.New(postType(), map[string]any{"title": title, "body": "body of " + title})
	require.NoError(t, err)
	return e
}

func TestInsert_AssignsKeySlugAndTimestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := newPost(t, "Hello World")
	require.NoError(t, f.s.Insert(ctx, e))

	assert.Equal(t, keys.Digest("n-1"), e.Key())
	assert.Equal(t, "hello-world", e.Slug())
	assert.True(t, e.Persisted())
	ctime, _ := e.Attr(model.AttrCreateTime)
	mtime, _ := e.Attr(model.AttrModifyTime)
	assert.Equal(t, epoch, ctime)
	assert.Equal(t, epoch, mtime)

	got, err := f.s.Get(ctx, postType(), e.Key())
	require.NoError(t, err)
	assert.Equal(t, "hello-world", got.Slug())
}

func TestInsert_SlugCollisionGetsSuffix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := newPost(t, "Same Title")
	second := newPost(t, "Same Title")
	require.NoError(t, f.s.Insert(ctx, first))
	require.NoError(t, f.s.Insert(ctx, second))

	assert.Equal(t, "same-title", first.Slug())
	assert.Equal(t, "same-title-1", second.Slug())
	assert.NotEqual(t, first.Key(), second.Key())
}

func TestInsert_DerivationFailureLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t)

	e, err := model.New(postType(), map[string]any{"body": "no title"})
	require.NoError(t, err)

	err = f.s.Insert(context.Background(), e)
	require.Error(t, err)
	assert.True(t, model.IsConfigurationError(err))

	_, hasKey := e.Attr("key")
	_, hasSlug := e.Attr("slug")
	_, hasCtime := e.Attr(model.AttrCreateTime)
	assert.False(t, hasKey)
	assert.False(t, hasSlug)
	assert.False(t, hasCtime)
	assert.False(t, e.Persisted())
}

func TestInsert_ConflictRestoresDerivedAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := model.New(auditedType(), map[string]any{"number": "INV-1"})
	require.NoError(t, err)
	_, err = first.Info("create", "issued", nil)
	require.NoError(t, err)
	require.NoError(t, f.s.Insert(ctx, first))

	dup, err := model.New(auditedType(), map[string]any{"number": "INV-1"})
	require.NoError(t, err)
	_, err = dup.Info("create", "issued again", nil)
	require.NoError(t, err)

	err = f.s.Insert(ctx, dup)
	assert.ErrorIs(t, err, model.ErrConflict)
	_, hasKey := dup.Attr("key")
	assert.False(t, hasKey)
}

func TestInsert_LogRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := model.New(auditedType(), map[string]any{"number": "INV-7"})
	require.NoError(t, err)

	err = f.s.Insert(ctx, e)
	require.Error(t, err)
	assert.True(t, model.IsLogRequired(err))
	assert.Equal(t, "", e.Key())

	_, err = e.Info("billing", "issued", []byte("pdf"))
	require.NoError(t, err)
	require.NoError(t, f.s.Insert(ctx, e))
	assert.False(t, e.Logged())

	msgs, err := f.s.Logs(ctx, auditedType(), e.Key())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "billing", msgs[0].Qualifier)
	assert.False(t, msgs[0].Timestamp.IsZero())

	// Every update needs a fresh message too.
	err = f.s.Update(ctx, e)
	assert.True(t, model.IsLogRequired(err))
}

func TestInsert_FlushesAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := newPost(t, "With Cover")
	cover := attach.New("covers", "cover.txt")
	_, err := cover.WriteString("pixels")
	require.NoError(t, err)
	require.NoError(t, e.SetAttr("cover", cover))

	require.NoError(t, f.s.Insert(ctx, e))
	assert.False(t, cover.Dirty())

	data, err := cover.ReadAll(ctx, f.blobs)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	info, err := f.blobs.Head(ctx, "covers/cover.txt")
	require.NoError(t, err)
	assert.Equal(t, "post", info.Metadata["record-type"])
	assert.Equal(t, e.Key(), info.Metadata["record-key"])
}

func TestAttachments_ListsReferencedBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := newPost(t, "Listed")
	cover := attach.New("covers", "listed.txt")
	_, err := cover.WriteString("pixels")
	require.NoError(t, err)
	require.NoError(t, e.SetAttr("cover", cover))
	require.NoError(t, f.s.Insert(ctx, e))

	// Another record's blob under the same prefix is not reported.
	_, err = f.blobs.Put(ctx, "covers/other.txt", strings.NewReader("x"), blob.PutOptions{})
	require.NoError(t, err)

	got, err := f.s.Attachments(ctx, e)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cover", got[0].Attribute)
	assert.Equal(t, "covers/listed.txt", got[0].Blob.Key)
	assert.Equal(t, int64(6), got[0].Blob.Size)
	assert.Equal(t, e.Key(), got[0].Blob.Metadata["record-key"])

	bare := newPost(t, "Bare")
	got, err = f.s.Attachments(ctx, bare)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = New(memory.New()).Attachments(ctx, e)
	assert.True(t, model.IsConfigurationError(err))
}

func TestInsert_DirtyAttachmentNeedsBlobStore(t *testing.T) {
	s := New(memory.New())
	e := newPost(t, "No Store")
	cover := attach.New("covers", "x.txt")
	_, err := cover.WriteString("x")
	require.NoError(t, err)
	require.NoError(t, e.SetAttr("cover", cover))

	err = s.Insert(context.Background(), e)
	assert.True(t, model.IsConfigurationError(err))
}

func TestUpdate_RefreshesModifyTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := newPost(t, "Edit Me")
	require.NoError(t, f.s.Insert(ctx, e))
	require.NoError(t, e.SetAttr("title", "Edited"))
	require.NoError(t, f.s.Update(ctx, e))

	ctime, _ := e.Attr(model.AttrCreateTime)
	mtime, _ := e.Attr(model.AttrModifyTime)
	assert.Equal(t, epoch, ctime)
	assert.Equal(t, epoch.Add(time.Minute), mtime)
	assert.Equal(t, "edit-me", e.Slug(), "slug is fixed after insert")
}

func TestDelete_SoftDeleteHidesSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := newPost(t, "Gone Soon")
	require.NoError(t, f.s.Insert(ctx, e))
	require.NoError(t, f.s.Delete(ctx, e))
	assert.True(t, e.IsDeleted())

	_, err := f.s.GetBySlug(ctx, postType(), "gone-soon")
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := f.s.Get(ctx, postType(), e.Key())
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())

	again := newPost(t, "Gone Soon")
	require.NoError(t, f.s.Insert(ctx, again))
	assert.Equal(t, "gone-soon", again.Slug())
}

func TestDelete_HardDeleteRemovesAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	typ := postType()
	typ.SoftDelete = false
	e, err := model.New(typ, map[string]any{"title": "Hard"})
	require.NoError(t, err)
	cover := attach.New("covers", "hard.txt")
	_, err = cover.WriteString("bytes")
	require.NoError(t, err)
	require.NoError(t, e.SetAttr("cover", cover))
	require.NoError(t, f.s.Insert(ctx, e))

	require.NoError(t, f.s.Delete(ctx, e))

	_, err = f.s.Get(ctx, typ, e.Key())
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.blobs.Head(ctx, "covers/hard.txt")
	assert.Error(t, err)
}

func TestGetBySlug_RequiresSlugType(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.GetBySlug(context.Background(), auditedType(), "x")
	assert.True(t, model.IsConfigurationError(err))
}

func TestSerialize_LoadsSelectedDeferredAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := newPost(t, "Deferred")
	require.NoError(t, f.s.Insert(ctx, e))

	got, err := f.s.Get(ctx, postType(), e.Key())
	require.NoError(t, err)

	out, err := f.s.Serialize(ctx, got, serial.Selection{Fields: []string{"slug"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"slug": "deferred"}, out)
	assert.Equal(t, []string{"body"}, got.Unloaded())

	out, err = f.s.Serialize(ctx, got, serial.Selection{Fields: []string{"slug", "body"}})
	require.NoError(t, err)
	assert.Equal(t, "body of Deferred", out["body"])
}

func TestSpansRecordOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := newPost(t, "Traced")
	require.NoError(t, f.s.Insert(ctx, e))
	_, err := f.s.GetBySlug(ctx, postType(), "missing")
	require.Error(t, err)

	ended := f.spans.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, "session.Insert", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("record.type", "post"))
	assert.Contains(t, ended[0].Attributes(), attribute.String("record.key", e.Key()))
	assert.Equal(t, codes.Unset, ended[0].Status().Code)

	assert.Equal(t, "session.GetBySlug", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
}

func TestMetricsCountDerivations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.s.Insert(ctx, newPost(t, "Counted")))
	require.NoError(t, f.s.Insert(ctx, newPost(t, "Counted")))

	expected := `
# HELP batteries_keys_derived_total Record keys assigned, by type and derivation mode
# TYPE batteries_keys_derived_total counter
batteries_keys_derived_total{mode="uuid",type="post"} 2
# HELP batteries_slug_collisions_total Slug candidates already taken
# TYPE batteries_slug_collisions_total counter
batteries_slug_collisions_total{type="post"} 1
`
	require.NoError(t, promtest.GatherAndCompare(f.reg, strings.NewReader(expected),
		"batteries_keys_derived_total", "batteries_slug_collisions_total"))
}
