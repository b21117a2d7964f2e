// Package session runs record lifecycle operations against a store backend:
// key and slug derivation, audit timestamps and logs, attachment flushing,
// soft delete and retrieval.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/batteries/internal/attach"
	"github.com/roach88/batteries/internal/blob"
	"github.com/roach88/batteries/internal/keys"
	"github.com/roach88/batteries/internal/metrics"
	"github.com/roach88/batteries/internal/model"
	"github.com/roach88/batteries/internal/serial"
	"github.com/roach88/batteries/internal/slug"
	"github.com/roach88/batteries/internal/store"
)

const tracerName = "github.com/roach88/batteries/internal/session"

// Session is safe for concurrent use; the entities passed to it are not.
type Session struct {
	backend    store.Backend
	blobs      blob.Store
	deriver    *keys.Deriver
	resolver   *slug.Resolver
	serializer *serial.Serializer
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics.Collectors
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the time source for audit timestamps, soft deletes and log
// messages.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) { s.tracer = tp.Tracer(tracerName) }
}

// WithMetrics reports derivation, serialization and timing metrics to m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Session) { s.metrics = m }
}

// WithBlobStore sets the store file attachments are flushed to.
func WithBlobStore(b blob.Store) Option {
	return func(s *Session) { s.blobs = b }
}

// WithDeriver replaces the default key deriver.
func WithDeriver(d *keys.Deriver) Option {
	return func(s *Session) { s.deriver = d }
}

// WithResolver replaces the default slug resolver, which looks slugs up in
// the session's backend.
func WithResolver(r *slug.Resolver) Option {
	return func(s *Session) { s.resolver = r }
}

// WithSerializer replaces the default serializer.
func WithSerializer(z *serial.Serializer) Option {
	return func(s *Session) { s.serializer = z }
}

// New creates a Session over backend.
func New(backend store.Backend, opts ...Option) *Session {
	s := &Session{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
		tracer:  otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deriver == nil {
		kopts := []keys.Option{keys.WithLogger(s.logger)}
		if s.metrics != nil {
			kopts = append(kopts, keys.WithObserver(s.metrics))
		}
		s.deriver = keys.NewDeriver(kopts...)
	}
	if s.resolver == nil {
		ropts := []slug.Option{slug.WithLogger(s.logger)}
		if s.metrics != nil {
			ropts = append(ropts, slug.WithObserver(s.metrics))
		}
		s.resolver = slug.NewResolver(backend, ropts...)
	}
	if s.serializer == nil {
		s.serializer = serial.Default()
	}
	return s
}

// Backend returns the session's store backend.
func (s *Session) Backend() store.Backend {
	return s.backend
}

// Blobs returns the attachment store, or nil.
func (s *Session) Blobs() blob.Store {
	return s.blobs
}

func (s *Session) start(ctx context.Context, op string, typ *model.Type) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "session."+op,
		trace.WithAttributes(attribute.String("record.type", typ.Name)))
	return ctx, span, time.Now()
}

func (s *Session) finish(span trace.Span, op string, started time.Time, key string, err error) {
	if key != "" {
		span.SetAttributes(attribute.String("record.key", key))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, started, err)
	}
	span.End()
}

// snapshot remembers attribute values so a failed write can undo derived
// assignments.
type snapshot struct {
	e      *model.Entity
	values map[string]any
	absent map[string]bool
}

func takeSnapshot(e *model.Entity, names ...string) snapshot {
	snap := snapshot{e: e, values: map[string]any{}, absent: map[string]bool{}}
	for _, name := range names {
		if name == "" {
			continue
		}
		if v, ok := e.Attr(name); ok {
			snap.values[name] = v
		} else {
			snap.absent[name] = true
		}
	}
	return snap
}

func (snap snapshot) restore() {
	for name := range snap.absent {
		snap.e.Unset(name)
	}
	for name, v := range snap.values {
		_ = snap.e.SetAttr(name, v)
	}
}

// Insert derives the record's key and slug, stamps audit timestamps and
// queued log messages, flushes dirty attachments and writes the record.
//
// Any failure leaves the derived attributes as they were before the call.
func (s *Session) Insert(ctx context.Context, e *model.Entity) (err error) {
	typ := e.Type()
	ctx, span, started := s.start(ctx, "Insert", typ)
	defer func() { s.finish(span, "Insert", started, e.Key(), err) }()

	if e.Persisted() {
		return fmt.Errorf("insert %s: %w", e, model.ErrConflict)
	}

	snap := takeSnapshot(e, typ.KeyAttribute(), typ.SlugAttribute(), timestampAttr(typ, model.AttrCreateTime), timestampAttr(typ, model.AttrModifyTime))
	defer func() {
		if err != nil {
			snap.restore()
		}
	}()

	now := s.now().UTC()
	if typ.Timestamps {
		if v, ok := e.Attr(model.AttrCreateTime); !ok || v == nil {
			if err := e.SetAttr(model.AttrCreateTime, now); err != nil {
				return err
			}
		}
		if err := e.SetAttr(model.AttrModifyTime, now); err != nil {
			return err
		}
	}

	if _, err := s.deriver.EnsureKey(e); err != nil {
		return err
	}
	if _, err := s.resolver.EnsureSlug(ctx, e); err != nil {
		return err
	}
	if err := s.checkLogged(e, "insert"); err != nil {
		return err
	}
	e.StampPendingLogs(now)

	if err := s.flushAttachments(ctx, e); err != nil {
		return err
	}
	if err := s.backend.Insert(ctx, e); err != nil {
		return err
	}

	e.MarkPersisted(s.backend)
	e.ClearLogs()
	s.logger.Info("record inserted", "type", typ.Name, "key", e.Key(), "slug", e.Slug())
	return nil
}

// Update refreshes mtime, flushes dirty attachments and rewrites the record.
func (s *Session) Update(ctx context.Context, e *model.Entity) (err error) {
	typ := e.Type()
	ctx, span, started := s.start(ctx, "Update", typ)
	defer func() { s.finish(span, "Update", started, e.Key(), err) }()

	return s.update(ctx, e, "update")
}

func (s *Session) update(ctx context.Context, e *model.Entity, op string) (err error) {
	typ := e.Type()
	snap := takeSnapshot(e, typ.KeyAttribute(), timestampAttr(typ, model.AttrModifyTime))
	defer func() {
		if err != nil {
			snap.restore()
		}
	}()

	now := s.now().UTC()
	if _, err := s.deriver.EnsureKey(e); err != nil {
		return err
	}
	if typ.Timestamps {
		if err := e.SetAttr(model.AttrModifyTime, now); err != nil {
			return err
		}
	}
	if err := s.checkLogged(e, op); err != nil {
		return err
	}
	e.StampPendingLogs(now)

	if err := s.flushAttachments(ctx, e); err != nil {
		return err
	}
	if err := s.backend.Update(ctx, e); err != nil {
		return err
	}

	e.MarkPersisted(s.backend)
	e.ClearLogs()
	s.logger.Debug("record updated", "type", typ.Name, "key", e.Key())
	return nil
}

// Delete soft-deletes the record when its type opts in, setting delete_time
// and rewriting it. Otherwise the record, its log messages and its stored
// attachments are removed.
func (s *Session) Delete(ctx context.Context, e *model.Entity) (err error) {
	typ := e.Type()
	ctx, span, started := s.start(ctx, "Delete", typ)
	defer func() { s.finish(span, "Delete", started, e.Key(), err) }()

	if typ.SoftDelete {
		if e.IsDeleted() {
			return nil
		}
		prev, had := e.Attr(model.AttrDeleteTime)
		if err := e.SetAttr(model.AttrDeleteTime, s.now().UTC()); err != nil {
			return err
		}
		if err := s.update(ctx, e, "delete"); err != nil {
			if had {
				_ = e.SetAttr(model.AttrDeleteTime, prev)
			} else {
				e.Unset(model.AttrDeleteTime)
			}
			return err
		}
		s.logger.Info("record soft-deleted", "type", typ.Name, "key", e.Key())
		return nil
	}

	if err := e.Load(ctx); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, typ, e.Key()); err != nil {
		return err
	}
	if err := s.removeAttachments(ctx, e); err != nil {
		return err
	}
	s.logger.Info("record deleted", "type", typ.Name, "key", e.Key())
	return nil
}

// Get returns the record of typ with key, including soft-deleted records.
func (s *Session) Get(ctx context.Context, typ *model.Type, key string) (e *model.Entity, err error) {
	ctx, span, started := s.start(ctx, "Get", typ)
	defer func() { s.finish(span, "Get", started, key, err) }()

	return s.backend.LookupByKey(ctx, typ, key)
}

// GetBySlug returns the live record of typ holding slug.
func (s *Session) GetBySlug(ctx context.Context, typ *model.Type, slugValue string) (e *model.Entity, err error) {
	ctx, span, started := s.start(ctx, "GetBySlug", typ)
	defer func() {
		key := ""
		if e != nil {
			key = e.Key()
		}
		s.finish(span, "GetBySlug", started, key, err)
	}()

	if typ.Slug == nil {
		return nil, model.NewConfigurationError(typ.Name, "", "type has no slug")
	}
	return s.backend.LookupByAttribute(ctx, typ, typ.SlugAttribute(), slugValue)
}

// Logs returns the audit log of a record in write order.
func (s *Session) Logs(ctx context.Context, typ *model.Type, key string) (msgs []model.LogMessage, err error) {
	ctx, span, started := s.start(ctx, "Logs", typ)
	defer func() { s.finish(span, "Logs", started, key, err) }()

	return s.backend.Logs(ctx, typ, key)
}

// Attachment is a stored blob referenced by one of a record's file
// attributes.
type Attachment struct {
	Attribute string    `json:"attribute"`
	Blob      blob.Info `json:"blob"`
}

// Attachments lists the blobs e's file attributes reference, in attribute
// order. Attributes whose blob is missing from the store are skipped.
func (s *Session) Attachments(ctx context.Context, e *model.Entity) (out []Attachment, err error) {
	typ := e.Type()
	ctx, span, started := s.start(ctx, "Attachments", typ)
	defer func() { s.finish(span, "Attachments", started, e.Key(), err) }()

	if s.blobs == nil {
		return nil, model.NewConfigurationError(typ.Name, "", "no blob store configured for attachments")
	}
	listed := map[string]map[string]blob.Info{}
	for _, a := range typ.AllAttributes() {
		if a.Kind != model.KindFile {
			continue
		}
		v, _ := e.Attr(a.Name)
		f, ok := v.(*attach.File)
		if !ok || f == nil {
			continue
		}
		byKey, ok := listed[f.Prefix]
		if !ok {
			infos, err := s.blobs.List(ctx, listPrefix(f.Prefix))
			if err != nil {
				return nil, fmt.Errorf("list %s attachments: %w", s.blobs.Driver(), err)
			}
			byKey = make(map[string]blob.Info, len(infos))
			for _, info := range infos {
				byKey[info.Key] = info
			}
			listed[f.Prefix] = byKey
		}
		if info, ok := byKey[f.Key()]; ok {
			out = append(out, Attachment{Attribute: a.Name, Blob: info})
		}
	}
	return out, nil
}

func listPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return strings.TrimSuffix(prefix, "/") + "/"
}

// Serialize converts the selected fields of e, first loading deferred
// attributes the selection names.
func (s *Session) Serialize(ctx context.Context, e *model.Entity, sel serial.Selection) (map[string]any, error) {
	return s.serialize(ctx, e, sel, s.serializer)
}

// SerializeWith is Serialize under opts in place of the session's
// serializer options.
func (s *Session) SerializeWith(ctx context.Context, e *model.Entity, sel serial.Selection, opts serial.Options) (map[string]any, error) {
	return s.serialize(ctx, e, sel, serial.New(opts))
}

// Serializer returns the session's serializer.
func (s *Session) Serializer() *serial.Serializer {
	return s.serializer
}

func (s *Session) serialize(ctx context.Context, e *model.Entity, sel serial.Selection, z *serial.Serializer) (out map[string]any, err error) {
	typ := e.Type()
	ctx, span, started := s.start(ctx, "Serialize", typ)
	defer func() { s.finish(span, "Serialize", started, e.Key(), err) }()

	fields := sel.Resolve(model.SerializationSpecOf(e).Fields)
	for _, name := range e.Unloaded() {
		if slices.Contains(fields, name) {
			if err := e.Load(ctx); err != nil {
				return nil, err
			}
			break
		}
	}

	out, err = z.Serialize(e, sel)
	if err != nil && s.metrics != nil && model.IsSerializationError(err) {
		s.metrics.SerializationFailed(typ.Name)
	}
	return out, err
}

func (s *Session) checkLogged(e *model.Entity, op string) error {
	typ := e.Type()
	if typ.Logging != nil && typ.Logging.Required && !e.Logged() {
		return model.NewLogRequiredError(typ.Name, op)
	}
	return nil
}

func (s *Session) flushAttachments(ctx context.Context, e *model.Entity) error {
	for _, f := range attachments(e) {
		if !f.Dirty() {
			continue
		}
		if s.blobs == nil {
			return model.NewConfigurationError(e.Type().Name, "", "no blob store configured for attachments")
		}
		info, err := f.Flush(ctx, s.blobs, map[string]string{
			"record-type": e.Type().Name,
			"record-key":  e.Key(),
		})
		if err != nil {
			return err
		}
		s.logger.Debug("attachment flushed", "type", e.Type().Name, "key", e.Key(), "blob", info.Key, "size", info.Size)
	}
	return nil
}

func (s *Session) removeAttachments(ctx context.Context, e *model.Entity) error {
	files := attachments(e)
	if len(files) == 0 || s.blobs == nil {
		return nil
	}
	var errs []error
	for _, f := range files {
		removed, err := f.Remove(ctx, s.blobs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("attachment removed", "type", e.Type().Name, "key", e.Key(), "blob", f.Key(), "existed", removed)
	}
	return errors.Join(errs...)
}

func attachments(e *model.Entity) []*attach.File {
	var files []*attach.File
	for _, a := range e.Type().AllAttributes() {
		if a.Kind != model.KindFile {
			continue
		}
		if f, ok := e.Attr(a.Name); ok {
			if file, ok := f.(*attach.File); ok && file != nil {
				files = append(files, file)
			}
		}
	}
	return files
}

func timestampAttr(typ *model.Type, name string) string {
	if !typ.Timestamps {
		return ""
	}
	return name
}
