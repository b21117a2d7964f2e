// Package memory provides an in-process store.Backend for tests and
// ephemeral CLI runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/batteries/internal/model"
	"github.com/roach88/batteries/internal/store"
)

type recordID struct{ typ, key string }

// Store keeps encoded rows in maps guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	rows map[recordID]store.Row
	logs map[recordID][]model.LogMessage
}

var _ store.Backend = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		rows: make(map[recordID]store.Row),
		logs: make(map[recordID][]model.LogMessage),
	}
}

// Insert implements store.Backend.
func (s *Store) Insert(_ context.Context, e *model.Entity) error {
	row, err := store.EncodeRow(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID{row.Type, row.Key}
	if _, ok := s.rows[id]; ok {
		return fmt.Errorf("insert %s: %w", e, model.ErrConflict)
	}
	if s.slugTakenLocked(row) {
		return fmt.Errorf("insert %s: slug %q: %w", e, row.Slug, model.ErrConflict)
	}
	s.rows[id] = row
	s.logs[id] = append(s.logs[id], e.PendingLogs()...)
	return nil
}

// Update implements store.Backend.
func (s *Store) Update(ctx context.Context, e *model.Entity) error {
	if err := store.Prepare(ctx, e); err != nil {
		return err
	}
	row, err := store.EncodeRow(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID{row.Type, row.Key}
	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("update %s: %w", e, model.ErrNotFound)
	}
	if s.slugTakenLocked(row) {
		return fmt.Errorf("update %s: slug %q: %w", e, row.Slug, model.ErrConflict)
	}
	s.rows[id] = row
	s.logs[id] = append(s.logs[id], e.PendingLogs()...)
	return nil
}

// slugTakenLocked reports whether another live row of the same type holds
// row's slug. A soft-deleted row never competes.
func (s *Store) slugTakenLocked(row store.Row) bool {
	if row.Slug == "" || row.DeleteTime != "" {
		return false
	}
	for id, other := range s.rows {
		if id.typ == row.Type && id.key != row.Key && other.DeleteTime == "" && other.Slug == row.Slug {
			return true
		}
	}
	return false
}

// Delete implements store.Backend.
func (s *Store) Delete(_ context.Context, typ *model.Type, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := recordID{typ.Name, key}
	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("delete %s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	delete(s.rows, id)
	delete(s.logs, id)
	return nil
}

// LookupByKey implements store.Backend.
func (s *Store) LookupByKey(_ context.Context, typ *model.Type, key string) (*model.Entity, error) {
	s.mu.RLock()
	row, ok := s.rows[recordID{typ.Name, key}]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	return store.DecodeRow(typ, row.Attrs, s)
}

// LookupByAttribute implements store.Backend. Matches are compared on the
// text form of the stored value; ties resolve to the smallest key.
func (s *Store) LookupByAttribute(_ context.Context, typ *model.Type, attr, value string) (*model.Entity, error) {
	a, ok := typ.Attribute(attr)
	if !ok {
		return nil, model.NewConfigurationError(typ.Name, attr, "attribute is not declared")
	}
	if a.Deferred {
		return nil, model.NewConfigurationError(typ.Name, attr, "deferred attributes cannot be looked up")
	}

	s.mu.RLock()
	var candidates []store.Row
	for id, row := range s.rows {
		if id.typ == typ.Name && row.DeleteTime == "" {
			candidates = append(candidates, row)
		}
	}
	s.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Key < candidates[j].Key })

	for _, row := range candidates {
		match, err := store.MatchAttr(row.Attrs, attr, value)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", typ.Name, row.Key, err)
		}
		if match {
			return store.DecodeRow(typ, row.Attrs, s)
		}
	}
	return nil, fmt.Errorf("%s %s=%q: %w", typ.Name, attr, value, model.ErrNotFound)
}

// LoadDeferred implements model.DeferredLoader.
func (s *Store) LoadDeferred(_ context.Context, typ *model.Type, key string) (map[string]any, error) {
	s.mu.RLock()
	row, ok := s.rows[recordID{typ.Name, key}]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	return store.DecodeJSON(row.Deferred)
}

// Logs implements store.Backend.
func (s *Store) Logs(_ context.Context, typ *model.Type, key string) ([]model.LogMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.LogMessage(nil), s.logs[recordID{typ.Name, key}]...), nil
}

// Close implements store.Backend.
func (s *Store) Close() error { return nil }
