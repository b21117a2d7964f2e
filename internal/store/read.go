package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/batteries/internal/model"
)

// LookupByKey returns the record of typ with key, soft-deleted or not.
func (s *SQLStore) LookupByKey(ctx context.Context, typ *model.Type, key string) (*model.Entity, error) {
	var attrs []byte
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT attrs FROM records WHERE type = ? AND key = ?
	`), typ.Name, key).Scan(&attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", typ.Name, key, err)
	}
	return DecodeRow(typ, attrs, s)
}

// LookupByAttribute returns a live record of typ whose attribute has the
// text form value. Slug and key lookups use their indexed columns.
func (s *SQLStore) LookupByAttribute(ctx context.Context, typ *model.Type, attr, value string) (*model.Entity, error) {
	a, ok := typ.Attribute(attr)
	if !ok {
		return nil, model.NewConfigurationError(typ.Name, attr, "attribute is not declared")
	}
	if a.Deferred {
		return nil, model.NewConfigurationError(typ.Name, attr, "deferred attributes cannot be looked up")
	}

	var (
		query string
		args  []any
	)
	switch attr {
	case typ.SlugAttribute():
		query = `SELECT attrs FROM records WHERE type = ? AND slug = ? AND delete_time IS NULL LIMIT 1`
		args = []any{typ.Name, value}
	case typ.KeyAttribute():
		query = `SELECT attrs FROM records WHERE type = ? AND key = ? AND delete_time IS NULL LIMIT 1`
		args = []any{typ.Name, value}
	default:
		if a.Kind != model.KindString {
			return s.scanAttribute(ctx, typ, attr, value)
		}
		// Engines agree on the text of JSON strings only.
		query = `SELECT attrs FROM records WHERE type = ? AND ` + s.dialect.AttrEquals +
			` AND delete_time IS NULL ORDER BY key LIMIT 1`
		args = []any{typ.Name, s.dialect.AttrParam(attr), value}
	}

	var attrs []byte
	err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s=%q: %w", typ.Name, attr, value, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s=%q: %w", typ.Name, attr, value, err)
	}
	return DecodeRow(typ, attrs, s)
}

// scanAttribute matches non-string attributes in Go, in key order, so that
// numbers and booleans compare by the same text form on every backend.
func (s *SQLStore) scanAttribute(ctx context.Context, typ *model.Type, attr, value string) (*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT key, attrs FROM records
		WHERE type = ? AND delete_time IS NULL
		ORDER BY key
	`), typ.Name)
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s=%q: %w", typ.Name, attr, value, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			attrs []byte
		)
		if err := rows.Scan(&key, &attrs); err != nil {
			return nil, fmt.Errorf("scan %s: %w", typ.Name, err)
		}
		match, err := MatchAttr(attrs, attr, value)
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", typ.Name, key, err)
		}
		if match {
			return DecodeRow(typ, attrs, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", typ.Name, err)
	}
	return nil, fmt.Errorf("%s %s=%q: %w", typ.Name, attr, value, model.ErrNotFound)
}

// LoadDeferred returns the raw stored deferred attributes of a record.
func (s *SQLStore) LoadDeferred(ctx context.Context, typ *model.Type, key string) (map[string]any, error) {
	var deferred []byte
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT deferred FROM records WHERE type = ? AND key = ?
	`), typ.Name, key).Scan(&deferred)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load deferred %s %s: %w", typ.Name, key, err)
	}
	return DecodeJSON(deferred)
}

// Logs returns a record's log messages in write order.
func (s *SQLStore) Logs(ctx context.Context, typ *model.Type, key string) ([]model.LogMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT level, timestamp, qualifier, message, data
		FROM log_messages
		WHERE type = ? AND key = ?
		ORDER BY id ASC
	`), typ.Name, key)
	if err != nil {
		return nil, fmt.Errorf("query logs %s %s: %w", typ.Name, key, err)
	}
	defer rows.Close()

	var msgs []model.LogMessage
	for rows.Next() {
		var (
			m     model.LogMessage
			level string
			ts    string
		)
		if err := rows.Scan(&level, &ts, &m.Qualifier, &m.Message, &m.Data); err != nil {
			return nil, fmt.Errorf("scan log message: %w", err)
		}
		m.Level = model.LogLevel(level)
		if m.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse log timestamp %q: %w", ts, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return msgs, nil
}
