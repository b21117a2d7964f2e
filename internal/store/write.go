package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/batteries/internal/model"
)

// Insert writes a new record and its queued log messages in one
// transaction. A duplicate key or live slug yields model.ErrConflict.
func (s *SQLStore) Insert(ctx context.Context, e *model.Entity) error {
	row, err := EncodeRow(e)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert %s: begin: %w", e, err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO records (type, key, slug, attrs, deferred, delete_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`), row.Type, row.Key, nullString(row.Slug), string(row.Attrs), string(row.Deferred), nullString(row.DeleteTime))
	if err != nil {
		// The (type, key) primary key or the live-slug unique index
		// rejected the row.
		if s.dialect.IsConflict(err) {
			return fmt.Errorf("insert %s: %w", e, model.ErrConflict)
		}
		return fmt.Errorf("insert %s: %w", e, err)
	}

	// Logs share the transaction so a failed log write leaves no row.
	if err := s.writeLogs(ctx, tx, row.Type, row.Key, e.PendingLogs()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert %s: commit: %w", e, err)
	}
	return nil
}

// Update rewrites an existing record and appends its queued log messages.
// Unloaded deferred attributes are loaded first so they survive the rewrite.
func (s *SQLStore) Update(ctx context.Context, e *model.Entity) error {
	if err := Prepare(ctx, e); err != nil {
		return err
	}
	row, err := EncodeRow(e)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update %s: begin: %w", e, err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE records SET slug = ?, attrs = ?, deferred = ?, delete_time = ?
		WHERE type = ? AND key = ?
	`), nullString(row.Slug), string(row.Attrs), string(row.Deferred), nullString(row.DeleteTime), row.Type, row.Key)
	if err != nil {
		// Only the live-slug index can fire here: another live record of
		// the type already holds the new slug.
		if s.dialect.IsConflict(err) {
			return fmt.Errorf("update %s: %w", e, model.ErrConflict)
		}
		return fmt.Errorf("update %s: %w", e, err)
	}
	// No row matched: the record was never inserted or was hard-deleted.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s: %w", e, model.ErrNotFound)
	}

	if err := s.writeLogs(ctx, tx, row.Type, row.Key, e.PendingLogs()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update %s: commit: %w", e, err)
	}
	return nil
}

// Delete removes a record and its log messages.
func (s *SQLStore) Delete(ctx context.Context, typ *model.Type, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %s %s: begin: %w", typ.Name, key, err)
	}
	defer tx.Rollback() // No-op if committed

	// The FK cascades too; deleting logs explicitly keeps the order obvious.
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM log_messages WHERE type = ? AND key = ?`), typ.Name, key); err != nil {
		return fmt.Errorf("delete %s %s logs: %w", typ.Name, key, err)
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM records WHERE type = ? AND key = ?`), typ.Name, key)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", typ.Name, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete %s %s: %w", typ.Name, key, model.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %s %s: commit: %w", typ.Name, key, err)
	}
	return nil
}

func (s *SQLStore) writeLogs(ctx context.Context, tx *sql.Tx, typeName, key string, msgs []model.LogMessage) error {
	for _, m := range msgs {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO log_messages (type, key, level, timestamp, qualifier, message, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), typeName, key, string(m.Level), m.Timestamp.UTC().Format(time.RFC3339Nano), m.Qualifier, m.Message, m.Data)
		if err != nil {
			return fmt.Errorf("write log message for %s %s: %w", typeName, key, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
