package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/batteries/internal/model"
)

// Lookup is the read side used by slug resolution and retrieval.
type Lookup interface {
	// LookupByKey returns the record of typ with key, soft-deleted or not.
	LookupByKey(ctx context.Context, typ *model.Type, key string) (*model.Entity, error)

	// LookupByAttribute returns a live record of typ whose attribute attr
	// has the string form value. Soft-deleted records are never returned.
	LookupByAttribute(ctx context.Context, typ *model.Type, attr, value string) (*model.Entity, error)
}

// Backend is a record store.
type Backend interface {
	Lookup
	model.DeferredLoader

	// Insert writes a new record and its queued log messages.
	Insert(ctx context.Context, e *model.Entity) error

	// Update rewrites an existing record and appends its queued log
	// messages.
	Update(ctx context.Context, e *model.Entity) error

	// Delete removes a record and its log messages.
	Delete(ctx context.Context, typ *model.Type, key string) error

	// Logs returns a record's log messages in write order.
	Logs(ctx context.Context, typ *model.Type, key string) ([]model.LogMessage, error)

	Close() error
}

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on log_messages.level
const currentSchemaVersion = 1

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL and busy_timeout must be in place before the schema DDL runs.
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	// schema.sql is all CREATE ... IF NOT EXISTS, so reopening is safe.
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return NewSQL(db, SQLite), nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		// WAL lets readers proceed while a write transaction is open.
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		// Wait up to 5s for a competing writer instead of failing with SQLITE_BUSY.
		"PRAGMA busy_timeout = 5000",
		// log_messages rows reference records(type, key).
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Each step is idempotent; user_version only records how far we got.
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes log levels for filtering audit trails by severity.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_log_messages_level ON log_messages(level)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLStore) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
