package store

import (
	"database/sql"
	"fmt"
)

// SQLStore is a Backend over database/sql. SQLite and Postgres share it
// through Dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ Backend = (*SQLStore)(nil)

// NewSQL wraps an open database whose schema is already applied.
func NewSQL(db *sql.DB, d Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d}
}

// DB returns the underlying database handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's dialect.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s store: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.dialect.Rebind(query)
}
