// Package postgres opens a store.Backend on Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/roach88/batteries/internal/store"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/batteries?sslmode=disable"

	uniqueViolation = "23505"
)

//go:embed schema.sql
var schemaSQL string

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect is the Postgres dialect: $n placeholders and JSON ->> lookups.
var Dialect = store.Dialect{
	Name:       "postgres",
	Rebind:     store.RebindDollar,
	AttrEquals: "attrs->>? = ?",
	AttrParam:  func(name string) string { return name },
	IsConflict: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
	},
}

// Open connects to dsn (falling back to a local default) and applies the
// schema.
func Open(ctx context.Context, dsn string) (*store.SQLStore, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return store.NewSQL(db, Dialect), nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// OverrideSQLOpen swaps the sql.Open implementation for tests. It returns a
// function restoring the previous opener.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}
