// Package pg implements the request engine's Store on Postgres. Constraint
// enforcement lives in the schema: the partial unique index on pending
// requests backs duplicate detection, foreign keys back referential errors,
// and the merge runs as one transaction.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"crewarchive.org/internal/requests"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Store is a Postgres-backed requests.Store.
type Store struct {
	db *sql.DB
}

var _ requests.Store = (*Store)(nil)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("pg: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: open: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping reports connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// mapConstraint converts FK violations to ErrNotFound: a missing referenced
// row and a rejected reference look the same to the caller.
func mapConstraint(err error) error {
	if isPgCode(err, pgForeignKeyViolation) {
		return fmt.Errorf("%w: referenced row missing", requests.ErrNotFound)
	}
	return err
}
