// Package store is the persistence layer over Postgres. One Store wraps a
// shared *sql.DB; entity operations live in jobs.go, sources.go, articles.go,
// logs.go and metrics.go. Every query is parameterized.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Sentinel errors callers branch on with errors.Is. Conflict covers unique
// violations; on dedup paths it means "already there", which is success.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrTransient    = errors.New("transient database error")
)

// Store wraps access to the database via a shared *sql.DB with pooling.
type Store struct {
	DB *sql.DB
}

// New creates a new Store that uses a shared *sql.DB.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// withTx runs fn inside a transaction and classifies the outcome. Rollback
// after a failed fn is best-effort; the driver discards the tx either way.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// classify maps driver errors onto the store's sentinel taxonomy. Errors that
// already carry a sentinel pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case pgErr.Code == "23503" || pgErr.Code == "23514" || pgErr.Code == "23502":
			return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), // connection exceptions
			pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "57014", // query_canceled (statement timeout)
			pgErr.Code == "53300": // too_many_connections
			return fmt.Errorf("%w: %s", ErrTransient, pgErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

const (
	maxWriteAttempts = 3
	baseBackoff      = 100 * time.Millisecond
)

// withRetry retries op on transient failures, up to maxWriteAttempts total
// attempts with exponential backoff and a little jitter. Non-transient
// failures return immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if attempt > 0 {
			d := baseBackoff << (attempt - 1)
			d += time.Duration(rand.Int63n(int64(d) / 2))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
		err = op()
		if err == nil || !IsTransient(err) {
			return err
		}
	}
	return err
}
