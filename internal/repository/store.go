package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a unique index.
	ErrDuplicate = errors.New("duplicate record")
	// ErrTransient marks failures that are safe to retry: timeouts, lost connections, serialization conflicts.
	ErrTransient = errors.New("transient store failure")
)

// QueryObserver receives per-query timings.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// Store is the shared database handle used by every repository. Each call runs under its own deadline.
type Store struct {
	db       *sqlx.DB
	timeout  time.Duration
	observer QueryObserver
}

// NewStore wraps db. A zero timeout leaves the caller's context untouched; observer may be nil.
func NewStore(db *sqlx.DB, timeout time.Duration, observer QueryObserver) *Store {
	return &Store{db: db, timeout: timeout, observer: observer}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) run(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	if s.observer != nil {
		s.observer.ObserveDBQuery(label, time.Since(start))
	}
	return classify(label, err)
}

func (s *Store) withTx(ctx context.Context, label string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	return s.run(ctx, label, func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			_ = tx.Rollback()
		}()
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func classify(label string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%s: %w", label, ErrDuplicate)
		case pqErr.Code == "40001", pqErr.Code == "40P01", strings.HasPrefix(string(pqErr.Code), "08"):
			return fmt.Errorf("%s: %w: %w", label, ErrTransient, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %w", label, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", label, err)
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
