// Package repository implements all database queries of the booking engine.
// It uses pgx directly (no ORM) so that every lock the engine takes is
// visible in the SQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Shivanand-hulikatti/event-ticketing/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL error codes that mean a lock could not be granted.
const (
	codeLockNotAvailable = "55P03"
	codeDeadlockDetected = "40P01"
	codeQueryCanceled    = "57014"
)

// Store runs booking transactions. Every transaction sets a local
// lock_timeout so that a blocked row lock fails with model.ErrBusy instead of
// waiting indefinitely.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

// InTx runs fn inside a READ COMMITTED transaction. Under READ COMMITTED each
// statement sees the latest committed data, so a row re-read after its
// FOR UPDATE lock is granted reflects the writes of the previous holder.
//
// The transaction commits if fn returns nil and rolls back otherwise. Lock
// failures reported by PostgreSQL are returned as model.ErrBusy.
func (s *Store) InTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if s.lockTimeout > 0 {
		ms := strconv.FormatInt(s.lockTimeout.Milliseconds(), 10) + "ms"
		if _, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return fmt.Errorf("set lock timeout: %w", classify(err))
		}
	}

	if err = fn(tx); err != nil {
		return classify(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

// classify maps lock failures to model.ErrBusy and leaves other errors as
// they are.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlockDetected, codeQueryCanceled:
		return fmt.Errorf("%w: %s", model.ErrBusy, pgErr.Message)
	}
	return err
}
