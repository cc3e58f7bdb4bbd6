package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fivesteps.org/internal/obs"
)

// Executor runs units of work on one dedicated connection inside one
// transaction.
type Executor struct {
	db *sql.DB
}

func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Run commits when fn succeeds. On error the transaction is rolled back and
// fn's error is returned unchanged; a panic rolls back and keeps unwinding.
// The connection goes back to the pool on every path.
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			obs.Logger().Error().Err(rbErr).Msg("transaction rollback failed")
		}
		obs.ObserveTransaction("rollback")
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	done = true
	obs.ObserveTransaction("commit")
	return nil
}

// InTx is Run for units that produce a value.
func InTx[T any](ctx context.Context, e *Executor, fn func(ctx context.Context, tx *sql.Tx) (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
