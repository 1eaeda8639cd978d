package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transactor scopes a unit of work to one database transaction.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a new Transactor wrapping the connection pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise; fn's error is returned unchanged.
func (t *Transactor) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	dbTx, err := t.pool.Begin(ctx)
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := fn(dbTx); err != nil {
		return err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}
