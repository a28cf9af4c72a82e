package composables

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/ods/pkg/repo"
)

type txKey struct{}

var ErrNoPool = errors.New("no database pool provided")

// Beginner is implemented by *pgxpool.Pool.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction stored by WithTx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// UseTx returns the transaction carried by ctx, or fallback when there is none.
func UseTx(ctx context.Context, fallback repo.Tx) repo.Tx {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return fallback
}

// InTx runs fn in a transaction. An enclosing transaction in ctx is reused;
// otherwise a new one is started on pool and committed when fn succeeds.
func InTx(ctx context.Context, pool Beginner, fn func(context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	if pool == nil {
		return ErrNoPool
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rErr := tx.Rollback(ctx); rErr != nil {
			return errors.Join(err, rErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

func InTxResult[T any](ctx context.Context, pool Beginner, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := InTx(ctx, pool, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	return out, err
}
