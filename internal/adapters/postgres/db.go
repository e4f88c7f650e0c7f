package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/esim-checkout/internal/domain/ports"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"

	defaultTxAttempts = 3
)

// DBExecutor runs ledger writes inside pgx transactions. Transactions that
// lose a serialization or deadlock race are replayed from the start.
type DBExecutor struct {
	pool     *pgxpool.Pool
	opts     pgx.TxOptions
	attempts int
}

var _ ports.TransactionManager = (*DBExecutor)(nil)

// NewDBExecutor uses read-committed transactions with three attempts
func NewDBExecutor(pool *pgxpool.Pool) *DBExecutor {
	return &DBExecutor{
		pool:     pool,
		opts:     pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
		attempts: defaultTxAttempts,
	}
}

// WithTransaction commits when fn returns nil and rolls back otherwise,
// panics included. fn must be safe to run more than once.
func (db *DBExecutor) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= db.attempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, db.pool, db.opts, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
		if !isRetryableTxError(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}
