package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"loyalty-bonus-engine/internal/apperr"
)

// pgSerializationFailure is the Postgres SQLSTATE for a serialization anomaly
// detected by a SERIALIZABLE transaction; pgx surfaces it on the error as
// SQLState() through the pgconn.PgError type.
const pgSerializationFailure = "40001"

// WithinTx is the unit-of-work boundary every multi-row bonus/transaction
// write runs through. It begins a pgx transaction at Serializable isolation,
// runs fn, and commits. A Postgres
// serialization failure is reported as apperr.KindConflict so the caller can
// retry; any other error rolls back and is returned as-is.
func WithinTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return apperr.Wrap(apperr.KindExternalDependency, "tx_begin_failed", "failed to begin transaction", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		if isSerializationFailure(err) {
			return apperr.Wrap(apperr.KindConflict, "serialization_failure", "transaction conflicted, retry", err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return apperr.Wrap(apperr.KindConflict, "serialization_failure", "commit conflicted, retry", err)
		}
		return apperr.Wrap(apperr.KindExternalDependency, "tx_commit_failed", "failed to commit transaction", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == pgSerializationFailure
	}
	return false
}

// RetryBackoff runs fn once and then retries it up to maxRetries more times
// with exponential backoff (50ms, 150ms, 450ms, ...) whenever fn returns an
// apperr.KindConflict error.
func RetryBackoff(ctx context.Context, maxRetries int, fn func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		appErr, ok := apperr.As(lastErr)
		if !ok || appErr.Kind != apperr.KindConflict {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 3
	}
	return fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}
