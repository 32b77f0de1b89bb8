package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ReliableExec runs fn against a pooled connection with exponential backoff on
// transient errors. Permanent errors (PermError) and context
// cancellation/timeouts stop the retry loop immediately.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	return reliableRetry(ctx, func() error {
		tryCtx, cancel := context.WithTimeout(ctx, tryTimeout)
		defer cancel()
		conn, err := pool.Acquire(tryCtx)
		if err != nil {
			return fmt.Errorf("error acquiring pool connection: %w", err)
		}
		defer conn.Release()
		return fn(tryCtx, conn)
	})
}

// ReliableExecInTx is ReliableExec but fn runs inside a retryable transaction
// (CRDB savepoint protocol).
func ReliableExecInTx(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return reliableRetry(ctx, func() error {
		tryCtx, cancel := context.WithTimeout(ctx, tryTimeout)
		defer cancel()
		return crdbpgx.ExecuteTx(tryCtx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return fn(tryCtx, tx)
		})
	})
}

func reliableRetry(ctx context.Context, fn func() error) error {
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if IsPermanentError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}
