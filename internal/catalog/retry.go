package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const retryBase = 25 * time.Millisecond

// withRetry runs fn, retrying up to attempts extra times while it fails with
// a transient SQLite error. Anything left over is promoted to a *StoreError.
func withRetry(ctx context.Context, attempts uint64, op, path string, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(attempts, retry.NewExponential(retryBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isTransient(err) {
			slog.Debug("store: transient error, retrying", "op", op, "path", path, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return &StoreError{Op: op, Path: path, Err: err}
	}
	return nil
}

// isTransient reports whether err is a busy/locked condition worth retrying.
func isTransient(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
