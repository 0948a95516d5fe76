package pool

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/ha1tch/gotds/internal/connio"
)

// Backoff returns the delay to wait before the given retry attempt
// (attempt is 1 for the first retry, not the first try).
type Backoff func(attempt int) time.Duration

// RetryConfig configures Retry.
type RetryConfig struct {
	MaxAttempts int
	Backoff     Backoff
}

// ConstantBackoff returns a Backoff that always waits d.
func ConstantBackoff(d time.Duration) Backoff {
	return func(attempt int) time.Duration { return d }
}

// IsRetryable reports whether err reflects a transient connection
// failure that Retry should retry against a freshly borrowed
// connection: connection-closed, socket EOF, or a transient network
// error. Timeouts, auth failures, and constraint violations (plain
// server errors) are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, connio.ErrBroken) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}

// Retry runs op against a freshly borrowed connection, retrying up to
// cfg.MaxAttempts times when op's error satisfies IsRetryable. Each
// attempt borrows and releases its own connection; a failed attempt
// never replays on the connection that failed, per spec.md §4.8.
func Retry[T any](ctx context.Context, p *Pool, cfg RetryConfig, op func(ctx context.Context, c *connio.Conn) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		conn, err := p.Borrow(ctx)
		if err != nil {
			return zero, err
		}

		result, opErr := op(ctx, conn)
		healthy := opErr == nil || !IsRetryable(opErr)
		p.Release(conn, healthy)

		if opErr == nil {
			return result, nil
		}
		lastErr = opErr
		if !IsRetryable(opErr) {
			return zero, opErr
		}

		if attempt < cfg.MaxAttempts && cfg.Backoff != nil {
			select {
			case <-time.After(cfg.Backoff(attempt)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}
	return zero, lastErr
}
