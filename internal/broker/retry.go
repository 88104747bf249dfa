package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sensextrader/internal/errs"
	"sensextrader/internal/logs"
)

const maxRetryDelay = 5 * time.Minute

// Retry runs fn up to attempts times with exponentially growing delay,
// stopping early on ctx cancellation or on errors that retrying cannot fix
// (order rejections, credential problems).
func Retry(ctx context.Context, attempts int, delay time.Duration, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if i < attempts-1 {
			logs.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", op, i+1, attempts, delay, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, err)
}

func retryable(err error) bool {
	var rejected *errs.OrderRejectedError
	var creds *errs.CredentialError
	if errors.As(err, &rejected) || errors.As(err, &creds) {
		return false
	}
	if errors.Is(err, errs.ErrNotTradable) {
		return false
	}
	return true
}
