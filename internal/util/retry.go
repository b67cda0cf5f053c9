package util

import (
	"context"
	"time"
)

// Retry runs fn until it succeeds or maxAttempts calls have failed, doubling
// the wait between calls starting from baseDelay. It returns nil on success,
// the error of the final attempt otherwise, or ctx.Err() if the context is
// cancelled while waiting. Broker data fetches use this to ride out transient
// API hiccups without giving up on the trading loop.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
