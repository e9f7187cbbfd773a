package gateway

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetries = 3
	baseBackoff    = 500 * time.Millisecond
)

// Retry wraps a provider call with bounded retries and exponential
// backoff. Only ErrTimeout is retried; rejections and signature errors are
// final on the first attempt. After the last attempt the error is returned
// unchanged so the caller can leave the intent for the poller.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultRetries
	}

	var err error
	backoff := baseBackoff
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrTimeout) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
