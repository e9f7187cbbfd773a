package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks transient network failures talking to a provider.
	// Callers retry a bounded number of times, then leave the intent for the
	// reconciliation poller.
	ErrTimeout = errors.New("gateway request timed out")

	// ErrBadSignature marks a webhook that failed authentication.
	ErrBadSignature = errors.New("webhook signature verification failed")

	// ErrNoGateway is returned by the registry when no adapter serves the
	// requested country/currency/payment type.
	ErrNoGateway = errors.New("no gateway available for request")
)

// RejectionError is returned when a provider declines a submission outright,
// e.g. for an unsupported currency. It is not retryable.
type RejectionError struct {
	Gateway string
	Reason  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway %s rejected submission: %s", e.Gateway, e.Reason)
}

// IsRejection reports whether err is a provider rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
