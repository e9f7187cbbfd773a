package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnavailable marks transient ledger failures. Callers retry a bounded
	// number of times; the reconciler is the backstop after that.
	ErrUnavailable = errors.New("ledger service unavailable")
)

// Client is the balance ledger collaborator. Calling the same operation twice
// with the same idempotency key has the effect of exactly one mutation; the
// settlement engine relies on that for its exactly-once guarantees.
type Client interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, currency, idempotencyKey string) error
	Debit(ctx context.Context, userID string, amount decimal.Decimal, currency, idempotencyKey string) error
}

// Key derives the deterministic idempotency key for a record transition.
// Deriving it in one place keeps retries on our side safe too.
func Key(recordID, transition string) string {
	return fmt.Sprintf("%s:%s", recordID, transition)
}
