package gateway

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// Status is the canonical provider-side status, normalised from each
// provider's own vocabulary by its adapter.
type Status string

const (
	StatusPending        Status = "pending"
	StatusProcessing     Status = "processing"
	StatusRequiresAction Status = "requires_action"
	StatusWaitingDeposit Status = "waiting_deposit"
	StatusPartiallyPaid  Status = "partially_paid"
	StatusConfirmed      Status = "confirmed"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusCanceled       Status = "canceled"
	StatusExpired        Status = "expired"
	StatusUnknown        Status = "unknown"
)

// SubmitRequest carries everything an adapter needs to start a payment with
// its provider. Adapters never see internal records directly.
type SubmitRequest struct {
	Ref         string // internal intent id, echoed back by the provider
	UserID      string
	Purpose     string
	Amount      decimal.Decimal
	Currency    string
	Country     string
	PhoneNumber string
	PayCurrency string // crypto flows: currency the user pays in
	Description string
}

// SubmitResult is the provider's answer to a submission.
type SubmitResult struct {
	ExternalRef           string
	CheckoutURL           string
	DepositAddress        string
	PayCurrency           string
	PayAmount             decimal.Decimal
	ExchangeRate          decimal.Decimal
	RequiredConfirmations int
	// Metadata carries adapter-recorded facts (e.g. a currency conversion)
	// that must survive on the intent for audit.
	Metadata map[string]interface{}
	Raw      map[string]interface{}
}

// PayoutRequest starts a provider-side transfer to the user.
type PayoutRequest struct {
	Ref         string
	Amount      decimal.Decimal
	Currency    string
	Country     string
	PhoneNumber string
	Description string
}

// Event is a canonical webhook event: one provider callback reduced to the
// fields the settlement engine acts on.
type Event struct {
	ExternalRef string
	Status      Status
	Amount      decimal.Decimal
	Currency    string
	Raw         []byte
}

// Gateway is the capability set every provider adapter implements. Provider
// quirks (signature schemes, currency restrictions) stay behind it.
type Gateway interface {
	Name() string

	// Submit starts the external payment flow. It returns ErrRejected when
	// the provider declines the request and ErrTimeout on network failure.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)

	// SubmitPayout starts a provider-side transfer for an approved payout.
	SubmitPayout(ctx context.Context, req PayoutRequest) (*SubmitResult, error)

	// ParseWebhook authenticates a raw provider callback and reduces it to a
	// canonical Event. It returns ErrBadSignature before looking at anything
	// else if authentication fails.
	ParseWebhook(body []byte, headers http.Header) (*Event, error)

	// PollStatus asks the provider for the current status of a transaction.
	// Read-only on the provider side, safe to call repeatedly.
	PollStatus(ctx context.Context, externalRef string) (Status, error)
}
