package intent

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPendingUserInput  Status = "PENDING_USER_INPUT"
	StatusPendingProvider   Status = "PENDING_PROVIDER"
	StatusProcessing        Status = "PROCESSING"
	StatusRequiresAction    Status = "REQUIRES_ACTION"
	StatusWaitingForDeposit Status = "WAITING_FOR_CRYPTO_DEPOSIT"
	StatusPartiallyPaid     Status = "PARTIALLY_PAID"
	StatusSucceeded         Status = "SUCCEEDED"
	StatusConfirmed         Status = "CONFIRMED"
	StatusFailed            Status = "FAILED"
	StatusCanceled          Status = "CANCELED"
	StatusExpired           Status = "EXPIRED"

	// Withdrawal-only statuses, layered on the same graph.
	StatusPendingOTP           Status = "PENDING_OTP_VERIFICATION"
	StatusPendingAdminApproval Status = "PENDING_ADMIN_APPROVAL"
	StatusRejectedByAdmin      Status = "REJECTED_BY_ADMIN"
)

// Metadata is a JSONB column holding free-form key/value data, e.g. the
// currency conversion applied before a crypto submission.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src interface{}) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return errors.New("metadata: unsupported scan source")
	}
	return json.Unmarshal(b, m)
}

// PaymentIntent tracks one inbound payment attempt end to end. Terminal
// records are never deleted; they are the financial audit trail.
type PaymentIntent struct {
	ID        string `db:"id" json:"id"`
	SessionID string `db:"session_id" json:"session_id"`
	UserID    string `db:"user_id" json:"user_id"`
	Purpose   string `db:"purpose" json:"purpose"`

	Amount   decimal.Decimal `db:"amount" json:"amount"`
	Currency string          `db:"currency" json:"currency"`

	PayCurrency           *string          `db:"pay_currency" json:"pay_currency,omitempty"`
	PayAmount             *decimal.Decimal `db:"pay_amount" json:"pay_amount,omitempty"`
	DepositAddress        *string          `db:"deposit_address" json:"deposit_address,omitempty"`
	ExchangeRate          *decimal.Decimal `db:"exchange_rate" json:"exchange_rate,omitempty"`
	RequiredConfirmations *int             `db:"required_confirmations" json:"required_confirmations,omitempty"`
	ExpiresAt             *time.Time       `db:"expires_at" json:"expires_at,omitempty"`

	Status      Status   `db:"status" json:"status"`
	Gateway     string   `db:"gateway" json:"gateway"`
	ExternalRef *string  `db:"external_ref" json:"external_ref,omitempty"`
	CheckoutURL *string  `db:"checkout_url" json:"checkout_url,omitempty"`
	Metadata    Metadata `db:"metadata" json:"metadata"`

	Settled   bool       `db:"settled" json:"settled"`
	SettledAt *time.Time `db:"settled_at" json:"settled_at,omitempty"`

	// Version is the optimistic-concurrency token. Every status change must
	// CAS against it; a stale version means another actor already advanced
	// the intent.
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Event is one entry in the append-only per-intent audit log. Entries are
// never edited or removed.
type Event struct {
	ID        int64     `db:"id" json:"id"`
	IntentID  string    `db:"intent_id" json:"intent_id"`
	Source    string    `db:"source" json:"source"` // webhook, poll, system
	Status    string    `db:"status" json:"status"`
	Raw       []byte    `db:"raw" json:"raw"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	EventSourceWebhook = "webhook"
	EventSourcePoll    = "poll"
	EventSourceSystem  = "system"
)
