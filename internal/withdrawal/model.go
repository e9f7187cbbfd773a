package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
	"github.com/TambongStercy/SBC-MS-sub014/internal/ledger"
)

// Transaction is one payout request. It follows the same lifecycle rules as
// a payment intent (append-only history, CAS-guarded transitions, never
// deleted), with the admin approval gate layered in front of submission.
type Transaction struct {
	ID        string `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"user_id"`
	UserEmail string `db:"user_email" json:"user_email"`

	Amount   decimal.Decimal `db:"amount" json:"amount"`
	Fee      decimal.Decimal `db:"fee" json:"fee"`
	Currency string          `db:"currency" json:"currency"`

	PhoneNumber string `db:"phone_number" json:"phone_number"`
	Country     string `db:"country" json:"country"`

	Status      intent.Status `db:"status" json:"status"`
	Gateway     string        `db:"gateway" json:"gateway"`
	ExternalRef *string       `db:"external_ref" json:"external_ref,omitempty"`

	ApprovedBy      *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt      *time.Time `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	AdminNote       *string    `db:"admin_note" json:"admin_note,omitempty"`

	// Debited is set once amount+fee has left the user's balance; Refunded
	// once it has been returned. Together they gate the refund path.
	Debited    bool       `db:"debited" json:"debited"`
	DebitedAt  *time.Time `db:"debited_at" json:"debited_at,omitempty"`
	Refunded   bool       `db:"refunded" json:"refunded"`
	RefundedAt *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`

	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Total is the full balance impact of the payout.
func (t *Transaction) Total() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}

// DebitKey is the idempotency key for the approval debit. Every attempt to
// take the funds for this payout, including flag repairs after an
// interrupted approval, must go through it.
func DebitKey(t *Transaction) string {
	return ledger.Key(t.ID, "approved")
}

// RefundKey is the idempotency key for returning a debited payout's funds.
// The first refund attempt and any reconciler retry must derive the same
// key, otherwise a retry after a lost response turns into a second credit.
func RefundKey(t *Transaction, target intent.Status) string {
	if target == intent.StatusRejectedByAdmin {
		return ledger.Key(t.ID, "rejected")
	}
	return ledger.Key(t.ID, string(target))
}

// Stats summarises the payout queue for the admin dashboard.
type Stats struct {
	PendingCount  int             `db:"pending_count" json:"pending_count"`
	PendingAmount decimal.Decimal `db:"pending_amount" json:"pending_amount"`
	ApprovedToday int             `db:"approved_today" json:"approved_today"`
	RejectedToday int             `db:"rejected_today" json:"rejected_today"`
	PaidOutTotal  decimal.Decimal `db:"paid_out_total" json:"paid_out_total"`
}

// Details is a pending withdrawal enriched with review context.
type Details struct {
	Transaction Transaction    `json:"transaction"`
	Events      []intent.Event `json:"events"`
	History     []Transaction  `json:"history"`
}
