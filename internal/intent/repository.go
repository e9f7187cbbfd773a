package intent

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const intentColumns = `id, session_id, user_id, purpose, amount, currency,
	pay_currency, pay_amount, deposit_address, exchange_rate, required_confirmations, expires_at,
	status, gateway, external_ref, checkout_url, metadata, settled, settled_at, version,
	created_at, updated_at`

// Engagement records the result of a gateway submission on the intent. Amount
// and currency are locked once this is applied.
type Engagement struct {
	Gateway               string
	ExternalRef           string
	CheckoutURL           *string
	DepositAddress        *string
	PayCurrency           *string
	PayAmount             *decimal.Decimal
	ExchangeRate          *decimal.Decimal
	RequiredConfirmations *int
	ExpiresAt             *time.Time
	Metadata              Metadata
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, in *PaymentIntent) (*PaymentIntent, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}
	if in.Status == "" {
		in.Status = StatusPendingUserInput
	}
	if in.Metadata == nil {
		in.Metadata = Metadata{}
	}

	var out PaymentIntent
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO payment_intents (id, session_id, user_id, purpose, amount, currency, status, gateway, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+intentColumns,
		in.ID, in.SessionID, in.UserID, in.Purpose, in.Amount, in.Currency, in.Status, in.Gateway, in.Metadata,
	).StructScan(&out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*PaymentIntent, error) {
	return r.getOne(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
}

func (r *repository) GetBySessionID(ctx context.Context, sessionID string) (*PaymentIntent, error) {
	return r.getOne(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE session_id = $1`, sessionID)
}

func (r *repository) GetByExternalRef(ctx context.Context, gateway, externalRef string) (*PaymentIntent, error) {
	return r.getOne(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE gateway = $1 AND external_ref = $2`,
		gateway, externalRef)
}

func (r *repository) getOne(ctx context.Context, query string, args ...interface{}) (*PaymentIntent, error) {
	var in PaymentIntent
	err := r.db.GetContext(ctx, &in, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &in, nil
}

func (r *repository) EngageGateway(ctx context.Context, id string, e Engagement) (*PaymentIntent, error) {
	if e.Metadata == nil {
		e.Metadata = Metadata{}
	}

	var out PaymentIntent
	err := r.db.QueryRowxContext(ctx, `
		UPDATE payment_intents
		SET gateway = $2,
		    external_ref = $3,
		    checkout_url = $4,
		    deposit_address = $5,
		    pay_currency = $6,
		    pay_amount = $7,
		    exchange_rate = $8,
		    required_confirmations = $9,
		    expires_at = $10,
		    metadata = metadata || $11,
		    updated_at = NOW()
		WHERE id = $1 AND status = $12 AND external_ref IS NULL
		RETURNING `+intentColumns,
		id, e.Gateway, e.ExternalRef, e.CheckoutURL, e.DepositAddress, e.PayCurrency,
		e.PayAmount, e.ExchangeRate, e.RequiredConfirmations, e.ExpiresAt, e.Metadata,
		StatusPendingUserInput,
	).StructScan(&out)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlreadyEngaged
		}
		return nil, err
	}
	return &out, nil
}

// TransitionCAS advances the intent status with a compare-and-swap on both
// the expected current status and the version token. Zero rows affected means
// another actor already advanced the intent; callers treat that as a no-op.
func (r *repository) TransitionCAS(ctx context.Context, id string, from, to Status, version int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND version = $4`,
		id, from, to, version,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *repository) MarkSettled(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET settled = TRUE, settled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND settled = FALSE`,
		id,
	)
	return err
}

func (r *repository) AppendEvent(ctx context.Context, ev *Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO intent_events (intent_id, source, status, raw)
		VALUES ($1, $2, $3, $4)`,
		ev.IntentID, ev.Source, ev.Status, ev.Raw,
	)
	return err
}

func (r *repository) GetEvents(ctx context.Context, intentID string) ([]Event, error) {
	var events []Event
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, intent_id, source, status, raw, created_at
		FROM intent_events
		WHERE intent_id = $1
		ORDER BY id ASC`,
		intentID,
	)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) FindStale(ctx context.Context, gateway string, updatedBefore time.Time, limit int) ([]PaymentIntent, error) {
	var intents []PaymentIntent
	err := r.db.SelectContext(ctx, &intents, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE gateway = $1
		  AND external_ref IS NOT NULL
		  AND status = ANY($2)
		  AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4`,
		gateway, pq.Array(nonTerminalStatuses()), updatedBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) FindOverdue(ctx context.Context, createdBefore time.Time, limit int) ([]PaymentIntent, error) {
	var intents []PaymentIntent
	err := r.db.SelectContext(ctx, &intents, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status = ANY($1)
		  AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`,
		pq.Array(nonTerminalStatuses()), createdBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) FindUnsettled(ctx context.Context, limit int) ([]PaymentIntent, error) {
	var intents []PaymentIntent
	err := r.db.SelectContext(ctx, &intents, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE status = ANY($1)
		  AND settled = FALSE
		ORDER BY updated_at ASC
		LIMIT $2`,
		pq.Array([]string{string(StatusSucceeded), string(StatusConfirmed)}), limit,
	)
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func nonTerminalStatuses() []string {
	var out []string
	for s := range transitions {
		if !terminal[s] {
			out = append(out, string(s))
		}
	}
	sort.Strings(out)
	return out
}
