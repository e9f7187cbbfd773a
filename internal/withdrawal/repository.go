package withdrawal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
)

const txColumns = `id, user_id, user_email, amount, fee, currency, phone_number, country,
	status, gateway, external_ref, approved_by, approved_at, rejected_at, rejection_reason,
	admin_note, debited, debited_at, refunded, refunded_at, version, created_at, updated_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, tx *Transaction) (*Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = intent.StatusPendingOTP
	}

	var out Transaction
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO withdrawals (id, user_id, user_email, amount, fee, currency, phone_number, country, status, gateway)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+txColumns,
		tx.ID, tx.UserID, tx.UserEmail, tx.Amount, tx.Fee, tx.Currency,
		tx.PhoneNumber, tx.Country, tx.Status, tx.Gateway,
	).StructScan(&out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*Transaction, error) {
	return r.getOne(ctx, `SELECT `+txColumns+` FROM withdrawals WHERE id = $1`, id)
}

func (r *repository) GetByExternalRef(ctx context.Context, gateway, externalRef string) (*Transaction, error) {
	return r.getOne(ctx,
		`SELECT `+txColumns+` FROM withdrawals WHERE gateway = $1 AND external_ref = $2`,
		gateway, externalRef)
}

func (r *repository) getOne(ctx context.Context, query string, args ...interface{}) (*Transaction, error) {
	var tx Transaction
	err := r.db.GetContext(ctx, &tx, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *repository) ListByStatus(ctx context.Context, status intent.Status, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT `+txColumns+`
		FROM withdrawals
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *repository) ListByUser(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 20
	}

	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT `+txColumns+`
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// TransitionCAS mirrors the payment-intent CAS: zero rows affected means the
// record moved under us and the caller must treat the attempt as a no-op.
func (r *repository) TransitionCAS(ctx context.Context, id string, from, to intent.Status, version int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE withdrawals
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

func (r *repository) RecordApproval(ctx context.Context, id, adminID, note string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET approved_by = $2, approved_at = NOW(), admin_note = $3, updated_at = NOW()
		WHERE id = $1`,
		id, adminID, note,
	)
	return err
}

func (r *repository) RecordRejection(ctx context.Context, id, adminID, reason, note string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET approved_by = $2, rejected_at = NOW(), rejection_reason = $3, admin_note = $4, updated_at = NOW()
		WHERE id = $1`,
		id, adminID, reason, note,
	)
	return err
}

func (r *repository) SetExternalRef(ctx context.Context, id, gateway, externalRef string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET gateway = $2, external_ref = $3, updated_at = NOW()
		WHERE id = $1`,
		id, gateway, externalRef,
	)
	return err
}

func (r *repository) MarkDebited(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET debited = TRUE, debited_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND debited = FALSE`,
		id,
	)
	return err
}

func (r *repository) MarkRefunded(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE withdrawals
		SET refunded = TRUE, refunded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND refunded = FALSE`,
		id,
	)
	return err
}

func (r *repository) AppendEvent(ctx context.Context, ev *intent.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO withdrawal_events (withdrawal_id, source, status, raw)
		VALUES ($1, $2, $3, $4)`,
		ev.IntentID, ev.Source, ev.Status, ev.Raw,
	)
	return err
}

func (r *repository) GetEvents(ctx context.Context, id string) ([]intent.Event, error) {
	var events []intent.Event
	err := r.db.SelectContext(ctx, &events, `
		SELECT id, withdrawal_id AS intent_id, source, status, raw, created_at
		FROM withdrawal_events
		WHERE withdrawal_id = $1
		ORDER BY id ASC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) FindStale(ctx context.Context, gateway string, updatedBefore time.Time, limit int) ([]Transaction, error) {
	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT `+txColumns+`
		FROM withdrawals
		WHERE gateway = $1
		  AND external_ref IS NOT NULL
		  AND status = $2
		  AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4`,
		gateway, intent.StatusProcessing, updatedBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// FindOverdue returns withdrawals past their deadline. Approved records
// whose debited flag is still off are excluded: expiring one of those would
// strand the funds the debit already took, so they wait for the debit
// repair instead.
func (r *repository) FindOverdue(ctx context.Context, createdBefore time.Time, limit int) ([]Transaction, error) {
	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT `+txColumns+`
		FROM withdrawals
		WHERE status = ANY($1)
		  AND created_at < $2
		  AND NOT (approved_at IS NOT NULL AND debited = FALSE)
		ORDER BY created_at ASC
		LIMIT $3`,
		pq.Array([]string{
			string(intent.StatusPendingOTP),
			string(intent.StatusProcessing),
		}), createdBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// FindUndebitedApproved returns approvals whose ledger debit may have
// landed without the flag. They carry no external ref yet: only the
// interrupted approval path produces this shape.
func (r *repository) FindUndebitedApproved(ctx context.Context, limit int) ([]Transaction, error) {
	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT `+txColumns+`
		FROM withdrawals
		WHERE status = $1
		  AND approved_at IS NOT NULL
		  AND debited = FALSE
		  AND external_ref IS NULL
		ORDER BY updated_at ASC
		LIMIT $2`,
		intent.StatusProcessing, limit,
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// FindUnrefunded returns closed-out withdrawals whose debit was never
// returned: the refund failed at decision time and is owed.
func (r *repository) FindUnrefunded(ctx context.Context, limit int) ([]Transaction, error) {
	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT `+txColumns+`
		FROM withdrawals
		WHERE debited = TRUE
		  AND refunded = FALSE
		  AND status = ANY($1)
		ORDER BY updated_at ASC
		LIMIT $2`,
		pq.Array([]string{
			string(intent.StatusFailed),
			string(intent.StatusRejectedByAdmin),
			string(intent.StatusExpired),
		}), limit,
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *repository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := r.db.GetContext(ctx, &s, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1) AS pending_count,
			COALESCE(SUM(amount) FILTER (WHERE status = $1), 0) AS pending_amount,
			COUNT(*) FILTER (WHERE approved_at >= CURRENT_DATE AND rejected_at IS NULL) AS approved_today,
			COUNT(*) FILTER (WHERE rejected_at >= CURRENT_DATE) AS rejected_today,
			COALESCE(SUM(amount) FILTER (WHERE status = $2), 0) AS paid_out_total
		FROM withdrawals`,
		intent.StatusPendingAdminApproval, intent.StatusSucceeded,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
