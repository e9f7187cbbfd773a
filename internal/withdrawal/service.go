package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
	"github.com/TambongStercy/SBC-MS-sub014/internal/ledger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/logger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/metrics"
)

// feeRate is the platform withdrawal fee, applied on top of the amount.
var feeRate = decimal.NewFromFloat(0.025)

// PayoutSubmitter is the slice of the gateway capability set the approval
// workflow needs.
type PayoutSubmitter interface {
	Name() string
	SubmitPayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.SubmitResult, error)
}

// CodeStore issues and consumes one-time verification codes.
type CodeStore interface {
	Generate(ctx context.Context, withdrawalID string) (string, error)
	Consume(ctx context.Context, withdrawalID, code string) (bool, error)
}

// Notifier delivers user-facing notices. Enqueue-only; delivery is async.
type Notifier interface {
	SendOTP(ctx context.Context, email, code string) error
	SendWithdrawalDecision(ctx context.Context, email, decision, reason string) error
}

// BulkItemResult reports the outcome of one id in a bulk approval.
type BulkItemResult struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// BulkResult is the per-id outcome of a bulk approval. Items never affect
// each other.
type BulkResult struct {
	Succeeded []string         `json:"succeeded"`
	Failed    []BulkItemResult `json:"failed"`
}

type Service interface {
	Request(ctx context.Context, userID, email string, amount decimal.Decimal, currency, phone, country string) (*Transaction, error)
	VerifyOTP(ctx context.Context, userID, id, code string) (*Transaction, error)
	Approve(ctx context.Context, adminID, id, note string) (*Transaction, error)
	Reject(ctx context.Context, adminID, id, reason, note string) (*Transaction, error)
	BulkApprove(ctx context.Context, adminID string, ids []string, note string) *BulkResult
	ListPending(ctx context.Context, limit, offset int) ([]Transaction, error)
	Details(ctx context.Context, id string) (*Details, error)
	Stats(ctx context.Context) (*Stats, error)
}

type service struct {
	repo     Repository
	ledger   ledger.Client
	payouts  PayoutSubmitter
	codes    CodeStore
	notifier Notifier
}

func NewService(repo Repository, ledgerClient ledger.Client, payouts PayoutSubmitter, codes CodeStore, notifier Notifier) Service {
	return &service{
		repo:     repo,
		ledger:   ledgerClient,
		payouts:  payouts,
		codes:    codes,
		notifier: notifier,
	}
}

// Request records a payout request and sends the verification code. The
// user's balance is untouched here: funds only move at approval, so slow
// review never locks them up.
func (s *service) Request(ctx context.Context, userID, email string, amount decimal.Decimal, currency, phone, country string) (*Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("withdrawal amount must be positive")
	}

	fee := amount.Mul(feeRate).Round(0)
	tx, err := s.repo.Create(ctx, &Transaction{
		UserID:      userID,
		UserEmail:   email,
		Amount:      amount,
		Fee:         fee,
		Currency:    currency,
		PhoneNumber: phone,
		Country:     country,
		Gateway:     s.payouts.Name(),
	})
	if err != nil {
		return nil, err
	}

	code, err := s.codes.Generate(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}
	if err := s.notifier.SendOTP(ctx, email, code); err != nil {
		logger.Error("failed to queue otp notification", "withdrawal_id", tx.ID, "error", err)
	}

	return tx, nil
}

// VerifyOTP confirms ownership and consumes the code. The ownership check
// runs before any mutation so a foreign caller cannot burn the code or move
// the state.
func (s *service) VerifyOTP(ctx context.Context, userID, id, code string) (*Transaction, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, ErrNotOwner
	}
	if tx.Status != intent.StatusPendingOTP {
		return nil, ErrInvalidState
	}

	ok, err := s.codes.Consume(ctx, id, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrOTPInvalid
	}

	moved, err := s.repo.TransitionCAS(ctx, id, intent.StatusPendingOTP, intent.StatusPendingAdminApproval, tx.Version)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrInvalidState
	}
	metrics.RecordTransition(string(intent.StatusPendingAdminApproval), intent.EventSourceSystem)

	return s.repo.GetByID(ctx, id)
}

// Approve debits amount+fee, then submits the payout to the provider. A
// debit that bounces on insufficient balance auto-rejects the withdrawal; a
// provider submission failure returns the record to the approval queue with
// the funds still debited so the operator can retry or reject (which
// refunds).
func (s *service) Approve(ctx context.Context, adminID, id, note string) (*Transaction, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != intent.StatusPendingAdminApproval {
		return nil, ErrInvalidState
	}

	moved, err := s.repo.TransitionCAS(ctx, id, intent.StatusPendingAdminApproval, intent.StatusProcessing, tx.Version)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Someone else decided this withdrawal first.
		return nil, ErrInvalidState
	}

	if err := s.repo.RecordApproval(ctx, id, adminID, note); err != nil {
		return nil, err
	}
	metrics.RecordWithdrawalDecision("approved")

	if !tx.Debited {
		err := s.ledger.Debit(ctx, tx.UserID, tx.Total(), tx.Currency, DebitKey(tx))
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			metrics.RecordLedgerCall("debit", "insufficient")
			return nil, s.autoReject(ctx, tx, adminID)
		}
		if err != nil {
			metrics.RecordLedgerCall("debit", "error")
			// Nothing moved; put the withdrawal back in the queue.
			s.returnToQueue(ctx, id)
			return nil, err
		}
		metrics.RecordLedgerCall("debit", "ok")
		if err := s.repo.MarkDebited(ctx, id); err != nil {
			// The debit landed but the flag did not. Leave the record in
			// PROCESSING with no external ref: the overdue sweep skips
			// undebited approvals, and the reconciler replays the debit under
			// the same key, restores the flag and requeues the withdrawal.
			logger.Error("debit landed but flag update failed, leaving for reconciler",
				"withdrawal_id", id, "error", err)
			return nil, err
		}
	}

	result, err := s.payouts.SubmitPayout(ctx, gateway.PayoutRequest{
		Ref:         tx.ID,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Country:     tx.Country,
		PhoneNumber: tx.PhoneNumber,
		Description: "SBC withdrawal " + tx.ID,
	})
	if err != nil {
		logger.Error("payout submission failed", "withdrawal_id", id, "error", err)
		s.returnToQueue(ctx, id)
		return nil, err
	}

	if err := s.repo.SetExternalRef(ctx, id, s.payouts.Name(), result.ExternalRef); err != nil {
		return nil, err
	}
	s.appendSystemEvent(ctx, id, "submitted to provider")

	return s.repo.GetByID(ctx, id)
}

// autoReject closes out a withdrawal whose debit bounced. No refund is due:
// the debit never happened.
func (s *service) autoReject(ctx context.Context, tx *Transaction, adminID string) error {
	cur, err := s.repo.GetByID(ctx, tx.ID)
	if err != nil {
		return err
	}
	moved, err := s.repo.TransitionCAS(ctx, tx.ID, cur.Status, intent.StatusRejectedByAdmin, cur.Version)
	if err != nil {
		return err
	}
	if moved {
		if err := s.repo.RecordRejection(ctx, tx.ID, adminID, "insufficient balance", ""); err != nil {
			return err
		}
		metrics.RecordWithdrawalDecision("auto_rejected")
		s.notifyDecision(ctx, tx.UserEmail, "rejected", "insufficient balance")
	}
	return ledger.ErrInsufficientBalance
}

// returnToQueue undoes the PROCESSING claim after a failure that left the
// withdrawal submittable again.
func (s *service) returnToQueue(ctx context.Context, id string) {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		logger.Error("failed to reload withdrawal", "withdrawal_id", id, "error", err)
		return
	}
	if cur.Status != intent.StatusProcessing {
		return
	}
	if _, err := s.repo.TransitionCAS(ctx, id, intent.StatusProcessing, intent.StatusPendingAdminApproval, cur.Version); err != nil {
		logger.Error("failed to return withdrawal to queue", "withdrawal_id", id, "error", err)
	}
}

// Reject closes the withdrawal and refunds amount+fee if it was ever
// debited. The CAS makes concurrent rejects collapse to one refund: only the
// winner runs the refund path, the loser sees the record already rejected
// and reports success without side effects.
func (s *service) Reject(ctx context.Context, adminID, id, reason, note string) (*Transaction, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}

	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != intent.StatusPendingAdminApproval {
		if tx.Status == intent.StatusRejectedByAdmin {
			return tx, nil
		}
		return nil, ErrInvalidState
	}

	moved, err := s.repo.TransitionCAS(ctx, id, intent.StatusPendingAdminApproval, intent.StatusRejectedByAdmin, tx.Version)
	if err != nil {
		return nil, err
	}
	if !moved {
		cur, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status == intent.StatusRejectedByAdmin {
			return cur, nil
		}
		return nil, ErrInvalidState
	}

	if err := s.repo.RecordRejection(ctx, id, adminID, reason, note); err != nil {
		return nil, err
	}
	metrics.RecordWithdrawalDecision("rejected")

	if tx.Debited && !tx.Refunded {
		err := s.ledger.Credit(ctx, tx.UserID, tx.Total(), tx.Currency, RefundKey(tx, intent.StatusRejectedByAdmin))
		if err != nil {
			metrics.RecordLedgerCall("credit", "error")
			// The reconciler retries unrefunded rejections.
			logger.Error("refund failed, leaving for reconciler", "withdrawal_id", id, "error", err)
		} else {
			metrics.RecordLedgerCall("credit", "ok")
			if err := s.repo.MarkRefunded(ctx, id); err != nil {
				return nil, err
			}
		}
	}

	s.appendSystemEvent(ctx, id, "rejected: "+reason)
	s.notifyDecision(ctx, tx.UserEmail, "rejected", reason)

	return s.repo.GetByID(ctx, id)
}

// BulkApprove processes each id independently. One bad id never blocks the
// rest, and there is no rollback across items.
func (s *service) BulkApprove(ctx context.Context, adminID string, ids []string, note string) *BulkResult {
	result := &BulkResult{Succeeded: []string{}, Failed: []BulkItemResult{}}
	for _, id := range ids {
		if _, err := s.Approve(ctx, adminID, id, note); err != nil {
			result.Failed = append(result.Failed, BulkItemResult{ID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

func (s *service) ListPending(ctx context.Context, limit, offset int) ([]Transaction, error) {
	return s.repo.ListByStatus(ctx, intent.StatusPendingAdminApproval, limit, offset)
}

func (s *service) Details(ctx context.Context, id string) (*Details, error) {
	tx, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	events, err := s.repo.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListByUser(ctx, tx.UserID, 20)
	if err != nil {
		return nil, err
	}

	return &Details{Transaction: *tx, Events: events, History: history}, nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}

func (s *service) appendSystemEvent(ctx context.Context, id, status string) {
	ev := &intent.Event{IntentID: id, Source: intent.EventSourceSystem, Status: status}
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		logger.Error("failed to append withdrawal event", "withdrawal_id", id, "error", err)
	}
}

func (s *service) notifyDecision(ctx context.Context, email, decision, reason string) {
	if err := s.notifier.SendWithdrawalDecision(ctx, email, decision, reason); err != nil {
		logger.Error("failed to queue decision notification", "error", err)
	}
}
