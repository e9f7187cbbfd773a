package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
	"github.com/TambongStercy/SBC-MS-sub014/internal/ledger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/logger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/metrics"
	"github.com/TambongStercy/SBC-MS-sub014/internal/withdrawal"
)

// ErrUnknownGateway is returned for webhooks addressed to a gateway name
// the registry has no adapter for.
var ErrUnknownGateway = errors.New("unknown gateway")

// Notifier delivers payment receipts. Enqueue-only.
type Notifier interface {
	SendPaymentReceipt(ctx context.Context, email string, amount decimal.Decimal, currency string) error
}

// Processor is the single path through which provider-reported statuses,
// whether from a webhook or a poll, become record transitions and ledger
// effects. Having one path means there is exactly one place where terminal
// effects are produced.
type Processor struct {
	intents     intent.Repository
	withdrawals withdrawal.Repository
	registry    *gateway.Registry
	ledger      ledger.Client
	notifier    Notifier
}

func NewProcessor(intents intent.Repository, withdrawals withdrawal.Repository, registry *gateway.Registry, ledgerClient ledger.Client, notifier Notifier) *Processor {
	return &Processor{
		intents:     intents,
		withdrawals: withdrawals,
		registry:    registry,
		ledger:      ledgerClient,
		notifier:    notifier,
	}
}

// HandleWebhook authenticates and routes one provider callback. Only two
// errors surface to the caller: gateway.ErrBadSignature for authentication
// failures and ErrUnknownGateway for unroutable names. An authenticated
// callback the engine cannot use, whether the payload is malformed or the
// reference is unknown, is logged and swallowed so the provider stops
// retrying.
func (p *Processor) HandleWebhook(ctx context.Context, gatewayName string, body []byte, headers http.Header) error {
	gw, ok := p.registry.ByName(gatewayName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGateway, gatewayName)
	}

	event, err := gw.ParseWebhook(body, headers)
	if errors.Is(err, gateway.ErrBadSignature) {
		metrics.RecordWebhook(gatewayName, "rejected")
		return err
	}
	if err != nil {
		// Authentic but unusable. Ack it; retries would never parse either.
		logger.Warn("discarding malformed webhook payload", "gateway", gatewayName, "error", err)
		metrics.RecordWebhook(gatewayName, "malformed")
		return nil
	}
	metrics.RecordWebhook(gatewayName, "accepted")

	if in, err := p.intents.GetByExternalRef(ctx, gw.Name(), event.ExternalRef); err == nil {
		p.appendIntentEvent(ctx, in.ID, intent.EventSourceWebhook, event)
		if _, err := p.ApplyIntentStatus(ctx, in, event.Status, intent.EventSourceWebhook); err != nil {
			// The ack to the provider must not depend on downstream work;
			// the reconciler picks up whatever is left.
			logger.Error("webhook transition failed downstream", "intent_id", in.ID, "error", err)
		}
		return nil
	}

	if wd, err := p.withdrawals.GetByExternalRef(ctx, gw.Name(), event.ExternalRef); err == nil {
		p.appendWithdrawalEvent(ctx, wd.ID, intent.EventSourceWebhook, event)
		if _, err := p.ApplyWithdrawalStatus(ctx, wd, event.Status, intent.EventSourceWebhook); err != nil {
			logger.Error("payout webhook transition failed downstream", "withdrawal_id", wd.ID, "error", err)
		}
		return nil
	}

	// Unknown correlation: acknowledge so the provider stops retrying, but
	// never mutate anything.
	logger.Warn("webhook for unknown external reference",
		"gateway", gatewayName, "external_ref", event.ExternalRef)
	metrics.RecordWebhook(gatewayName, "unknown_correlation")
	return nil
}

// ApplyIntentStatus drives one provider-reported status through the state
// machine. Unreachable targets and lost CAS races are silent no-ops. The
// first accepted transition into a paid terminal status credits the user's
// balance exactly once, keyed by (intent id, terminal status).
func (p *Processor) ApplyIntentStatus(ctx context.Context, in *intent.PaymentIntent, gs gateway.Status, source string) (bool, error) {
	target, ok := intentStatusFor(gs)
	if !ok {
		logger.Debug("ignoring unmapped provider status", "intent_id", in.ID, "provider_status", string(gs))
		return false, nil
	}

	decision := intent.Apply(in.Status, target)
	if !decision.Accepted {
		logger.Debug("transition not reachable, no-op",
			"intent_id", in.ID, "from", string(in.Status), "to", string(target))
		return false, nil
	}

	moved, err := p.intents.TransitionCAS(ctx, in.ID, in.Status, target, in.Version)
	if err != nil {
		return false, err
	}
	if !moved {
		// Someone else advanced this intent first.
		logger.Debug("lost transition race, no-op", "intent_id", in.ID)
		return false, nil
	}
	metrics.RecordTransition(string(target), source)

	if intent.SettlesLedger(target) {
		if err := p.settleIntent(ctx, in, target); err != nil {
			return true, err
		}
	}
	return true, nil
}

// SettleIntent retries the ledger credit for an intent that reached a paid
// terminal status without being settled. The idempotency key makes the retry
// safe even if the original credit actually landed.
func (p *Processor) SettleIntent(ctx context.Context, in *intent.PaymentIntent) error {
	if in.Settled {
		return nil
	}
	if !intent.SettlesLedger(in.Status) {
		return nil
	}
	return p.settleIntent(ctx, in, in.Status)
}

// settleIntent credits the paid amount. The idempotency key pins the effect
// to this intent and terminal status, so our own retries and the reconciler
// backstop cannot double-credit.
func (p *Processor) settleIntent(ctx context.Context, in *intent.PaymentIntent, target intent.Status) error {
	err := p.ledger.Credit(ctx, in.UserID, in.Amount, in.Currency, ledger.Key(in.ID, string(target)))
	if err != nil {
		metrics.RecordLedgerCall("credit", "error")
		return fmt.Errorf("crediting intent %s: %w", in.ID, err)
	}
	metrics.RecordLedgerCall("credit", "ok")

	if err := p.intents.MarkSettled(ctx, in.ID); err != nil {
		return err
	}

	if email, ok := in.Metadata["email"].(string); ok && email != "" && p.notifier != nil {
		if err := p.notifier.SendPaymentReceipt(ctx, email, in.Amount, in.Currency); err != nil {
			logger.Error("failed to queue payment receipt", "intent_id", in.ID, "error", err)
		}
	}
	return nil
}

// ApplyWithdrawalStatus is the payout counterpart: a payout that the
// provider reports failed refunds amount+fee exactly once.
func (p *Processor) ApplyWithdrawalStatus(ctx context.Context, wd *withdrawal.Transaction, gs gateway.Status, source string) (bool, error) {
	target, ok := withdrawalStatusFor(gs)
	if !ok {
		logger.Debug("ignoring unmapped provider payout status", "withdrawal_id", wd.ID, "provider_status", string(gs))
		return false, nil
	}

	decision := intent.Apply(wd.Status, target)
	if !decision.Accepted {
		logger.Debug("payout transition not reachable, no-op",
			"withdrawal_id", wd.ID, "from", string(wd.Status), "to", string(target))
		return false, nil
	}

	moved, err := p.withdrawals.TransitionCAS(ctx, wd.ID, wd.Status, target, wd.Version)
	if err != nil {
		return false, err
	}
	if !moved {
		logger.Debug("lost payout transition race, no-op", "withdrawal_id", wd.ID)
		return false, nil
	}
	metrics.RecordTransition(string(target), source)

	if target == intent.StatusFailed || target == intent.StatusExpired {
		if err := p.RefundWithdrawal(ctx, wd, target); err != nil {
			return true, err
		}
	}
	return true, nil
}

// RefundWithdrawal returns amount+fee to the user if the payout debit was
// made and not yet returned. Safe to call repeatedly: the key comes from
// withdrawal.RefundKey, so the first attempt and every retry collapse to
// one credit no matter which caller gets there.
func (p *Processor) RefundWithdrawal(ctx context.Context, wd *withdrawal.Transaction, target intent.Status) error {
	if !wd.Debited || wd.Refunded {
		return nil
	}

	err := p.ledger.Credit(ctx, wd.UserID, wd.Total(), wd.Currency, withdrawal.RefundKey(wd, target))
	if err != nil {
		metrics.RecordLedgerCall("credit", "error")
		return fmt.Errorf("refunding withdrawal %s: %w", wd.ID, err)
	}
	metrics.RecordLedgerCall("credit", "ok")

	return p.withdrawals.MarkRefunded(ctx, wd.ID)
}

// EnsureDebited replays the approval debit for a withdrawal whose flag
// update was interrupted. The key is the same one the approval used, so a
// debit that already landed is not taken twice; either way the flag ends up
// matching the ledger.
func (p *Processor) EnsureDebited(ctx context.Context, wd *withdrawal.Transaction) error {
	if wd.Debited {
		return nil
	}

	err := p.ledger.Debit(ctx, wd.UserID, wd.Total(), wd.Currency, withdrawal.DebitKey(wd))
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		metrics.RecordLedgerCall("debit", "insufficient")
		return fmt.Errorf("replaying debit for withdrawal %s: %w", wd.ID, err)
	}
	if err != nil {
		metrics.RecordLedgerCall("debit", "error")
		return fmt.Errorf("replaying debit for withdrawal %s: %w", wd.ID, err)
	}
	metrics.RecordLedgerCall("debit", "ok")

	return p.withdrawals.MarkDebited(ctx, wd.ID)
}

func (p *Processor) appendIntentEvent(ctx context.Context, id, source string, event *gateway.Event) {
	ev := &intent.Event{IntentID: id, Source: source, Status: string(event.Status), Raw: event.Raw}
	if err := p.intents.AppendEvent(ctx, ev); err != nil {
		logger.Error("failed to append intent event", "intent_id", id, "error", err)
	}
}

func (p *Processor) appendWithdrawalEvent(ctx context.Context, id, source string, event *gateway.Event) {
	ev := &intent.Event{IntentID: id, Source: source, Status: string(event.Status), Raw: event.Raw}
	if err := p.withdrawals.AppendEvent(ctx, ev); err != nil {
		logger.Error("failed to append withdrawal event", "withdrawal_id", id, "error", err)
	}
}

// intentStatusFor maps the canonical provider status onto the payment graph.
func intentStatusFor(gs gateway.Status) (intent.Status, bool) {
	switch gs {
	case gateway.StatusPending:
		return intent.StatusPendingProvider, true
	case gateway.StatusProcessing:
		return intent.StatusProcessing, true
	case gateway.StatusRequiresAction:
		return intent.StatusRequiresAction, true
	case gateway.StatusWaitingDeposit:
		return intent.StatusWaitingForDeposit, true
	case gateway.StatusPartiallyPaid:
		return intent.StatusPartiallyPaid, true
	case gateway.StatusConfirmed:
		return intent.StatusConfirmed, true
	case gateway.StatusSucceeded:
		return intent.StatusSucceeded, true
	case gateway.StatusFailed:
		return intent.StatusFailed, true
	case gateway.StatusCanceled:
		return intent.StatusCanceled, true
	case gateway.StatusExpired:
		return intent.StatusExpired, true
	default:
		return "", false
	}
}

// withdrawalStatusFor maps provider payout statuses; the crypto-only
// statuses have no payout meaning.
func withdrawalStatusFor(gs gateway.Status) (intent.Status, bool) {
	switch gs {
	case gateway.StatusProcessing, gateway.StatusPending:
		return intent.StatusProcessing, true
	case gateway.StatusSucceeded, gateway.StatusConfirmed:
		return intent.StatusSucceeded, true
	case gateway.StatusFailed, gateway.StatusCanceled:
		return intent.StatusFailed, true
	case gateway.StatusExpired:
		return intent.StatusExpired, true
	default:
		return "", false
	}
}
