package reconciler

import (
	"context"
	"time"

	"github.com/TambongStercy/SBC-MS-sub014/internal/gateway"
	"github.com/TambongStercy/SBC-MS-sub014/internal/intent"
	"github.com/TambongStercy/SBC-MS-sub014/internal/logger"
	"github.com/TambongStercy/SBC-MS-sub014/internal/metrics"
	"github.com/TambongStercy/SBC-MS-sub014/internal/payment"
	"github.com/TambongStercy/SBC-MS-sub014/internal/withdrawal"
)

// Config bounds one sweep. Grace is per gateway name; a gateway without an
// entry uses DefaultGrace.
type Config struct {
	Interval     time.Duration
	Grace        map[string]time.Duration
	DefaultGrace time.Duration
	MaxAge       time.Duration
	BatchLimit   int
}

// Poller is the safety net behind webhooks: it re-checks records the
// provider went quiet on, expires abandoned ones, and finishes ledger work
// that failed mid-flight. Every mutation goes through the same processor
// path webhooks use, so polling can never produce a different outcome.
type Poller struct {
	intents     intent.Repository
	withdrawals withdrawal.Repository
	registry    *gateway.Registry
	processor   *payment.Processor
	cfg         Config
}

func New(intents intent.Repository, withdrawals withdrawal.Repository, registry *gateway.Registry, processor *payment.Processor, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.DefaultGrace <= 0 {
		cfg.DefaultGrace = 10 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &Poller{
		intents:     intents,
		withdrawals: withdrawals,
		registry:    registry,
		processor:   processor,
		cfg:         cfg,
	}
}

// Run blocks until ctx is canceled, sweeping on every tick.
func (p *Poller) Run(ctx context.Context) {
	logger.Info("reconciler started", "interval", p.cfg.Interval.String())

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one full reconciliation pass. Errors on individual records are
// logged and skipped; one bad record never stalls the rest.
func (p *Poller) Sweep(ctx context.Context) {
	metrics.ReconcileSweepsTotal.Inc()

	p.pollStaleIntents(ctx)
	p.pollStaleWithdrawals(ctx)
	p.repairDebits(ctx)
	p.expireOverdue(ctx)
	p.retryUnsettled(ctx)
	p.retryUnrefunded(ctx)
}

func (p *Poller) graceFor(gatewayName string) time.Duration {
	if g, ok := p.cfg.Grace[gatewayName]; ok {
		return g
	}
	return p.cfg.DefaultGrace
}

func (p *Poller) pollStaleIntents(ctx context.Context) {
	for _, name := range p.registry.Names() {
		gw, ok := p.registry.ByName(name)
		if !ok {
			continue
		}

		cutoff := time.Now().Add(-p.graceFor(name))
		stale, err := p.intents.FindStale(ctx, name, cutoff, p.cfg.BatchLimit)
		if err != nil {
			logger.Error("failed to list stale intents", "gateway", name, "error", err)
			continue
		}

		for i := range stale {
			in := &stale[i]
			if in.ExternalRef == nil {
				continue
			}

			status, err := gw.PollStatus(ctx, *in.ExternalRef)
			if err != nil {
				logger.Warn("poll failed", "gateway", name, "intent_id", in.ID, "error", err)
				continue
			}

			p.recordIntentPoll(ctx, in.ID, status)
			if _, err := p.processor.ApplyIntentStatus(ctx, in, status, intent.EventSourcePoll); err != nil {
				logger.Error("poll transition failed", "intent_id", in.ID, "error", err)
			}
		}
	}
}

func (p *Poller) pollStaleWithdrawals(ctx context.Context) {
	for _, name := range p.registry.Names() {
		gw, ok := p.registry.ByName(name)
		if !ok {
			continue
		}

		cutoff := time.Now().Add(-p.graceFor(name))
		stale, err := p.withdrawals.FindStale(ctx, name, cutoff, p.cfg.BatchLimit)
		if err != nil {
			logger.Error("failed to list stale withdrawals", "gateway", name, "error", err)
			continue
		}

		for i := range stale {
			wd := &stale[i]
			if wd.ExternalRef == nil {
				continue
			}

			status, err := gw.PollStatus(ctx, *wd.ExternalRef)
			if err != nil {
				logger.Warn("payout poll failed", "gateway", name, "withdrawal_id", wd.ID, "error", err)
				continue
			}

			p.recordWithdrawalPoll(ctx, wd.ID, status)
			if _, err := p.processor.ApplyWithdrawalStatus(ctx, wd, status, intent.EventSourcePoll); err != nil {
				logger.Error("payout poll transition failed", "withdrawal_id", wd.ID, "error", err)
			}
		}
	}
}

// expireOverdue closes out records nothing has touched within MaxAge. A
// debited withdrawal gets its refund through the same processor path, so
// expiry can never strand funds.
func (p *Poller) expireOverdue(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.MaxAge)

	overdue, err := p.intents.FindOverdue(ctx, cutoff, p.cfg.BatchLimit)
	if err != nil {
		logger.Error("failed to list overdue intents", "error", err)
	} else {
		for i := range overdue {
			in := &overdue[i]
			moved, err := p.processor.ApplyIntentStatus(ctx, in, gateway.StatusExpired, intent.EventSourceSystem)
			if err != nil {
				logger.Error("failed to expire intent", "intent_id", in.ID, "error", err)
				continue
			}
			if moved {
				metrics.IntentsExpiredTotal.Inc()
				logger.Info("expired abandoned intent", "intent_id", in.ID, "age_cutoff", cutoff.Format(time.RFC3339))
			}
		}
	}

	overdueWds, err := p.withdrawals.FindOverdue(ctx, cutoff, p.cfg.BatchLimit)
	if err != nil {
		logger.Error("failed to list overdue withdrawals", "error", err)
		return
	}
	for i := range overdueWds {
		wd := &overdueWds[i]
		moved, err := p.processor.ApplyWithdrawalStatus(ctx, wd, gateway.StatusExpired, intent.EventSourceSystem)
		if err != nil {
			logger.Error("failed to expire withdrawal", "withdrawal_id", wd.ID, "error", err)
			continue
		}
		if moved {
			metrics.IntentsExpiredTotal.Inc()
			logger.Info("expired abandoned withdrawal", "withdrawal_id", wd.ID)
		}
	}
}

// repairDebits finishes approvals interrupted between the ledger debit and
// the flag update. The replay reuses the approval's idempotency key, then
// the withdrawal goes back to the approval queue for the operator to decide
// again.
func (p *Poller) repairDebits(ctx context.Context) {
	stuck, err := p.withdrawals.FindUndebitedApproved(ctx, p.cfg.BatchLimit)
	if err != nil {
		logger.Error("failed to list undebited approvals", "error", err)
		return
	}

	for i := range stuck {
		wd := &stuck[i]
		if err := p.processor.EnsureDebited(ctx, wd); err != nil {
			logger.Error("debit repair failed", "withdrawal_id", wd.ID, "error", err)
			continue
		}
		if _, err := p.withdrawals.TransitionCAS(ctx, wd.ID, intent.StatusProcessing, intent.StatusPendingAdminApproval, wd.Version); err != nil {
			logger.Error("failed to requeue repaired withdrawal", "withdrawal_id", wd.ID, "error", err)
			continue
		}
		logger.Info("repaired interrupted approval debit", "withdrawal_id", wd.ID)
	}
}

// retryUnsettled finishes credits for paid intents whose ledger call failed
// after the transition landed.
func (p *Poller) retryUnsettled(ctx context.Context) {
	unsettled, err := p.intents.FindUnsettled(ctx, p.cfg.BatchLimit)
	if err != nil {
		logger.Error("failed to list unsettled intents", "error", err)
		return
	}

	for i := range unsettled {
		in := &unsettled[i]
		if err := p.processor.SettleIntent(ctx, in); err != nil {
			logger.Error("settle retry failed", "intent_id", in.ID, "error", err)
			continue
		}
		logger.Info("settled intent on retry", "intent_id", in.ID)
	}
}

// retryUnrefunded returns debits owed on closed withdrawals.
func (p *Poller) retryUnrefunded(ctx context.Context) {
	owed, err := p.withdrawals.FindUnrefunded(ctx, p.cfg.BatchLimit)
	if err != nil {
		logger.Error("failed to list unrefunded withdrawals", "error", err)
		return
	}

	for i := range owed {
		wd := &owed[i]
		if err := p.processor.RefundWithdrawal(ctx, wd, wd.Status); err != nil {
			logger.Error("refund retry failed", "withdrawal_id", wd.ID, "error", err)
			continue
		}
		logger.Info("refunded withdrawal on retry", "withdrawal_id", wd.ID)
	}
}

func (p *Poller) recordIntentPoll(ctx context.Context, id string, status gateway.Status) {
	ev := &intent.Event{IntentID: id, Source: intent.EventSourcePoll, Status: string(status)}
	if err := p.intents.AppendEvent(ctx, ev); err != nil {
		logger.Error("failed to append poll event", "intent_id", id, "error", err)
	}
}

func (p *Poller) recordWithdrawalPoll(ctx context.Context, id string, status gateway.Status) {
	ev := &intent.Event{IntentID: id, Source: intent.EventSourcePoll, Status: string(status)}
	if err := p.withdrawals.AppendEvent(ctx, ev); err != nil {
		logger.Error("failed to append payout poll event", "withdrawal_id", id, "error", err)
	}
}
