package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbcpay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sbcpay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WebhooksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbcpay_webhooks_received_total",
			Help: "Total number of webhook deliveries received",
		},
		[]string{"gateway", "outcome"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbcpay_intent_transitions_total",
			Help: "Total number of accepted intent status transitions",
		},
		[]string{"to", "source"},
	)

	LedgerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbcpay_ledger_calls_total",
			Help: "Total number of balance ledger calls",
		},
		[]string{"op", "outcome"},
	)

	ReconcileSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbcpay_reconcile_sweeps_total",
			Help: "Total number of reconciliation sweeps",
		},
	)

	IntentsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sbcpay_intents_expired_total",
			Help: "Total number of intents force-expired by the reconciler",
		},
	)

	WithdrawalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbcpay_withdrawal_decisions_total",
			Help: "Total number of admin withdrawal decisions",
		},
		[]string{"decision"},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sbcpay_notifications_sent_total",
			Help: "Total number of notification emails sent",
		},
		[]string{"type", "status"},
	)

	NotifyQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sbcpay_notify_queue_length",
			Help: "Current length of the notification queue",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordWebhook(gateway, outcome string) {
	WebhooksReceivedTotal.WithLabelValues(gateway, outcome).Inc()
}

func RecordTransition(to, source string) {
	TransitionsTotal.WithLabelValues(to, source).Inc()
}

func RecordLedgerCall(op, outcome string) {
	LedgerCallsTotal.WithLabelValues(op, outcome).Inc()
}

func RecordWithdrawalDecision(decision string) {
	WithdrawalDecisionsTotal.WithLabelValues(decision).Inc()
}

func RecordNotification(notificationType, status string) {
	NotificationsSentTotal.WithLabelValues(notificationType, status).Inc()
}
