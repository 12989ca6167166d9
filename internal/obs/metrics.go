package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exposed on /metrics.  Side effects that are not allowed to
// fail a booking transition (refunds, intent updates, notifications) are
// counted here so a backlog of failures is visible.
var (
	SideEffects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_side_effects_total",
		Help: "Gateway and notification side effects by operation and result.",
	}, []string{"op", "result"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_webhook_events_total",
		Help: "Payment webhook events by type and result.",
	}, []string{"type", "result"})

	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_sweep_runs_total",
		Help: "Timeout sweep executions by result.",
	}, []string{"result"})

	SweepBookings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_sweep_bookings_total",
		Help: "Bookings handled by the timeout sweep by action.",
	}, []string{"action"})

	LedgerAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_ledger_anomalies_total",
		Help: "Data integrity problems and ledger drift detected while reconciling.",
	}, []string{"kind"})

	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_notifications_delivered_total",
		Help: "Notifications delivered by the worker by channel and result.",
	}, []string{"channel", "result"})
)
