package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_order_transitions_total",
		Help: "Committed order status transitions by edge.",
	}, []string{"from", "to"})

	HandoffCodesIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_handoff_codes_issued_total",
		Help: "Confirmation codes issued by stage.",
	}, []string{"stage"})

	HandoffVerifyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_handoff_verify_failures_total",
		Help: "Rejected code verifications by stage.",
	}, []string{"stage"})

	PayoutRequestsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_payout_requests_created_total",
		Help: "Pending payout requests proposed by category.",
	}, []string{"category"})

	PayoutDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_payout_decisions_total",
		Help: "Admin payout decisions by outcome.",
	}, []string{"decision"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_ws_active_connections",
		Help: "Currently registered realtime connections.",
	})

	NotificationsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_notifications_dropped_total",
		Help: "Events dropped because a recipient buffer was full.",
	})

	OutboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_outbox_published_total",
		Help: "Outbox rows successfully published to the broker.",
	})

	OutboxFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_outbox_failed_total",
		Help: "Outbox publish attempts that failed.",
	})
)
