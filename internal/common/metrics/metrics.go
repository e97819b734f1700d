// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	ExchangeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_requests_total",
			Help: "Exchange requests by flow, action and outcome",
		},
		[]string{"flow_id", "action_id", "outcome"},
	)

	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbound_messages_total",
			Help: "Inbound chat messages by type and route",
		},
		[]string{"type", "route"},
	)

	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_policy_decisions_total",
			Help: "Outbound policy decisions",
		},
		[]string{"decision", "reason"},
	)

	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Notification delivery attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status changes",
		},
		[]string{"from", "to"},
	)
)
