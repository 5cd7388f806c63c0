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

	RemindersDue = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "followup_reminders_due_total",
			Help: "Reminders found due by scheduler passes",
		},
	)

	RemindersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_reminders_dispatched_total",
			Help: "Reminders delivered and confirmed, by channel",
		},
		[]string{"channel"},
	)

	RemindersFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_reminders_failed_total",
			Help: "Reminders that could not be delivered or confirmed",
		},
		[]string{"channel", "code"},
	)

	SchedulerPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "followup_scheduler_pass_duration_seconds",
			Help:    "Duration of a reminder scheduler pass",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_transitions_total",
			Help: "Applied follow-up lifecycle events",
		},
		[]string{"event"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_http_requests_total",
			Help: "API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
