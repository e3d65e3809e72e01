package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MarkWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exams",
		Name:      "mark_writes_total",
		Help:      "Marks ledger writes by operation and outcome.",
	}, []string{"operation", "outcome"})

	LockRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exams",
		Name:      "lock_rejections_total",
		Help:      "Writes refused by the exam lifecycle gate.",
	}, []string{"reason"})

	ExamTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exams",
		Name:      "transitions_total",
		Help:      "Exam lifecycle transitions by action.",
	}, []string{"action"})

	AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "exams",
		Name:      "audit_events_total",
		Help:      "Audit events by stage (enqueued, delivered, retried, failed).",
	}, []string{"stage"})

	AuditOutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "exams",
		Name:      "audit_outbox_pending",
		Help:      "Audit entries waiting for delivery after the last relay pass.",
	})

	AnalyticsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "exams",
		Name:      "analytics_duration_seconds",
		Help:      "Time spent computing ranking and analytics.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"computation"})
)
