package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CreditsMutated records ledger mutations by kind (earned|used|expired) and source.
	CreditsMutated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inviteledger_credits_mutated_total",
			Help: "Total credit amounts written to the ledger",
		},
		[]string{"kind", "source"},
	)

	// RewardGrants counts reward grant decisions by outcome (granted|pending|rejected).
	RewardGrants = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inviteledger_reward_grants_total",
			Help: "Total reward grant decisions",
		},
		[]string{"outcome"},
	)

	// SuspiciousFingerprints counts fingerprint inspections that raised flags.
	SuspiciousFingerprints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inviteledger_suspicious_fingerprints_total",
			Help: "Total fingerprints flagged as suspicious",
		},
	)

	// NotificationsSent counts notification writes by channel and status.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inviteledger_notifications_total",
			Help: "Total notifications persisted",
		},
		[]string{"channel", "status"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inviteledger_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
