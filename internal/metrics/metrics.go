// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CodesIssued counts ticket codes durably appended to the store.
	CodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_codes_issued_total",
		Help: "Ticket codes appended to the store",
	})

	// ClaimAttempts observes how many pairs were drawn before one was accepted.
	ClaimAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ticket_pair_claim_attempts",
		Help:    "Prime pairs sampled per accepted claim",
		Buckets: []float64{1, 2, 3, 5, 10, 50, 100, 1000},
	})

	// IndexLoadFailures counts history reads that fell back to an empty index.
	IndexLoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_pair_index_load_failures_total",
		Help: "Pair history reads that failed",
	})

	// IndexSize observes the number of historical pairs loaded per request.
	IndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ticket_pair_index_size",
		Help: "Pairs in the most recently loaded history snapshot",
	})

	// AppendConflicts counts pairs rejected by the store's uniqueness check.
	AppendConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticket_pair_append_conflicts_total",
		Help: "Pairs rejected at append time because another writer claimed them",
	})

	// Registrations counts registration requests by outcome.
	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_registrations_total",
		Help: "Registration requests by result",
	}, []string{"result"})

	// NotifyFailures counts notifier errors by sink.
	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticket_notify_failures_total",
		Help: "Notification deliveries that failed",
	}, []string{"sink"})
)
