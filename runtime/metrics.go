package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilstate_calls_committed_total",
		Help: "Total number of circuit calls that committed a delta",
	})

	callsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "veilstate_calls_aborted_total",
		Help: "Total number of aborted circuit calls by failure code",
	}, []string{"reason"})

	callSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "veilstate_call_duration_seconds",
		Help:    "Duration of committed circuit calls in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	proofJobsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilstate_proof_jobs_queued_total",
		Help: "Total number of proof jobs handed to the prover queue",
	})
)
