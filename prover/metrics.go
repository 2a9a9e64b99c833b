package prover

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proofJobsDone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilstate_proof_jobs_done_total",
		Help: "Total number of proof jobs proven and stored",
	})

	proofJobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "veilstate_proof_jobs_failed_total",
		Help: "Total number of proof jobs that failed proving",
	})

	provingSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "veilstate_proving_duration_seconds",
		Help:    "Duration of proof generation in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
	})
)
