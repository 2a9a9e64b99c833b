package service

import (
	"context"
	"time"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/prover"
)

// ProverService represents a service that handles background proof
// generation. It drains the proof job queue, attesting each committed call
// with the configured backend.
type ProverService struct {
	worker *prover.Worker
}

// NewProver creates a new prover worker over the given queue and backend.
// The poll interval defines how often the queue is checked when idle.
func NewProver(queue prover.Queue, backend prover.Backend, poll time.Duration) *ProverService {
	return &ProverService{
		worker: prover.NewWorker(queue, backend, poll),
	}
}

// Start begins the proof generation service. It returns an error if the
// service is already running.
func (ps *ProverService) Start(ctx context.Context) error {
	return ps.worker.Start(ctx)
}

// Stop halts the proof generation service.
func (ps *ProverService) Stop() {
	ps.worker.Stop()
	log.Debugw("prover service stopped")
}
