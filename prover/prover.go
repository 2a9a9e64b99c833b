// Package prover implements the proof-generation collaborator of the
// engine. It is fully decoupled from the ledger mutation path: the runtime
// drops a job on a queue after a call commits, and an asynchronous worker
// consumes it, invokes a backend and stores the opaque proof blob (or the
// failure). Proving may be retried, time out or fall arbitrarily behind
// without affecting committed state.
package prover

import (
	"context"
	"fmt"

	"github.com/veilstate/veilstate/storage"
	"github.com/veilstate/veilstate/types"
)

// ErrProofGenerationFailed wraps every backend failure, so callers can
// match the class without inspecting backend internals.
var ErrProofGenerationFailed = fmt.Errorf("proof generation failed")

// Backend turns a proof job into a proof blob. Implementations must be safe
// for concurrent use by multiple workers.
type Backend interface {
	// Prove generates the proof for the job. A nil error means the
	// result carries a proof; a failed job is reported through the error
	// and stored by the worker.
	Prove(ctx context.Context, job *storage.ProofJob) (*storage.ProofResult, error)
}

// Queue is the transport between committed calls and proving workers. The
// db-backed implementation in storage is the default; a Redis queue can be
// plugged in for multi-process deployments.
type Queue interface {
	// Push enqueues a job for proving.
	Push(job *storage.ProofJob) error
	// Next reserves and returns the next pending job, or
	// storage.ErrNoMoreElements when the queue is drained.
	Next() (*storage.ProofJob, error)
	// Done consumes the reserved job and stores its result.
	Done(res *storage.ProofResult) error
	// Failed consumes the reserved job recording the proving failure.
	Failed(job *storage.ProofJob, cause error) error
	// Release drops the reservation of a job without consuming it.
	Release(jobID types.HexBytes) error
}

// DBQueue adapts the storage proof job artifacts into the Queue interface.
// It survives restarts: pending jobs are re-served after a reopen.
type DBQueue struct {
	stg *storage.Storage
}

// NewDBQueue returns the default, database-backed proving queue.
func NewDBQueue(stg *storage.Storage) *DBQueue {
	return &DBQueue{stg: stg}
}

func (q *DBQueue) Push(job *storage.ProofJob) error {
	return q.stg.PushProofJob(job)
}

func (q *DBQueue) Next() (*storage.ProofJob, error) {
	return q.stg.NextProofJob()
}

func (q *DBQueue) Done(res *storage.ProofResult) error {
	return q.stg.MarkProofJobDone(res)
}

func (q *DBQueue) Failed(job *storage.ProofJob, cause error) error {
	return q.stg.MarkProofJobFailed(job, cause)
}

func (q *DBQueue) Release(jobID types.HexBytes) error {
	return q.stg.ReleaseProofJob(jobID)
}
