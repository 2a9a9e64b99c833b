package storage

import (
	"time"

	"github.com/veilstate/veilstate/types"
)

// ProofJob is the unit of work of the prover pipeline. It is enqueued after
// a call commits and carries everything a worker needs to attest the commit:
// the public call data and the registry transition captured at commit time.
// Witness material never enters a job.
type ProofJob struct {
	ID           types.HexBytes      `json:"id"`
	Instance     types.HexBytes      `json:"instance"`
	Circuit      string              `json:"circuit"`
	Version      uint64              `json:"version"`
	RootBefore   types.HexBytes      `json:"rootBefore"`
	RootAfter    types.HexBytes      `json:"rootAfter"`
	PublicInputs []*types.BigInt     `json:"publicInputs,omitempty"`
	Outputs      []*types.BigInt     `json:"outputs,omitempty"`
	Nullifiers   []types.HexBytes    `json:"nullifiers,omitempty"`
	Registry     *RegistryTransition `json:"registry,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// RegistryTransition is the pair of registry tree proofs around one commit,
// generated while the registry lock was held so no other update interleaves.
type RegistryTransition struct {
	Before types.RegistryProof `json:"before"`
	After  types.RegistryProof `json:"after"`
}

// ProofResult is the outcome of a consumed proof job: an opaque proof blob
// from the prover backend, or the reason proving failed.
type ProofResult struct {
	JobID         types.HexBytes `json:"jobId"`
	Instance      types.HexBytes `json:"instance"`
	Version       uint64         `json:"version"`
	Proof         types.HexBytes `json:"proof,omitempty"`
	PublicWitness types.HexBytes `json:"publicWitness,omitempty"`
	Error         string         `json:"error,omitempty"`
	CompletedAt   time.Time      `json:"completedAt"`
}

// JobStatus is the queue state of a proof job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusProving JobStatus = "proving"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)
