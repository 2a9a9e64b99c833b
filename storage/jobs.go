package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/types"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// PushProofJob stores a new job into the pending queue.
func (s *Storage) PushProofJob(job *ProofJob) error {
	if len(job.ID) == 0 {
		return fmt.Errorf("proof job without id")
	}
	val, err := encodeArtifact(job)
	if err != nil {
		return fmt.Errorf("encode proof job: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), jobPrefix)
	if err := wTx.Set(job.ID, val); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// NextProofJob returns the next non-reserved pending job and creates a
// reservation for it. If no jobs are available, returns ErrNoMoreElements.
// The job ID is used to mark the job as done or failed after proving.
func (s *Storage) NextProofJob() (*ProofJob, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	pr := prefixeddb.NewPrefixedReader(s.db, jobPrefix)
	var chosenKey, chosenVal []byte
	if err := pr.Iterate(nil, func(k, v []byte) bool {
		// check if reserved
		if s.isReserved(jobReservationPrefix, k) {
			return true
		}
		chosenKey = k
		chosenVal = v
		return false
	}); err != nil {
		return nil, fmt.Errorf("iterate proof jobs: %w", err)
	}
	if chosenVal == nil {
		return nil, ErrNoMoreElements
	}

	var job ProofJob
	if err := decodeArtifact(chosenVal, &job); err != nil {
		return nil, fmt.Errorf("decode proof job: %w", err)
	}

	// set reservation
	if err := s.setReservation(jobReservationPrefix, chosenKey); err != nil {
		return nil, ErrNoMoreElements
	}

	return &job, nil
}

// MarkProofJobDone is called after a job has been proven. It removes the
// reservation and the pending job and stores the result.
func (s *Storage) MarkProofJobDone(res *ProofResult) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	// remove reservation
	if err := s.deleteArtifact(jobReservationPrefix, res.JobID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete reservation: %w", err)
	}

	// remove from pending queue
	if err := s.deleteArtifact(jobPrefix, res.JobID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete pending job: %w", err)
	}

	// store result
	if err := s.setArtifact(proofPrefix, res.JobID, res); err != nil {
		return fmt.Errorf("store proof result: %w", err)
	}
	return nil
}

// MarkProofJobFailed records a proving failure for the job. The pending
// entry is consumed the same way as a successful proof.
func (s *Storage) MarkProofJobFailed(job *ProofJob, cause error) error {
	return s.MarkProofJobDone(&ProofResult{
		JobID:       job.ID,
		Instance:    job.Instance,
		Version:     job.Version,
		Error:       cause.Error(),
		CompletedAt: time.Now().UTC(),
	})
}

// ReleaseProofJob drops the reservation of a job so another worker can take
// it. Used when a worker shuts down between reserving and proving.
func (s *Storage) ReleaseProofJob(jobID types.HexBytes) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if err := s.deleteArtifact(jobReservationPrefix, jobID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

// ProofJobByID returns a pending job by its ID, or ErrNotFound.
func (s *Storage) ProofJobByID(jobID types.HexBytes) (*ProofJob, error) {
	job := &ProofJob{}
	if err := s.getArtifact(jobPrefix, jobID, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ProofResultByID returns the result of a consumed job, or ErrNotFound while
// the job is still in the queue.
func (s *Storage) ProofResultByID(jobID types.HexBytes) (*ProofResult, error) {
	res := &ProofResult{}
	if err := s.getArtifact(proofPrefix, jobID, res); err != nil {
		return nil, err
	}
	return res, nil
}

// JobStatus reports where in the pipeline a job currently is. It returns
// ErrNotFound for unknown job IDs.
func (s *Storage) JobStatus(jobID types.HexBytes) (JobStatus, error) {
	res, err := s.ProofResultByID(jobID)
	switch {
	case err == nil:
		if res.Error != "" {
			return JobStatusFailed, nil
		}
		return JobStatusDone, nil
	case !errors.Is(err, ErrNotFound):
		return "", err
	}
	if _, err := s.ProofJobByID(jobID); err != nil {
		return "", err
	}
	if s.isReserved(jobReservationPrefix, jobID) {
		return JobStatusProving, nil
	}
	return JobStatusPending, nil
}

// CountPendingJobs returns the number of jobs waiting in the queue,
// reserved ones included.
func (s *Storage) CountPendingJobs() int {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	rd := prefixeddb.NewPrefixedReader(s.db, jobPrefix)
	count := 0
	if err := rd.Iterate(nil, func(_, _ []byte) bool {
		count++
		return true
	}); err != nil {
		log.Warnw("failed to count pending jobs", "error", err.Error())
	}
	return count
}

// ListProofJobs returns the IDs of every pending job.
func (s *Storage) ListProofJobs() ([]types.HexBytes, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	rd := prefixeddb.NewPrefixedReader(s.db, jobPrefix)
	var ids []types.HexBytes
	if err := rd.Iterate(nil, func(k, _ []byte) bool {
		key := make(types.HexBytes, len(k))
		copy(key, k)
		ids = append(ids, key)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate proof jobs: %w", err)
	}
	return ids, nil
}
