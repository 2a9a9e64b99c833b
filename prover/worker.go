package prover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/storage"
)

const defaultPollInterval = 500 * time.Millisecond

// Worker drains the proving queue in the background. It is the only
// component that calls the backend; the ledger mutation path never waits
// for it.
type Worker struct {
	queue   Queue
	backend Backend
	poll    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker builds a worker over the queue and backend. A zero poll
// interval selects the default.
func NewWorker(queue Queue, backend Backend, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Worker{queue: queue, backend: backend, poll: poll}
}

// Start launches the background proving loop. It returns an error if the
// worker is already running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return fmt.Errorf("worker already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop cancels the proving loop and waits for the in-flight job, if any, to
// be stored or released.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Drain everything pending before sleeping again.
		for {
			if ctx.Err() != nil {
				return
			}
			job, err := w.queue.Next()
			if errors.Is(err, storage.ErrNoMoreElements) {
				break
			}
			if err != nil {
				log.Warnw("cannot fetch next proof job", "error", err.Error())
				break
			}
			w.process(ctx, job)
		}
	}
}

// process proves one reserved job and consumes it. A context cancellation
// releases the reservation instead, so the job is retried on the next run.
func (w *Worker) process(ctx context.Context, job *storage.ProofJob) {
	start := time.Now()
	res, err := w.backend.Prove(ctx, job)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if relErr := w.queue.Release(job.ID); relErr != nil {
			log.Warnw("cannot release interrupted proof job",
				"job", job.ID.String(), "error", relErr.Error())
		}
		return
	case err != nil:
		log.Warnw("proof generation failed",
			"job", job.ID.String(),
			"instance", job.Instance.String(),
			"version", job.Version,
			"error", err.Error())
		if failErr := w.queue.Failed(job, err); failErr != nil {
			log.Errorw(failErr, "cannot record proving failure")
		}
		proofJobsFailed.Inc()
		return
	}
	if err := w.queue.Done(res); err != nil {
		log.Errorw(err, "cannot store proof result")
		return
	}
	proofJobsDone.Inc()
	provingSeconds.Observe(time.Since(start).Seconds())
	log.Infow("proof generated",
		"job", job.ID.String(),
		"instance", job.Instance.String(),
		"version", job.Version,
		"took", time.Since(start).String())
}
