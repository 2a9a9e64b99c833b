// Package storage persists every engine artifact that lives outside an
// instance snapshot, and doubles as the work queue of the prover pipeline.
// All artifacts share one key-value database under the following prefixes:
//   - 'ir_' instance references
//   - 'is_' instance snapshots (cells, accumulators, spend set, delta log)
//   - 'rt_' global registry tree
//   - 'j/' pending proof jobs (queued)
//   - 'jr/' proof job reservations
//   - 'p/' proof results
//
// Note: only the proof job prefix supports queue operations; the rest are
// plain artifact stores.
package storage

import (
	"fmt"
	"sync"

	"go.vocdoni.io/dvote/db"
)

var (
	// Prefixes for the queued artifacts in the database.
	jobPrefix            = []byte("j/")
	jobReservationPrefix = []byte("jr/")
	proofPrefix          = []byte("p/")
)

var (
	// ErrNotFound is returned when an artifact does not exist in the storage.
	ErrNotFound = fmt.Errorf("artifact not found")
	// ErrNoMoreElements is returned by queue getters when every pending
	// element is reserved or the queue is empty.
	ErrNoMoreElements = fmt.Errorf("no more elements")
)

// Storage is the interface that wraps the basic methods to interact with the
// proof job queue and the proof result store.
type Storage struct {
	db db.Database

	// globalLock serializes the reserve and consume cycle of the job queue.
	globalLock sync.Mutex
}

// New creates a new Storage instance over the given database.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() {
	s.db.Close()
}
