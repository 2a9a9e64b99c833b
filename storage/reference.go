package storage

import (
	"sync"
	"time"

	"github.com/veilstate/veilstate/state"
	"github.com/veilstate/veilstate/types"
)

// InstanceRef is a reference to a deployed contract instance. It holds the
// loaded snapshot. Only the exported fields are persisted; the snapshot and
// the cached root are rebuilt on load.
type InstanceRef struct {
	ID        types.StateID
	Schema    types.Schema
	CreatedAt time.Time
	LastUsed  time.Time

	snap *state.Snapshot
	// rootMu protects currentRoot, which shadows the snapshot head so the
	// root index can be served without touching the database.
	rootMu      sync.Mutex
	currentRoot []byte
	// updateRootRequest is the channel to send asynchronous root update requests.
	updateRootRequest chan *updateRootRequest
}

// Snapshot returns the loaded state snapshot of the instance.
func (r *InstanceRef) Snapshot() *state.Snapshot {
	return r.snap
}

// Root returns the cached current state root.
func (r *InstanceRef) Root() types.HexBytes {
	r.rootMu.Lock()
	defer r.rootMu.Unlock()
	return append(types.HexBytes(nil), r.currentRoot...)
}

// UpdateRoot refreshes the cached root and the owning database's root index
// after a committed call. It sends an update request over the channel and
// waits until processed.
func (r *InstanceRef) UpdateRoot(newRoot types.HexBytes) error {
	done := make(chan struct{})
	req := &updateRootRequest{
		id:      r.ID,
		newRoot: newRoot,
		done:    done,
	}
	r.updateRootRequest <- req
	<-done
	return nil
}

// Info assembles the public description of the instance: identifier, schema
// and current snapshot heads.
func (r *InstanceRef) Info() (*types.InstanceInfo, error) {
	version, err := r.snap.Version()
	if err != nil {
		return nil, err
	}
	stateRoot, err := r.snap.Root()
	if err != nil {
		return nil, err
	}
	spendRoot, err := r.snap.SpendRoot()
	if err != nil {
		return nil, err
	}
	schema := r.Schema
	return &types.InstanceInfo{
		ID:        r.ID.Marshal(),
		Version:   version,
		StateRoot: stateRoot,
		SpendRoot: spendRoot,
		Schema:    &schema,
		CreatedAt: r.CreatedAt,
	}, nil
}
