package runtime

import (
	"bytes"
	"fmt"

	"go.vocdoni.io/dvote/db"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/state"
)

// Replay rebuilds an instance on a fresh database by applying its ordered
// delta log from genesis, and verifies that every intermediate state root
// matches the recorded history. It is how a replica catches up and how the
// reproducibility guarantee is checked: same deltas, same roots, bit for
// bit.
func Replay(src *state.Snapshot, dst db.Database) (*state.Snapshot, error) {
	replica, err := state.Initialize(dst, src.ID(), src.Schema())
	if err != nil {
		return nil, fmt.Errorf("cannot initialize replica: %w", err)
	}

	genesisSrc, err := src.RootAt(0)
	if err != nil {
		return nil, err
	}
	genesisDst, err := replica.Root()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(genesisSrc, genesisDst) {
		return nil, fmt.Errorf("genesis root mismatch: source %s, replica %s",
			genesisSrc.String(), genesisDst.String())
	}

	head, err := src.Version()
	if err != nil {
		return nil, err
	}
	for version := uint64(1); version <= head; version++ {
		delta, err := src.DeltaAt(version)
		if err != nil {
			return nil, fmt.Errorf("cannot read delta %d: %w", version, err)
		}
		// ApplyDelta re-checks the recorded root after every step.
		if err := replica.ApplyDelta(delta); err != nil {
			return nil, fmt.Errorf("replay diverged at version %d: %w", version, err)
		}
	}
	log.Debugw("instance replayed", "id", src.ID().String(), "versions", head)
	return replica, nil
}
