package storage

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/state"
	"github.com/veilstate/veilstate/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

const (
	instanceDBprefix          = "is_"
	instanceDBreferencePrefix = "ir_"
)

var (
	// ErrInstanceNotFound is returned when an instance is not found in the database.
	ErrInstanceNotFound = fmt.Errorf("instance not found in the local database")
	// ErrInstanceAlreadyExists is returned by Deploy() if the instance already exists.
	ErrInstanceAlreadyExists = fmt.Errorf("instance already exists in the local database")
)

// updateRootRequest is used to update the indexed state root of an instance.
type updateRootRequest struct {
	id      types.StateID
	newRoot []byte
	done    chan struct{}
}

// rootKey converts a state root to its canonical hexadecimal string.
func rootKey(root []byte) string {
	return hex.EncodeToString(root)
}

// InstanceDB is a safe and persistent database of contract instances. It
// maintains an in-memory index mapping current state roots (in hexadecimal
// form) to instance IDs, and keeps loaded snapshots cached so concurrent
// calls against the same instance share the single-writer lock.
type InstanceDB struct {
	mu        sync.RWMutex
	db        db.Database
	loaded    map[types.StateID]*InstanceRef
	rootIndex map[string]types.StateID // maps hex(root) to instance ID

	updateRootChan chan *updateRootRequest
}

// NewInstanceDB creates a new InstanceDB object and starts the root update
// worker.
func NewInstanceDB(db db.Database) *InstanceDB {
	d := &InstanceDB{
		db:             db,
		loaded:         make(map[types.StateID]*InstanceRef),
		rootIndex:      make(map[string]types.StateID),
		updateRootChan: make(chan *updateRootRequest, 100),
	}

	go func() {
		for req := range d.updateRootChan {
			if err := d.updateRoot(req.id, req.newRoot); err != nil {
				log.Warnw("error updating instance root",
					"id", req.id.String(),
					"err", err)
			}
			if req.done != nil {
				close(req.done)
			}
		}
	}()

	return d
}

// Deploy creates a new instance from its schema and adds it to the database.
// The genesis snapshot is sealed at version zero. It returns
// ErrInstanceAlreadyExists if an instance with the given ID is present.
func (d *InstanceDB) Deploy(id types.StateID, schema types.Schema) (*InstanceRef, error) {
	key := refKey(id)

	d.mu.Lock()
	defer d.mu.Unlock()

	// Check in-memory.
	if _, exists := d.loaded[id]; exists {
		return nil, ErrInstanceAlreadyExists
	}
	// Check persistent DB.
	if _, err := d.db.Get(key); err == nil {
		return nil, ErrInstanceAlreadyExists
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return nil, err
	}

	snap, err := state.Initialize(d.instanceDB(id), id, schema)
	if err != nil {
		return nil, err
	}
	root, err := snap.Root()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ref := &InstanceRef{
		ID:          id,
		Schema:      schema,
		CreatedAt:   now,
		LastUsed:    now,
		currentRoot: root,
		snap:        snap,
	}
	ref.updateRootRequest = d.updateRootChan

	// Store the reference in the database.
	if err := d.writeReference(ref); err != nil {
		return nil, err
	}

	// Add to the in-memory maps.
	d.loaded[id] = ref
	rk := rootKey(root)
	if _, exists := d.rootIndex[rk]; !exists {
		d.rootIndex[rk] = id
	}

	return ref, nil
}

// writeReference writes an instance reference to the database.
func (d *InstanceDB) writeReference(ref *InstanceRef) error {
	key := refKey(ref.ID)
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ref); err != nil {
		return err
	}
	wtx := d.db.WriteTx()
	defer wtx.Discard()
	if err := wtx.Set(key, buf.Bytes()); err != nil {
		return err
	}
	return wtx.Commit()
}

// Exists returns true if the instance ID exists in the local database.
func (d *InstanceDB) Exists(id types.StateID) bool {
	d.mu.RLock()
	_, exists := d.loaded[id]
	d.mu.RUnlock()
	if exists {
		return true
	}
	_, err := d.db.Get(refKey(id))
	return err == nil
}

// Load returns an instance from memory or from the persistent KV database.
func (d *InstanceDB) Load(id types.StateID) (*InstanceRef, error) {
	d.mu.RLock()
	if ref, exists := d.loaded[id]; exists {
		d.mu.RUnlock()
		return ref, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.db.Get(refKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id.String())
		}
		return nil, err
	}

	var ref InstanceRef
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&ref); err != nil {
		return nil, err
	}

	snap, err := state.New(d.instanceDB(id), id)
	if err != nil {
		return nil, err
	}
	ref.snap = snap
	root, err := snap.Root()
	if err != nil {
		return nil, err
	}
	ref.currentRoot = root
	ref.updateRootRequest = d.updateRootChan

	// Update the LastUsed timestamp and write back to the database.
	ref.LastUsed = time.Now()
	if err := d.writeReference(&ref); err != nil {
		return nil, err
	}

	d.loaded[id] = &ref
	rk := rootKey(root)
	if _, exists := d.rootIndex[rk]; !exists {
		d.rootIndex[rk] = id
	}
	return &ref, nil
}

// List returns the IDs of every deployed instance.
func (d *InstanceDB) List() ([]types.StateID, error) {
	var ids []types.StateID
	prefix := []byte(instanceDBreferencePrefix)
	if err := d.db.Iterate(prefix, func(k, _ []byte) bool {
		var id types.StateID
		if err := id.Unmarshal(k); err != nil {
			log.Warnw("malformed instance reference key", "key", hex.EncodeToString(k))
			return true
		}
		ids = append(ids, id)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate instance references: %w", err)
	}
	return ids, nil
}

// ByRoot finds a loaded instance by its current state root.
func (d *InstanceDB) ByRoot(root []byte) (*InstanceRef, error) {
	rk := rootKey(root)
	d.mu.RLock()
	id, exists := d.rootIndex[rk]
	d.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no instance found with the provided root")
	}
	return d.Load(id)
}

// Del removes an instance from the database and memory. The registry tree
// keeps its last recorded root; only the local snapshot storage is
// reclaimed.
func (d *InstanceDB) Del(id types.StateID) error {
	wtx := d.db.WriteTx()
	if err := wtx.Delete(refKey(id)); err != nil {
		wtx.Discard()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}

	d.mu.Lock()
	if ref, exists := d.loaded[id]; exists {
		delete(d.rootIndex, rootKey(ref.currentRoot))
		delete(d.loaded, id)
	}
	d.mu.Unlock()

	go func(id types.StateID) {
		if _, err := deleteInstanceFromDatabase(d.db, instancePrefix(id)); err != nil {
			log.Warnw("error deleting instance snapshot", "id", id.String(), "err", err)
		}
	}(id)

	return nil
}

// deleteInstanceFromDatabase removes all keys belonging to an instance
// snapshot from the database.
func deleteInstanceFromDatabase(kv db.Database, prefix []byte) (int, error) {
	database := prefixeddb.NewPrefixedDatabase(kv, prefix)
	wtx := database.WriteTx()
	count := 0
	err := database.Iterate(nil, func(k, _ []byte) bool {
		if err := wtx.Delete(k); err != nil {
			log.Warnw("could not remove key from database", "key", hex.EncodeToString(k))
		} else {
			count++
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return count, wtx.Commit()
}

// updateRoot moves the root index entry of an instance to its new state
// root. It acquires the InstanceRef's rootMu before touching currentRoot.
func (d *InstanceDB) updateRoot(id types.StateID, newRoot []byte) error {
	newKey := rootKey(newRoot)
	d.mu.Lock()
	defer d.mu.Unlock()

	ref, exists := d.loaded[id]
	if !exists {
		return ErrInstanceNotFound
	}

	ref.rootMu.Lock()
	oldKey := rootKey(ref.currentRoot)
	if oldKey == newKey {
		ref.rootMu.Unlock()
		return nil
	}
	ref.currentRoot = append([]byte(nil), newRoot...)
	ref.rootMu.Unlock()

	delete(d.rootIndex, oldKey)
	d.rootIndex[newKey] = id
	return nil
}

// instanceDB returns the prefixed database holding one instance snapshot.
func (d *InstanceDB) instanceDB(id types.StateID) db.Database {
	return prefixeddb.NewPrefixedDatabase(d.db, instancePrefix(id))
}

// refKey returns the database key of an instance reference.
func refKey(id types.StateID) []byte {
	return append([]byte(instanceDBreferencePrefix), id.Marshal()...)
}

// instancePrefix returns the prefix used for the instance snapshot in the
// database.
func instancePrefix(id types.StateID) []byte {
	return append([]byte(instanceDBprefix), id.Marshal()...)
}
