// Package state implements the ledger state of a contract instance: a set
// of typed cells declared by a schema, the engine provided nullifier spend
// set, and the execution context that mutates them atomically.
//
// Every mutation of an instance happens inside one write transaction that
// either commits as a whole or leaves no trace. Committed mutations are
// recorded as ordered deltas; replaying the delta log from genesis rebuilds
// the exact same state root sequence on any replica.
package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/veilstate/veilstate/crypto/hash/poseidon"
	"github.com/veilstate/veilstate/merkle"
	"github.com/veilstate/veilstate/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// ErrNotInitialized is returned when opening an instance that was
	// never deployed on this database.
	ErrNotInitialized = fmt.Errorf("instance state not initialized")
	// ErrAlreadyInitialized is returned when deploying over an existing
	// instance.
	ErrAlreadyInitialized = fmt.Errorf("instance state already initialized")
)

// Snapshot is the persisted ledger state of one contract instance. Calls
// against the same snapshot are serialized by an internal lock; snapshots of
// different instances share nothing and run in parallel.
type Snapshot struct {
	id      types.StateID
	idField *big.Int
	schema  types.Schema
	db      db.Database
	trees   map[string]*merkle.Tree
	spend   *merkle.Tree

	// callMu enforces the single-writer discipline: one execution
	// context or delta application at a time.
	callMu sync.Mutex
}

// New opens the state of an already deployed instance stored under the given
// (instance prefixed) database.
func New(database db.Database, id types.StateID) (*Snapshot, error) {
	data, err := database.Get(metaSchemaKey)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, ErrNotInitialized
	case err != nil:
		return nil, err
	}
	var schema types.Schema
	if err := cbor.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("cannot decode instance schema: %w", err)
	}
	s := &Snapshot{
		id:      id,
		idField: id.Field(),
		schema:  schema,
		db:      database,
	}
	if err := s.openTrees(); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize deploys a new instance on the database: validates the schema,
// creates every declared cell with its default value and seals the genesis
// state root at version zero.
func Initialize(database db.Database, id types.StateID, schema types.Schema) (*Snapshot, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	if _, err := database.Get(metaSchemaKey); err == nil {
		return nil, ErrAlreadyInitialized
	}
	data, err := cbor.Marshal(&schema)
	if err != nil {
		return nil, err
	}
	wTx := database.WriteTx()
	if err := wTx.Set(metaSchemaKey, data); err != nil {
		wTx.Discard()
		return nil, err
	}
	if err := wTx.Commit(); err != nil {
		return nil, err
	}

	s := &Snapshot{
		id:      id,
		idField: id.Field(),
		schema:  schema,
		db:      database,
	}
	if err := s.openTrees(); err != nil {
		return nil, err
	}

	// Seal the genesis root at version zero.
	wTx = database.WriteTx()
	defer wTx.Discard()
	root, err := s.computeRoot(wTx)
	if err != nil {
		return nil, err
	}
	if err := putUint64(wTx, metaVersionKey, 0); err != nil {
		return nil, err
	}
	if err := wTx.Set(metaRootKey, root); err != nil {
		return nil, err
	}
	if err := wTx.Set(versionRootKey(0), root); err != nil {
		return nil, err
	}
	if err := wTx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) openTrees() error {
	s.trees = make(map[string]*merkle.Tree)
	for _, cell := range s.schema.Cells {
		if !cell.Kind.IsTree() {
			continue
		}
		tree, err := merkle.Open(
			prefixeddb.NewPrefixedDatabase(s.db, cellTreePrefix(cell.Name)),
			cell.Depth,
			cell.Kind == types.CellHistoric,
		)
		if err != nil {
			return fmt.Errorf("cannot open tree cell %q: %w", cell.Name, err)
		}
		s.trees[cell.Name] = tree
	}
	spend, err := merkle.Open(
		prefixeddb.NewPrefixedDatabase(s.db, spendTreePfx),
		types.SpendTreeDepth,
		false,
	)
	if err != nil {
		return fmt.Errorf("cannot open spend set: %w", err)
	}
	s.spend = spend
	return nil
}

// ID returns the instance identifier.
func (s *Snapshot) ID() types.StateID { return s.id }

// Schema returns the cell declarations of the instance.
func (s *Snapshot) Schema() types.Schema { return s.schema }

// Close releases the underlying database.
func (s *Snapshot) Close() error { return s.db.Close() }

// Version returns the number of committed deltas since genesis.
func (s *Snapshot) Version() (uint64, error) {
	return getUint64(s.db, metaVersionKey)
}

// Root returns the current state root.
func (s *Snapshot) Root() (types.HexBytes, error) {
	return s.db.Get(metaRootKey)
}

// RootAt returns the state root the instance had at the given version.
func (s *Snapshot) RootAt(version uint64) (types.HexBytes, error) {
	root, err := s.db.Get(versionRootKey(version))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("no state root for version %d", version)
	}
	return root, err
}

// DeltaAt returns the delta that produced the given version.
func (s *Snapshot) DeltaAt(version uint64) (*Delta, error) {
	data, err := s.db.Get(deltaKey(version))
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("no delta for version %d", version)
	}
	if err != nil {
		return nil, err
	}
	delta := &Delta{}
	if err := delta.Unmarshal(data); err != nil {
		return nil, err
	}
	return delta, nil
}

// ApplyDelta applies an already sealed delta to the snapshot, verifying that
// the resulting state root matches the one recorded in the delta. It is the
// replay path: a replica receiving the ordered delta log reproduces the
// exact root sequence or fails loudly.
func (s *Snapshot) ApplyDelta(delta *Delta) error {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	version, err := getUint64(s.db, metaVersionKey)
	if err != nil {
		return err
	}
	if delta.Version != version+1 {
		return fmt.Errorf("cannot apply delta version %d on state version %d", delta.Version, version)
	}
	wTx := s.db.WriteTx()
	defer wTx.Discard()
	for _, op := range delta.Ops {
		if err := s.applyOp(wTx, op); err != nil {
			return err
		}
	}
	root, err := s.computeRoot(wTx)
	if err != nil {
		return err
	}
	if len(delta.RootAfter) > 0 && !bytes.Equal(root, delta.RootAfter) {
		return failf(CodeMerkleProof, "state root mismatch applying delta version %d", delta.Version)
	}
	delta.RootAfter = root
	if err := s.persist(wTx, delta); err != nil {
		return err
	}
	return wTx.Commit()
}

// persist seals a delta on the transaction: the delta log entry, the version
// root history and the current head.
func (s *Snapshot) persist(wTx db.WriteTx, delta *Delta) error {
	data, err := delta.Marshal()
	if err != nil {
		return err
	}
	if err := wTx.Set(deltaKey(delta.Version), data); err != nil {
		return err
	}
	if err := wTx.Set(versionRootKey(delta.Version), delta.RootAfter); err != nil {
		return err
	}
	if err := putUint64(wTx, metaVersionKey, delta.Version); err != nil {
		return err
	}
	return wTx.Set(metaRootKey, delta.RootAfter)
}

// computeRoot folds the digests of every cell and the spend set into the
// instance state root, as seen through the pending transaction.
func (s *Snapshot) computeRoot(wTx db.WriteTx) (types.HexBytes, error) {
	inputs := make([]*big.Int, 0, len(s.schema.Cells)+2)
	inputs = append(inputs, s.idField)
	for _, spec := range s.schema.Cells {
		digest, err := s.cellDigest(wTx, spec)
		if err != nil {
			return nil, fmt.Errorf("cannot digest cell %q: %w", spec.Name, err)
		}
		inputs = append(inputs, digest)
	}
	spendDigest, err := s.spendDigest(wTx)
	if err != nil {
		return nil, err
	}
	inputs = append(inputs, spendDigest)
	root, err := poseidon.MultiPoseidon(inputs...)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, types.HashLen)
	root.FillBytes(buf)
	return buf, nil
}

func (s *Snapshot) spendDigest(wTx db.WriteTx) (*big.Int, error) {
	treeTx := prefixeddb.NewPrefixedWriteTx(wTx, spendTreePfx)
	root, err := s.spend.RootTx(treeTx)
	if err != nil {
		return nil, err
	}
	count, err := s.spend.NLeavesTx(treeTx)
	if err != nil {
		return nil, err
	}
	return poseidon.MultiPoseidon(big.NewInt(tagSpend), new(big.Int).SetBytes(root), new(big.Int).SetUint64(count))
}

func (s *Snapshot) cell(name string, kind types.CellKind) (types.CellSpec, error) {
	spec, ok := s.schema.Cell(name)
	if !ok {
		return spec, failf(CodeInvalidCall, "unknown cell %q", name)
	}
	if spec.Kind != kind {
		return spec, failf(CodeInvalidCall, "cell %q is a %s, not a %s", name, spec.Kind, kind)
	}
	return spec, nil
}

func (s *Snapshot) tree(name string) (*merkle.Tree, error) {
	tree, ok := s.trees[name]
	if !ok {
		return nil, failf(CodeInvalidCall, "cell %q is not a tree", name)
	}
	return tree, nil
}
