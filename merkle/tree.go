// Package merkle implements the fixed-depth binary poseidon accumulator
// backing the tree ledger cells. A tree of depth n holds up to 2^n leaves at
// fixed positions; nodes are persisted by (level, index) so that only the
// touched path is rewritten on insert. The historic variant keeps every root
// it ever had, allowing membership proofs against past states.
//
// Mutations can be staged on an external write transaction, so a batch of
// tree updates commits or discards together with the rest of the ledger
// delta. Writers for a given tree must be serialized by the caller.
package merkle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/veilstate/veilstate/crypto/hash/poseidon"
	"github.com/veilstate/veilstate/types"
	"go.vocdoni.io/dvote/db"
)

var (
	// ErrTreeFull is returned when inserting into a tree that already
	// holds 2^depth leaves.
	ErrTreeFull = fmt.Errorf("merkle tree is full")
	// ErrPathLength is returned when a sibling path or direction bit
	// vector does not match the tree depth.
	ErrPathLength = fmt.Errorf("sibling path length does not match tree depth")
	// ErrAppendOnly is returned when trying to overwrite a leaf of a
	// historic tree.
	ErrAppendOnly = fmt.Errorf("historic merkle tree is append-only")
	// ErrLeafIndex is returned when addressing a leaf slot that has not
	// been written yet.
	ErrLeafIndex = fmt.Errorf("leaf index out of written range")
)

var (
	nodePrefix   = []byte{0x6e} // 'n'
	rootPrefix   = []byte{0x72} // 'r'
	metaNextKey  = []byte("meta/next")
	metaDepthKey = []byte("meta/depth")
)

// reader is the read surface shared by db.Database and db.WriteTx, so the
// same node walks serve both the committed and the staged view.
type reader interface {
	Get(key []byte) ([]byte, error)
}

// Tree is a fixed-depth binary poseidon accumulator over a key-value
// database. The zero-valued subtree digests are precomputed per level, so an
// empty tree stores no nodes at all.
type Tree struct {
	db       db.Database
	depth    int
	historic bool
	empty    []*big.Int
}

// Open loads or initializes a tree of the given depth on the database. The
// depth is pinned on first use and later opens must match it. Historic trees
// register their genesis (empty) root so that proofs against it verify.
func Open(database db.Database, depth int, historic bool) (*Tree, error) {
	if depth < 1 || depth > types.MaxTreeDepth {
		return nil, fmt.Errorf("tree depth must be between 1 and %d, got %d", types.MaxTreeDepth, depth)
	}
	empty, err := EmptyLadder(depth)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		db:       database,
		depth:    depth,
		historic: historic,
		empty:    empty,
	}
	stored, err := database.Get(metaDepthKey)
	switch {
	case err == nil:
		if int(stored[0]) != depth {
			return nil, fmt.Errorf("tree depth mismatch: stored %d, requested %d", stored[0], depth)
		}
	case errors.Is(err, db.ErrKeyNotFound):
		if err := t.initialize(); err != nil {
			return nil, fmt.Errorf("cannot initialize tree: %w", err)
		}
	default:
		return nil, err
	}
	return t, nil
}

// Depth returns the fixed tree depth.
func (t *Tree) Depth() int { return t.depth }

// NLeaves returns the number of appended leaves.
func (t *Tree) NLeaves() (uint64, error) {
	return t.nextIndex(t.db)
}

// NLeavesTx returns the leaf count as seen through a pending write
// transaction.
func (t *Tree) NLeavesTx(wTx db.WriteTx) (uint64, error) {
	return t.nextIndex(wTx)
}

// Root returns the current root digest as 32 big-endian bytes.
func (t *Tree) Root() (types.HexBytes, error) {
	root, err := t.readNode(t.db, t.depth, 0)
	if err != nil {
		return nil, err
	}
	return bigToBytes(root), nil
}

// RootTx returns the root as seen through a pending write transaction,
// including mutations staged on it.
func (t *Tree) RootTx(wTx db.WriteTx) (types.HexBytes, error) {
	root, err := t.readNode(wTx, t.depth, 0)
	if err != nil {
		return nil, err
	}
	return bigToBytes(root), nil
}

// Insert appends a leaf at the next free position and returns its index.
// The leaf must be a canonical field element.
func (t *Tree) Insert(leaf *big.Int) (uint64, error) {
	wTx := t.db.WriteTx()
	defer wTx.Discard()
	index, err := t.InsertTx(wTx, leaf)
	if err != nil {
		return 0, err
	}
	return index, wTx.Commit()
}

// InsertTx appends a leaf, staging all node writes on the given transaction.
// The insert becomes visible once the transaction commits.
func (t *Tree) InsertTx(wTx db.WriteTx, leaf *big.Int) (uint64, error) {
	next, err := t.nextIndex(wTx)
	if err != nil {
		return 0, err
	}
	if next >= uint64(1)<<t.depth {
		return 0, ErrTreeFull
	}
	if err := t.writePath(wTx, next, leaf, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

// Update overwrites an already written leaf slot. Only the mutable variant
// supports it; historic trees never rewrite a leaf.
func (t *Tree) Update(index uint64, leaf *big.Int) error {
	wTx := t.db.WriteTx()
	defer wTx.Discard()
	if err := t.UpdateTx(wTx, index, leaf); err != nil {
		return err
	}
	return wTx.Commit()
}

// UpdateTx overwrites a leaf slot, staging all node writes on the given
// transaction.
func (t *Tree) UpdateTx(wTx db.WriteTx, index uint64, leaf *big.Int) error {
	if t.historic {
		return ErrAppendOnly
	}
	next, err := t.nextIndex(wTx)
	if err != nil {
		return err
	}
	if index >= next {
		return ErrLeafIndex
	}
	return t.writePath(wTx, index, leaf, next)
}

// GenProof builds a membership proof for the leaf at the given index against
// the current committed root.
func (t *Tree) GenProof(index uint64) (*types.AccumulatorProof, error) {
	next, err := t.nextIndex(t.db)
	if err != nil {
		return nil, err
	}
	if index >= next {
		return nil, ErrLeafIndex
	}
	siblings := make([]types.HexBytes, t.depth)
	for level := 0; level < t.depth; level++ {
		sib, err := t.readNode(t.db, level, (index>>uint(level))^1)
		if err != nil {
			return nil, err
		}
		siblings[level] = bigToBytes(sib)
	}
	leaf, err := t.readNode(t.db, 0, index)
	if err != nil {
		return nil, err
	}
	root, err := t.readNode(t.db, t.depth, 0)
	if err != nil {
		return nil, err
	}
	return &types.AccumulatorProof{
		Root:     bigToBytes(root),
		Leaf:     bigToBytes(leaf),
		Index:    index,
		Siblings: siblings,
	}, nil
}

// Verify checks a membership proof against the current committed root.
func (t *Tree) Verify(proof *types.AccumulatorProof) (bool, error) {
	root, err := t.readNode(t.db, t.depth, 0)
	if err != nil {
		return false, err
	}
	return checkAgainst(t.depth, proof, root)
}

// WasRoot reports whether the digest is a root this tree had at some point.
// It only ever returns true on the historic variant, whose root set grows
// monotonically.
func (t *Tree) WasRoot(root types.HexBytes) bool {
	_, err := t.db.Get(append(rootPrefix, root...))
	return err == nil
}

// WasRootTx answers WasRoot through a pending write transaction, so roots
// produced by staged inserts count as well.
func (t *Tree) WasRootTx(wTx db.WriteTx, root types.HexBytes) bool {
	_, err := wTx.Get(append(rootPrefix, root...))
	return err == nil
}

// VerifyAtRoot checks a membership proof against a historic root. It returns
// false without error when the digest was never a root of this tree.
func (t *Tree) VerifyAtRoot(proof *types.AccumulatorProof, atRoot types.HexBytes) (bool, error) {
	if !t.WasRoot(atRoot) {
		return false, nil
	}
	return checkAgainst(t.depth, proof, bytesToBig(atRoot))
}

func (t *Tree) initialize() error {
	wTx := t.db.WriteTx()
	defer wTx.Discard()
	if err := wTx.Set(metaDepthKey, []byte{byte(t.depth)}); err != nil {
		return err
	}
	if err := wTx.Set(metaNextKey, binary.BigEndian.AppendUint64(nil, 0)); err != nil {
		return err
	}
	if t.historic {
		genesis := bigToBytes(t.empty[t.depth])
		if err := wTx.Set(append(rootPrefix, genesis...), binary.BigEndian.AppendUint64(nil, 0)); err != nil {
			return err
		}
	}
	return wTx.Commit()
}

// writePath stores the leaf and recomputes every node up to the root on the
// transaction, then advances the leaf counter to newNext.
func (t *Tree) writePath(wTx db.WriteTx, index uint64, leaf *big.Int, newNext uint64) error {
	cur := new(big.Int).Set(leaf)
	if err := wTx.Set(nodeKey(0, index), bigToBytes(cur)); err != nil {
		return err
	}
	for level := 0; level < t.depth; level++ {
		our := index >> uint(level)
		sib, err := t.readNode(wTx, level, our^1)
		if err != nil {
			return err
		}
		var parent *big.Int
		if our&1 == 0 {
			parent, err = poseidon.Hash2(cur, sib)
		} else {
			parent, err = poseidon.Hash2(sib, cur)
		}
		if err != nil {
			return fmt.Errorf("cannot hash tree nodes: %w", err)
		}
		if err := wTx.Set(nodeKey(level+1, our>>1), bigToBytes(parent)); err != nil {
			return err
		}
		cur = parent
	}
	if err := wTx.Set(metaNextKey, binary.BigEndian.AppendUint64(nil, newNext)); err != nil {
		return err
	}
	if t.historic {
		if err := wTx.Set(append(rootPrefix, bigToBytes(cur)...), binary.BigEndian.AppendUint64(nil, newNext)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) nextIndex(r reader) (uint64, error) {
	data, err := r.Get(metaNextKey)
	if err != nil {
		return 0, fmt.Errorf("cannot load tree metadata: %w", err)
	}
	return binary.BigEndian.Uint64(data), nil
}

func (t *Tree) readNode(r reader, level int, index uint64) (*big.Int, error) {
	data, err := r.Get(nodeKey(level, index))
	switch {
	case err == nil:
		return bytesToBig(data), nil
	case errors.Is(err, db.ErrKeyNotFound):
		return new(big.Int).Set(t.empty[level]), nil
	default:
		return nil, err
	}
}

func nodeKey(level int, index uint64) []byte {
	key := make([]byte, 0, 10)
	key = append(key, nodePrefix...)
	key = append(key, byte(level))
	return binary.BigEndian.AppendUint64(key, index)
}

func bigToBytes(v *big.Int) types.HexBytes {
	buf := make([]byte, types.HashLen)
	v.FillBytes(buf)
	return buf
}

func bytesToBig(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

func checkAgainst(depth int, proof *types.AccumulatorProof, root *big.Int) (bool, error) {
	siblings := make([]*big.Int, len(proof.Siblings))
	for i, s := range proof.Siblings {
		siblings[i] = bytesToBig(s)
	}
	return VerifyPath(depth, bytesToBig(proof.Leaf), siblings, PositionBits(proof.Index, depth), root)
}
