package state

import (
	"errors"

	"github.com/veilstate/veilstate/merkle"
	"github.com/veilstate/veilstate/types"
	"go.vocdoni.io/dvote/db"
)

// Read-only accessors over the committed state. They never observe the
// staged mutations of an in-flight call.

// CounterValue returns the current value of a counter cell.
func (s *Snapshot) CounterValue(name string) (uint64, error) {
	if _, err := s.cell(name, types.CellCounter); err != nil {
		return 0, err
	}
	return getUint64(s.db, cellKey(name, "val"))
}

// SetMember reports whether the item belongs to a set cell.
func (s *Snapshot) SetMember(name string, item []byte) (bool, error) {
	if _, err := s.cell(name, types.CellSet); err != nil {
		return false, err
	}
	return readMember(s.db, name, item)
}

// SetSize returns the number of items in a set cell.
func (s *Snapshot) SetSize(name string) (uint64, error) {
	if _, err := s.cell(name, types.CellSet); err != nil {
		return 0, err
	}
	return getUint64(s.db, cellKey(name, "size"))
}

// MapGet returns the value stored under the key of a map cell. Direct access
// on an absent key fails; use MapLookup when absence is expected.
func (s *Snapshot) MapGet(name string, key []byte) ([]byte, error) {
	if _, err := s.cell(name, types.CellMap); err != nil {
		return nil, err
	}
	value, ok, err := readMapValue(s.db, name, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, failf(CodeMissingKey, "map %q has no such key", name)
	}
	return value, nil
}

// MapLookup returns the value stored under the key of a map cell, reporting
// absence instead of failing.
func (s *Snapshot) MapLookup(name string, key []byte) ([]byte, bool, error) {
	if _, err := s.cell(name, types.CellMap); err != nil {
		return nil, false, err
	}
	return readMapValue(s.db, name, key)
}

// MapMember reports whether the key is present in a map cell, without
// fetching its value.
func (s *Snapshot) MapMember(name string, key []byte) (bool, error) {
	if _, err := s.cell(name, types.CellMap); err != nil {
		return false, err
	}
	return readMember(s.db, name, key)
}

// MapSize returns the number of entries in a map cell.
func (s *Snapshot) MapSize(name string) (uint64, error) {
	if _, err := s.cell(name, types.CellMap); err != nil {
		return 0, err
	}
	return getUint64(s.db, cellKey(name, "size"))
}

// ListLen returns the number of items in a list cell.
func (s *Snapshot) ListLen(name string) (uint64, error) {
	if _, err := s.cell(name, types.CellList); err != nil {
		return 0, err
	}
	return getUint64(s.db, cellKey(name, "len"))
}

// ListGet returns the item at the given position of a list cell.
func (s *Snapshot) ListGet(name string, index uint64) ([]byte, error) {
	if _, err := s.cell(name, types.CellList); err != nil {
		return nil, err
	}
	return readListItem(s.db, name, index)
}

// TreeRoot returns the current root of a tree cell.
func (s *Snapshot) TreeRoot(name string) (types.HexBytes, error) {
	tree, err := s.tree(name)
	if err != nil {
		return nil, err
	}
	return tree.Root()
}

// TreeProof builds a membership proof for the leaf at the given position of
// a tree cell.
func (s *Snapshot) TreeProof(name string, index uint64) (*types.AccumulatorProof, error) {
	tree, err := s.tree(name)
	if err != nil {
		return nil, err
	}
	proof, err := tree.GenProof(index)
	if errors.Is(err, merkle.ErrLeafIndex) {
		return nil, failf(CodeIndexOutOfRange, "tree %q has no leaf %d", name, index)
	}
	return proof, err
}

// TreeVerify checks a membership proof against the current root of a tree
// cell.
func (s *Snapshot) TreeVerify(name string, proof *types.AccumulatorProof) (bool, error) {
	tree, err := s.tree(name)
	if err != nil {
		return false, err
	}
	valid, err := tree.Verify(proof)
	return valid, mapProofErr(err)
}

// TreeWasRoot reports whether the digest was ever a root of a historic tree
// cell.
func (s *Snapshot) TreeWasRoot(name string, root types.HexBytes) (bool, error) {
	if _, err := s.cell(name, types.CellHistoric); err != nil {
		return false, err
	}
	tree, err := s.tree(name)
	if err != nil {
		return false, err
	}
	return tree.WasRoot(root), nil
}

// TreeVerifyAtRoot checks a membership proof of a historic tree cell against
// any of its past roots.
func (s *Snapshot) TreeVerifyAtRoot(name string, proof *types.AccumulatorProof, atRoot types.HexBytes) (bool, error) {
	if _, err := s.cell(name, types.CellHistoric); err != nil {
		return false, err
	}
	tree, err := s.tree(name)
	if err != nil {
		return false, err
	}
	valid, err := tree.VerifyAtRoot(proof, atRoot)
	return valid, mapProofErr(err)
}

// Spent reports whether a nullifier has already been spent on this instance.
func (s *Snapshot) Spent(nullifier types.HexBytes) (bool, error) {
	_, err := s.db.Get(spendKey(nullifier))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, db.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SpendRoot returns the root of the nullifier spend set.
func (s *Snapshot) SpendRoot() (types.HexBytes, error) {
	return s.spend.Root()
}

// SpendCount returns the number of spent nullifiers.
func (s *Snapshot) SpendCount() (uint64, error) {
	return s.spend.NLeaves()
}

// SpendProof builds a membership proof for a spent nullifier.
func (s *Snapshot) SpendProof(nullifier types.HexBytes) (*types.AccumulatorProof, error) {
	data, err := s.db.Get(spendKey(nullifier))
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, failf(CodeMissingKey, "nullifier not spent")
	case err != nil:
		return nil, err
	}
	return s.spend.GenProof(uint64FromBytes(data))
}

// mapProofErr converts the accumulator's malformed-path error into the
// typed failure callers match on.
func mapProofErr(err error) error {
	if errors.Is(err, merkle.ErrPathLength) {
		return failf(CodeMerkleProof, "malformed sibling path")
	}
	return err
}

func readMember(r reader, name string, item []byte) (bool, error) {
	_, err := r.Get(cellItemKey(name, item))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, db.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func readMapValue(r reader, name string, key []byte) ([]byte, bool, error) {
	value, err := r.Get(cellItemKey(name, key))
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func readListItem(r reader, name string, index uint64) ([]byte, error) {
	length, err := getUint64(r, cellKey(name, "len"))
	if err != nil {
		return nil, err
	}
	if index >= length {
		return nil, failf(CodeIndexOutOfRange, "list %q has %d items, index %d", name, length, index)
	}
	return r.Get(cellListKey(name, index))
}
