package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/veilstate/veilstate/crypto/hash/poseidon"
	"github.com/veilstate/veilstate/merkle"
	"github.com/veilstate/veilstate/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// Cell kind tags mixed into cell digests so two cells with equal content but
// different kinds can never produce the same digest.
const (
	tagCounter int64 = iota + 1
	tagSet
	tagMap
	tagList
	tagMerkle
	tagHistoric
	tagSpend
)

// scalarField is the order of the field all cell digests live in.
var scalarField = fr.Modulus()

// reader is the read surface shared by the committed database and a pending
// write transaction, so cell reads behave identically inside and outside an
// execution context.
type reader interface {
	Get(key []byte) ([]byte, error)
}

// Keyspace of one instance. Every key of a contract instance lives under the
// instance prefix handed to the snapshot:
//   - m/       metadata (schema, current version, current root)
//   - v/       state root per version
//   - d/       delta log per version
//   - c/<name> cell payloads, accumulators and tree nodes
//   - u/       the engine provided nullifier spend set
var (
	metaSchemaKey  = []byte("m/schema")
	metaVersionKey = []byte("m/version")
	metaRootKey    = []byte("m/root")
	versionPrefix  = []byte("v/")
	deltaPrefix    = []byte("d/")
	spendItemKey   = []byte("u/i/")
	spendTreePfx   = []byte("u/t/")
)

func versionRootKey(version uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, versionPrefix...), version)
}

func deltaKey(version uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, deltaPrefix...), version)
}

func cellKey(name, sub string) []byte {
	return []byte("c/" + name + "/" + sub)
}

func cellItemKey(name string, item []byte) []byte {
	return append(cellKey(name, "i/"), item...)
}

func cellListKey(name string, index uint64) []byte {
	return binary.BigEndian.AppendUint64(cellKey(name, "i/"), index)
}

func cellTreePrefix(name string) []byte {
	return cellKey(name, "t/")
}

func spendKey(nullifier []byte) []byte {
	return append(append([]byte{}, spendItemKey...), nullifier...)
}

// toField reduces arbitrary bytes into the digest field.
func toField(b []byte) *big.Int {
	return new(big.Int).Mod(new(big.Int).SetBytes(b), scalarField)
}

// itemField hashes length-prefixed byte parts into a field element. The
// length prefixes keep the encoding injective across part boundaries.
func itemField(parts ...[]byte) *big.Int {
	buf := make([]byte, 0, 64)
	for _, p := range parts {
		buf = binary.AppendUvarint(buf, uint64(len(p)))
		buf = append(buf, p...)
	}
	return toField(ethcrypto.Keccak256(buf))
}

// accAdd and accSub maintain the order-independent content accumulator of a
// cell: the field sum of its item digests. Insert adds, remove subtracts, so
// any mutation updates the cell digest in constant time.
func accAdd(acc, item *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Add(acc, item), scalarField)
}

func accSub(acc, item *big.Int) *big.Int {
	r := new(big.Int).Sub(acc, item)
	return r.Mod(r, scalarField)
}

func uint64FromBytes(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func getUint64(r reader, key []byte) (uint64, error) {
	data, err := r.Get(key)
	switch {
	case err == nil:
		return binary.BigEndian.Uint64(data), nil
	case errors.Is(err, db.ErrKeyNotFound):
		return 0, nil
	default:
		return 0, err
	}
}

func getAcc(r reader, name string) (*big.Int, error) {
	data, err := r.Get(cellKey(name, "acc"))
	switch {
	case err == nil:
		return new(big.Int).SetBytes(data), nil
	case errors.Is(err, db.ErrKeyNotFound):
		return big.NewInt(0), nil
	default:
		return nil, err
	}
}

func putUint64(wTx db.WriteTx, key []byte, v uint64) error {
	return wTx.Set(key, binary.BigEndian.AppendUint64(nil, v))
}

func putAcc(wTx db.WriteTx, name string, acc *big.Int) error {
	return wTx.Set(cellKey(name, "acc"), acc.Bytes())
}

// applyOp executes one mutation on the transaction and keeps the cell
// accumulators in sync. It is the single write path of the engine: live
// calls and delta replay both go through it, which is what makes replay
// reproduce state roots bit for bit.
func (s *Snapshot) applyOp(wTx db.WriteTx, op Op) error {
	switch op.Kind {
	case OpCounterInc, OpCounterDec:
		return s.applyCounter(wTx, op)
	case OpSetInsert, OpSetRemove:
		return s.applySet(wTx, op)
	case OpMapSet, OpMapDelete:
		return s.applyMap(wTx, op)
	case OpListPush, OpListPop, OpListSet:
		return s.applyList(wTx, op)
	case OpTreeInsert, OpTreeUpdate:
		return s.applyTree(wTx, op)
	case OpSpend:
		return s.applySpend(wTx, op)
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
}

func (s *Snapshot) applyCounter(wTx db.WriteTx, op Op) error {
	if _, err := s.cell(op.Cell, types.CellCounter); err != nil {
		return err
	}
	val, err := getUint64(wTx, cellKey(op.Cell, "val"))
	if err != nil {
		return err
	}
	switch op.Kind {
	case OpCounterInc:
		if op.Amount > math.MaxUint64-val {
			return failf(CodeRangeViolation, "counter %q overflows", op.Cell)
		}
		val += op.Amount
	case OpCounterDec:
		if op.Amount > val {
			return failf(CodeRangeViolation, "counter %q underflows", op.Cell)
		}
		val -= op.Amount
	}
	return putUint64(wTx, cellKey(op.Cell, "val"), val)
}

func (s *Snapshot) applySet(wTx db.WriteTx, op Op) error {
	if _, err := s.cell(op.Cell, types.CellSet); err != nil {
		return err
	}
	key := cellItemKey(op.Cell, op.Key)
	_, err := wTx.Get(key)
	present := err == nil
	if err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	// Insert of a member and remove of a non-member are no-ops, so the
	// accumulator counts every item exactly once.
	switch op.Kind {
	case OpSetInsert:
		if present {
			return nil
		}
		if err := wTx.Set(key, []byte{1}); err != nil {
			return err
		}
		return s.shiftAcc(wTx, op.Cell, itemField(op.Key), +1)
	case OpSetRemove:
		if !present {
			return nil
		}
		if err := wTx.Delete(key); err != nil {
			return err
		}
		return s.shiftAcc(wTx, op.Cell, itemField(op.Key), -1)
	}
	return nil
}

func (s *Snapshot) applyMap(wTx db.WriteTx, op Op) error {
	if _, err := s.cell(op.Cell, types.CellMap); err != nil {
		return err
	}
	key := cellItemKey(op.Cell, op.Key)
	old, err := wTx.Get(key)
	present := err == nil
	if err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	acc, err := getAcc(wTx, op.Cell)
	if err != nil {
		return err
	}
	size, err := getUint64(wTx, cellKey(op.Cell, "size"))
	if err != nil {
		return err
	}
	switch op.Kind {
	case OpMapSet:
		if present {
			acc = accSub(acc, itemField(op.Key, old))
		} else {
			size++
		}
		acc = accAdd(acc, itemField(op.Key, op.Value))
		if err := wTx.Set(key, op.Value); err != nil {
			return err
		}
	case OpMapDelete:
		if !present {
			return nil
		}
		acc = accSub(acc, itemField(op.Key, old))
		size--
		if err := wTx.Delete(key); err != nil {
			return err
		}
	}
	if err := putAcc(wTx, op.Cell, acc); err != nil {
		return err
	}
	return putUint64(wTx, cellKey(op.Cell, "size"), size)
}

func (s *Snapshot) applyList(wTx db.WriteTx, op Op) error {
	if _, err := s.cell(op.Cell, types.CellList); err != nil {
		return err
	}
	length, err := getUint64(wTx, cellKey(op.Cell, "len"))
	if err != nil {
		return err
	}
	acc, err := getAcc(wTx, op.Cell)
	if err != nil {
		return err
	}
	switch op.Kind {
	case OpListPush:
		if err := wTx.Set(cellListKey(op.Cell, length), op.Value); err != nil {
			return err
		}
		acc = accAdd(acc, listItemField(length, op.Value))
		length++
	case OpListPop:
		// The handle never records a pop on an empty list, so an empty pop
		// here means a corrupt delta.
		if length == 0 {
			return failf(CodeIndexOutOfRange, "list %q is empty", op.Cell)
		}
		length--
		old, err := wTx.Get(cellListKey(op.Cell, length))
		if err != nil {
			return err
		}
		acc = accSub(acc, listItemField(length, old))
		if err := wTx.Delete(cellListKey(op.Cell, length)); err != nil {
			return err
		}
	case OpListSet:
		if op.Index >= length {
			return failf(CodeIndexOutOfRange, "list %q has %d items, index %d", op.Cell, length, op.Index)
		}
		old, err := wTx.Get(cellListKey(op.Cell, op.Index))
		if err != nil {
			return err
		}
		acc = accSub(acc, listItemField(op.Index, old))
		acc = accAdd(acc, listItemField(op.Index, op.Value))
		if err := wTx.Set(cellListKey(op.Cell, op.Index), op.Value); err != nil {
			return err
		}
	}
	if err := putAcc(wTx, op.Cell, acc); err != nil {
		return err
	}
	return putUint64(wTx, cellKey(op.Cell, "len"), length)
}

func (s *Snapshot) applyTree(wTx db.WriteTx, op Op) error {
	spec, ok := s.schema.Cell(op.Cell)
	if !ok || !spec.Kind.IsTree() {
		return failf(CodeInvalidCall, "cell %q is not a tree", op.Cell)
	}
	tree, err := s.tree(op.Cell)
	if err != nil {
		return err
	}
	treeTx := prefixeddb.NewPrefixedWriteTx(wTx, cellTreePrefix(op.Cell))
	switch op.Kind {
	case OpTreeInsert:
		_, err := tree.InsertTx(treeTx, toField(op.Value))
		if errors.Is(err, merkle.ErrTreeFull) {
			return failf(CodeRangeViolation, "tree %q is full", op.Cell)
		}
		return err
	case OpTreeUpdate:
		err := tree.UpdateTx(treeTx, op.Index, toField(op.Value))
		switch {
		case errors.Is(err, merkle.ErrAppendOnly):
			return failf(CodeInvalidCall, "tree %q is append-only", op.Cell)
		case errors.Is(err, merkle.ErrLeafIndex):
			return failf(CodeIndexOutOfRange, "tree %q has no leaf %d", op.Cell, op.Index)
		}
		return err
	}
	return nil
}

// applySpend is the atomic check-and-insert over the nullifier set. The
// membership test and the insertion happen on the same transaction while the
// instance holds its single-writer lock, so two adjacent call attempts can
// never both spend one nullifier.
func (s *Snapshot) applySpend(wTx db.WriteTx, op Op) error {
	if len(op.Key) != types.HashLen {
		return failf(CodeInvalidCall, "nullifier must be %d bytes, got %d", types.HashLen, len(op.Key))
	}
	_, err := wTx.Get(spendKey(op.Key))
	switch {
	case err == nil:
		return failf(CodeDoubleUse, "nullifier %s already spent", op.Key.String())
	case !errors.Is(err, db.ErrKeyNotFound):
		return err
	}
	treeTx := prefixeddb.NewPrefixedWriteTx(wTx, spendTreePfx)
	index, err := s.spend.InsertTx(treeTx, toField(op.Key))
	if err != nil {
		return err
	}
	return putUint64(wTx, spendKey(op.Key), index)
}

func (s *Snapshot) shiftAcc(wTx db.WriteTx, name string, item *big.Int, dir int) error {
	acc, err := getAcc(wTx, name)
	if err != nil {
		return err
	}
	size, err := getUint64(wTx, cellKey(name, "size"))
	if err != nil {
		return err
	}
	if dir > 0 {
		acc = accAdd(acc, item)
		size++
	} else {
		acc = accSub(acc, item)
		size--
	}
	if err := putAcc(wTx, name, acc); err != nil {
		return err
	}
	return putUint64(wTx, cellKey(name, "size"), size)
}

func listItemField(index uint64, value []byte) *big.Int {
	return itemField(binary.BigEndian.AppendUint64(nil, index), value)
}

// cellDigest folds one cell into a single field element for the state root,
// as seen through the pending transaction.
func (s *Snapshot) cellDigest(wTx db.WriteTx, spec types.CellSpec) (*big.Int, error) {
	nameF := itemField([]byte(spec.Name))
	switch spec.Kind {
	case types.CellCounter:
		val, err := getUint64(wTx, cellKey(spec.Name, "val"))
		if err != nil {
			return nil, err
		}
		return poseidon.MultiPoseidon(big.NewInt(tagCounter), nameF, new(big.Int).SetUint64(val))
	case types.CellSet, types.CellMap:
		tag := tagSet
		if spec.Kind == types.CellMap {
			tag = tagMap
		}
		acc, err := getAcc(wTx, spec.Name)
		if err != nil {
			return nil, err
		}
		size, err := getUint64(wTx, cellKey(spec.Name, "size"))
		if err != nil {
			return nil, err
		}
		return poseidon.MultiPoseidon(big.NewInt(tag), nameF, new(big.Int).SetUint64(size), acc)
	case types.CellList:
		acc, err := getAcc(wTx, spec.Name)
		if err != nil {
			return nil, err
		}
		length, err := getUint64(wTx, cellKey(spec.Name, "len"))
		if err != nil {
			return nil, err
		}
		return poseidon.MultiPoseidon(big.NewInt(tagList), nameF, new(big.Int).SetUint64(length), acc)
	case types.CellMerkle, types.CellHistoric:
		tag := tagMerkle
		if spec.Kind == types.CellHistoric {
			tag = tagHistoric
		}
		tree, err := s.tree(spec.Name)
		if err != nil {
			return nil, err
		}
		root, err := tree.RootTx(prefixeddb.NewPrefixedWriteTx(wTx, cellTreePrefix(spec.Name)))
		if err != nil {
			return nil, err
		}
		return poseidon.MultiPoseidon(big.NewInt(tag), nameF, new(big.Int).SetBytes(root))
	}
	return nil, fmt.Errorf("unknown cell kind %q", spec.Kind)
}
