package state

import (
	"bytes"

	"github.com/veilstate/veilstate/merkle"
	"github.com/veilstate/veilstate/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// Phase tracks the lifecycle of one execution context.
type Phase uint8

const (
	PhaseStarted Phase = iota
	PhaseEvaluating
	PhaseCommitted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseCommitted:
		return "committed"
	case PhaseAborted:
		return "aborted"
	}
	return "unknown"
}

// Call is the execution context of one circuit invocation. It stages every
// cell mutation on a single write transaction and records the corresponding
// ops; Commit seals them into a delta and applies it atomically, Abort
// leaves the snapshot untouched. A call holds the instance single-writer
// lock from BeginCall until Commit or Abort, so leaking a call blocks the
// instance.
//
// The first failed operation poisons the call: every later operation returns
// the same failure and Commit refuses to seal.
type Call struct {
	snap    *Snapshot
	wTx     db.WriteTx
	phase   Phase
	ops     []Op
	outputs []*types.BigInt
	failed  error
}

// BeginCall opens an execution context over the snapshot, blocking until any
// in-flight call finishes.
func (s *Snapshot) BeginCall() *Call {
	s.callMu.Lock()
	return &Call{
		snap: s,
		wTx:  s.db.WriteTx(),
	}
}

// Phase returns the current lifecycle phase.
func (c *Call) Phase() Phase { return c.phase }

// Err returns the failure that poisoned the call, if any.
func (c *Call) Err() error { return c.failed }

// Outputs returns the public outputs emitted so far.
func (c *Call) Outputs() []*types.BigInt { return c.outputs }

// Assert checks a circuit precondition. A false condition fails the call
// with the given static message: the proof for such a call cannot exist.
func (c *Call) Assert(cond bool, msg string) error {
	if err := c.evaluating(); err != nil {
		return err
	}
	if !cond {
		return c.fail(failf(CodeAssertionFailure, "%s", msg))
	}
	return nil
}

// Emit appends values to the public outputs of the call. Witness-derived
// values cannot reach here without passing the disclosure gate first.
func (c *Call) Emit(values ...*types.BigInt) error {
	if err := c.evaluating(); err != nil {
		return err
	}
	c.outputs = append(c.outputs, values...)
	return nil
}

// Spend atomically checks and inserts a nullifier into the instance spend
// set. A nullifier that was ever spent before, by this call or any committed
// one, fails with a double-use violation.
func (c *Call) Spend(nullifier types.HexBytes) error {
	return c.do(Op{Kind: OpSpend, Key: nullifier})
}

// Commit seals the staged mutations into a delta and applies it atomically:
// the delta log entry, the new state root and every cell write become
// visible together. After Commit the call is finished.
func (c *Call) Commit() (*Delta, error) {
	if c.phase != PhaseStarted && c.phase != PhaseEvaluating {
		return nil, failf(CodeInvalidCall, "cannot commit a %s call", c.phase)
	}
	if c.failed != nil {
		err := c.failed
		c.abort()
		return nil, err
	}
	delta, err := c.seal()
	if err != nil {
		c.abort()
		return nil, err
	}
	if err := c.wTx.Commit(); err != nil {
		c.abort()
		return nil, err
	}
	c.phase = PhaseCommitted
	c.snap.callMu.Unlock()
	return delta, nil
}

// Abort discards every staged mutation, leaving the snapshot exactly as it
// was before the call.
func (c *Call) Abort() error {
	if c.phase == PhaseCommitted || c.phase == PhaseAborted {
		return failf(CodeInvalidCall, "cannot abort a %s call", c.phase)
	}
	c.abort()
	return nil
}

func (c *Call) abort() {
	c.wTx.Discard()
	c.phase = PhaseAborted
	c.snap.callMu.Unlock()
}

func (c *Call) seal() (*Delta, error) {
	version, err := getUint64(c.wTx, metaVersionKey)
	if err != nil {
		return nil, err
	}
	delta := &Delta{
		Version: version + 1,
		Ops:     c.ops,
	}
	root, err := c.snap.computeRoot(c.wTx)
	if err != nil {
		return nil, err
	}
	delta.RootAfter = root
	if len(c.snap.trees) > 0 {
		delta.TreeRoots = make(map[string]types.HexBytes, len(c.snap.trees))
		for name, tree := range c.snap.trees {
			treeRoot, err := tree.RootTx(prefixeddb.NewPrefixedWriteTx(c.wTx, cellTreePrefix(name)))
			if err != nil {
				return nil, err
			}
			delta.TreeRoots[name] = treeRoot
		}
	}
	spendRoot, err := c.snap.spend.RootTx(prefixeddb.NewPrefixedWriteTx(c.wTx, spendTreePfx))
	if err != nil {
		return nil, err
	}
	delta.SpendRoot = spendRoot
	if err := c.snap.persist(c.wTx, delta); err != nil {
		return nil, err
	}
	return delta, nil
}

// do stages one mutation: it applies the op on the transaction and records
// it for the delta.
func (c *Call) do(op Op) error {
	if err := c.evaluating(); err != nil {
		return err
	}
	if err := c.snap.applyOp(c.wTx, op); err != nil {
		return c.fail(err)
	}
	c.ops = append(c.ops, op)
	return nil
}

func (c *Call) evaluating() error {
	if c.failed != nil {
		return c.failed
	}
	switch c.phase {
	case PhaseStarted:
		c.phase = PhaseEvaluating
	case PhaseEvaluating:
	default:
		return failf(CodeInvalidCall, "call is already %s", c.phase)
	}
	return nil
}

func (c *Call) fail(err error) error {
	if c.failed == nil {
		c.failed = err
	}
	return err
}

// Counter returns the handle of a counter cell.
func (c *Call) Counter(name string) Counter { return Counter{call: c, name: name} }

// Set returns the handle of a set cell.
func (c *Call) Set(name string) Set { return Set{call: c, name: name} }

// Map returns the handle of a map cell.
func (c *Call) Map(name string) Map { return Map{call: c, name: name} }

// List returns the handle of a list cell.
func (c *Call) List(name string) List { return List{call: c, name: name} }

// Tree returns the handle of a merkle or historic tree cell.
func (c *Call) Tree(name string) Tree { return Tree{call: c, name: name} }

// Counter is the in-call handle of a counter cell.
type Counter struct {
	call *Call
	name string
}

// Value returns the counter value as staged by the call so far.
func (h Counter) Value() (uint64, error) {
	if err := h.check(types.CellCounter); err != nil {
		return 0, err
	}
	return getUint64(h.call.wTx, cellKey(h.name, "val"))
}

// Increment raises the counter, failing with a range violation on overflow.
func (h Counter) Increment(amount uint64) error {
	return h.call.do(Op{Cell: h.name, Kind: OpCounterInc, Amount: amount})
}

// Decrement lowers the counter, failing with a range violation below zero.
func (h Counter) Decrement(amount uint64) error {
	return h.call.do(Op{Cell: h.name, Kind: OpCounterDec, Amount: amount})
}

func (h Counter) check(kind types.CellKind) error {
	if err := h.call.evaluating(); err != nil {
		return err
	}
	if _, err := h.call.snap.cell(h.name, kind); err != nil {
		return h.call.fail(err)
	}
	return nil
}

// Set is the in-call handle of a set cell.
type Set struct {
	call *Call
	name string
}

// Insert adds an item. Inserting a member is a no-op.
func (h Set) Insert(item []byte) error {
	return h.call.do(Op{Cell: h.name, Kind: OpSetInsert, Key: item})
}

// Remove drops an item. Removing a non-member is a no-op.
func (h Set) Remove(item []byte) error {
	return h.call.do(Op{Cell: h.name, Kind: OpSetRemove, Key: item})
}

// Member reports staged membership of the item.
func (h Set) Member(item []byte) (bool, error) {
	if err := h.check(); err != nil {
		return false, err
	}
	return readMember(h.call.wTx, h.name, item)
}

// Size returns the staged number of items.
func (h Set) Size() (uint64, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	return getUint64(h.call.wTx, cellKey(h.name, "size"))
}

func (h Set) check() error {
	if err := h.call.evaluating(); err != nil {
		return err
	}
	if _, err := h.call.snap.cell(h.name, types.CellSet); err != nil {
		return h.call.fail(err)
	}
	return nil
}

// Map is the in-call handle of a map cell.
type Map struct {
	call *Call
	name string
}

// Insert stores a value under the key, overwriting any previous one.
func (h Map) Insert(key, value []byte) error {
	return h.call.do(Op{Cell: h.name, Kind: OpMapSet, Key: key, Value: value})
}

// Delete drops the key. Deleting an absent key is a no-op.
func (h Map) Delete(key []byte) error {
	return h.call.do(Op{Cell: h.name, Kind: OpMapDelete, Key: key})
}

// Get returns the value under the key, failing with a missing-key violation
// when absent. Use Lookup when absence is expected.
func (h Map) Get(key []byte) ([]byte, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	value, ok, err := readMapValue(h.call.wTx, h.name, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, h.call.fail(failf(CodeMissingKey, "map %q has no such key", h.name))
	}
	return value, nil
}

// Lookup returns the value under the key, reporting absence instead of
// failing.
func (h Map) Lookup(key []byte) ([]byte, bool, error) {
	if err := h.check(); err != nil {
		return nil, false, err
	}
	return readMapValue(h.call.wTx, h.name, key)
}

// Member reports whether the key is present, without fetching its value.
func (h Map) Member(key []byte) (bool, error) {
	if err := h.check(); err != nil {
		return false, err
	}
	return readMember(h.call.wTx, h.name, key)
}

// Size returns the staged number of entries.
func (h Map) Size() (uint64, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	return getUint64(h.call.wTx, cellKey(h.name, "size"))
}

func (h Map) check() error {
	if err := h.call.evaluating(); err != nil {
		return err
	}
	if _, err := h.call.snap.cell(h.name, types.CellMap); err != nil {
		return h.call.fail(err)
	}
	return nil
}

// List is the in-call handle of a list cell.
type List struct {
	call *Call
	name string
}

// Push appends a value at the end of the list.
func (h List) Push(value []byte) error {
	return h.call.do(Op{Cell: h.name, Kind: OpListPush, Value: value})
}

// Pop removes and returns the value at the end of the list, reporting an
// empty list instead of failing.
func (h List) Pop() ([]byte, bool, error) {
	if err := h.check(); err != nil {
		return nil, false, err
	}
	length, err := getUint64(h.call.wTx, cellKey(h.name, "len"))
	if err != nil {
		return nil, false, err
	}
	if length == 0 {
		return nil, false, nil
	}
	value, err := readListItem(h.call.wTx, h.name, length-1)
	if err != nil {
		return nil, false, h.call.fail(err)
	}
	if err := h.call.do(Op{Cell: h.name, Kind: OpListPop}); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set overwrites the value at the given position, failing with an
// index-out-of-range violation beyond the current length.
func (h List) Set(index uint64, value []byte) error {
	return h.call.do(Op{Cell: h.name, Kind: OpListSet, Index: index, Value: value})
}

// Get returns the value at the given position.
func (h List) Get(index uint64) ([]byte, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	value, err := readListItem(h.call.wTx, h.name, index)
	if err != nil {
		return nil, h.call.fail(err)
	}
	return value, nil
}

// Len returns the staged list length.
func (h List) Len() (uint64, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	return getUint64(h.call.wTx, cellKey(h.name, "len"))
}

func (h List) check() error {
	if err := h.call.evaluating(); err != nil {
		return err
	}
	if _, err := h.call.snap.cell(h.name, types.CellList); err != nil {
		return h.call.fail(err)
	}
	return nil
}

// Tree is the in-call handle of a merkle or historic tree cell.
type Tree struct {
	call *Call
	name string
}

// Insert appends a leaf and returns its position. The leaf bytes are reduced
// into the digest field before insertion.
func (h Tree) Insert(leaf []byte) (uint64, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	tree, err := h.call.snap.tree(h.name)
	if err != nil {
		return 0, h.call.fail(err)
	}
	index, err := tree.NLeavesTx(h.treeTx())
	if err != nil {
		return 0, err
	}
	if err := h.call.do(Op{Cell: h.name, Kind: OpTreeInsert, Value: leaf}); err != nil {
		return 0, err
	}
	return index, nil
}

// Update overwrites the leaf at the given position. Historic trees refuse:
// they are append-only.
func (h Tree) Update(index uint64, leaf []byte) error {
	return h.call.do(Op{Cell: h.name, Kind: OpTreeUpdate, Index: index, Value: leaf})
}

// Root returns the tree root as staged by the call so far.
func (h Tree) Root() (types.HexBytes, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	tree, err := h.call.snap.tree(h.name)
	if err != nil {
		return nil, h.call.fail(err)
	}
	return tree.RootTx(h.treeTx())
}

// Verify checks a membership proof against the staged root.
func (h Tree) Verify(proof *types.AccumulatorProof) (bool, error) {
	root, err := h.Root()
	if err != nil {
		return false, err
	}
	if !bytes.Equal(root, proof.Root) {
		return false, nil
	}
	spec, _ := h.call.snap.schema.Cell(h.name)
	valid, err := merkle.CheckProof(spec.Depth, proof)
	return valid, mapProofErr(err)
}

// WasRoot reports whether the digest was ever a root of a historic tree,
// staged inserts included.
func (h Tree) WasRoot(root types.HexBytes) (bool, error) {
	if err := h.call.evaluating(); err != nil {
		return false, err
	}
	if _, err := h.call.snap.cell(h.name, types.CellHistoric); err != nil {
		return false, h.call.fail(err)
	}
	tree, err := h.call.snap.tree(h.name)
	if err != nil {
		return false, h.call.fail(err)
	}
	return tree.WasRootTx(h.treeTx(), root), nil
}

// VerifyAtRoot checks a membership proof of a historic tree against any of
// its past roots.
func (h Tree) VerifyAtRoot(proof *types.AccumulatorProof, atRoot types.HexBytes) (bool, error) {
	was, err := h.WasRoot(atRoot)
	if err != nil || !was {
		return false, err
	}
	spec, _ := h.call.snap.schema.Cell(h.name)
	rebased := *proof
	rebased.Root = atRoot
	valid, err := merkle.CheckProof(spec.Depth, &rebased)
	return valid, mapProofErr(err)
}

func (h Tree) check() error {
	if err := h.call.evaluating(); err != nil {
		return err
	}
	spec, ok := h.call.snap.schema.Cell(h.name)
	if !ok || !spec.Kind.IsTree() {
		return h.call.fail(failf(CodeInvalidCall, "cell %q is not a tree", h.name))
	}
	return nil
}

func (h Tree) treeTx() db.WriteTx {
	return prefixeddb.NewPrefixedWriteTx(h.call.wTx, cellTreePrefix(h.name))
}
