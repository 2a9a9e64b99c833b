package storage

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/ethereum/go-ethereum/common"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/veilstate/veilstate/types"
)

// newDatabase returns a new in-memory test database.
func newDatabase(t *testing.T) db.Database {
	return metadb.NewTest(t)
}

func testStateID(nonce uint64) types.StateID {
	return types.StateID{
		ChainID: 1,
		Address: common.BytesToAddress([]byte("deployer-address-xx")),
		Nonce:   nonce,
	}
}

func testSchema() types.Schema {
	return types.Schema{Cells: []types.CellSpec{
		{Name: "supply", Kind: types.CellCounter},
		{Name: "members", Kind: types.CellSet},
		{Name: "notes", Kind: types.CellMerkle, Depth: 8},
	}}
}

func TestNewInstanceDB(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))
	qt.Assert(t, instanceDB, qt.IsNotNil)
	qt.Assert(t, instanceDB.db, qt.IsNotNil)
}

func TestInstanceDBDeploy(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))
	id := testStateID(1)

	ref, err := instanceDB.Deploy(id, testSchema())
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, ref, qt.IsNotNil)
	qt.Assert(t, ref.Snapshot(), qt.IsNotNil)
	qt.Assert(t, ref.Root(), qt.Not(qt.HasLen), 0)

	version, err := ref.Snapshot().Version()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, version, qt.Equals, uint64(0))

	// Deploying the same ID again must fail.
	_, err = instanceDB.Deploy(id, testSchema())
	qt.Assert(t, err, qt.ErrorIs, ErrInstanceAlreadyExists)
}

func TestInstanceDBExists(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))
	id := testStateID(2)

	qt.Assert(t, instanceDB.Exists(id), qt.IsFalse)

	_, err := instanceDB.Deploy(id, testSchema())
	qt.Assert(t, err, qt.IsNil)

	qt.Assert(t, instanceDB.Exists(id), qt.IsTrue)
}

func TestSequentialLoadReturnsSamePointer(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))
	id := testStateID(3)

	ref1, err := instanceDB.Deploy(id, testSchema())
	qt.Assert(t, err, qt.IsNil)

	ref2, err := instanceDB.Load(id)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, ref1, qt.Equals, ref2)
}

func TestLoadNonExistingInstance(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))

	ref, err := instanceDB.Load(testStateID(404))
	qt.Assert(t, ref, qt.IsNil)
	qt.Assert(t, err, qt.ErrorIs, ErrInstanceNotFound)
}

func TestLoadAfterReopen(t *testing.T) {
	t.Parallel()
	database := newDatabase(t)
	id := testStateID(4)

	first := NewInstanceDB(database)
	ref, err := first.Deploy(id, testSchema())
	qt.Assert(t, err, qt.IsNil)
	genesis := ref.Root()

	// A fresh InstanceDB over the same database must rebuild the reference
	// and the snapshot from disk.
	second := NewInstanceDB(database)
	loaded, err := second.Load(id)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, loaded.Schema, qt.DeepEquals, ref.Schema)
	qt.Assert(t, loaded.Root(), qt.DeepEquals, genesis)

	version, err := loaded.Snapshot().Version()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, version, qt.Equals, uint64(0))
}

func TestInstanceDBDel(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))
	id := testStateID(5)

	_, err := instanceDB.Deploy(id, testSchema())
	qt.Assert(t, err, qt.IsNil)

	err = instanceDB.Del(id)
	qt.Assert(t, err, qt.IsNil)

	// Wait a bit since the deletion of the underlying snapshot is asynchronous.
	time.Sleep(1 * time.Second)

	qt.Assert(t, instanceDB.Exists(id), qt.IsFalse)
}

func TestByRootAndUpdateRoot(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))
	id := testStateID(6)

	ref, err := instanceDB.Deploy(id, testSchema())
	qt.Assert(t, err, qt.IsNil)
	genesis := ref.Root()

	found, err := instanceDB.ByRoot(genesis)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, found.ID, qt.Equals, id)

	// Commit a call and refresh the index.
	call := ref.Snapshot().BeginCall()
	qt.Assert(t, call.Counter("supply").Increment(3), qt.IsNil)
	delta, err := call.Commit()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, ref.UpdateRoot(delta.RootAfter), qt.IsNil)

	qt.Assert(t, ref.Root(), qt.DeepEquals, delta.RootAfter)

	found, err = instanceDB.ByRoot(delta.RootAfter)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, found.ID, qt.Equals, id)

	// The genesis root no longer resolves.
	_, err = instanceDB.ByRoot(genesis)
	qt.Assert(t, err, qt.Not(qt.IsNil))
}

func TestInstanceDBList(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))

	for nonce := uint64(10); nonce < 13; nonce++ {
		_, err := instanceDB.Deploy(testStateID(nonce), testSchema())
		qt.Assert(t, err, qt.IsNil)
	}

	ids, err := instanceDB.List()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, ids, qt.HasLen, 3)

	seen := make(map[uint64]bool)
	for _, id := range ids {
		seen[id.Nonce] = true
	}
	qt.Assert(t, seen[10] && seen[11] && seen[12], qt.IsTrue)
}

func TestInstanceInfo(t *testing.T) {
	t.Parallel()
	instanceDB := NewInstanceDB(newDatabase(t))
	id := testStateID(7)

	ref, err := instanceDB.Deploy(id, testSchema())
	qt.Assert(t, err, qt.IsNil)

	info, err := ref.Info()
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, info.ID, qt.DeepEquals, types.HexBytes(id.Marshal()))
	qt.Assert(t, info.Version, qt.Equals, uint64(0))
	qt.Assert(t, info.StateRoot, qt.DeepEquals, ref.Root())
	qt.Assert(t, info.Schema.Cells, qt.HasLen, 3)
}
