package runtime

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/veilstate/veilstate/crypto/commitment"
	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/privacy"
	"github.com/veilstate/veilstate/state"
	"github.com/veilstate/veilstate/storage"
	"github.com/veilstate/veilstate/types"
)

func init() {
	log.Init("error", "stdout", nil)
}

// captureQueue records pushed proof jobs in memory.
type captureQueue struct {
	jobs []*storage.ProofJob
}

func (q *captureQueue) Push(job *storage.ProofJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func testEngine(t *testing.T) (*Engine, *captureQueue) {
	database := metadb.NewTest(t)
	registry, err := storage.NewRegistryTree(metadb.NewTest(t))
	qt.Assert(t, err, qt.IsNil)
	queue := &captureQueue{}
	return New(storage.NewInstanceDB(database), registry, queue), queue
}

func testDeployRequest() *types.DeployRequest {
	return &types.DeployRequest{
		ChainID:  1,
		Deployer: deployerAddr(),
		Nonce:    3,
		Schema: types.Schema{Cells: []types.CellSpec{
			{Name: "supply", Kind: types.CellCounter},
			{Name: "holders", Kind: types.CellSet},
			{Name: "notes", Kind: types.CellMerkle, Depth: 8},
		}},
	}
}

func deployerAddr() types.HexBytes {
	addr := make(types.HexBytes, 20)
	addr[19] = 0x42
	return addr
}

// mintLogic increments the supply by the first public input and records a
// note commitment over the secret value.
func mintLogic(call *state.Call, input *CallInput) error {
	amount := input.PublicInput(0)
	if err := call.Assert(amount.Sign() > 0, "mint amount must be positive"); err != nil {
		return err
	}
	if err := call.Counter("supply").Increment(amount.Uint64()); err != nil {
		return err
	}
	note := privacy.Map(input.Witness(0), func(secret *big.Int) types.HexBytes {
		return commitment.ContentHash(secret)
	})
	if _, err := call.Tree("notes").Insert(privacy.Disclose(note).Value()); err != nil {
		return err
	}
	return call.Emit((*types.BigInt)(amount))
}

// burnLogic spends a nullifier derived from the secret and decrements the
// supply.
func burnLogic(call *state.Call, input *CallInput) error {
	nullifier := privacy.Map(input.Witness(0), func(secret *big.Int) types.HexBytes {
		return commitment.Nullifier("burn", secret, big.NewInt(0))
	})
	if err := call.Spend(privacy.Disclose(nullifier).Value()); err != nil {
		return err
	}
	return call.Counter("supply").Decrement(input.PublicInput(0).Uint64())
}

func TestDeployRegistersGenesis(t *testing.T) {
	c := qt.New(t)
	engine, _ := testEngine(t)

	resp, err := engine.Deploy(testDeployRequest())
	c.Assert(err, qt.IsNil)
	c.Assert(resp.ID, qt.HasLen, 32)
	c.Assert(resp.StateRoot, qt.HasLen, types.HashLen)

	var id types.StateID
	c.Assert(id.Unmarshal(resp.ID), qt.IsNil)
	c.Assert(engine.Instances().Exists(id), qt.IsTrue)

	registered, err := engine.Registry().StateRoot(id)
	c.Assert(err, qt.IsNil)
	c.Assert(registered.String(), qt.Equals, resp.StateRoot.String())
}

func TestRegisterCircuit(t *testing.T) {
	c := qt.New(t)
	engine, _ := testEngine(t)

	c.Assert(engine.RegisterCircuit("mint", mintLogic), qt.IsNil)
	c.Assert(engine.RegisterCircuit("mint", mintLogic), qt.IsNotNil)
	c.Assert(engine.Circuits(), qt.DeepEquals, []string{"mint"})
}

func TestInvokeCommitsAndQueuesProof(t *testing.T) {
	c := qt.New(t)
	engine, queue := testEngine(t)
	c.Assert(engine.RegisterCircuit("mint", mintLogic), qt.IsNil)

	deployed, err := engine.Deploy(testDeployRequest())
	c.Assert(err, qt.IsNil)

	resp, err := engine.Invoke(&types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "mint",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(100))},
		Witnesses:    []*types.BigInt{(*types.BigInt)(big.NewInt(12345))},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Version, qt.Equals, uint64(1))
	c.Assert(resp.StateRoot.String(), qt.Not(qt.Equals), deployed.StateRoot.String())
	c.Assert(resp.Outputs, qt.HasLen, 1)
	c.Assert(resp.Outputs[0].MathBigInt().Int64(), qt.Equals, int64(100))
	c.Assert(resp.ProofJob, qt.Not(qt.Equals), "")

	// The registry follows the new root.
	var id types.StateID
	c.Assert(id.Unmarshal(deployed.ID), qt.IsNil)
	registered, err := engine.Registry().StateRoot(id)
	c.Assert(err, qt.IsNil)
	c.Assert(registered.String(), qt.Equals, resp.StateRoot.String())

	// The job carries only public data and the registry transition.
	c.Assert(queue.jobs, qt.HasLen, 1)
	job := queue.jobs[0]
	c.Assert(job.Version, qt.Equals, uint64(1))
	c.Assert(job.RootAfter.String(), qt.Equals, resp.StateRoot.String())
	c.Assert(job.RootBefore.String(), qt.Equals, deployed.StateRoot.String())
	c.Assert(job.Registry, qt.IsNotNil)
	c.Assert(job.Nullifiers, qt.HasLen, 0)
}

func TestInvokeAbortLeavesNoTrace(t *testing.T) {
	c := qt.New(t)
	engine, queue := testEngine(t)
	c.Assert(engine.RegisterCircuit("mint", mintLogic), qt.IsNil)

	deployed, err := engine.Deploy(testDeployRequest())
	c.Assert(err, qt.IsNil)

	// Zero amount fails the assertion; nothing may have changed even
	// though the logic would have touched the counter afterwards.
	_, err = engine.Invoke(&types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "mint",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(0))},
		Witnesses:    []*types.BigInt{(*types.BigInt)(big.NewInt(1))},
	})
	c.Assert(err, qt.ErrorIs, state.ErrAssertionFailed)

	var id types.StateID
	c.Assert(id.Unmarshal(deployed.ID), qt.IsNil)
	ref, err := engine.Instances().Load(id)
	c.Assert(err, qt.IsNil)
	root, err := ref.Snapshot().Root()
	c.Assert(err, qt.IsNil)
	c.Assert(root.String(), qt.Equals, deployed.StateRoot.String())
	version, err := ref.Snapshot().Version()
	c.Assert(err, qt.IsNil)
	c.Assert(version, qt.Equals, uint64(0))
	c.Assert(queue.jobs, qt.HasLen, 0)
}

func TestInvokeUnknownCircuit(t *testing.T) {
	c := qt.New(t)
	engine, _ := testEngine(t)

	deployed, err := engine.Deploy(testDeployRequest())
	c.Assert(err, qt.IsNil)
	_, err = engine.Invoke(&types.InvokeRequest{
		StateID: deployed.ID,
		Circuit: "no-such-circuit",
	})
	c.Assert(err, qt.ErrorIs, ErrUnknownCircuit)
}

func TestInvokeDoubleSpend(t *testing.T) {
	c := qt.New(t)
	engine, queue := testEngine(t)
	c.Assert(engine.RegisterCircuit("mint", mintLogic), qt.IsNil)
	c.Assert(engine.RegisterCircuit("burn", burnLogic), qt.IsNil)

	deployed, err := engine.Deploy(testDeployRequest())
	c.Assert(err, qt.IsNil)

	_, err = engine.Invoke(&types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "mint",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(10))},
		Witnesses:    []*types.BigInt{(*types.BigInt)(big.NewInt(777))},
	})
	c.Assert(err, qt.IsNil)

	burn := &types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "burn",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(10))},
		Witnesses:    []*types.BigInt{(*types.BigInt)(big.NewInt(777))},
	}
	resp, err := engine.Invoke(burn)
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Version, qt.Equals, uint64(2))

	// The burn job records the spent nullifier it disclosed.
	job := queue.jobs[len(queue.jobs)-1]
	c.Assert(job.Nullifiers, qt.HasLen, 1)
	expected := commitment.Nullifier("burn", big.NewInt(777), big.NewInt(0))
	c.Assert(job.Nullifiers[0].String(), qt.Equals, expected.String())

	// Replaying the same burn is a double-use violation and changes
	// nothing.
	_, err = engine.Invoke(burn)
	c.Assert(err, qt.ErrorIs, state.ErrDoubleUse)
	var id types.StateID
	c.Assert(id.Unmarshal(deployed.ID), qt.IsNil)
	ref, err := engine.Instances().Load(id)
	c.Assert(err, qt.IsNil)
	version, err := ref.Snapshot().Version()
	c.Assert(err, qt.IsNil)
	c.Assert(version, qt.Equals, uint64(2))
}

func TestInvokeWithoutQueue(t *testing.T) {
	c := qt.New(t)
	registry, err := storage.NewRegistryTree(metadb.NewTest(t))
	c.Assert(err, qt.IsNil)
	engine := New(storage.NewInstanceDB(metadb.NewTest(t)), registry, nil)
	c.Assert(engine.RegisterCircuit("mint", mintLogic), qt.IsNil)

	deployed, err := engine.Deploy(testDeployRequest())
	c.Assert(err, qt.IsNil)
	resp, err := engine.Invoke(&types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "mint",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(5))},
		Witnesses:    []*types.BigInt{(*types.BigInt)(big.NewInt(9))},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.ProofJob, qt.Equals, "")
}

func TestReplayReproducesInstance(t *testing.T) {
	c := qt.New(t)
	engine, _ := testEngine(t)
	c.Assert(engine.RegisterCircuit("mint", mintLogic), qt.IsNil)
	c.Assert(engine.RegisterCircuit("burn", burnLogic), qt.IsNil)

	deployed, err := engine.Deploy(testDeployRequest())
	c.Assert(err, qt.IsNil)
	for i := 1; i <= 3; i++ {
		_, err = engine.Invoke(&types.InvokeRequest{
			StateID:      deployed.ID,
			Circuit:      "mint",
			PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(int64(i * 10)))},
			Witnesses:    []*types.BigInt{(*types.BigInt)(big.NewInt(int64(i)))},
		})
		c.Assert(err, qt.IsNil)
	}
	_, err = engine.Invoke(&types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "burn",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(10))},
		Witnesses:    []*types.BigInt{(*types.BigInt)(big.NewInt(2))},
	})
	c.Assert(err, qt.IsNil)

	var id types.StateID
	c.Assert(id.Unmarshal(deployed.ID), qt.IsNil)
	ref, err := engine.Instances().Load(id)
	c.Assert(err, qt.IsNil)

	replica, err := Replay(ref.Snapshot(), metadb.NewTest(t))
	c.Assert(err, qt.IsNil)

	sourceRoot, err := ref.Snapshot().Root()
	c.Assert(err, qt.IsNil)
	replicaRoot, err := replica.Root()
	c.Assert(err, qt.IsNil)
	c.Assert(replicaRoot.String(), qt.Equals, sourceRoot.String())
	supply, err := replica.CounterValue("supply")
	c.Assert(err, qt.IsNil)
	c.Assert(supply, qt.Equals, uint64(50))
}
