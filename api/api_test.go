package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/runtime"
	"github.com/veilstate/veilstate/state"
	stg "github.com/veilstate/veilstate/storage"
	"github.com/veilstate/veilstate/types"
)

func init() {
	log.Init("error", "stdout", nil)
}

func newTestAPI(t *testing.T) (*API, *runtime.Engine) {
	registry, err := stg.NewRegistryTree(metadb.NewTest(t))
	qt.Assert(t, err, qt.IsNil)
	store := stg.New(metadb.NewTest(t))
	engine := runtime.New(stg.NewInstanceDB(metadb.NewTest(t)), registry, nil)
	a := &API{engine: engine, storage: store}
	a.initRouter()
	return a, engine
}

func doRequest(t *testing.T, a *API, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		qt.Assert(t, json.NewEncoder(&buf).Encode(body), qt.IsNil)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) *T {
	out := new(T)
	qt.Assert(t, json.Unmarshal(rec.Body.Bytes(), out), qt.IsNil,
		qt.Commentf("body: %s", rec.Body.String()))
	return out
}

func deployBody() *types.DeployRequest {
	return &types.DeployRequest{
		ChainID:  1,
		Deployer: make(types.HexBytes, 20),
		Nonce:    1,
		Schema: types.Schema{Cells: []types.CellSpec{
			{Name: "supply", Kind: types.CellCounter},
			{Name: "archive", Kind: types.CellHistoric, Depth: 8},
		}},
	}
}

func registerMint(t *testing.T, engine *runtime.Engine) {
	err := engine.RegisterCircuit("mint", func(call *state.Call, input *runtime.CallInput) error {
		amount := input.PublicInput(0)
		if err := call.Assert(amount.Sign() > 0, "mint amount must be positive"); err != nil {
			return err
		}
		if err := call.Counter("supply").Increment(amount.Uint64()); err != nil {
			return err
		}
		_, err := call.Tree("archive").Insert(amount.Bytes())
		return err
	})
	qt.Assert(t, err, qt.IsNil)
}

func TestPing(t *testing.T) {
	c := qt.New(t)
	a, _ := newTestAPI(t)
	rec := doRequest(t, a, http.MethodGet, PingEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}

func TestDeployAndFetchInstance(t *testing.T) {
	c := qt.New(t)
	a, _ := newTestAPI(t)

	rec := doRequest(t, a, http.MethodPost, InstancesEndpoint, deployBody())
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	deployed := decodeResponse[types.DeployResponse](t, rec)
	c.Assert(deployed.ID, qt.HasLen, 32)

	// Deploying the same instance again conflicts.
	rec = doRequest(t, a, http.MethodPost, InstancesEndpoint, deployBody())
	c.Assert(rec.Code, qt.Equals, http.StatusConflict)

	// The instance shows up in the listing and its info endpoint.
	rec = doRequest(t, a, http.MethodGet, InstancesEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	list := decodeResponse[map[string][]types.HexBytes](t, rec)
	c.Assert((*list)["instances"], qt.HasLen, 1)

	rec = doRequest(t, a, http.MethodGet, "/instances/"+deployed.ID.String(), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	info := decodeResponse[types.InstanceInfo](t, rec)
	c.Assert(info.Version, qt.Equals, uint64(0))
	c.Assert(info.StateRoot.String(), qt.Equals, deployed.StateRoot.String())

	// Unknown and malformed identifiers.
	rec = doRequest(t, a, http.MethodGet, "/instances/"+make(types.HexBytes, 32).String(), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
	rec = doRequest(t, a, http.MethodGet, "/instances/zz", nil)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestSubmitCall(t *testing.T) {
	c := qt.New(t)
	a, engine := newTestAPI(t)
	registerMint(t, engine)

	rec := doRequest(t, a, http.MethodPost, InstancesEndpoint, deployBody())
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	deployed := decodeResponse[types.DeployResponse](t, rec)

	call := &types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "mint",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(7))},
	}
	rec = doRequest(t, a, http.MethodPost, CallsEndpoint, call)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	resp := decodeResponse[types.InvokeResponse](t, rec)
	c.Assert(resp.Version, qt.Equals, uint64(1))
	c.Assert(resp.StateRoot.String(), qt.Not(qt.Equals), deployed.StateRoot.String())

	// A failed assertion aborts with the typed failure in the message.
	call.PublicInputs = []*types.BigInt{(*types.BigInt)(big.NewInt(0))}
	rec = doRequest(t, a, http.MethodPost, CallsEndpoint, call)
	c.Assert(rec.Code, qt.Equals, http.StatusUnprocessableEntity)
	c.Assert(rec.Body.String(), qt.Contains, "assertion_failure")

	// Unknown circuit.
	call.Circuit = "missing"
	rec = doRequest(t, a, http.MethodPost, CallsEndpoint, call)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestDeltaLog(t *testing.T) {
	c := qt.New(t)
	a, engine := newTestAPI(t)
	registerMint(t, engine)

	rec := doRequest(t, a, http.MethodPost, InstancesEndpoint, deployBody())
	deployed := decodeResponse[types.DeployResponse](t, rec)
	rec = doRequest(t, a, http.MethodPost, CallsEndpoint, &types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "mint",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(3))},
	})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	rec = doRequest(t, a, http.MethodGet, "/instances/"+deployed.ID.String()+"/deltas/1", nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	delta := decodeResponse[state.Delta](t, rec)
	c.Assert(delta.Version, qt.Equals, uint64(1))
	c.Assert(len(delta.Ops) > 0, qt.IsTrue)

	rec = doRequest(t, a, http.MethodGet, "/instances/"+deployed.ID.String()+"/deltas/9", nil)
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
	rec = doRequest(t, a, http.MethodGet, "/instances/"+deployed.ID.String()+"/deltas/x", nil)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestVerifyAtRoot(t *testing.T) {
	c := qt.New(t)
	a, engine := newTestAPI(t)
	registerMint(t, engine)

	rec := doRequest(t, a, http.MethodPost, InstancesEndpoint, deployBody())
	deployed := decodeResponse[types.DeployResponse](t, rec)
	rec = doRequest(t, a, http.MethodPost, CallsEndpoint, &types.InvokeRequest{
		StateID:      deployed.ID,
		Circuit:      "mint",
		PublicInputs: []*types.BigInt{(*types.BigInt)(big.NewInt(5))},
	})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	var id types.StateID
	c.Assert(id.Unmarshal(deployed.ID), qt.IsNil)
	ref, err := engine.Instances().Load(id)
	c.Assert(err, qt.IsNil)
	proof, err := ref.Snapshot().TreeProof("archive", 0)
	c.Assert(err, qt.IsNil)

	rec = doRequest(t, a, http.MethodPost, "/instances/"+deployed.ID.String()+"/verify",
		&types.VerifyAtRootRequest{Cell: "archive", Proof: *proof})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	verified := decodeResponse[types.VerifyAtRootResponse](t, rec)
	c.Assert(verified.Valid, qt.IsTrue)

	// Unknown cells are rejected.
	rec = doRequest(t, a, http.MethodPost, "/instances/"+deployed.ID.String()+"/verify",
		&types.VerifyAtRootRequest{Cell: "nope", Proof: *proof})
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestProofStatus(t *testing.T) {
	c := qt.New(t)
	a, _ := newTestAPI(t)

	jobID := types.HexBytes{0x01, 0x02, 0x03}
	rec := doRequest(t, a, http.MethodGet, "/proofs/"+jobID.String(), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)

	c.Assert(a.storage.PushProofJob(&stg.ProofJob{
		ID:        jobID,
		Circuit:   "spendattest-v1",
		Version:   1,
		CreatedAt: time.Now(),
	}), qt.IsNil)
	rec = doRequest(t, a, http.MethodGet, "/proofs/"+jobID.String(), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	status := decodeResponse[ProofStatusResponse](t, rec)
	c.Assert(status.Status, qt.Equals, stg.JobStatusPending)

	// Verification without a configured prover backend.
	rec = doRequest(t, a, http.MethodPost, VerifyProofEndpoint, &VerifyProofRequest{JobID: jobID})
	c.Assert(rec.Code, qt.Equals, http.StatusServiceUnavailable)
}
