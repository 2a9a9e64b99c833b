package runtime

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/veilstate/veilstate/circuits/spendattest"
	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/privacy"
	"github.com/veilstate/veilstate/state"
	"github.com/veilstate/veilstate/storage"
	"github.com/veilstate/veilstate/types"
)

// ErrUnknownCircuit is returned when invoking a circuit name nobody
// registered.
var ErrUnknownCircuit = fmt.Errorf("unknown circuit")

// Deploy creates a new contract instance from its schema, registers its
// genesis root on the registry tree and returns the identifier and heads.
func (e *Engine) Deploy(req *types.DeployRequest) (*types.DeployResponse, error) {
	id := types.StateID{
		ChainID: req.ChainID,
		Address: common.BytesToAddress(req.Deployer),
		Nonce:   req.Nonce,
	}
	ref, err := e.instances.Deploy(id, req.Schema)
	if err != nil {
		return nil, err
	}
	stateRoot, err := ref.Snapshot().Root()
	if err != nil {
		return nil, err
	}
	spendRoot, err := ref.Snapshot().SpendRoot()
	if err != nil {
		return nil, err
	}
	if _, err := e.registry.SetRoot(id, stateRoot); err != nil {
		return nil, fmt.Errorf("cannot register instance genesis: %w", err)
	}
	log.Infow("instance deployed",
		"id", id.String(),
		"cells", len(req.Schema.Cells),
		"stateRoot", stateRoot.String())
	return &types.DeployResponse{
		ID:        id.Marshal(),
		StateRoot: stateRoot,
		SpendRoot: spendRoot,
	}, nil
}

// Invoke runs one circuit call against an instance. On success the delta is
// already applied atomically, the registry tree reflects the new state root
// and (when a queue is configured) a proof job is pending; the response
// carries the disclosed outputs and the job identifier. On failure the
// snapshot is untouched and the typed failure reason is returned.
func (e *Engine) Invoke(req *types.InvokeRequest) (*types.InvokeResponse, error) {
	var id types.StateID
	if err := id.Unmarshal(req.StateID); err != nil {
		return nil, fmt.Errorf("malformed state id: %w", err)
	}
	logic, ok := e.logic(req.Circuit)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCircuit, req.Circuit)
	}
	ref, err := e.instances.Load(id)
	if err != nil {
		return nil, err
	}

	rootBefore := ref.Root()
	start := time.Now()
	call := ref.Snapshot().BeginCall()
	if err := logic(call, callInput(req)); err != nil {
		return nil, e.abort(call, id, err)
	}
	if err := call.Err(); err != nil {
		return nil, e.abort(call, id, err)
	}
	outputs := call.Outputs()
	delta, err := call.Commit()
	if err != nil {
		callsAborted.WithLabelValues(failureLabel(err)).Inc()
		return nil, err
	}
	callSeconds.Observe(time.Since(start).Seconds())
	callsCommitted.Inc()

	transition, err := e.registry.SetRoot(id, delta.RootAfter)
	if err != nil {
		// The commit stands; the registry is rebuilt from snapshots on
		// the next restart if this write was lost.
		log.Errorw(err, "cannot record new state root on registry")
	}
	if err := ref.UpdateRoot(delta.RootAfter); err != nil {
		log.Warnw("cannot refresh cached instance root", "id", id.String(), "error", err.Error())
	}

	resp := &types.InvokeResponse{
		Version:   delta.Version,
		StateRoot: delta.RootAfter,
		SpendRoot: delta.SpendRoot,
		Outputs:   outputs,
	}
	if e.queue != nil && transition != nil {
		jobID, err := e.enqueueProof(id, req, rootBefore, delta, outputs, transition)
		if err != nil {
			log.Errorw(err, "cannot enqueue proof job")
		} else {
			resp.ProofJob = jobID.String()
		}
	}
	log.Debugw("call committed",
		"id", id.String(),
		"circuit", req.Circuit,
		"version", delta.Version,
		"ops", len(delta.Ops),
		"took", time.Since(start).String())
	return resp, nil
}

// abort discards the call and classifies the failure. The returned error is
// the typed reason handed to the caller; it carries no witness material by
// construction.
func (e *Engine) abort(call *state.Call, id types.StateID, cause error) error {
	if err := call.Abort(); err != nil {
		log.Warnw("cannot abort call", "id", id.String(), "error", err.Error())
	}
	callsAborted.WithLabelValues(failureLabel(cause)).Inc()
	log.Debugw("call aborted", "id", id.String(), "reason", cause.Error())
	return cause
}

// enqueueProof captures the committed call as a proving job. The job holds
// only public data: inputs, disclosed outputs, spent nullifiers and the
// registry transition.
func (e *Engine) enqueueProof(id types.StateID, req *types.InvokeRequest,
	rootBefore types.HexBytes, delta *state.Delta, outputs []*types.BigInt,
	transition *storage.RegistryTransition,
) (types.HexBytes, error) {
	jobID := uuid.New()
	job := &storage.ProofJob{
		ID:           jobID[:],
		Instance:     id.Marshal(),
		Circuit:      spendattest.Name,
		Version:      delta.Version,
		RootBefore:   rootBefore,
		RootAfter:    delta.RootAfter,
		PublicInputs: req.PublicInputs,
		Outputs:      outputs,
		Nullifiers:   spentNullifiers(delta),
		Registry:     transition,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.queue.Push(job); err != nil {
		return nil, err
	}
	proofJobsQueued.Inc()
	return job.ID, nil
}

// spentNullifiers extracts the nullifiers consumed by a committed delta.
func spentNullifiers(delta *state.Delta) []types.HexBytes {
	var nullifiers []types.HexBytes
	for _, op := range delta.Ops {
		if op.Kind == state.OpSpend {
			nullifiers = append(nullifiers, op.Key)
		}
	}
	return nullifiers
}

// callInput wraps the request inputs for circuit logic, moving witnesses
// behind the disclosure gate before any engine code can observe them.
func callInput(req *types.InvokeRequest) *CallInput {
	input := &CallInput{
		Public:    make([]*big.Int, len(req.PublicInputs)),
		Witnesses: make([]privacy.Witness[*big.Int], len(req.Witnesses)),
	}
	for i, v := range req.PublicInputs {
		input.Public[i] = v.MathBigInt()
	}
	for i, w := range req.Witnesses {
		input.Witnesses[i] = privacy.NewWitness(w.MathBigInt())
	}
	return input
}

// failureLabel maps an abort cause to its metric label.
func failureLabel(err error) string {
	var failure *state.Failure
	if errors.As(err, &failure) {
		return string(failure.Code)
	}
	return string(state.CodeInternal)
}
