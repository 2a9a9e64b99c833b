package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/veilstate/veilstate/log"
	stg "github.com/veilstate/veilstate/storage"
	"github.com/veilstate/veilstate/types"
)

// deployInstance creates a new contract instance from its schema
// POST /instances
func (a *API) deployInstance(w http.ResponseWriter, r *http.Request) {
	req := &types.DeployRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if len(req.Schema.Cells) == 0 {
		ErrMalformedBody.With("schema has no cells").Write(w)
		return
	}
	resp, err := a.engine.Deploy(req)
	if err != nil {
		if errors.Is(err, stg.ErrInstanceAlreadyExists) {
			ErrInstanceAlreadyExists.Write(w)
			return
		}
		ErrGenericInternalServerError.Withf("could not deploy instance: %v", err).Write(w)
		return
	}
	log.Infow("new instance", "stateId", resp.ID.String(), "stateRoot", resp.StateRoot.String())
	httpWriteJSON(w, resp)
}

// listInstances returns the identifiers of every deployed instance
// GET /instances
func (a *API) listInstances(w http.ResponseWriter, r *http.Request) {
	ids, err := a.engine.Instances().List()
	if err != nil {
		ErrGenericInternalServerError.Withf("could not list instances: %v", err).Write(w)
		return
	}
	list := make([]types.HexBytes, 0, len(ids))
	for _, id := range ids {
		list = append(list, id.Marshal())
	}
	httpWriteJSON(w, map[string][]types.HexBytes{"instances": list})
}

// instanceInfo returns the schema and current heads of an instance
// GET /instances/{stateId}
func (a *API) instanceInfo(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.loadInstance(w, r)
	if !ok {
		return
	}
	info, err := ref.Info()
	if err != nil {
		ErrGenericInternalServerError.Withf("could not read instance info: %v", err).Write(w)
		return
	}
	httpWriteJSON(w, info)
}

// instanceDelta returns one entry of the instance delta log
// GET /instances/{stateId}/deltas/{version}
func (a *API) instanceDelta(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.loadInstance(w, r)
	if !ok {
		return
	}
	version, err := strconv.ParseUint(chi.URLParam(r, DeltaURLParam), 10, 64)
	if err != nil {
		ErrMalformedVersion.WithErr(err).Write(w)
		return
	}
	delta, err := ref.Snapshot().DeltaAt(version)
	if err != nil {
		ErrDeltaNotFound.Withf("version %d: %v", version, err).Write(w)
		return
	}
	httpWriteJSON(w, delta)
}

// verifyAtRoot checks an accumulator proof against the root it embeds,
// requiring that root to be a current or historic root of the named cell
// POST /instances/{stateId}/verify
func (a *API) verifyAtRoot(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.loadInstance(w, r)
	if !ok {
		return
	}
	req := &types.VerifyAtRootRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	valid, err := ref.Snapshot().TreeVerifyAtRoot(req.Cell, &req.Proof, req.Proof.Root)
	if err != nil {
		ErrUnknownCell.Withf("cell %q: %v", req.Cell, err).Write(w)
		return
	}
	httpWriteJSON(w, &types.VerifyAtRootResponse{Valid: valid})
}

// loadInstance resolves the stateId URL param into an instance reference,
// writing the error response itself when it cannot.
func (a *API) loadInstance(w http.ResponseWriter, r *http.Request) (*stg.InstanceRef, bool) {
	var id types.StateID
	var raw types.HexBytes
	if err := raw.FromString(chi.URLParam(r, InstanceURLParam)); err != nil {
		ErrMalformedStateID.WithErr(err).Write(w)
		return nil, false
	}
	if err := id.Unmarshal(raw); err != nil {
		ErrMalformedStateID.WithErr(err).Write(w)
		return nil, false
	}
	ref, err := a.engine.Instances().Load(id)
	if err != nil {
		ErrInstanceNotFound.Withf("%s", id.String()).Write(w)
		return nil, false
	}
	return ref, true
}
