package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/veilstate/veilstate/log"
	"github.com/veilstate/veilstate/runtime"
	"github.com/veilstate/veilstate/state"
	stg "github.com/veilstate/veilstate/storage"
	"github.com/veilstate/veilstate/types"
)

// submitCall executes one circuit call against an instance. A committed call
// returns the new heads and disclosed outputs; an aborted call returns the
// typed failure reason, which by construction carries no witness material
// POST /calls
func (a *API) submitCall(w http.ResponseWriter, r *http.Request) {
	req := &types.InvokeRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	resp, err := a.engine.Invoke(req)
	if err != nil {
		a.writeCallError(w, req, err)
		return
	}
	log.Infow("call committed",
		"stateId", req.StateID.String(),
		"circuit", req.Circuit,
		"version", resp.Version,
		"stateRoot", resp.StateRoot.String())
	httpWriteJSON(w, resp)
}

// writeCallError maps an Invoke error to its API error response.
func (a *API) writeCallError(w http.ResponseWriter, req *types.InvokeRequest, err error) {
	var failure *state.Failure
	switch {
	case errors.Is(err, runtime.ErrUnknownCircuit):
		ErrUnknownCircuit.Withf("%q", req.Circuit).Write(w)
	case errors.Is(err, stg.ErrInstanceNotFound):
		ErrInstanceNotFound.WithErr(err).Write(w)
	case errors.As(err, &failure):
		ErrCallAborted.Withf("%s: %s", failure.Code, failure.Msg).Write(w)
	default:
		ErrGenericInternalServerError.WithErr(err).Write(w)
	}
}
