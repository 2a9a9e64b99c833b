package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	stg "github.com/veilstate/veilstate/storage"
	"github.com/veilstate/veilstate/types"
)

// ProofStatusResponse reports the queue state of a proof job and, once
// proving finished, its result.
type ProofStatusResponse struct {
	JobID  types.HexBytes   `json:"jobId"`
	Status stg.JobStatus    `json:"status"`
	Result *stg.ProofResult `json:"result,omitempty"`
}

// VerifyProofRequest asks to check a generated proof. Either reference a
// finished job by its identifier or carry the proof material inline.
type VerifyProofRequest struct {
	JobID         types.HexBytes `json:"jobId,omitempty"`
	Proof         types.HexBytes `json:"proof,omitempty"`
	PublicWitness types.HexBytes `json:"publicWitness,omitempty"`
}

// VerifyProofResponse reports the verification outcome.
type VerifyProofResponse struct {
	Valid bool `json:"valid"`
}

// proofStatus returns the queue state of a proof job and its result when done
// GET /proofs/{jobId}
func (a *API) proofStatus(w http.ResponseWriter, r *http.Request) {
	var jobID types.HexBytes
	if err := jobID.FromString(chi.URLParam(r, ProofURLParam)); err != nil {
		ErrMalformedJobID.WithErr(err).Write(w)
		return
	}
	status, err := a.storage.JobStatus(jobID)
	if err != nil {
		if errors.Is(err, stg.ErrNotFound) {
			ErrJobNotFound.Withf("%s", jobID.String()).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	resp := &ProofStatusResponse{JobID: jobID, Status: status}
	if status == stg.JobStatusDone || status == stg.JobStatusFailed {
		result, err := a.storage.ProofResultByID(jobID)
		if err == nil {
			resp.Result = result
		}
	}
	httpWriteJSON(w, resp)
}

// verifyProof checks a generated proof against its public witness
// POST /proofs/verify
func (a *API) verifyProof(w http.ResponseWriter, r *http.Request) {
	if a.verifier == nil {
		ErrProverUnavailable.Write(w)
		return
	}
	req := &VerifyProofRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	proof, publicWitness := req.Proof, req.PublicWitness
	if len(req.JobID) > 0 {
		result, err := a.storage.ProofResultByID(req.JobID)
		if err != nil {
			ErrJobNotFound.Withf("%s", req.JobID.String()).Write(w)
			return
		}
		if result.Error != "" {
			ErrInvalidProof.Withf("proving failed: %s", result.Error).Write(w)
			return
		}
		proof, publicWitness = result.Proof, result.PublicWitness
	}
	if len(proof) == 0 || len(publicWitness) == 0 {
		ErrMalformedBody.With("missing proof or public witness").Write(w)
		return
	}
	if err := a.verifier.Verify(proof, publicWitness); err != nil {
		ErrInvalidProof.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &VerifyProofResponse{Valid: true})
}
