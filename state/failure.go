package state

import (
	"fmt"
)

// FailureCode classifies why a call aborted. Codes are stable identifiers
// surfaced to callers; messages are static text plus public values only, so
// a failure reason can never leak witness material.
type FailureCode string

const (
	CodeAssertionFailure FailureCode = "assertion_failure"
	CodeRangeViolation   FailureCode = "range_violation"
	CodeIndexOutOfRange  FailureCode = "index_out_of_range"
	CodeDoubleUse        FailureCode = "double_use_violation"
	CodeMerkleProof      FailureCode = "merkle_proof_mismatch"
	CodeMissingKey       FailureCode = "missing_key"
	CodeDisclosure       FailureCode = "disclosure_violation"
	CodeInvalidCall      FailureCode = "invalid_call"
	CodeInternal         FailureCode = "internal"
)

// Failure is the typed reason a call cannot succeed. A failed assertion is
// not a crash: it means no valid proof can exist for the attempted call.
type Failure struct {
	Code FailureCode
	Msg  string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Msg)
}

// Is matches failures by code, so errors.Is(err, ErrDoubleUse) works on any
// wrapped instance regardless of message.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Code == f.Code
}

// Sentinel failures for errors.Is matching. Returned failures usually carry
// a more specific message with the same code.
var (
	ErrAssertionFailed     = &Failure{Code: CodeAssertionFailure, Msg: "circuit assertion failed"}
	ErrRangeViolation      = &Failure{Code: CodeRangeViolation, Msg: "arithmetic bound exceeded"}
	ErrIndexOutOfRange     = &Failure{Code: CodeIndexOutOfRange, Msg: "list index out of range"}
	ErrDoubleUse           = &Failure{Code: CodeDoubleUse, Msg: "nullifier already spent"}
	ErrMerkleProofMismatch = &Failure{Code: CodeMerkleProof, Msg: "merkle proof does not match root"}
	ErrMissingKey          = &Failure{Code: CodeMissingKey, Msg: "map key not present"}
	ErrDisclosureViolation = &Failure{Code: CodeDisclosure, Msg: "undisclosed value crossing public boundary"}
	ErrInvalidCall         = &Failure{Code: CodeInvalidCall, Msg: "call is not in a valid phase"}
)

func failf(code FailureCode, format string, args ...any) *Failure {
	return &Failure{Code: code, Msg: fmt.Sprintf(format, args...)}
}
