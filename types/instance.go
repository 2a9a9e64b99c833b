package types

import (
	"encoding/json"
	"time"
)

// InstanceInfo describes one deployed contract instance: its identifier,
// schema and current snapshot heads.
type InstanceInfo struct {
	ID        HexBytes  `json:"id"                  cbor:"0,keyasint"`
	Version   uint64    `json:"version"             cbor:"1,keyasint"`
	StateRoot HexBytes  `json:"stateRoot"           cbor:"2,keyasint,omitempty"`
	SpendRoot HexBytes  `json:"spendRoot"           cbor:"3,keyasint,omitempty"`
	Schema    *Schema   `json:"schema,omitempty"    cbor:"4,keyasint,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty" cbor:"5,keyasint,omitempty"`
}

func (i *InstanceInfo) String() string {
	data, err := json.Marshal(i)
	if err != nil {
		return ""
	}
	return string(data)
}

// DeployRequest is the struct to create a new contract instance.
type DeployRequest struct {
	ChainID  uint32   `json:"chainId"`
	Deployer HexBytes `json:"deployer"`
	Nonce    uint64   `json:"nonce"`
	Schema   Schema   `json:"schema"`
}

// DeployResponse returns the identifier and genesis heads of a new instance.
type DeployResponse struct {
	ID        HexBytes `json:"id"`
	StateRoot HexBytes `json:"stateRoot"`
	SpendRoot HexBytes `json:"spendRoot"`
}

// InvokeRequest is the struct to execute one circuit call against an
// instance. Witnesses are the caller's private inputs; they are consumed by
// the call and never echoed back in responses, logs or failure reasons.
type InvokeRequest struct {
	StateID      HexBytes  `json:"stateId"`
	Circuit      string    `json:"circuit"`
	PublicInputs []*BigInt `json:"publicInputs"`
	Witnesses    []*BigInt `json:"witnesses,omitempty"`
}

// InvokeResponse returns the outcome of a committed call.
type InvokeResponse struct {
	Version   uint64    `json:"version"`
	StateRoot HexBytes  `json:"stateRoot"`
	SpendRoot HexBytes  `json:"spendRoot"`
	Outputs   []*BigInt `json:"outputs,omitempty"`
	ProofJob  string    `json:"proofJob,omitempty"`
}

// VerifyAtRootRequest asks whether a leaf was provable under a (possibly
// historic) accumulator root. It requires no access to the live snapshot
// beyond the named cell's historic root set.
type VerifyAtRootRequest struct {
	StateID HexBytes         `json:"stateId"`
	Cell    string           `json:"cell"`
	Proof   AccumulatorProof `json:"proof"`
}

// VerifyAtRootResponse reports the proof check result.
type VerifyAtRootResponse struct {
	Valid bool `json:"valid"`
}
