package state

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veilstate/veilstate/types"
)

// OpKind identifies one ledger mutation inside a delta.
type OpKind uint8

const (
	OpCounterInc OpKind = iota + 1
	OpCounterDec
	OpSetInsert
	OpSetRemove
	OpMapSet
	OpMapDelete
	OpListPush
	OpListPop
	OpListSet
	OpTreeInsert
	OpTreeUpdate
	OpSpend
)

// Op is one recorded cell mutation. Spend ops target the engine provided
// nullifier set and carry no cell name. All values recorded here are public
// by construction: witness-derived data must pass the disclosure gate before
// it can reach a cell operation.
type Op struct {
	Cell   string         `json:"cell,omitempty"   cbor:"0,keyasint,omitempty"`
	Kind   OpKind         `json:"kind"             cbor:"1,keyasint"`
	Key    types.HexBytes `json:"key,omitempty"    cbor:"2,keyasint,omitempty"`
	Value  types.HexBytes `json:"value,omitempty"  cbor:"3,keyasint,omitempty"`
	Index  uint64         `json:"index,omitempty"  cbor:"4,keyasint,omitempty"`
	Amount uint64         `json:"amount,omitempty" cbor:"5,keyasint,omitempty"`
}

// Delta is the atomic mutation set produced by one committed call. Replaying
// the ordered deltas of an instance from genesis reproduces its state root
// sequence exactly.
type Delta struct {
	Version   uint64                    `json:"version"             cbor:"0,keyasint"`
	Ops       []Op                      `json:"ops"                 cbor:"1,keyasint"`
	RootAfter types.HexBytes            `json:"rootAfter"           cbor:"2,keyasint"`
	TreeRoots map[string]types.HexBytes `json:"treeRoots,omitempty" cbor:"3,keyasint,omitempty"`
	SpendRoot types.HexBytes            `json:"spendRoot,omitempty" cbor:"4,keyasint,omitempty"`
}

// Marshal encodes the delta for persistence.
func (d *Delta) Marshal() ([]byte, error) {
	return cbor.Marshal(d)
}

// Unmarshal decodes a persisted delta.
func (d *Delta) Unmarshal(data []byte) error {
	if err := cbor.Unmarshal(data, d); err != nil {
		return fmt.Errorf("cannot decode delta: %w", err)
	}
	return nil
}
