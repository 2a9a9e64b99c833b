package spendattest

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/arbo"

	"github.com/veilstate/veilstate/types"
)

// nativeHash matches the registry tree hash, used to unpack its packed
// sibling encoding.
var nativeHash = arbo.HashMiMC_BN254{}

// Secrets is the optional private extension of an assignment: the material
// proving each public nullifier was honestly derived. It never leaves the
// prover invocation that receives it.
type Secrets struct {
	DomainTag *big.Int
	Values    []*big.Int
	Contexts  []*big.Int
}

// Assignment builds the witness assignment for one committed call. The
// registry proofs must be the before/after pair captured under the registry
// lock, so they share a sibling path. Without secrets the nullifier slots
// are carried as unconstrained public values and the proof attests the
// registry transition only.
func Assignment(before, after *types.RegistryProof, nullifiers []types.HexBytes, secrets *Secrets) (*Circuit, error) {
	if len(nullifiers) > MaxNullifiers {
		return nil, fmt.Errorf("%d nullifiers exceed the %d circuit slots", len(nullifiers), MaxNullifiers)
	}
	if !before.Existence {
		return nil, fmt.Errorf("registry transition must update an existing leaf")
	}
	siblings, err := padSiblings(after.Siblings)
	if err != nil {
		return nil, err
	}
	assignment := &Circuit{
		RegistryRootBefore: arbo.BytesToBigInt(before.Root),
		RegistryRootAfter:  arbo.BytesToBigInt(after.Root),
		InstanceKey:        arbo.BytesToBigInt(after.Key),
		StateRootBefore:    arbo.BytesToBigInt(before.Value),
		StateRootAfter:     arbo.BytesToBigInt(after.Value),
		Siblings:           siblings,
		IsOld0:             0,
		Fnc0:               0, // update
		Fnc1:               1,
		NullifierCount:     0,
		DomainTag:          0,
	}
	for i := 0; i < MaxNullifiers; i++ {
		assignment.Nullifiers[i] = 0
		assignment.Secrets[i] = 0
		assignment.Contexts[i] = 0
	}
	for i, n := range nullifiers {
		assignment.Nullifiers[i] = n.BigInt()
	}
	if secrets != nil {
		if len(secrets.Values) != len(nullifiers) || len(secrets.Contexts) != len(nullifiers) {
			return nil, fmt.Errorf("secrets do not cover the %d nullifiers", len(nullifiers))
		}
		assignment.NullifierCount = len(nullifiers)
		assignment.DomainTag = secrets.DomainTag
		for i := range secrets.Values {
			assignment.Secrets[i] = secrets.Values[i]
			assignment.Contexts[i] = secrets.Contexts[i]
		}
	}
	return assignment, nil
}

// padSiblings unpacks an arbo packed sibling path and pads it with zeros up
// to the circuit's registry levels.
func padSiblings(packed types.HexBytes) ([RegistryLevels]frontend.Variable, error) {
	siblings := [RegistryLevels]frontend.Variable{}
	unpacked, err := arbo.UnpackSiblings(nativeHash, packed)
	if err != nil {
		return siblings, fmt.Errorf("cannot unpack registry siblings: %w", err)
	}
	if len(unpacked) > RegistryLevels {
		return siblings, fmt.Errorf("registry proof has %d siblings, circuit holds %d", len(unpacked), RegistryLevels)
	}
	for i := range RegistryLevels {
		if i < len(unpacked) {
			siblings[i] = arbo.BytesToBigInt(unpacked[i])
		} else {
			siblings[i] = big.NewInt(0)
		}
	}
	return siblings, nil
}
