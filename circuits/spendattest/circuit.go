// Package spendattest implements the attestation circuit of a committed
// call: it proves that the call moved the registry entry of its instance
// from the state root before to the state root after, and that every spent
// nullifier is correctly derived from a secret the prover knows. The
// registry transition is verified as a keyed Merkle tree operation over the
// same MiMC hash the native registry uses, so a proof binds the commit to
// exactly one position in the global tree.
package spendattest

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/vocdoni/gnark-crypto-primitives/tree/smt"
	"github.com/vocdoni/gnark-crypto-primitives/utils"
)

// Name is the circuit identifier carried by proof jobs.
const Name = "spendattest-v1"

const (
	// RegistryLevels is the number of sibling slots of a registry proof
	// inside the circuit. It must match the registry tree MaxLevels.
	RegistryLevels = 256
	// MaxNullifiers is the number of nullifier slots per proof. Unused
	// slots carry zero and are skipped by the count.
	MaxNullifiers = 4
)

// HashFn hashes in-circuit with the same MiMC the registry tree uses
// natively, so recomputed roots match arbo's.
var HashFn = utils.MiMCHasher

// Circuit proves one registry transition plus the nullifier derivations of
// the committed call.
type Circuit struct {
	// ---------------------------------------------------------------------------------------------
	// PUBLIC INPUTS

	RegistryRootBefore frontend.Variable `gnark:",public"`
	RegistryRootAfter  frontend.Variable `gnark:",public"`
	InstanceKey        frontend.Variable `gnark:",public"`
	StateRootAfter     frontend.Variable `gnark:",public"`
	NullifierCount     frontend.Variable `gnark:",public"`

	Nullifiers [MaxNullifiers]frontend.Variable `gnark:",public"`

	// ---------------------------------------------------------------------------------------------
	// SECRET INPUTS

	StateRootBefore frontend.Variable
	Siblings        [RegistryLevels]frontend.Variable
	IsOld0          frontend.Variable
	Fnc0            frontend.Variable
	Fnc1            frontend.Variable

	// DomainTag, Secrets and Contexts feed the nullifier derivation. The
	// tag is secret input but fixed per purpose, so the verifier learns
	// nothing it did not already know.
	DomainTag frontend.Variable
	Secrets   [MaxNullifiers]frontend.Variable
	Contexts  [MaxNullifiers]frontend.Variable
}

// Define declares the circuit's constraints.
func (circuit Circuit) Define(api frontend.API) error {
	circuit.VerifyRegistryTransition(api, HashFn)
	circuit.VerifyNullifiers(api)
	return nil
}

// VerifyRegistryTransition proves that replacing the instance leaf value
// StateRootBefore by StateRootAfter moves the registry root from
// RegistryRootBefore to RegistryRootAfter, walking the shared sibling path
// once.
func (circuit Circuit) VerifyRegistryTransition(api frontend.API, hFn utils.Hasher) {
	oldLeafHash := smt.Hash1(api, hFn, circuit.InstanceKey, circuit.StateRootBefore)
	newLeafHash := smt.Hash1(api, hFn, circuit.InstanceKey, circuit.StateRootAfter)
	root := smt.ProcessorWithLeafHash(api, hFn,
		circuit.RegistryRootBefore,
		circuit.Siblings[:],
		circuit.InstanceKey,
		oldLeafHash,
		circuit.IsOld0,
		circuit.InstanceKey,
		newLeafHash,
		circuit.Fnc0,
		circuit.Fnc1,
	)
	api.AssertIsEqual(root, circuit.RegistryRootAfter)
}

// VerifyNullifiers recomputes every used nullifier slot as
// MiMC(DomainTag, Secret, Context) and asserts it matches the public value.
// Slots at or beyond NullifierCount are unconstrained placeholders.
func (circuit Circuit) VerifyNullifiers(api frontend.API) {
	api.AssertIsLessOrEqual(circuit.NullifierCount, MaxNullifiers)
	for i := 0; i < MaxNullifiers; i++ {
		h, err := mimc.NewMiMC(api)
		if err != nil {
			panic(err)
		}
		h.Write(circuit.DomainTag, circuit.Secrets[i], circuit.Contexts[i])
		derived := h.Sum()
		// used <=> i < NullifierCount <=> Cmp(count, i) == 1
		used := api.IsZero(api.Sub(api.Cmp(circuit.NullifierCount, i), 1))
		api.AssertIsEqual(
			api.Select(used, derived, circuit.Nullifiers[i]),
			circuit.Nullifiers[i],
		)
	}
}
