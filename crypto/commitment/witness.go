package commitment

import (
	"math/big"

	"github.com/veilstate/veilstate/privacy"
	"github.com/veilstate/veilstate/types"
)

// CommitWitness derives a commitment over a private value and blinding. The
// digest stays private until the circuit discloses it for insertion into
// public state.
func CommitWitness(value, randomness privacy.Witness[*big.Int]) privacy.Witness[Commitment] {
	return privacy.Map2(value, randomness, Commit)
}

// NullifierWitness derives a nullifier from a private secret under the given
// purpose. Spending requires disclosing the result, which reveals nothing
// about the secret beyond the spend itself.
func NullifierWitness(purpose string, secret, context privacy.Witness[*big.Int]) privacy.Witness[types.HexBytes] {
	return privacy.Map2(secret, context, func(s, ctx *big.Int) types.HexBytes {
		return Nullifier(purpose, s, ctx)
	})
}
