package commitment

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilstate/veilstate/types"
	"github.com/veilstate/veilstate/util"
)

// SchemeMiMCBN254 tags commitments produced by this package: MiMC over the
// BN254 scalar field, matching the in-circuit hash.
const SchemeMiMCBN254 = "mimc-bn254-v1"

const (
	commitPrefix    = "veilstate/commit/v1"
	contentPrefix   = "veilstate/content/v1"
	nullifierPrefix = "veilstate/nullify/v1/"
)

// Commitment is a binding digest over (value, randomness). It hides the value
// as long as the randomness has full entropy and is never reused for two
// values that must stay distinguishable.
type Commitment struct {
	Digest types.HexBytes `json:"digest"`
	Scheme string         `json:"scheme"`
}

// BigInt returns the digest as a field element.
func (c Commitment) BigInt() *big.Int {
	return c.Digest.BigInt()
}

// Commit derives the commitment to value under randomness. It is
// deterministic: identical (value, randomness) pairs re-derive the identical
// digest.
func Commit(value, randomness *big.Int) Commitment {
	return Commitment{
		Digest: mimcDigest(domainTag(commitPrefix), value, randomness),
		Scheme: SchemeMiMCBN254,
	}
}

// ContentHash derives a value-only digest. This is content addressing, not a
// hiding commitment: anyone can brute force low entropy preimages. Use Commit
// where confidentiality is required.
func ContentHash(value *big.Int) types.HexBytes {
	return mimcDigest(domainTag(contentPrefix), value)
}

// Nullifier derives the single-use digest for a secret under a purpose tag
// and a context value. Different purposes can never collide, even when the
// same secret is reused across them.
func Nullifier(purpose string, secret, context *big.Int) types.HexBytes {
	return mimcDigest(domainTag(nullifierPrefix+purpose), secret, context)
}

// NullifierDomain returns the field element mixed into every nullifier of
// the given purpose. Circuits re-deriving nullifiers take it as an input.
func NullifierDomain(purpose string) *big.Int {
	return domainTag(nullifierPrefix + purpose)
}

// NewBlinding returns fresh commitment randomness: a uniformly random
// element of the BN254 scalar field.
func NewBlinding() (*big.Int, error) {
	var el fr.Element
	if _, err := el.SetRandom(); err != nil {
		return nil, err
	}
	return el.BigInt(new(big.Int)), nil
}

// domainTag maps a domain string onto the scalar field.
func domainTag(domain string) *big.Int {
	return util.BigToFF(new(big.Int).SetBytes(ethcrypto.Keccak256([]byte(domain))))
}

// mimcDigest hashes the canonical field encoding of every input. Writing
// canonical 32 byte blocks cannot fail, so the hash.Hash error is discarded.
func mimcDigest(inputs ...*big.Int) []byte {
	h := mimc.NewMiMC()
	for _, input := range inputs {
		var el fr.Element
		el.SetBigInt(input)
		b := el.Bytes()
		_, _ = h.Write(b[:])
	}
	return h.Sum(nil)
}
