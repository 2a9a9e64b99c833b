package util

import (
	"crypto/rand"
	"math/big"
)

// RandomBytes returns n bytes from the system entropy source. It panics on
// failure, which only happens when the source is unusable.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// bn254ScalarField is the scalar field order of the BN254 curve, the field
// every circuit signal lives in.
var bn254ScalarField, _ = new(big.Int).SetString("21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// BigToFF reduces the provided big.Int into the BN254 scalar field, so it can
// be used as a circuit signal.
func BigToFF(iv *big.Int) *big.Int {
	z := big.NewInt(0)
	if c := iv.Cmp(bn254ScalarField); c == 0 {
		return z
	} else if c != 1 && iv.Cmp(z) != -1 {
		return iv
	}
	return z.Mod(iv, bn254ScalarField)
}
