package commitment

import (
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestCommitDeterminism(t *testing.T) {
	c := qt.New(t)
	r, err := NewBlinding()
	c.Assert(err, qt.IsNil)

	first := Commit(big.NewInt(100), r)
	second := Commit(big.NewInt(100), r)
	c.Assert(second, qt.DeepEquals, first)
	c.Assert(first.Scheme, qt.Equals, SchemeMiMCBN254)
	c.Assert(first.Digest, qt.HasLen, 32)
}

func TestCommitBinding(t *testing.T) {
	c := qt.New(t)
	r, err := NewBlinding()
	c.Assert(err, qt.IsNil)

	// same randomness, different values
	a := Commit(big.NewInt(100), r)
	b := Commit(big.NewInt(101), r)
	c.Assert(a.Digest.String(), qt.Not(qt.Equals), b.Digest.String())
}

func TestCommitHiding(t *testing.T) {
	c := qt.New(t)
	r1, err := NewBlinding()
	c.Assert(err, qt.IsNil)
	r2, err := NewBlinding()
	c.Assert(err, qt.IsNil)
	c.Assert(r1.Cmp(r2), qt.Not(qt.Equals), 0)

	// same value, different randomness: confidentiality comes from the
	// randomness, not from the committed value
	a := Commit(big.NewInt(100), r1)
	b := Commit(big.NewInt(100), r2)
	c.Assert(a.Digest.String(), qt.Not(qt.Equals), b.Digest.String())
}

func TestContentHashIsNotACommitment(t *testing.T) {
	c := qt.New(t)
	v := big.NewInt(42)
	c.Assert(ContentHash(v), qt.DeepEquals, ContentHash(v))

	r, err := NewBlinding()
	c.Assert(err, qt.IsNil)
	c.Assert(ContentHash(v).String(), qt.Not(qt.Equals), Commit(v, r).Digest.String())
}

func TestNullifierDomainSeparation(t *testing.T) {
	c := qt.New(t)
	secret := big.NewInt(12345)
	context := big.NewInt(777)

	spend := Nullifier("spend", secret, context)
	c.Assert(spend, qt.DeepEquals, Nullifier("spend", secret, context))
	c.Assert(spend, qt.HasLen, 32)

	// same secret, different purpose or context must never collide
	c.Assert(spend.String(), qt.Not(qt.Equals), Nullifier("revoke", secret, context).String())
	c.Assert(spend.String(), qt.Not(qt.Equals), Nullifier("spend", secret, big.NewInt(778)).String())
}
