package merkle

import (
	"math/big"

	"github.com/veilstate/veilstate/crypto/hash/poseidon"
	"github.com/veilstate/veilstate/types"
)

// EmptyLadder precomputes the digests of empty subtrees, from a single empty
// leaf at height 0 up to an empty tree of the given depth.
func EmptyLadder(depth int) ([]*big.Int, error) {
	ladder := make([]*big.Int, depth+1)
	ladder[0] = big.NewInt(0)
	for i := 1; i <= depth; i++ {
		h, err := poseidon.Hash2(ladder[i-1], ladder[i-1])
		if err != nil {
			return nil, err
		}
		ladder[i] = h
	}
	return ladder, nil
}

// PositionBits expands a leaf index into direction bits, least significant
// first. Bit i set means the path node at level i is a right child, so the
// sibling hashes on the left.
func PositionBits(index uint64, depth int) []bool {
	bits := make([]bool, depth)
	for i := 0; i < depth; i++ {
		bits[i] = index>>uint(i)&1 == 1
	}
	return bits
}

// VerifyPath recomputes the root from a leaf, its sibling path and the
// direction bits, and compares it with the claimed root. It is a pure
// function with no tree state involved, so any holder of a proof can run it.
// A path or bit vector whose length differs from the tree depth fails with
// ErrPathLength instead of being truncated.
func VerifyPath(depth int, leaf *big.Int, siblings []*big.Int, bits []bool, root *big.Int) (bool, error) {
	if len(siblings) != depth || len(bits) != depth {
		return false, ErrPathLength
	}
	cur := new(big.Int).Set(leaf)
	for i := 0; i < depth; i++ {
		var err error
		if bits[i] {
			cur, err = poseidon.Hash2(siblings[i], cur)
		} else {
			cur, err = poseidon.Hash2(cur, siblings[i])
		}
		if err != nil {
			return false, err
		}
	}
	return cur.Cmp(root) == 0, nil
}

// CheckProof verifies a serialized accumulator proof against the root it
// carries, deriving the direction bits from the leaf index.
func CheckProof(depth int, proof *types.AccumulatorProof) (bool, error) {
	return checkAgainst(depth, proof, bytesToBig(proof.Root))
}
