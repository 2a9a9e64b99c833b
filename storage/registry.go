package storage

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/vocdoni/arbo"

	"github.com/veilstate/veilstate/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	registryPrefix = []byte("rt_")

	// registryHashFunc is the hash function of the registry tree.
	registryHashFunc = arbo.HashMiMC_BN254{}
)

// registryKeyLen is the byte length of registry keys and values. Both are
// field elements, so they fit the tree's MaxLevels.
const registryKeyLen = types.HashLen

// RegistryTree is the global accumulator of deployed instances: a keyed
// Merkle tree mapping each instance identifier to its current state root.
// It is updated after every committed call, and since it holds no data of
// its own it can always be rebuilt from the instance snapshots.
type RegistryTree struct {
	// treeMu protects all access to the underlying Merkle tree.
	treeMu sync.Mutex
	tree   *arbo.Tree
}

// NewRegistryTree opens (or creates) the registry tree on the database.
func NewRegistryTree(database db.Database) (*RegistryTree, error) {
	tree, err := arbo.NewTree(arbo.Config{
		Database:     prefixeddb.NewPrefixedDatabase(database, registryPrefix),
		MaxLevels:    types.RegistryMaxLevels,
		HashFunction: registryHashFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open registry tree: %w", err)
	}
	return &RegistryTree{tree: tree}, nil
}

// registryKey is the tree key of an instance: its identifier reduced to a
// field element, in arbo byte order.
func registryKey(id types.StateID) []byte {
	return arbo.BigIntToBytes(registryKeyLen, id.Field())
}

// registryValue encodes a state root as a tree value in arbo byte order.
func registryValue(stateRoot []byte) []byte {
	return arbo.BigIntToBytes(registryKeyLen, new(big.Int).SetBytes(stateRoot))
}

// SetRoot records the current state root of an instance, inserting or
// updating its leaf, and returns the proofs of the tree before and after the
// write. Both proofs are taken under the tree lock, so the returned
// transition is exactly the one the tree performed.
func (r *RegistryTree) SetRoot(id types.StateID, stateRoot types.HexBytes) (*RegistryTransition, error) {
	r.treeMu.Lock()
	defer r.treeMu.Unlock()

	key := registryKey(id)
	value := registryValue(stateRoot)

	before, err := r.proof(key)
	if err != nil {
		return nil, err
	}
	if _, _, err := r.tree.Get(key); errors.Is(err, arbo.ErrKeyNotFound) {
		if err := r.tree.Add(key, value); err != nil {
			return nil, fmt.Errorf("add registry key failed: %w", err)
		}
	} else if err != nil {
		return nil, err
	} else {
		if err := r.tree.Update(key, value); err != nil {
			return nil, fmt.Errorf("update registry key failed: %w", err)
		}
	}
	after, err := r.proof(key)
	if err != nil {
		return nil, err
	}
	return &RegistryTransition{Before: *before, After: *after}, nil
}

// StateRoot returns the state root the registry holds for an instance.
func (r *RegistryTree) StateRoot(id types.StateID) (types.HexBytes, error) {
	r.treeMu.Lock()
	defer r.treeMu.Unlock()
	_, value, err := r.tree.Get(registryKey(id))
	if errors.Is(err, arbo.ErrKeyNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	root := make([]byte, types.HashLen)
	arbo.BytesToBigInt(value).FillBytes(root)
	return root, nil
}

// Root returns the current registry tree root.
func (r *RegistryTree) Root() (types.HexBytes, error) {
	r.treeMu.Lock()
	defer r.treeMu.Unlock()
	return r.tree.Root()
}

// Size returns the number of registered instances.
func (r *RegistryTree) Size() int {
	r.treeMu.Lock()
	defer r.treeMu.Unlock()
	size, err := r.tree.GetNLeafs()
	if err != nil {
		return 0
	}
	return size
}

// GenProof generates a membership (or non membership) proof for an instance.
func (r *RegistryTree) GenProof(id types.StateID) (*types.RegistryProof, error) {
	r.treeMu.Lock()
	defer r.treeMu.Unlock()
	return r.proof(registryKey(id))
}

// proof builds the registry proof of a key against the current root. The
// caller must hold treeMu.
func (r *RegistryTree) proof(key []byte) (*types.RegistryProof, error) {
	root, err := r.tree.Root()
	if err != nil {
		return nil, err
	}
	nLeafs, err := r.tree.GetNLeafs()
	if err != nil {
		return nil, err
	}
	if nLeafs == 0 {
		// exclusion proof on an empty tree carries no siblings
		return &types.RegistryProof{Root: root, Existence: false}, nil
	}
	leafK, leafV, packedSiblings, existence, err := r.tree.GenProof(key)
	if err != nil {
		return nil, err
	}
	return &types.RegistryProof{
		Root:      root,
		Key:       leafK,
		Value:     leafV,
		Siblings:  packedSiblings,
		Existence: existence,
	}, nil
}

// VerifyRegistryProof checks a registry proof against the root it embeds.
func VerifyRegistryProof(p *types.RegistryProof) bool {
	valid, err := arbo.CheckProof(registryHashFunc, p.Key, p.Value, p.Root, p.Siblings)
	if err != nil {
		return false
	}
	return valid
}

// RegistryHashFunction exposes the tree hash function for circuit-side
// sibling unpacking.
func RegistryHashFunction() arbo.HashFunction {
	return registryHashFunc
}
