package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// StateID is the type to identify a contract state instance. It is composed of:
// - ChainID (4 bytes)
// - Address (20 bytes)
// - Nonce (8 bytes)
type StateID struct {
	Address common.Address
	Nonce   uint64
	ChainID uint32
}

// Marshal encodes StateID to bytes:
func (s *StateID) Marshal() []byte {
	chainID := make([]byte, 4)
	binary.BigEndian.PutUint32(chainID, s.ChainID)

	nonce := make([]byte, 8)
	binary.BigEndian.PutUint64(nonce, s.Nonce)

	var id bytes.Buffer
	id.Write(chainID[:4])
	id.Write(s.Address.Bytes()[:20])
	id.Write(nonce[:8])
	return id.Bytes()
}

// Unmarshal decodes bytes to StateID.
func (s *StateID) Unmarshal(data []byte) error {
	if len(data) != 32 {
		return fmt.Errorf("invalid StateID length: %d", len(data))
	}
	s.ChainID = binary.BigEndian.Uint32(data[:4])
	s.Address = common.BytesToAddress(data[4:24])
	s.Nonce = binary.BigEndian.Uint64(data[24:32])
	return nil
}

// MarshalBinary implements the BinaryMarshaler interface
func (s *StateID) MarshalBinary() (data []byte, err error) {
	return s.Marshal(), nil
}

// UnmarshalBinary implements the BinaryUnmarshaler interface
func (s *StateID) UnmarshalBinary(data []byte) error {
	return s.Unmarshal(data)
}

// String returns a human readable representation of a state ID
func (s *StateID) String() string {
	return hex.EncodeToString(s.Marshal())
}

// Field reduces the state ID to a BN254 scalar field element. It is the
// canonical form of the identifier inside hashes, the registry tree and
// circuit inputs.
func (s *StateID) Field() *big.Int {
	h := new(big.Int).SetBytes(ethcrypto.Keccak256(s.Marshal()))
	return h.Mod(h, fr.Modulus())
}
