package types

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// BigInt is a big.Int wrapper which marshals JSON to a string representation
// of the big number. It is always a non-negative value (the engine works over
// field elements and digests).
type BigInt big.Int

// MathBigInt converts b to a native big.Int.
func (i *BigInt) MathBigInt() *big.Int {
	return (*big.Int)(i)
}

func (i *BigInt) String() string {
	return i.MathBigInt().String()
}

// SetBytes interprets buf as big-endian unsigned integer and stores it in i.
func (i *BigInt) SetBytes(buf []byte) *BigInt {
	i.MathBigInt().SetBytes(buf)
	return i
}

// Bytes returns the big-endian encoding of i.
func (i *BigInt) Bytes() []byte {
	return i.MathBigInt().Bytes()
}

// Equal reports whether i and j are equal numbers. A nil BigInt equals only
// another nil BigInt.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return i == j
	}
	return i.MathBigInt().Cmp(j.MathBigInt()) == 0
}

func (i *BigInt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + i.String() + `"`), nil
}

func (i *BigInt) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	if _, ok := i.MathBigInt().SetString(str, 10); !ok {
		return fmt.Errorf("invalid BigInt string: %q", str)
	}
	return nil
}

// MarshalCBOR encodes i as its big-endian byte representation.
func (i *BigInt) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(i.Bytes())
}

// UnmarshalCBOR decodes a big-endian byte representation into i.
func (i *BigInt) UnmarshalCBOR(data []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(data, &buf); err != nil {
		return err
	}
	i.SetBytes(buf)
	return nil
}
