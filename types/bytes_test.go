package types

import (
	"encoding/json"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHexBytesMarshalUnmarshalJSON(t *testing.T) {
	c := qt.New(t)
	b := HexBytes{0xde, 0xad, 0xbe, 0xef}
	data, err := json.Marshal(b)
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, `"0xdeadbeef"`)

	var back HexBytes
	c.Assert(json.Unmarshal(data, &back), qt.IsNil)
	c.Assert(back, qt.DeepEquals, b)

	// the 0x prefix is optional on input
	var noPrefix HexBytes
	c.Assert(json.Unmarshal([]byte(`"deadbeef"`), &noPrefix), qt.IsNil)
	c.Assert(noPrefix, qt.DeepEquals, b)
}

func TestHexBytesFromString(t *testing.T) {
	c := qt.New(t)
	var b HexBytes
	c.Assert(b.FromString("0x000102"), qt.IsNil)
	c.Assert(b, qt.DeepEquals, HexBytes{0x00, 0x01, 0x02})
	c.Assert(b.FromString("zz"), qt.IsNotNil)
}

func TestHexBytesBigInt(t *testing.T) {
	c := qt.New(t)
	b := HexBytes{0x01, 0x00}
	c.Assert(b.BigInt().Cmp(big.NewInt(256)), qt.Equals, 0)
}
