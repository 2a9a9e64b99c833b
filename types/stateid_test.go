package types

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

func TestStateIDMarshalUnmarshal(t *testing.T) {
	c := qt.New(t)
	id := StateID{
		Address: common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"),
		Nonce:   42,
		ChainID: 1,
	}
	data := id.Marshal()
	c.Assert(data, qt.HasLen, 32)

	var back StateID
	c.Assert(back.Unmarshal(data), qt.IsNil)
	c.Assert(back, qt.DeepEquals, id)

	c.Assert(back.Unmarshal(data[:31]), qt.IsNotNil)
}

func TestSchemaValidate(t *testing.T) {
	c := qt.New(t)

	valid := Schema{Cells: []CellSpec{
		{Name: "supply", Kind: CellCounter},
		{Name: "members", Kind: CellSet},
		{Name: "balances", Kind: CellMap},
		{Name: "history", Kind: CellList},
		{Name: "notes", Kind: CellHistoric, Depth: 8},
	}}
	c.Assert(valid.Validate(), qt.IsNil)

	cell, ok := valid.Cell("notes")
	c.Assert(ok, qt.IsTrue)
	c.Assert(cell.Kind, qt.Equals, CellHistoric)
	_, ok = valid.Cell("missing")
	c.Assert(ok, qt.IsFalse)

	dup := Schema{Cells: []CellSpec{
		{Name: "a", Kind: CellCounter},
		{Name: "a", Kind: CellSet},
	}}
	c.Assert(dup.Validate(), qt.IsNotNil)

	badDepth := Schema{Cells: []CellSpec{{Name: "t", Kind: CellMerkle, Depth: MaxTreeDepth + 1}}}
	c.Assert(badDepth.Validate(), qt.IsNotNil)

	depthOnScalar := Schema{Cells: []CellSpec{{Name: "n", Kind: CellCounter, Depth: 4}}}
	c.Assert(depthOnScalar.Validate(), qt.IsNotNil)

	badKind := Schema{Cells: []CellSpec{{Name: "x", Kind: CellKind("queue")}}}
	c.Assert(badKind.Validate(), qt.IsNotNil)
}
