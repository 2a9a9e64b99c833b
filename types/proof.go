package types

// AccumulatorProof is the struct to represent a membership proof for a
// position-indexed accumulator cell. The direction bits of the path are the
// little-endian bits of Index.
type AccumulatorProof struct {
	Root     HexBytes   `json:"root"`
	Leaf     HexBytes   `json:"leaf"`
	Index    uint64     `json:"index"`
	Siblings []HexBytes `json:"siblings"`
}

// RegistryProof holds a membership (or non membership) proof of an instance
// in the global registry tree, with the siblings packed in arbo format.
type RegistryProof struct {
	Root      HexBytes `json:"root"      cbor:"0,keyasint"`
	Key       HexBytes `json:"key"       cbor:"1,keyasint"`
	Value     HexBytes `json:"value"     cbor:"2,keyasint"`
	Siblings  HexBytes `json:"siblings"  cbor:"3,keyasint"`
	Existence bool     `json:"existence" cbor:"4,keyasint"`
}
