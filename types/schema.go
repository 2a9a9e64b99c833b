package types

import (
	"fmt"
	"regexp"
)

// CellKind identifies the container type of a ledger cell.
type CellKind string

const (
	CellCounter  CellKind = "counter"
	CellSet      CellKind = "set"
	CellMap      CellKind = "map"
	CellList     CellKind = "list"
	CellMerkle   CellKind = "merkle"
	CellHistoric CellKind = "historic"
)

// IsTree reports whether the kind is backed by an accumulator.
func (k CellKind) IsTree() bool {
	return k == CellMerkle || k == CellHistoric
}

// Valid reports whether k names a known cell kind.
func (k CellKind) Valid() bool {
	switch k {
	case CellCounter, CellSet, CellMap, CellList, CellMerkle, CellHistoric:
		return true
	}
	return false
}

// CellSpec declares one named cell of a contract state schema.
type CellSpec struct {
	Name string   `json:"name"            cbor:"0,keyasint"`
	Kind CellKind `json:"kind"            cbor:"1,keyasint"`
	// Depth applies to merkle and historic cells only.
	Depth int `json:"depth,omitempty" cbor:"2,keyasint,omitempty"`
}

// Schema declares the rules of a contract instance: the full set of ledger
// cells it owns. The nullifier spend set is engine provided and is not part
// of the schema.
type Schema struct {
	Cells []CellSpec `json:"cells" cbor:"0,keyasint"`
}

// Cell names become database key components, so the charset is restricted.
var cellNameRx = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks cell names, kinds and tree depths.
func (s *Schema) Validate() error {
	if len(s.Cells) == 0 {
		return fmt.Errorf("schema declares no cells")
	}
	if len(s.Cells) > MaxCells {
		return fmt.Errorf("schema declares %d cells, maximum is %d", len(s.Cells), MaxCells)
	}
	seen := make(map[string]bool, len(s.Cells))
	for _, cell := range s.Cells {
		if cell.Name == "" || len(cell.Name) > MaxCellNameLen || !cellNameRx.MatchString(cell.Name) {
			return fmt.Errorf("invalid cell name %q", cell.Name)
		}
		if seen[cell.Name] {
			return fmt.Errorf("duplicated cell name %q", cell.Name)
		}
		seen[cell.Name] = true
		if !cell.Kind.Valid() {
			return fmt.Errorf("cell %q: unknown kind %q", cell.Name, cell.Kind)
		}
		if cell.Kind.IsTree() {
			if cell.Depth < 1 || cell.Depth > MaxTreeDepth {
				return fmt.Errorf("cell %q: tree depth %d out of range [1,%d]",
					cell.Name, cell.Depth, MaxTreeDepth)
			}
		} else if cell.Depth != 0 {
			return fmt.Errorf("cell %q: depth is only valid for tree cells", cell.Name)
		}
	}
	return nil
}

// Cell returns the spec of the named cell, if declared.
func (s *Schema) Cell(name string) (CellSpec, bool) {
	for _, cell := range s.Cells {
		if cell.Name == name {
			return cell, true
		}
	}
	return CellSpec{}, false
}
