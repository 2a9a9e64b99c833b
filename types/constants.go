package types

const (
	// RegistryMaxLevels is the maximum number of levels in the global
	// instance registry tree. Keys are full 32 byte instance identifiers.
	RegistryMaxLevels = 256
	// SpendTreeDepth is the depth of the per-instance nullifier
	// accumulator.
	SpendTreeDepth = 32
	// MaxTreeDepth is the maximum depth of an accumulator cell (the cell
	// holds up to 2^depth leaves).
	MaxTreeDepth = 32
	// DefaultTreeDepth is the depth used when a schema does not set one.
	DefaultTreeDepth = 16
	// MaxCells is the maximum number of cells a schema may declare.
	MaxCells = 128
	// MaxCellNameLen is the maximum length of a cell name in bytes.
	MaxCellNameLen = 64
	// HashLen is the byte length of all engine digests.
	HashLen = 32
)
