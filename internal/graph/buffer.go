package graph

import "strings"

// BufferID indexes a buffer inside a DAG.
type BufferID int

// NoBuffer marks the absence of a buffer.
const NoBuffer BufferID = -1

// MemSpace tags the memory a buffer lives in.
type MemSpace string

const (
	MemDDR MemSpace = "DDR" // Slow off-chip memory
	MemCMX MemSpace = "CMX" // Fast on-chip scratch memory
)

// ParseMemSpace normalizes a memory space name. Empty means DDR.
func ParseMemSpace(s string) MemSpace {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return MemDDR
	}
	return MemSpace(s)
}

// Buffer is a memory region. Aliases share their root's storage.
type Buffer struct {
	ID      BufferID
	Name    string
	Size    int64
	Space   MemSpace
	AliasOf BufferID // NoBuffer for root allocations
}

// BufferInfo is the root-resolved view of a buffer handed to schedulers.
type BufferInfo struct {
	ID    BufferID
	Size  int64
	Space MemSpace
}
