package allocator

import (
	"sort"

	"github.com/aristath/npusched/internal/graph"
)

// LinearScan is a bump-style allocator over one fixed-size pool. Buffers are marked
// alive by the caller; FreeNonAlive returns the memory of every buffer that is no
// longer alive. Addresses stay readable after a buffer is freed until it is
// allocated again, so spill records can still report where the data lived.
type LinearScan struct {
	par       *Partitioner
	alignment int64
	alive     map[graph.BufferID]bool
	live      map[graph.BufferID]int64 // Buffers currently holding memory -> size
	addrs     map[graph.BufferID]int64 // Last assigned address
	sizes     map[graph.BufferID]int64
	peak      int64
}

// NewLinearScan creates an allocator over a pool of size bytes.
func NewLinearScan(size, alignment int64) *LinearScan {
	if alignment <= 0 {
		alignment = 1
	}
	return &LinearScan{
		par:       NewPartitioner(size),
		alignment: alignment,
		alive:     make(map[graph.BufferID]bool),
		live:      make(map[graph.BufferID]int64),
		addrs:     make(map[graph.BufferID]int64),
		sizes:     make(map[graph.BufferID]int64),
	}
}

// CanAlloc reports whether every buffer could be placed at once. The pool is left untouched.
func (s *LinearScan) CanAlloc(buffers []graph.BufferInfo) bool {
	var temp [][2]int64
	ok := true
	for _, b := range buffers {
		if _, held := s.live[b.ID]; held {
			continue
		}
		addr := s.par.Alloc(b.Size, s.alignment)
		if addr == InvalidAddress {
			ok = false
			break
		}
		temp = append(temp, [2]int64{addr, b.Size})
	}
	for _, r := range temp {
		s.par.Free(r[0], r[1])
	}
	return ok
}

// Alloc places every buffer or none of them. With allowSpills, memory held by
// buffers that are no longer alive is reclaimed before giving up.
func (s *LinearScan) Alloc(buffers []graph.BufferInfo, allowSpills bool) bool {
	placed := make(map[graph.BufferID]int64, len(buffers))
	rollback := func() {
		for id, addr := range placed {
			s.par.Free(addr, s.sizes[id])
			delete(s.live, id)
		}
	}

	for _, b := range buffers {
		if _, held := s.live[b.ID]; held {
			continue
		}
		s.sizes[b.ID] = b.Size
		addr := s.par.Alloc(b.Size, s.alignment)
		if addr == InvalidAddress && allowSpills {
			s.freeNonAlive(placed)
			addr = s.par.Alloc(b.Size, s.alignment)
		}
		if addr == InvalidAddress {
			rollback()
			return false
		}
		placed[b.ID] = addr
		s.live[b.ID] = b.Size
	}

	for id, addr := range placed {
		s.addrs[id] = addr
	}
	if used := s.UsedSize(); used > s.peak {
		s.peak = used
	}
	return true
}

// MarkAlive flags a buffer as in use.
func (s *LinearScan) MarkAlive(id graph.BufferID) { s.alive[id] = true }

// MarkDead flags a buffer as released; its memory is reclaimed by FreeNonAlive.
func (s *LinearScan) MarkDead(id graph.BufferID) { delete(s.alive, id) }

// IsAlive reports whether the buffer is flagged alive.
func (s *LinearScan) IsAlive(id graph.BufferID) bool { return s.alive[id] }

// FreeNonAlive returns the memory of every allocated buffer that is not alive.
func (s *LinearScan) FreeNonAlive() {
	s.freeNonAlive(nil)
}

func (s *LinearScan) freeNonAlive(keep map[graph.BufferID]int64) {
	for id, size := range s.live {
		if _, pending := keep[id]; pending || s.alive[id] {
			continue
		}
		s.par.Free(s.addrs[id], size)
		delete(s.live, id)
	}
}

// Address returns the last address assigned to a buffer, or InvalidAddress.
func (s *LinearScan) Address(id graph.BufferID) int64 {
	if addr, ok := s.addrs[id]; ok {
		return addr
	}
	return InvalidAddress
}

// Size returns the size the buffer was allocated with.
func (s *LinearScan) Size(id graph.BufferID) int64 { return s.sizes[id] }

// AliveValues returns alive buffers in ID order.
func (s *LinearScan) AliveValues() []graph.BufferID {
	out := make([]graph.BufferID, 0, len(s.alive))
	for id := range s.alive {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UsedSize returns the bytes currently reserved in the pool.
func (s *LinearScan) UsedSize() int64 { return s.par.TotalSize() - s.par.TotalFreeSize() }

// PeakUsage returns the highest UsedSize observed after an allocation.
func (s *LinearScan) PeakUsage() int64 { return s.peak }

// TotalSize returns the pool capacity.
func (s *LinearScan) TotalSize() int64 { return s.par.TotalSize() }
