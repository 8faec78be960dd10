package allocator

import "sort"

// InvalidAddress is returned when no gap can hold a request.
const InvalidAddress int64 = -1

type gap struct {
	begin int64
	size  int64
}

// Partitioner hands out address ranges of a fixed-size pool, first fit from the bottom.
type Partitioner struct {
	total int64
	gaps  []gap // Sorted by begin, never adjacent
}

// NewPartitioner creates a partitioner with a single free gap covering the pool.
func NewPartitioner(total int64) *Partitioner {
	p := &Partitioner{total: total}
	if total > 0 {
		p.gaps = []gap{{begin: 0, size: total}}
	}
	return p
}

// Alloc reserves size bytes aligned to alignment and returns the address,
// or InvalidAddress if no gap fits.
func (p *Partitioner) Alloc(size, alignment int64) int64 {
	if alignment <= 0 {
		alignment = 1
	}
	for i, g := range p.gaps {
		addr := alignUp(g.begin, alignment)
		pad := addr - g.begin
		if pad+size > g.size {
			continue
		}
		p.carve(i, addr, size)
		return addr
	}
	return InvalidAddress
}

// AllocFixed reserves an exact range. Returns false if it is not entirely free.
func (p *Partitioner) AllocFixed(addr, size int64) bool {
	for i, g := range p.gaps {
		if addr >= g.begin && addr+size <= g.begin+g.size {
			p.carve(i, addr, size)
			return true
		}
	}
	return false
}

// Free returns a range to the pool, merging it with neighbouring gaps.
func (p *Partitioner) Free(addr, size int64) {
	if size <= 0 {
		return
	}
	p.gaps = append(p.gaps, gap{begin: addr, size: size})
	sort.Slice(p.gaps, func(i, j int) bool { return p.gaps[i].begin < p.gaps[j].begin })

	merged := p.gaps[:1]
	for _, g := range p.gaps[1:] {
		last := &merged[len(merged)-1]
		if last.begin+last.size == g.begin {
			last.size += g.size
			continue
		}
		merged = append(merged, g)
	}
	p.gaps = merged
}

// TotalSize returns the pool size.
func (p *Partitioner) TotalSize() int64 { return p.total }

// TotalFreeSize returns the sum of all gaps.
func (p *Partitioner) TotalFreeSize() int64 {
	var free int64
	for _, g := range p.gaps {
		free += g.size
	}
	return free
}

// MaxFreeSize returns the largest single gap.
func (p *Partitioner) MaxFreeSize() int64 {
	var largest int64
	for _, g := range p.gaps {
		if g.size > largest {
			largest = g.size
		}
	}
	return largest
}

// NumGaps returns the number of disjoint free ranges.
func (p *Partitioner) NumGaps() int { return len(p.gaps) }

// carve removes [addr, addr+size) from gap i, splitting it when needed.
func (p *Partitioner) carve(i int, addr, size int64) {
	g := p.gaps[i]
	var pieces []gap
	if addr > g.begin {
		pieces = append(pieces, gap{begin: g.begin, size: addr - g.begin})
	}
	if end, gEnd := addr+size, g.begin+g.size; end < gEnd {
		pieces = append(pieces, gap{begin: end, size: gEnd - end})
	}
	rest := append(pieces, p.gaps[i+1:]...)
	p.gaps = append(p.gaps[:i], rest...)
}

func alignUp(v, alignment int64) int64 {
	if r := v % alignment; r != 0 {
		return v + alignment - r
	}
	return v
}
