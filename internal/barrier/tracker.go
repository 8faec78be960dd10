package barrier

// Range is a [Start, Start+Len) window into the tracker's flat ID array.
type Range struct {
	Start int
	Len   int
}

// Dependency is the wait (consumer) and update (producer) barrier ranges of one task.
type Dependency struct {
	Consumer Range
	Producer Range
}

// VirtualDependencyTracker stores the wait/update barrier lists of every task in one
// flat array. Entry 0 is the empty dependency shared by all tasks without barriers.
// It is append-only while a stream is parsed and read-only during simulation.
type VirtualDependencyTracker struct {
	ids  []int
	deps []Dependency
}

// NewVirtualDependencyTracker creates a tracker holding only the empty dependency.
func NewVirtualDependencyTracker() *VirtualDependencyTracker {
	return &VirtualDependencyTracker{deps: []Dependency{{}}}
}

// Add records a task's waits and updates and returns its dependency index.
func (t *VirtualDependencyTracker) Add(waits, updates []int) int {
	if len(waits) == 0 && len(updates) == 0 {
		return 0
	}
	d := Dependency{
		Consumer: Range{Start: len(t.ids), Len: len(waits)},
	}
	t.ids = append(t.ids, waits...)
	d.Producer = Range{Start: len(t.ids), Len: len(updates)}
	t.ids = append(t.ids, updates...)
	t.deps = append(t.deps, d)
	return len(t.deps) - 1
}

// Clone duplicates dependency i and returns the index of the copy.
func (t *VirtualDependencyTracker) Clone(i int) int {
	t.deps = append(t.deps, t.deps[i])
	return len(t.deps) - 1
}

// Dep returns dependency i.
func (t *VirtualDependencyTracker) Dep(i int) Dependency { return t.deps[i] }

// Waits returns the virtual barriers a dependency waits on.
func (t *VirtualDependencyTracker) Waits(d Dependency) []int {
	return t.ids[d.Consumer.Start : d.Consumer.Start+d.Consumer.Len]
}

// Updates returns the virtual barriers a dependency updates.
func (t *VirtualDependencyTracker) Updates(d Dependency) []int {
	return t.ids[d.Producer.Start : d.Producer.Start+d.Producer.Len]
}
