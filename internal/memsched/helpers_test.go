package memsched

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/aristath/npusched/internal/allocator"
	"github.com/aristath/npusched/internal/graph"
)

type builder struct {
	t    *testing.T
	d    *graph.DAG
	bufs map[string]graph.BufferID
	ids  map[string]graph.TaskID
}

func newBuilder(t *testing.T) *builder {
	t.Helper()
	return &builder{
		t:    t,
		d:    graph.NewDAG(t.Name()),
		bufs: make(map[string]graph.BufferID),
		ids:  make(map[string]graph.TaskID),
	}
}

func (b *builder) cmx(name string, size int64) *builder {
	return b.buffer(name, size, graph.MemCMX)
}

func (b *builder) ddr(name string, size int64) *builder {
	return b.buffer(name, size, graph.MemDDR)
}

func (b *builder) buffer(name string, size int64, space graph.MemSpace) *builder {
	b.t.Helper()
	id, err := b.d.AddBuffer(name, size, space)
	require.NoError(b.t, err)
	b.bufs[name] = id
	return b
}

type taskOpt func(*graph.Task)

func names(n ...string) []string { return n }

func timestamp(t *graph.Task) { t.Timestamp = true }

func graphInput(t *graph.Task) { t.GraphInput = true }

func (b *builder) task(name string, exec graph.ExecutorKind, cp graph.CopyKind, dependsOn, reads, writes []string, opts ...taskOpt) *builder {
	b.t.Helper()
	task := &graph.Task{Name: name, Executor: exec, Copy: cp}
	for _, dep := range dependsOn {
		id, ok := b.ids[dep]
		require.True(b.t, ok, "unknown dependency %q", dep)
		task.DependsOn = append(task.DependsOn, id)
	}
	for _, r := range reads {
		task.Reads = append(task.Reads, b.bufs[r])
	}
	for _, w := range writes {
		task.Writes = append(task.Writes, b.bufs[w])
	}
	for _, opt := range opts {
		opt(task)
	}
	id, err := b.d.AddTask(task)
	require.NoError(b.t, err)
	b.ids[name] = id
	return b
}

func (b *builder) compute(name string, dependsOn, reads, writes []string) *builder {
	return b.task(name, graph.ExecutorCompute, graph.CopyNone, dependsOn, reads, writes)
}

func (b *builder) prefetch(name string, dependsOn, reads, writes []string) *builder {
	return b.task(name, graph.ExecutorDataMover, graph.CopyIn, dependsOn, reads, writes)
}

func (b *builder) copyOut(name string, dependsOn, reads, writes []string) *builder {
	return b.task(name, graph.ExecutorDataMover, graph.CopyOut, dependsOn, reads, writes)
}

func (b *builder) build() *graph.DAG {
	b.t.Helper()
	_, err := b.d.Validate()
	require.NoError(b.t, err)
	return b.d
}

func (b *builder) id(name string) graph.TaskID {
	b.t.Helper()
	id, ok := b.ids[name]
	require.True(b.t, ok, "unknown task %q", name)
	return id
}

// checkedAllocator fails the test if alive buffers ever exceed the pool.
type checkedAllocator struct {
	*allocator.LinearScan
	t     *testing.T
	total int64
}

func (c *checkedAllocator) Alloc(bufs []graph.BufferInfo, allowSpills bool) bool {
	ok := c.LinearScan.Alloc(bufs, allowSpills)
	if ok {
		var used int64
		for _, id := range c.AliveValues() {
			used += c.Size(id)
			addr := c.Address(id)
			require.GreaterOrEqual(c.t, addr, int64(0), "buffer %d has no address", id)
			require.LessOrEqual(c.t, addr+c.Size(id), c.total, "buffer %d overruns the pool", id)
		}
		require.LessOrEqual(c.t, used, c.total, "alive buffers exceed the pool")
	}
	return ok
}

func newChecked(t *testing.T, size int64) *checkedAllocator {
	return &checkedAllocator{LinearScan: allocator.NewLinearScan(size, 1), t: t, total: size}
}

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

type entry struct {
	task string
	kind OpKind
	time int
}

func describe(b *builder, s *Schedule) []entry {
	names := make(map[graph.TaskID]string, len(b.ids))
	for name, id := range b.ids {
		names[id] = name
	}
	out := make([]entry, 0, len(s.Ops))
	for _, op := range s.Ops {
		out = append(out, entry{task: names[op.Task], kind: op.Kind, time: op.Time})
	}
	return out
}
