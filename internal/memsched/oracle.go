package memsched

import (
	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
)

// DependencyOracle is the read-only view of the task graph the scheduler consumes.
// Buffers are reported by their canonical root. *graph.DAG implements it.
type DependencyOracle interface {
	NumTasks() int
	Deps(graph.TaskID) []graph.TaskID
	Consumers(graph.TaskID) []graph.TaskID
	InDegree(graph.TaskID) int
	OutDegree(graph.TaskID) int
	IsOutput(graph.TaskID) bool
	ExecutorKind(graph.TaskID) graph.ExecutorKind
	CopyKind(graph.TaskID) graph.CopyKind
	IsTimestamp(graph.TaskID) bool
	ReadsGraphInput(graph.TaskID) bool
	BuffersConsumed(graph.TaskID) []graph.BufferInfo
	BuffersProduced(graph.TaskID) []graph.BufferInfo
}

// ResourceAllocator owns the fast-memory pool. *allocator.LinearScan implements it.
type ResourceAllocator interface {
	CanAlloc(buffers []graph.BufferInfo) bool
	Alloc(buffers []graph.BufferInfo, allowSpills bool) bool
	MarkAlive(graph.BufferID)
	MarkDead(graph.BufferID)
	FreeNonAlive()
	IsAlive(graph.BufferID) bool
	Address(graph.BufferID) int64
	Size(graph.BufferID) int64
	AliveValues() []graph.BufferID
}

// Publisher receives scheduling events. *events.EventBus implements it.
type Publisher interface {
	Publish(topic string, event events.Event)
}
