package memsched

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/npusched/internal/graph"
)

var (
	// ErrAllocationRefused means the allocator rejected buffers that CanAlloc accepted.
	ErrAllocationRefused = errors.New("allocator refused a checked allocation")
	// ErrNothingToEvict means ready tasks cannot fit even after every buffer was spilled.
	ErrNothingToEvict = errors.New("no alive buffer left to evict")
	// ErrMalformedGraph means the dependency graph cannot be scheduled (cycle, dangling buffer).
	ErrMalformedGraph = errors.New("malformed dependency graph")
	// ErrStepLimit means the caller's iteration cap was exceeded.
	ErrStepLimit = errors.New("scheduler step limit exceeded")
	// ErrInternal marks a broken scheduler invariant.
	ErrInternal = errors.New("scheduler invariant violated")
)

// StallError carries the scheduler state at the point it could not make progress.
type StallError struct {
	Err            error
	Time           int
	ReadyData      []graph.TaskID
	ReadyCompute   []graph.TaskID
	ActiveCompute  []graph.TaskID
	PendingOutputs []graph.TaskID
	AliveBuffers   []graph.BufferID
	StartHeapLen   int
	CompletionLen  int
	ScheduledSoFar int
}

func (e *StallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v at time %d: ", e.Err, e.Time)
	fmt.Fprintf(&b, "ready compute %v, active compute %v, ready data %v, ", e.ReadyCompute, e.ActiveCompute, e.ReadyData)
	fmt.Fprintf(&b, "pending outputs %v, alive buffers %v, ", e.PendingOutputs, e.AliveBuffers)
	fmt.Fprintf(&b, "start heap %d, completion heap %d, scheduled %d", e.StartHeapLen, e.CompletionLen, e.ScheduledSoFar)
	return b.String()
}

func (e *StallError) Unwrap() error { return e.Err }

func internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}
