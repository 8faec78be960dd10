package memsched

import (
	"fmt"

	"github.com/aristath/npusched/internal/graph"
)

// OpKind distinguishes original tasks from the implicit spill transfers the scheduler inserts.
type OpKind int

const (
	OpOriginal   OpKind = iota // Task from the graph
	OpSpillWrite               // Evicts a buffer to slow memory
	OpSpillRead                // Brings an evicted buffer back
)

func (k OpKind) String() string {
	switch k {
	case OpOriginal:
		return "ORIGINAL"
	case OpSpillWrite:
		return "SPILL_WRITE"
	case OpSpillRead:
		return "SPILL_READ"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// OpState tracks the output of a scheduled task.
type OpState int

const (
	StateActive OpState = iota
	StateSpilled
	StateConsumed
)

func (s OpState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateSpilled:
		return "SPILLED"
	case StateConsumed:
		return "CONSUMED"
	}
	return fmt.Sprintf("OpState(%d)", int(s))
}

// OpOutputInfo is the per-scheduled-task output record.
type OpOutputInfo struct {
	State                OpState
	OutstandingConsumers int
	SpillIndices         map[int]struct{} // Output indices currently spilled
}

func (o *OpOutputInfo) decrementConsumers() {
	if o.OutstandingConsumers > 0 {
		o.OutstandingConsumers--
	}
}

func (o *OpOutputInfo) incrementConsumers() {
	o.OutstandingConsumers++
}

// Interval is the address range a buffer occupies while a task runs.
type Interval struct {
	Begin  int64
	End    int64
	Buffer graph.BufferID
}

// Size returns End - Begin.
func (i Interval) Size() int64 { return i.End - i.Begin }

// ScheduledOp is one entry of the generated schedule.
type ScheduledOp struct {
	Task      graph.TaskID
	Time      int
	Kind      OpKind
	IsDataOp  bool
	Intervals []Interval
}

// Schedule is the ordered, time-stamped result of a scheduling run.
type Schedule struct {
	Ops []ScheduledOp
}

// Makespan returns the start time of the last scheduled op.
func (s *Schedule) Makespan() int {
	if len(s.Ops) == 0 {
		return 0
	}
	return s.Ops[len(s.Ops)-1].Time
}

// Spills returns the number of spill writes in the schedule.
func (s *Schedule) Spills() int {
	n := 0
	for _, op := range s.Ops {
		if op.Kind == OpSpillWrite {
			n++
		}
	}
	return n
}

// Originals returns the original tasks in schedule order.
func (s *Schedule) Originals() []graph.TaskID {
	out := make([]graph.TaskID, 0, len(s.Ops))
	for _, op := range s.Ops {
		if op.Kind == OpOriginal {
			out = append(out, op.Task)
		}
	}
	return out
}

// StepResult tags what a single Step did.
type StepResult int

const (
	StepStarted     StepResult = iota // Ready lists were built
	StepScheduled                     // An op was popped from the start-time heap
	StepUnscheduled                   // Completed ops were retired and new ops queued
	StepEvicted                       // A buffer was forcibly spilled
	StepDone                          // Every output task is scheduled
)

func (r StepResult) String() string {
	switch r {
	case StepStarted:
		return "started"
	case StepScheduled:
		return "scheduled"
	case StepUnscheduled:
		return "unscheduled"
	case StepEvicted:
		return "evicted"
	case StepDone:
		return "done"
	}
	return fmt.Sprintf("StepResult(%d)", int(r))
}

// EvictionCandidate is built on demand while choosing what to spill.
type EvictionCandidate struct {
	Priority    int
	Size        int64
	Writer      graph.TaskID
	OutputIndex int
	Buffer      graph.BufferID
	recency     int
}
