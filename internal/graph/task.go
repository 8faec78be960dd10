package graph

import (
	"fmt"
	"strings"
)

// TaskID indexes a task inside a DAG. IDs are dense and assigned in insertion order.
type TaskID int

// ExecutorKind identifies the hardware engine a task runs on.
type ExecutorKind int

const (
	ExecutorDataMover  ExecutorKind = iota // DMA engine, one queue per port
	ExecutorCompute                        // Main compute engine (NCE)
	ExecutorAuxCompute                     // Auxiliary compute engines (SHAVE)
)

func (k ExecutorKind) String() string {
	switch k {
	case ExecutorDataMover:
		return "dma"
	case ExecutorCompute:
		return "compute"
	case ExecutorAuxCompute:
		return "aux"
	}
	return fmt.Sprintf("executor(%d)", int(k))
}

// ParseExecutorKind converts a textual executor name into an ExecutorKind.
func ParseExecutorKind(s string) (ExecutorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dma", "datamover", "data-mover":
		return ExecutorDataMover, nil
	case "compute", "nce", "dpu":
		return ExecutorCompute, nil
	case "aux", "shave", "act", "upa":
		return ExecutorAuxCompute, nil
	}
	return 0, fmt.Errorf("unknown executor kind %q", s)
}

// CopyKind describes the direction of a copy task relative to fast memory.
type CopyKind int

const (
	CopyNone CopyKind = iota // Not a copy
	CopyIn                   // Slow memory -> fast memory
	CopyOut                  // Fast memory -> slow memory
)

func (c CopyKind) String() string {
	switch c {
	case CopyIn:
		return "in"
	case CopyOut:
		return "out"
	}
	return "none"
}

// ParseCopyKind converts "in", "out" or "" into a CopyKind.
func ParseCopyKind(s string) (CopyKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CopyNone, nil
	case "in":
		return CopyIn, nil
	case "out":
		return CopyOut, nil
	}
	return CopyNone, fmt.Errorf("unknown copy kind %q", s)
}

// Task represents a unit of work bound to one executor.
type Task struct {
	ID         TaskID       // Assigned by the DAG
	Name       string       // Human-readable unique name
	Executor   ExecutorKind // Engine that runs the task
	Port       int          // DMA port for data movers
	Variants   int          // Parallel sub-workloads for compute tasks (0 treated as 1)
	Copy       CopyKind     // Copy direction for DMA tasks
	Timestamp  bool         // Profiling timestamp task
	GraphInput bool         // Reads a graph input rather than a constant
	DependsOn  []TaskID     // Tasks this task depends on
	Reads      []BufferID   // Buffers consumed
	Writes     []BufferID   // Buffers produced
}

// Units returns the number of barrier producer/consumer units the task contributes.
func (t *Task) Units() int {
	if t.Executor == ExecutorCompute && t.Variants > 1 {
		return t.Variants
	}
	return 1
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]TaskID(nil), task.DependsOn...)
	}
	if task.Reads != nil {
		cp.Reads = append([]BufferID(nil), task.Reads...)
	}
	if task.Writes != nil {
		cp.Writes = append([]BufferID(nil), task.Writes...)
	}
	return &cp
}
