package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

var (
	// ErrCycle is returned by Validate when the task graph is not acyclic.
	ErrCycle = errors.New("dependency graph contains cycle")
	// ErrUnknownTask is returned when a dependency refers to a missing task.
	ErrUnknownTask = errors.New("unknown task")
	// ErrUnknownBuffer is returned when a task refers to a missing buffer.
	ErrUnknownBuffer = errors.New("unknown buffer")
)

// DAG represents a directed acyclic graph of tasks and the buffers they touch.
// It is built once and then queried read-only by the schedulers.
type DAG struct {
	Name string

	mu           sync.RWMutex
	tasks        []*Task
	taskByName   map[string]TaskID
	dependents   map[TaskID][]TaskID // Maps taskID -> tasks that depend on it
	buffers      []*Buffer
	bufferByName map[string]BufferID
	roots        []BufferID // Owner index: buffer -> canonical root allocation
}

// NewDAG creates an empty DAG.
func NewDAG(name string) *DAG {
	return &DAG{
		Name:         name,
		taskByName:   make(map[string]TaskID),
		dependents:   make(map[TaskID][]TaskID),
		bufferByName: make(map[string]BufferID),
	}
}

// AddBuffer registers a root allocation and returns its ID.
func (d *DAG) AddBuffer(name string, size int64, space MemSpace) (BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.bufferByName[name]; exists {
		return NoBuffer, fmt.Errorf("buffer with name %q already exists", name)
	}
	if size <= 0 {
		return NoBuffer, fmt.Errorf("buffer %q has non-positive size %d", name, size)
	}

	id := BufferID(len(d.buffers))
	d.buffers = append(d.buffers, &Buffer{ID: id, Name: name, Size: size, Space: space, AliasOf: NoBuffer})
	d.roots = append(d.roots, id)
	d.bufferByName[name] = id
	return id, nil
}

// AddAlias registers a view of an existing buffer. Size and memory space are inherited
// from the root so that alive/dead tracking always happens on the root.
func (d *DAG) AddAlias(name string, of BufferID) (BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.bufferByName[name]; exists {
		return NoBuffer, fmt.Errorf("buffer with name %q already exists", name)
	}
	if of < 0 || int(of) >= len(d.buffers) {
		return NoBuffer, fmt.Errorf("alias %q of buffer %d: %w", name, of, ErrUnknownBuffer)
	}

	root := d.roots[of]
	rb := d.buffers[root]
	id := BufferID(len(d.buffers))
	d.buffers = append(d.buffers, &Buffer{ID: id, Name: name, Size: rb.Size, Space: rb.Space, AliasOf: of})
	d.roots = append(d.roots, root)
	d.bufferByName[name] = id
	return id, nil
}

// AddTask adds a task to the DAG and assigns its ID. Dependencies may refer to tasks
// added later; Validate checks that they exist.
func (d *DAG) AddTask(task *Task) (TaskID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.taskByName[task.Name]; exists {
		return 0, fmt.Errorf("task with name %q already exists", task.Name)
	}

	t := cloneTask(task)
	t.ID = TaskID(len(d.tasks))
	t.DependsOn = uniqueTasks(t.DependsOn)
	if t.Variants <= 0 {
		t.Variants = 1
	}

	d.tasks = append(d.tasks, t)
	d.taskByName[t.Name] = t.ID

	// Build dependents map for efficient downstream lookup
	for _, depID := range t.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], t.ID)
	}

	return t.ID, nil
}

// Validate checks buffer and task references and runs a topological sort.
// Returns the task IDs in dependency order or an error if a cycle is detected.
func (d *DAG) Validate() ([]TaskID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, task := range d.tasks {
		for _, depID := range task.DependsOn {
			if depID < 0 || int(depID) >= len(d.tasks) {
				return nil, fmt.Errorf("task %q depends on %d: %w", task.Name, depID, ErrUnknownTask)
			}
		}
		for _, b := range append(append([]BufferID(nil), task.Reads...), task.Writes...) {
			if b < 0 || int(b) >= len(d.buffers) {
				return nil, fmt.Errorf("task %q uses buffer %d: %w", task.Name, b, ErrUnknownBuffer)
			}
		}
	}

	// Build edges for topological sort
	var edges []toposort.Edge
	for _, task := range d.tasks {
		if len(task.DependsOn) == 0 {
			// Task with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, task.ID})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, task.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]TaskID, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(TaskID))
		}
	}

	// Tasks on a cycle with no entry point never show up in the sorted result
	if len(order) != len(d.tasks) {
		found := make(map[TaskID]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		missing := []string{}
		for _, task := range d.tasks {
			if !found[task.ID] {
				missing = append(missing, task.Name)
			}
		}
		return nil, fmt.Errorf("%w: unreachable tasks %s", ErrCycle, strings.Join(missing, ", "))
	}

	return order, nil
}

// NumTasks returns the number of tasks.
func (d *DAG) NumTasks() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tasks)
}

// NumBuffers returns the number of buffers, aliases included.
func (d *DAG) NumBuffers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.buffers)
}

// Task returns a copy of the task with the given ID.
func (d *DAG) Task(id TaskID) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	t := d.task(id)
	if t == nil {
		return nil, false
	}
	return cloneTask(t), true
}

// TaskByName looks a task up by name.
func (d *DAG) TaskByName(name string) (TaskID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.taskByName[name]
	return id, ok
}

// BufferByName looks a buffer up by name.
func (d *DAG) BufferByName(name string) (BufferID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.bufferByName[name]
	return id, ok
}

// TaskName returns the task name or a placeholder for unknown IDs.
func (d *DAG) TaskName(id TaskID) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.task(id); t != nil {
		return t.Name
	}
	return fmt.Sprintf("task#%d", id)
}

// BufferName returns the buffer name or a placeholder for unknown IDs.
func (d *DAG) BufferName(id BufferID) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id >= 0 && int(id) < len(d.buffers) {
		return d.buffers[id].Name
	}
	return fmt.Sprintf("buffer#%d", id)
}

// Deps returns the tasks the given task depends on.
func (d *DAG) Deps(id TaskID) []TaskID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.task(id); t != nil {
		return append([]TaskID(nil), t.DependsOn...)
	}
	return nil
}

// Consumers returns the tasks depending on the given task, in ID order.
func (d *DAG) Consumers(id TaskID) []TaskID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := append([]TaskID(nil), d.dependents[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InDegree returns the number of dependencies of a task.
func (d *DAG) InDegree(id TaskID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.task(id); t != nil {
		return len(t.DependsOn)
	}
	return 0
}

// OutDegree returns the number of tasks depending on a task.
func (d *DAG) OutDegree(id TaskID) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.dependents[id])
}

// IsOutput reports whether nothing depends on the task.
func (d *DAG) IsOutput(id TaskID) bool {
	return d.OutDegree(id) == 0
}

// ExecutorKind returns the executor of a task.
func (d *DAG) ExecutorKind(id TaskID) ExecutorKind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.task(id); t != nil {
		return t.Executor
	}
	return ExecutorCompute
}

// CopyKind returns the copy direction of a task.
func (d *DAG) CopyKind(id TaskID) CopyKind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.task(id); t != nil {
		return t.Copy
	}
	return CopyNone
}

// IsTimestamp reports whether the task is a profiling timestamp.
func (d *DAG) IsTimestamp(id TaskID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t := d.task(id)
	return t != nil && t.Timestamp
}

// ReadsGraphInput reports whether the task reads a graph input.
func (d *DAG) ReadsGraphInput(id TaskID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t := d.task(id)
	return t != nil && t.GraphInput
}

// Root resolves a buffer to its canonical root allocation.
func (d *DAG) Root(id BufferID) BufferID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id < 0 || int(id) >= len(d.roots) {
		return NoBuffer
	}
	return d.roots[id]
}

// Buffer returns the root-resolved info for a buffer.
func (d *DAG) Buffer(id BufferID) (BufferInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id < 0 || int(id) >= len(d.roots) {
		return BufferInfo{ID: NoBuffer}, false
	}
	root := d.buffers[d.roots[id]]
	return BufferInfo{ID: root.ID, Size: root.Size, Space: root.Space}, true
}

// BuffersConsumed returns the root buffers read by a task, deduplicated and sorted.
func (d *DAG) BuffersConsumed(id TaskID) []BufferInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.task(id); t != nil {
		return d.resolve(t.Reads)
	}
	return nil
}

// BuffersProduced returns the root buffers written by a task, deduplicated and sorted.
func (d *DAG) BuffersProduced(id TaskID) []BufferInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.task(id); t != nil {
		return d.resolve(t.Writes)
	}
	return nil
}

// BuffersUsed returns every root buffer a task reads or writes.
func (d *DAG) BuffersUsed(id TaskID) []BufferInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.task(id); t != nil {
		all := append(append([]BufferID(nil), t.Reads...), t.Writes...)
		return d.resolve(all)
	}
	return nil
}

func (d *DAG) task(id TaskID) *Task {
	if id < 0 || int(id) >= len(d.tasks) {
		return nil
	}
	return d.tasks[id]
}

func (d *DAG) resolve(ids []BufferID) []BufferInfo {
	seen := make(map[BufferID]bool, len(ids))
	out := make([]BufferInfo, 0, len(ids))
	for _, id := range ids {
		if id < 0 || int(id) >= len(d.roots) {
			continue
		}
		root := d.roots[id]
		if seen[root] {
			continue
		}
		seen[root] = true
		b := d.buffers[root]
		out = append(out, BufferInfo{ID: b.ID, Size: b.Size, Space: b.Space})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func uniqueTasks(ids []TaskID) []TaskID {
	if len(ids) == 0 {
		return ids
	}
	seen := make(map[TaskID]bool, len(ids))
	out := make([]TaskID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
