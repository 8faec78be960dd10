package memsched

import (
	"container/heap"

	"github.com/aristath/npusched/internal/graph"
)

// HeapElement is an op waiting to start or to complete.
type HeapElement struct {
	Task        graph.TaskID
	Time        int
	Kind        OpKind
	SpillBuffer graph.BufferID
	seq         int
}

// timeHeap is a min-heap on time; equal times pop in insertion order.
type timeHeap []HeapElement

func (h timeHeap) Len() int { return len(h) }
func (h timeHeap) Less(i, j int) bool {
	if h[i].Time != h[j].Time {
		return h[i].Time < h[j].Time
	}
	return h[i].seq < h[j].seq
}
func (h timeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timeHeap) Push(x any) { *h = append(*h, x.(HeapElement)) }

func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	el := old[n-1]
	*h = old[:n-1]
	return el
}

type eventHeap struct {
	h   timeHeap
	seq int
}

func (e *eventHeap) push(el HeapElement) {
	e.seq++
	el.seq = e.seq
	heap.Push(&e.h, el)
}

func (e *eventHeap) pop() HeapElement {
	return heap.Pop(&e.h).(HeapElement)
}

func (e *eventHeap) top() (HeapElement, bool) {
	if len(e.h) == 0 {
		return HeapElement{}, false
	}
	return e.h[0], true
}

func (e *eventHeap) len() int { return len(e.h) }

// maxTimeOf returns the latest time at which any of the tasks is queued, or 0.
func (e *eventHeap) maxTimeOf(tasks []graph.TaskID) int {
	want := make(map[graph.TaskID]bool, len(tasks))
	for _, t := range tasks {
		want[t] = true
	}
	latest := 0
	for _, el := range e.h {
		if want[el.Task] && el.Time > latest {
			latest = el.Time
		}
	}
	return latest
}
