package memsched

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
)

// Eviction priorities. Higher values are spilled first.
const (
	priorityTimestamp = 0 // Written by a timestamp task
	priorityNeeded    = 1 // Read by an active or ready compute task
	priorityPrefetch  = 2 // Written by a data mover
	priorityUnused    = 3 // Not needed by any active or ready compute task
)

// evictionPriority ranks an alive buffer. Only timestamp buffers stay
// ahead of buffers that no ready task needs.
func (s *Scheduler) evictionPriority(b graph.BufferID, writer graph.TaskID) int {
	if s.deps.IsTimestamp(writer) {
		return priorityTimestamp
	}
	needed := false
	for _, set := range []opSet{s.activeCompute, s.readyCompute} {
		for t := range set.members {
			if _, ok := s.remaining[t][b]; ok {
				needed = true
				break
			}
		}
	}
	switch {
	case !needed:
		return priorityUnused
	case s.isData[writer]:
		return priorityPrefetch
	default:
		return priorityNeeded
	}
}

func (s *Scheduler) evictionCandidates() []EvictionCandidate {
	alive := s.alloc.AliveValues()
	out := make([]EvictionCandidate, 0, len(alive))
	for _, b := range alive {
		writer, ok := s.bufferWriter[b]
		if !ok {
			continue
		}
		out = append(out, EvictionCandidate{
			Priority:    s.evictionPriority(b, writer),
			Size:        s.alloc.Size(b),
			Writer:      writer,
			OutputIndex: s.outputIndex(writer, b),
			Buffer:      b,
			recency:     s.writeSeq[b],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, c := out[i], out[j]
		if a.Priority != c.Priority {
			return a.Priority > c.Priority
		}
		if a.Size != c.Size {
			return a.Size > c.Size
		}
		if a.recency != c.recency {
			return a.recency > c.recency
		}
		return a.Buffer < c.Buffer
	})
	return out
}

// forceEviction spills one alive buffer so that blocked tasks can make progress.
func (s *Scheduler) forceEviction() error {
	candidates := s.evictionCandidates()
	if len(candidates) == 0 {
		if s.readyCompute.len() == 0 && s.activeCompute.len() == 0 && s.readyData.len() == 0 {
			return s.stall(fmt.Errorf("%w: nothing ready and nothing alive", ErrMalformedGraph))
		}
		return s.stall(ErrNothingToEvict)
	}

	c := candidates[0]
	if err := s.evictActiveOp(c); err != nil {
		return err
	}

	// Consumers that only held this buffer are no longer active.
	for _, t := range s.deps.Consumers(c.Writer) {
		if s.activeCompute.contains(t) && !s.hasActiveInputs(t) {
			s.activeCompute.remove(t)
			s.readyCompute.insert(t)
		}
	}

	s.start.push(HeapElement{Task: c.Writer, Time: s.currentTime, Kind: OpSpillWrite, SpillBuffer: c.Buffer})

	s.log.WithFields(logrus.Fields{
		"buffer":   c.Buffer,
		"writer":   c.Writer,
		"size":     c.Size,
		"priority": c.Priority,
		"time":     s.currentTime,
	}).Debug("Buffer evicted")
	s.publish(events.BufferEvictedEvent{
		GraphName: s.opts.GraphName,
		Buffer:    int(c.Buffer),
		Writer:    int(c.Writer),
		Size:      c.Size,
		Priority:  c.Priority,
		Time:      s.currentTime,
		Timestamp: time.Now(),
	})
	return nil
}

func (s *Scheduler) evictActiveOp(c EvictionCandidate) error {
	if !s.scheduled[c.Writer] {
		return internalf("evicting buffer %d of unscheduled task %d", c.Buffer, c.Writer)
	}
	out := &s.outputs[c.Writer]
	if c.OutputIndex != 0 || len(out.SpillIndices) > 0 {
		if out.SpillIndices == nil {
			out.SpillIndices = make(map[int]struct{})
		}
		if _, dup := out.SpillIndices[c.OutputIndex]; dup {
			return internalf("output %d of task %d evicted twice", c.OutputIndex, c.Writer)
		}
		out.SpillIndices[c.OutputIndex] = struct{}{}
	} else if out.State == StateSpilled {
		return internalf("task %d evicted twice", c.Writer)
	}

	out.State = StateSpilled
	out.incrementConsumers()
	for _, dep := range s.deps.Deps(c.Writer) {
		if s.scheduled[dep] {
			s.outputs[dep].incrementConsumers()
		}
	}

	s.alloc.MarkDead(c.Buffer)
	s.alloc.FreeNonAlive()
	return nil
}

// IsStall reports whether err is a StallError.
func IsStall(err error) bool {
	var se *StallError
	return errors.As(err, &se)
}
