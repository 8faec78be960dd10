package memsched

import (
	"sort"

	"github.com/aristath/npusched/internal/graph"
)

// opSet is a task set iterated in task-index order so schedules are reproducible.
type opSet struct {
	members map[graph.TaskID]struct{}
}

func newOpSet() opSet {
	return opSet{members: make(map[graph.TaskID]struct{})}
}

func (s opSet) insert(t graph.TaskID) bool {
	if _, ok := s.members[t]; ok {
		return false
	}
	s.members[t] = struct{}{}
	return true
}

func (s opSet) remove(t graph.TaskID) { delete(s.members, t) }

func (s opSet) contains(t graph.TaskID) bool {
	_, ok := s.members[t]
	return ok
}

func (s opSet) len() int { return len(s.members) }

func (s opSet) sorted() []graph.TaskID {
	out := make([]graph.TaskID, 0, len(s.members))
	for t := range s.members {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
