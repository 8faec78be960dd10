package barrier

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/aristath/npusched/internal/graph"
)

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func opts(available int) Options {
	return Options{AvailableBarriers: available, Logger: quietLogger()}
}

func dynamicBarriers(n int) []Barrier {
	out := make([]Barrier, n)
	for i := range out {
		out[i] = Barrier{Name: fmt.Sprintf("b%d", i)}
	}
	return out
}

// pairedStream has n compute tasks each updating its own barrier and n DMA
// tasks each waiting on one of them.
func pairedStream(n int) Stream {
	s := Stream{Barriers: dynamicBarriers(n)}
	for i := 0; i < n; i++ {
		s.Tasks = append(s.Tasks, Task{Name: fmt.Sprintf("c%d", i), Executor: graph.ExecutorCompute, Updates: []int{i}})
	}
	for i := 0; i < n; i++ {
		s.Tasks = append(s.Tasks, Task{Name: fmt.Sprintf("d%d", i), Executor: graph.ExecutorDataMover, Waits: []int{i}})
	}
	return s
}

// wideStream has n producers and one DMA task waiting on all n barriers at once.
func wideStream(n int) Stream {
	s := Stream{Barriers: dynamicBarriers(n)}
	all := make([]int, n)
	for i := 0; i < n; i++ {
		all[i] = i
		s.Tasks = append(s.Tasks, Task{Name: fmt.Sprintf("c%d", i), Executor: graph.ExecutorCompute, Updates: []int{i}})
	}
	s.Tasks = append(s.Tasks, Task{Name: "join", Executor: graph.ExecutorDataMover, Waits: all})
	return s
}
