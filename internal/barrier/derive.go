package barrier

import (
	"context"
	"fmt"

	"github.com/aristath/npusched/internal/graph"
	"github.com/aristath/npusched/internal/memsched"
)

// DeriveStream builds a stream from a memory schedule with one barrier per
// scheduled task that has consumers: the task updates it and every consumer
// waits on it. Implicit spill transfers are not part of the stream. The
// result ignores any barrier budget.
func DeriveStream(sched *memsched.Schedule, d *graph.DAG) (Stream, error) {
	order := sched.Originals()
	var s Stream
	barrierOf := make(map[graph.TaskID]int)
	index := make(map[graph.TaskID]int, len(order))

	for i, id := range order {
		task, ok := d.Task(id)
		if !ok {
			return Stream{}, fmt.Errorf("%w: task %d", graph.ErrUnknownTask, id)
		}
		index[id] = i
		s.Tasks = append(s.Tasks, streamTask(task))
		if len(d.Consumers(id)) > 0 {
			barrierOf[id] = len(s.Barriers)
			s.Barriers = append(s.Barriers, Barrier{Name: task.Name})
			s.Tasks[i].Updates = append(s.Tasks[i].Updates, barrierOf[id])
		}
	}

	for i, id := range order {
		for _, dep := range d.Deps(id) {
			b, ok := barrierOf[dep]
			if !ok {
				continue
			}
			if _, scheduled := index[dep]; !scheduled {
				return Stream{}, fmt.Errorf("%w: dependency %d of task %d is not scheduled", graph.ErrUnknownTask, dep, id)
			}
			s.Tasks[i].Waits = append(s.Tasks[i].Waits, b)
		}
	}
	return s, nil
}

// DeriveSerialStream builds a stream that needs only two live barriers: all
// tasks starting at one schedule time update a shared barrier that all tasks
// of the next schedule time wait on. Every dependency lands at a strictly
// earlier time, so ordering consecutive steps orders every dependency.
func DeriveSerialStream(sched *memsched.Schedule, d *graph.DAG) (Stream, error) {
	var s Stream
	var step []int
	lastTime := 0
	prev := -1

	flush := func() {
		if len(step) == 0 {
			return
		}
		b := len(s.Barriers)
		s.Barriers = append(s.Barriers, Barrier{Name: fmt.Sprintf("t%d", lastTime)})
		for _, i := range step {
			s.Tasks[i].Updates = append(s.Tasks[i].Updates, b)
		}
		prev = b
		step = step[:0]
	}

	for _, op := range sched.Ops {
		if op.Kind != memsched.OpOriginal {
			continue
		}
		task, ok := d.Task(op.Task)
		if !ok {
			return Stream{}, fmt.Errorf("%w: task %d", graph.ErrUnknownTask, op.Task)
		}
		if len(step) > 0 && op.Time != lastTime {
			flush()
		}
		lastTime = op.Time
		t := streamTask(task)
		if prev >= 0 {
			t.Waits = append(t.Waits, prev)
		}
		s.Tasks = append(s.Tasks, t)
		step = append(step, len(s.Tasks)-1)
	}
	// The last step has nobody to signal
	return s, nil
}

// serialBelow is the budget under which ScheduleGenerator serializes. Halving
// from any budget of 2 or more passes through 2 or 3, and the serial stream
// needs only 2 live barriers, so the retry always gets a serial attempt.
const serialBelow = 4

// ScheduleGenerator returns a Generator that derives a fully parallel stream for
// budgets of four and up and falls back to the serialized stream below that.
func ScheduleGenerator(sched *memsched.Schedule, d *graph.DAG) Generator {
	return func(_ context.Context, budget int) (Stream, error) {
		if budget >= serialBelow {
			return DeriveStream(sched, d)
		}
		return DeriveSerialStream(sched, d)
	}
}

func streamTask(t *graph.Task) Task {
	return Task{
		Name:     t.Name,
		Executor: t.Executor,
		Port:     t.Port,
		Variants: t.Variants,
	}
}
