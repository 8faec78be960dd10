package barrier

import (
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
)

// DefaultMaxProducerCount is the most workloads that may signal one barrier.
// The runtime recycles workload storage when a barrier is produced, and only
// half of the double-buffered descriptor area is safe to wait on.
const DefaultMaxProducerCount = 256

// Barrier declares one logical barrier. Static barriers are bound to a fixed
// physical slot; the others get a slot during simulation.
type Barrier struct {
	Name   string
	Static bool
	ID     int // Physical slot for static barriers
}

// Task is one entry of the executed instruction stream.
type Task struct {
	Name     string
	Executor graph.ExecutorKind
	Port     int // DMA port
	Variants int // Parallel workloads of a compute task
	Waits    []int
	Updates  []int
}

// Units returns how many producer/consumer units the task contributes to each barrier.
func (t Task) Units() int {
	if t.Executor == graph.ExecutorCompute && t.Variants > 1 {
		return t.Variants
	}
	return 1
}

// Stream is the task stream in execution order plus its barrier declarations.
// A barrier's virtual ID is its index in Barriers.
type Stream struct {
	Barriers []Barrier
	Tasks    []Task
}

// BarrierConfig is the per-virtual-barrier assignment.
type BarrierConfig struct {
	RealID        int
	ProducerCount int
	ConsumerCount int
	NextSameID    int // Next virtual barrier on the same slot, -1 if none
}

// TaskSync is the synchronization data computed for one task.
type TaskSync struct {
	Queue      string
	WaitMask   uint64
	PostMask   uint64
	StartAfter int
	CleanAfter int
}

// Result is the outcome of one simulation. An infeasible budget is not an error:
// Feasible is false and Stall explains where the stream blocked.
type Result struct {
	Feasible  bool
	Available int
	Barriers  []BarrierConfig
	Tasks     []TaskSync
	PeakLive  int
	Passes    int
	Stall     *StallReport
}

// MaxPhysicalBarriers is the widest budget the 64-bit wait and post masks can describe.
const MaxPhysicalBarriers = 64

// Options configures a Simulator.
type Options struct {
	AvailableBarriers int
	MaxProducerCount  int // Defaults to DefaultMaxProducerCount
	DMAPorts          int // Defaults to 2
	MaxPasses         int // Zero means no cap
	GraphName         string
	Logger            *logrus.Entry
	Publisher         Publisher
}

// Publisher receives simulation events. *events.EventBus implements it.
type Publisher interface {
	Publish(topic string, event events.Event)
}

type queuedTask struct {
	task  int
	dep   int
	count int
}

type engineQueue struct {
	name  string
	tasks []queuedTask
}

// Simulator replays a task stream against a bounded number of physical barriers.
type Simulator struct {
	opts     Options
	log      *logrus.Entry
	stream   Stream
	tracker  *VirtualDependencyTracker
	barriers []BarrierConfig // Declared counts, never mutated by a simulation
	queues   []*engineQueue
	dynamic  bool
}

// NewSimulator parses the stream into per-engine queues and barrier configs.
func NewSimulator(stream Stream, opts Options) (*Simulator, error) {
	if opts.MaxProducerCount <= 0 {
		opts.MaxProducerCount = DefaultMaxProducerCount
	}
	if opts.DMAPorts <= 0 {
		opts.DMAPorts = 2
	}
	if opts.AvailableBarriers <= 0 || opts.AvailableBarriers > MaxPhysicalBarriers {
		return nil, fmt.Errorf("%w: %d available barriers (max %d)", ErrInvalidStream, opts.AvailableBarriers, MaxPhysicalBarriers)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.GraphName != "" {
		log = log.WithField("graph", opts.GraphName)
	}

	s := &Simulator{
		opts:    opts,
		log:     log.WithField("component", "barrier"),
		stream:  stream,
		tracker: NewVirtualDependencyTracker(),
	}
	if err := s.parseBarriers(); err != nil {
		return nil, err
	}
	if err := s.parseTasks(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Simulator) parseBarriers() error {
	static := 0
	s.barriers = make([]BarrierConfig, len(s.stream.Barriers))
	for v, b := range s.stream.Barriers {
		s.barriers[v] = BarrierConfig{RealID: -1, NextSameID: -1}
		if !b.Static {
			continue
		}
		static++
		if b.ID < 0 || b.ID >= s.opts.AvailableBarriers {
			return fmt.Errorf("%w: static barrier %d uses slot %d of %d", ErrInvalidStream, v, b.ID, s.opts.AvailableBarriers)
		}
		s.barriers[v].RealID = b.ID
	}
	if static > 0 && static < len(s.barriers) {
		return ErrMixedBarriers
	}
	s.dynamic = static == 0
	return nil
}

func (s *Simulator) parseTasks() error {
	dma := make([]*engineQueue, s.opts.DMAPorts)
	for p := range dma {
		dma[p] = &engineQueue{name: fmt.Sprintf("dma%d", p)}
	}
	compute := &engineQueue{name: "compute"}
	aux := &engineQueue{name: "aux"}
	s.queues = append(append(dma, compute), aux)

	prev := -1
	for i, t := range s.stream.Tasks {
		for _, v := range append(append([]int(nil), t.Waits...), t.Updates...) {
			if v < 0 || v >= len(s.barriers) {
				return fmt.Errorf("%w: task %q references barrier %d", ErrInvalidStream, t.Name, v)
			}
		}

		// Consecutive tasks with identical barrier lists share one entry
		var dep int
		if prev > 0 && i > 0 && sameBarriers(s.stream.Tasks[i-1], t) {
			dep = s.tracker.Clone(prev)
		} else {
			dep = s.tracker.Add(t.Waits, t.Updates)
		}
		prev = dep

		count := t.Units()
		for _, v := range t.Waits {
			s.barriers[v].ConsumerCount += count
		}
		for _, v := range t.Updates {
			s.barriers[v].ProducerCount += count
		}

		qt := queuedTask{task: i, dep: dep, count: count}
		switch t.Executor {
		case graph.ExecutorDataMover:
			if t.Port < 0 || t.Port >= s.opts.DMAPorts {
				return fmt.Errorf("%w: task %q uses DMA port %d of %d", ErrInvalidStream, t.Name, t.Port, s.opts.DMAPorts)
			}
			dma[t.Port].tasks = append(dma[t.Port].tasks, qt)
		case graph.ExecutorCompute:
			compute.tasks = append(compute.tasks, qt)
		case graph.ExecutorAuxCompute:
			aux.tasks = append(aux.tasks, qt)
		default:
			return fmt.Errorf("%w: task %q has executor %s", ErrInvalidStream, t.Name, t.Executor)
		}
	}
	return nil
}

func sameBarriers(a, b Task) bool {
	return slices.Equal(a.Waits, b.Waits) && slices.Equal(a.Updates, b.Updates)
}

// Config returns the declared counts of virtual barrier v.
func (s *Simulator) Config(v int) BarrierConfig { return s.barriers[v] }

// NumBarriers returns the number of declared barriers.
func (s *Simulator) NumBarriers() int { return len(s.barriers) }

// CheckProducerCount rejects barriers with more producers than the runtime can track.
func (s *Simulator) CheckProducerCount() error {
	for v, b := range s.barriers {
		if b.ProducerCount > s.opts.MaxProducerCount {
			return fmt.Errorf("%w: barrier %d has %d producers (max %d)", ErrProducerCountExceeded, v, b.ProducerCount, s.opts.MaxProducerCount)
		}
	}
	return nil
}

// simState is the mutable state of one simulation. Every run starts from a
// fresh copy so that re-simulating the same stream gives the same answer.
type simState struct {
	real      []int
	producers []int
	consumers []int
	toVirtual []int
	free      *RingBuffer[int]
	next      int // Next virtual barrier to map
	pos       []int
	live      int
	peak      int
	sync      []TaskSync
}

func (s *Simulator) newState() *simState {
	n := len(s.barriers)
	st := &simState{
		real:      make([]int, n),
		producers: make([]int, n),
		consumers: make([]int, n),
		toVirtual: make([]int, s.opts.AvailableBarriers),
		free:      NewRingBuffer[int](s.opts.AvailableBarriers),
		pos:       make([]int, len(s.queues)),
		sync:      make([]TaskSync, len(s.stream.Tasks)),
	}
	for v, b := range s.barriers {
		st.real[v] = b.RealID
		st.producers[v] = b.ProducerCount
		st.consumers[v] = b.ConsumerCount
	}
	for r := range st.toVirtual {
		st.toVirtual[r] = -1
		if s.dynamic {
			st.free.Push(r)
		}
	}
	for _, q := range s.queues {
		for _, qt := range q.tasks {
			st.sync[qt.task].Queue = q.name
		}
	}
	return st
}

func (st *simState) mapped(v int) bool {
	r := st.real[v]
	return r >= 0 && r < len(st.toVirtual) && st.toVirtual[r] == v
}

func (s *Simulator) release(st *simState, v int) {
	r := st.real[v]
	st.toVirtual[r] = -1
	st.live--
	if s.dynamic {
		st.free.Push(r)
	}
	s.log.WithFields(logrus.Fields{"virtual": v, "real": r}).Trace("Barrier released")
}

// Simulate replays the stream with the configured number of physical barriers.
// Producer-count violations and inconsistent counts are errors; running out of
// barriers is reported as an infeasible Result.
func (s *Simulator) Simulate() (*Result, error) {
	if err := s.CheckProducerCount(); err != nil {
		return nil, err
	}
	st, res, err := s.simulate()
	if err != nil {
		return nil, err
	}
	if res.Feasible {
		res.Barriers = s.assignment(st)
	}
	return res, nil
}

func (s *Simulator) simulate() (*simState, *Result, error) {
	st := s.newState()
	res := &Result{Available: s.opts.AvailableBarriers}

	s.log.WithFields(logrus.Fields{
		"barriers":  len(s.barriers),
		"tasks":     len(s.stream.Tasks),
		"available": s.opts.AvailableBarriers,
	}).Debug("Simulating barrier flow")

	for !s.finished(st) {
		res.Passes++
		if s.opts.MaxPasses > 0 && res.Passes > s.opts.MaxPasses {
			return nil, nil, fmt.Errorf("%w: %d passes", ErrPassLimit, s.opts.MaxPasses)
		}

		progressed := s.mapBarriers(st)

		for qi, q := range s.queues {
			for st.pos[qi] < len(q.tasks) {
				ok, err := s.process(st, q.tasks[st.pos[qi]])
				if err != nil {
					return nil, nil, err
				}
				if !ok {
					break
				}
				st.pos[qi]++
				progressed = true
			}
		}

		if !progressed {
			res.Stall = s.stallReport(st)
			res.PeakLive = st.peak
			res.Tasks = st.sync
			s.logStall(res.Stall)
			return st, res, nil
		}
	}

	res.Feasible = true
	res.PeakLive = st.peak
	res.Tasks = st.sync
	return st, res, nil
}

func (s *Simulator) finished(st *simState) bool {
	if st.next < len(s.barriers) {
		return false
	}
	for qi, q := range s.queues {
		if st.pos[qi] < len(q.tasks) {
			return false
		}
	}
	return true
}

// mapBarriers binds virtual barriers to physical slots in declaration order
// until no slot is available for the next one.
func (s *Simulator) mapBarriers(st *simState) bool {
	progressed := false
	for st.next < len(s.barriers) {
		v := st.next
		var r int
		if s.dynamic {
			slot, ok := st.free.Pop()
			if !ok {
				break
			}
			r = slot
			st.real[v] = r
		} else {
			r = st.real[v]
			if st.toVirtual[r] != -1 {
				break
			}
		}
		st.toVirtual[r] = v
		st.next++
		st.live++
		if st.live > st.peak {
			st.peak = st.live
		}
		progressed = true

		s.log.WithFields(logrus.Fields{
			"virtual":   v,
			"real":      r,
			"producers": st.producers[v],
			"consumers": st.consumers[v],
		}).Trace("Barrier mapped")

		// A barrier nobody waits on or signals holds its slot for nothing
		if st.producers[v] == 0 && st.consumers[v] == 0 {
			s.release(st, v)
		}
	}
	return progressed
}

// blockedReason explains why a task cannot run yet, or returns "" if it can.
func (s *Simulator) blockedReason(st *simState, qt queuedTask) string {
	dep := s.tracker.Dep(qt.dep)
	for _, v := range s.tracker.Waits(dep) {
		if !st.mapped(v) {
			return fmt.Sprintf("waiting for barrier %d to be mapped", v)
		}
		if st.producers[v] > 0 {
			return fmt.Sprintf("waiting for barrier %d to be produced, %d remaining", v, st.producers[v])
		}
	}
	for _, v := range s.tracker.Updates(dep) {
		if !st.mapped(v) {
			return fmt.Sprintf("waiting for update barrier %d to be mapped", v)
		}
	}
	return ""
}

// process runs one queued task if its barriers allow it.
func (s *Simulator) process(st *simState, qt queuedTask) (bool, error) {
	if reason := s.blockedReason(st, qt); reason != "" {
		s.log.WithFields(logrus.Fields{
			"task":   s.stream.Tasks[qt.task].Name,
			"reason": reason,
		}).Trace("Task blocked")
		return false, nil
	}
	dep := s.tracker.Dep(qt.dep)
	waits := s.tracker.Waits(dep)
	updates := s.tracker.Updates(dep)

	sync := &st.sync[qt.task]
	sync.StartAfter = 0
	for _, v := range waits {
		if st.consumers[v] < qt.count {
			return false, fmt.Errorf("%w: barrier %d has %d consumers left, task %q consumes %d",
				ErrInconsistentCounts, v, st.consumers[v], s.stream.Tasks[qt.task].Name, qt.count)
		}
		st.consumers[v] -= qt.count
		sync.WaitMask |= slotBit(st.real[v])
		sync.StartAfter = max(sync.StartAfter, v+1)
		if st.consumers[v] == 0 {
			s.release(st, v)
		}
	}

	sync.CleanAfter = len(s.barriers)
	for _, v := range updates {
		if st.producers[v] < qt.count {
			return false, fmt.Errorf("%w: barrier %d has %d producers left, task %q produces %d",
				ErrInconsistentCounts, v, st.producers[v], s.stream.Tasks[qt.task].Name, qt.count)
		}
		st.producers[v] -= qt.count
		sync.PostMask |= slotBit(st.real[v])
		sync.StartAfter = max(sync.StartAfter, v+1)
		sync.CleanAfter = min(sync.CleanAfter, v)
		if st.producers[v] == 0 && st.consumers[v] == 0 {
			s.release(st, v)
		}
	}

	s.log.WithFields(logrus.Fields{
		"task":  s.stream.Tasks[qt.task].Name,
		"queue": sync.Queue,
		"wait":  sync.WaitMask,
		"post":  sync.PostMask,
		"count": qt.count,
	}).Trace("Task processed")
	return true, nil
}

// slotBit is the mask bit of a physical slot. NewSimulator bounds slots to MaxPhysicalBarriers.
func slotBit(r int) uint64 {
	if r < 0 {
		return 0
	}
	return 1 << uint(r)
}

// assignment returns the final per-barrier configs with slots and same-slot links.
func (s *Simulator) assignment(st *simState) []BarrierConfig {
	out := make([]BarrierConfig, len(s.barriers))
	for v, b := range s.barriers {
		out[v] = BarrierConfig{
			RealID:        st.real[v],
			ProducerCount: b.ProducerCount,
			ConsumerCount: b.ConsumerCount,
			NextSameID:    -1,
		}
	}
	linkNextIDs(out)
	return out
}

func linkNextIDs(configs []BarrierConfig) {
	last := make(map[int]int)
	for v := len(configs) - 1; v >= 0; v-- {
		configs[v].NextSameID = -1
		if next, ok := last[configs[v].RealID]; ok {
			configs[v].NextSameID = next
		}
		last[configs[v].RealID] = v
	}
}

func (s *Simulator) stallReport(st *simState) *StallReport {
	r := &StallReport{
		Available: s.opts.AvailableBarriers,
		Free:      s.opts.AvailableBarriers - st.live,
		Mapped:    st.next,
		Total:     len(s.barriers),
	}
	for qi, q := range s.queues {
		h := QueueHead{Queue: q.name, Position: st.pos[qi], Length: len(q.tasks)}
		if st.pos[qi] < len(q.tasks) {
			qt := q.tasks[st.pos[qi]]
			h.Task = s.stream.Tasks[qt.task].Name
			h.Reason = s.blockedReason(st, qt)
		}
		r.Heads = append(r.Heads, h)
	}
	for v := 0; v < st.next; v++ {
		if st.producers[v] != 0 || st.consumers[v] != 0 {
			r.Pending = append(r.Pending, PendingBarrier{
				Virtual:   v,
				Real:      st.real[v],
				Producers: st.producers[v],
				Consumers: st.consumers[v],
			})
		}
	}
	return r
}

func (s *Simulator) logStall(r *StallReport) {
	fields := logrus.Fields{
		"mapped":    r.Mapped,
		"total":     r.Total,
		"available": r.Available,
		"free":      r.Free,
	}
	for _, h := range r.Heads {
		fields[h.Queue] = fmt.Sprintf("%d/%d", h.Position, h.Length)
	}
	s.log.WithFields(fields).Error("Barrier simulation blocked")
	for _, p := range r.Pending {
		s.log.WithFields(logrus.Fields{
			"virtual":   p.Virtual,
			"real":      p.Real,
			"producers": p.Producers,
			"consumers": p.Consumers,
		}).Error("Barrier has remaining producers or consumers")
	}
	if s.opts.Publisher != nil {
		s.opts.Publisher.Publish(events.TopicBarrier, events.BarrierStallEvent{
			GraphName: s.opts.GraphName,
			Pending:   len(r.Pending),
			Timestamp: time.Now(),
		})
	}
}
