package memsched

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
)

// Phase is the coarse state of a scheduling run.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseMainLoop
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseMainLoop:
		return "main-loop"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Options configures a Scheduler.
type Options struct {
	// GraphName labels log lines and events.
	GraphName string
	// FastSpace is the memory space managed by the allocator. Defaults to CMX.
	FastSpace graph.MemSpace
	// MaxSteps caps the number of Step calls. Zero means no cap.
	MaxSteps int
	// Logger receives scheduling logs. Nil uses the logrus standard logger.
	Logger *logrus.Entry
	// Publisher receives scheduling events. Optional.
	Publisher Publisher
}

// Scheduler produces a memory-feasible execution order for a task graph.
//
// A run is driven by Step, which performs one iteration of the main loop, or by
// Generate, which steps until every output task is scheduled. All per-task
// state lives in dense tables indexed by TaskID.
type Scheduler struct {
	deps  DependencyOracle
	alloc ResourceAllocator
	opts  Options
	log   *logrus.Entry

	phase       Phase
	currentTime int
	steps       int
	err         error

	inDegree   []int
	released   []bool // In-degree reached zero and the task was handed to the ready lists
	outDegree  []int
	isData     []bool
	isCopyOut  []bool
	scheduled  []bool
	outputs    []OpOutputInfo
	produced   [][]graph.BufferInfo // Fast-space buffers written, per task
	consumed   [][]graph.BufferInfo // Fast-space buffers read, per task
	allProd    [][]graph.BufferInfo // Every produced buffer, for output indices
	remaining  []map[graph.BufferID]struct{}
	bufferInfo map[graph.BufferID]graph.BufferInfo
	users      map[graph.BufferID]map[graph.TaskID]struct{}

	pendingOutputs opSet
	readyData      opSet
	readyCompute   opSet
	activeCompute  opSet

	bufferWriter map[graph.BufferID]graph.TaskID
	writeSeq     map[graph.BufferID]int
	nextWrite    int

	start      eventHeap
	completion eventHeap

	schedule Schedule
}

// New creates a scheduler over the given graph view and allocator.
func New(deps DependencyOracle, alloc ResourceAllocator, opts Options) *Scheduler {
	if opts.FastSpace == "" {
		opts.FastSpace = graph.MemCMX
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.GraphName != "" {
		log = log.WithField("graph", opts.GraphName)
	}
	return &Scheduler{
		deps:  deps,
		alloc: alloc,
		opts:  opts,
		log:   log.WithField("component", "memsched"),
	}
}

// Phase returns the current phase of the run.
func (s *Scheduler) Phase() Phase { return s.phase }

// CurrentTime returns the logical time of the last scheduling decision.
func (s *Scheduler) CurrentTime() int { return s.currentTime }

// Schedule returns the ops scheduled so far.
func (s *Scheduler) Schedule() *Schedule { return &s.schedule }

// Generate runs the scheduler to completion.
func (s *Scheduler) Generate() (*Schedule, error) {
	for {
		res, err := s.Step()
		if err != nil {
			return nil, err
		}
		if res == StepDone {
			break
		}
	}
	s.logSchedule()
	return &s.schedule, nil
}

// Step performs one iteration of the scheduling state machine. Errors are fatal:
// once Step fails every later call returns the same error.
func (s *Scheduler) Step() (StepResult, error) {
	if s.err != nil {
		return StepDone, s.err
	}
	res, err := s.step()
	if err != nil {
		s.err = err
		s.phase = PhaseFailed
		s.log.WithError(err).Error("Scheduling failed")
	}
	return res, err
}

func (s *Scheduler) step() (StepResult, error) {
	switch s.phase {
	case PhaseInit:
		if err := s.init(); err != nil {
			return StepDone, err
		}
		s.phase = PhaseMainLoop
		if s.pendingOutputs.len() == 0 {
			s.phase = PhaseDone
			return StepDone, nil
		}
		return StepStarted, nil
	case PhaseDone:
		return StepDone, nil
	}

	if s.pendingOutputs.len() == 0 {
		s.phase = PhaseDone
		return StepDone, nil
	}

	s.steps++
	if s.opts.MaxSteps > 0 && s.steps > s.opts.MaxSteps {
		return StepDone, fmt.Errorf("%w: %d steps", ErrStepLimit, s.opts.MaxSteps)
	}

	top, hasStart := s.start.top()
	next, hasCompletion := s.completion.top()
	if hasStart && (!hasCompletion || top.Time < next.Time) {
		el := s.start.pop()
		s.currentTime = el.Time
		s.populateScheduledOp(el)
		el.Time++
		s.completion.push(el)
		if el.Kind == OpOriginal {
			s.pendingOutputs.remove(el.Task)
		}
		if s.pendingOutputs.len() == 0 {
			s.phase = PhaseDone
		}
		return StepScheduled, nil
	}

	if hasCompletion {
		for {
			if err := s.unscheduleAllCompletingOps(); err != nil {
				return StepDone, err
			}
			if err := s.scheduleAllPossibleReadyOps(); err != nil {
				return StepDone, err
			}
			if s.completion.len() == 0 || s.start.len() > 0 {
				break
			}
		}
		if s.start.len() > 0 {
			return StepUnscheduled, nil
		}
	}

	if err := s.forceEviction(); err != nil {
		return StepDone, err
	}
	return StepEvicted, nil
}

func (s *Scheduler) init() error {
	n := s.deps.NumTasks()
	s.currentTime = 1
	s.inDegree = make([]int, n)
	s.released = make([]bool, n)
	s.outDegree = make([]int, n)
	s.isData = make([]bool, n)
	s.isCopyOut = make([]bool, n)
	s.scheduled = make([]bool, n)
	s.outputs = make([]OpOutputInfo, n)
	s.produced = make([][]graph.BufferInfo, n)
	s.consumed = make([][]graph.BufferInfo, n)
	s.allProd = make([][]graph.BufferInfo, n)
	s.remaining = make([]map[graph.BufferID]struct{}, n)
	s.bufferInfo = make(map[graph.BufferID]graph.BufferInfo)
	s.users = make(map[graph.BufferID]map[graph.TaskID]struct{})
	s.pendingOutputs = newOpSet()
	s.readyData = newOpSet()
	s.readyCompute = newOpSet()
	s.activeCompute = newOpSet()
	s.bufferWriter = make(map[graph.BufferID]graph.TaskID)
	s.writeSeq = make(map[graph.BufferID]int)

	written := make(map[graph.BufferID]bool)
	for i := 0; i < n; i++ {
		t := graph.TaskID(i)
		s.inDegree[i] = s.deps.InDegree(t)
		s.outDegree[i] = s.deps.OutDegree(t)
		if s.outDegree[i] == 0 {
			s.pendingOutputs.insert(t)
		}
		s.allProd[i] = s.deps.BuffersProduced(t)
		s.produced[i] = s.fast(s.allProd[i])
		s.consumed[i] = s.fast(s.deps.BuffersConsumed(t))
		s.remaining[i] = make(map[graph.BufferID]struct{})
		for _, b := range append(append([]graph.BufferInfo(nil), s.consumed[i]...), s.produced[i]...) {
			s.bufferInfo[b.ID] = b
			s.remaining[i][b.ID] = struct{}{}
			if s.users[b.ID] == nil {
				s.users[b.ID] = make(map[graph.TaskID]struct{})
			}
			s.users[b.ID][t] = struct{}{}
		}
		for _, b := range s.produced[i] {
			written[b.ID] = true
		}
	}
	for i := 0; i < n; i++ {
		t := graph.TaskID(i)
		s.isData[i] = s.classifyDataOp(t)
		s.isCopyOut[i] = !s.isData[i] && s.deps.CopyKind(t) == graph.CopyOut
		for _, b := range s.consumed[i] {
			if !written[b.ID] {
				return fmt.Errorf("%w: task %d reads buffer %d that no task writes", ErrMalformedGraph, t, b.ID)
			}
		}
	}

	var ready []graph.TaskID
	for i := 0; i < n; i++ {
		if s.inDegree[i] == 0 {
			s.released[i] = true
			ready = append(ready, graph.TaskID(i))
		}
	}
	if n > 0 && len(ready) == 0 {
		return fmt.Errorf("%w: no task without dependencies", ErrMalformedGraph)
	}
	if err := s.distributeReadyOps(ready); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"tasks":         n,
		"ready_data":    s.readyData.len(),
		"ready_compute": s.readyCompute.len(),
		"outputs":       s.pendingOutputs.len(),
	}).Debug("Ready lists built")

	return s.scheduleAllPossibleReadyOps()
}

func (s *Scheduler) fast(bufs []graph.BufferInfo) []graph.BufferInfo {
	out := make([]graph.BufferInfo, 0, len(bufs))
	for _, b := range bufs {
		if b.Space == s.opts.FastSpace {
			out = append(out, b)
		}
	}
	return out
}

// classifyDataOp reports whether a task is a data mover that prefetches into
// fast memory. Output tasks and graph-input loads count as compute.
func (s *Scheduler) classifyDataOp(t graph.TaskID) bool {
	if s.deps.ExecutorKind(t) != graph.ExecutorDataMover {
		return false
	}
	if s.deps.CopyKind(t) != graph.CopyIn {
		return false
	}
	if s.deps.IsOutput(t) {
		return false
	}
	if s.deps.InDegree(t) == 0 && s.deps.ReadsGraphInput(t) {
		return false
	}
	return true
}

// reduceInDegree releases t's consumers and returns those whose in-degree hit zero.
func (s *Scheduler) reduceInDegree(t graph.TaskID) ([]graph.TaskID, error) {
	var zero []graph.TaskID
	for _, c := range s.deps.Consumers(t) {
		if s.released[c] {
			return nil, internalf("task %d released twice", c)
		}
		if s.inDegree[c] < 2 {
			s.inDegree[c] = 0
			s.released[c] = true
			zero = append(zero, c)
			continue
		}
		s.inDegree[c]--
	}
	return zero, nil
}

func (s *Scheduler) distributeReadyOps(ready []graph.TaskID) error {
	for _, t := range ready {
		switch {
		case s.isData[t]:
			if !s.readyData.insert(t) {
				return internalf("data task %d already ready", t)
			}
			next, err := s.reduceInDegree(t)
			if err != nil {
				return err
			}
			if err := s.distributeReadyOps(next); err != nil {
				return err
			}
		case s.hasActiveInputs(t):
			s.activeCompute.insert(t)
		default:
			s.readyCompute.insert(t)
		}
	}
	return nil
}

func (s *Scheduler) hasActiveInputs(t graph.TaskID) bool {
	for _, b := range s.consumed[t] {
		if s.alloc.IsAlive(b.ID) {
			return true
		}
	}
	return false
}

// nonAliveBuffers returns the fast-space buffers t still uses that hold no memory.
func (s *Scheduler) nonAliveBuffers(t graph.TaskID) []graph.BufferInfo {
	var out []graph.BufferInfo
	for _, b := range s.usedBuffers(t) {
		if !s.alloc.IsAlive(b.ID) {
			out = append(out, b)
		}
	}
	return out
}

func (s *Scheduler) usedBuffers(t graph.TaskID) []graph.BufferInfo {
	out := make([]graph.BufferInfo, 0, len(s.remaining[t]))
	for id := range s.remaining[t] {
		out = append(out, s.bufferInfo[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// demandList returns the tasks that must run (or be read back) before t, in
// dependency-first order: unscheduled dependencies, recursively, and spilled
// dependencies that wrote one of the needed buffers.
func (s *Scheduler) demandList(t graph.TaskID, needed []graph.BufferInfo) []graph.TaskID {
	var out []graph.TaskID
	seen := make(map[graph.TaskID]bool)
	var visit func(graph.TaskID)
	visit = func(task graph.TaskID) {
		for _, dep := range s.deps.Deps(task) {
			if seen[dep] || s.scheduled[dep] {
				continue
			}
			seen[dep] = true
			visit(dep)
			out = append(out, dep)
		}
	}
	visit(t)

	for _, dep := range s.deps.Deps(t) {
		if seen[dep] || !s.scheduled[dep] || s.outputs[dep].State != StateSpilled {
			continue
		}
		for _, b := range needed {
			if w, ok := s.bufferWriter[b.ID]; ok && w == dep {
				seen[dep] = true
				out = append(out, dep)
				break
			}
		}
	}
	return out
}

// isSchedulable reports whether t and everything it demands fit in the pool right now.
func (s *Scheduler) isSchedulable(t graph.TaskID) bool {
	need := newBufferSet()
	used := s.nonAliveBuffers(t)
	need.add(used...)
	for _, dep := range s.demandList(t, used) {
		need.add(s.nonAliveBuffers(dep)...)
	}
	return s.alloc.CanAlloc(need.sorted())
}

func (s *Scheduler) scheduleAllPossibleReadyOps() error {
	computeScheduled := false
	for _, set := range []opSet{s.activeCompute, s.readyCompute} {
		var done []graph.TaskID
		for _, t := range set.sorted() {
			if !s.isCopyOut[t] && computeScheduled {
				continue
			}
			if !s.isSchedulable(t) {
				continue
			}
			if err := s.scheduleComputeOp(t); err != nil {
				return err
			}
			if !s.isCopyOut[t] {
				computeScheduled = true
			}
			done = append(done, t)
		}
		for _, t := range done {
			set.remove(t)
		}
	}
	return nil
}

func (s *Scheduler) scheduleComputeOp(t graph.TaskID) error {
	s.markScheduled(t)
	delay, err := s.allocateBuffersAndInputOps(t)
	if err != nil {
		return err
	}
	s.start.push(HeapElement{Task: t, Time: s.currentTime + delay, Kind: OpOriginal, SpillBuffer: graph.NoBuffer})
	return nil
}

func (s *Scheduler) markScheduled(t graph.TaskID) {
	s.scheduled[t] = true
	s.outputs[t] = OpOutputInfo{State: StateActive, OutstandingConsumers: s.outDegree[t]}
}

func (s *Scheduler) scheduleInputOp(t graph.TaskID, delay int) {
	s.markScheduled(t)
	s.readyData.remove(t)
	s.start.push(HeapElement{Task: t, Time: s.currentTime + delay, Kind: OpOriginal, SpillBuffer: graph.NoBuffer})
}

// allocateBuffersAndInputOps brings every buffer t needs into fast memory,
// queueing prefetches and spill reads, and returns the delay before t may start.
func (s *Scheduler) allocateBuffersAndInputOps(t graph.TaskID) (int, error) {
	used := s.nonAliveBuffers(t)
	demand := s.demandList(t, used)
	delay := 0
	if len(demand) > 0 {
		delay = 1
	}

	need := newBufferSet()
	for _, b := range used {
		need.add(b)
		s.alloc.MarkAlive(b.ID)
		if w, ok := s.bufferWriter[b.ID]; ok {
			demand = removeTask(demand, w)
			if err := s.scheduleSpillRead(w, b.ID); err != nil {
				return 0, err
			}
		}
	}

	for _, in := range demand {
		for _, b := range s.nonAliveBuffers(in) {
			need.add(b)
			s.alloc.MarkAlive(b.ID)
			if w, ok := s.bufferWriter[b.ID]; ok {
				if err := s.scheduleSpillRead(w, b.ID); err != nil {
					return 0, err
				}
				delay = 2
			}
		}
		if !s.scheduled[in] {
			s.scheduleInputOp(in, delay-1)
		}
	}

	if !s.alloc.Alloc(need.sorted(), false) {
		return 0, fmt.Errorf("%w: task %d at time %d needs %d buffers", ErrAllocationRefused, t, s.currentTime, len(need.items))
	}

	if latest := s.start.maxTimeOf(s.deps.Deps(t)); latest > 0 && s.currentTime+delay <= latest {
		delay = latest + 1 - s.currentTime
	}
	return delay, nil
}

func (s *Scheduler) scheduleSpillRead(writer graph.TaskID, b graph.BufferID) error {
	out := &s.outputs[writer]
	if !s.scheduled[writer] {
		return internalf("spill read of buffer %d from unscheduled task %d", b, writer)
	}
	if len(out.SpillIndices) > 0 {
		delete(out.SpillIndices, s.outputIndex(writer, b))
	}
	out.State = StateActive
	s.start.push(HeapElement{Task: writer, Time: s.currentTime, Kind: OpSpillRead, SpillBuffer: b})
	return nil
}

func (s *Scheduler) outputIndex(t graph.TaskID, b graph.BufferID) int {
	for i, p := range s.allProd[t] {
		if p.ID == b {
			return i
		}
	}
	return 0
}

func (s *Scheduler) populateScheduledOp(el HeapElement) {
	op := ScheduledOp{
		Task:     el.Task,
		Time:     el.Time,
		Kind:     el.Kind,
		IsDataOp: s.isData[el.Task],
	}
	switch el.Kind {
	case OpSpillWrite:
		op.Intervals = append(op.Intervals, s.interval(el.SpillBuffer))
	default:
		for _, b := range s.produced[el.Task] {
			if el.Kind != OpOriginal && b.ID != el.SpillBuffer {
				continue
			}
			s.bufferWriter[b.ID] = el.Task
			s.nextWrite++
			s.writeSeq[b.ID] = s.nextWrite
			op.Intervals = append(op.Intervals, s.interval(b.ID))
		}
	}
	s.schedule.Ops = append(s.schedule.Ops, op)

	s.log.WithFields(logrus.Fields{
		"task": el.Task,
		"time": el.Time,
		"kind": el.Kind.String(),
	}).Trace("Op scheduled")
	s.publish(events.TaskScheduledEvent{
		GraphName: s.opts.GraphName,
		Task:      int(el.Task),
		Kind:      el.Kind.String(),
		Time:      el.Time,
		Timestamp: time.Now(),
	})
}

func (s *Scheduler) interval(b graph.BufferID) Interval {
	begin := s.alloc.Address(b)
	return Interval{Begin: begin, End: begin + s.alloc.Size(b), Buffer: b}
}

func (s *Scheduler) unscheduleAllCompletingOps() error {
	el, ok := s.completion.top()
	if !ok {
		return nil
	}
	s.currentTime = el.Time

	var done []HeapElement
	for s.completion.len() > 0 {
		if next, _ := s.completion.top(); next.Time != s.currentTime {
			break
		}
		done = append(done, s.completion.pop())
	}

	var ready []graph.TaskID
	for _, el := range done {
		s.unscheduleOp(el)
		if !s.isData[el.Task] && el.Kind == OpOriginal {
			next, err := s.reduceInDegree(el.Task)
			if err != nil {
				return err
			}
			ready = append(ready, next...)
		}
	}
	return s.distributeReadyOps(ready)
}

func (s *Scheduler) unscheduleOp(el HeapElement) {
	if el.Kind == OpOriginal {
		for _, b := range s.usedBuffers(el.Task) {
			delete(s.remaining[el.Task], b.ID)
			delete(s.users[b.ID], el.Task)
			if len(s.users[b.ID]) == 0 {
				s.alloc.MarkDead(b.ID)
			}
		}
		s.alloc.FreeNonAlive()

		for _, dep := range s.deps.Deps(el.Task) {
			if s.scheduled[dep] && s.outputs[dep].State == StateActive {
				s.outputs[dep].decrementConsumers()
			}
		}
	}

	out := &s.outputs[el.Task]
	if out.OutstandingConsumers == 0 && out.State != StateSpilled {
		out.State = StateConsumed
	}
}

func (s *Scheduler) publish(e events.Event) {
	if s.opts.Publisher != nil {
		s.opts.Publisher.Publish(events.TopicSchedule, e)
	}
}

func (s *Scheduler) stall(err error) *StallError {
	alive := s.alloc.AliveValues()
	return &StallError{
		Err:            err,
		Time:           s.currentTime,
		ReadyData:      s.readyData.sorted(),
		ReadyCompute:   s.readyCompute.sorted(),
		ActiveCompute:  s.activeCompute.sorted(),
		PendingOutputs: s.pendingOutputs.sorted(),
		AliveBuffers:   alive,
		StartHeapLen:   s.start.len(),
		CompletionLen:  s.completion.len(),
		ScheduledSoFar: len(s.schedule.Ops),
	}
}

func (s *Scheduler) logSchedule() {
	if !s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	for i, op := range s.schedule.Ops {
		fields := logrus.Fields{
			"index": i,
			"task":  op.Task,
			"time":  op.Time,
			"kind":  op.Kind.String(),
			"data":  op.IsDataOp,
		}
		for _, iv := range op.Intervals {
			fields[fmt.Sprintf("buf%d", iv.Buffer)] = fmt.Sprintf("[%d, %d)", iv.Begin, iv.End)
		}
		s.log.WithFields(fields).Debug("Schedule entry")
	}
	s.log.WithFields(logrus.Fields{
		"ops":      len(s.schedule.Ops),
		"makespan": s.schedule.Makespan(),
		"spills":   s.schedule.Spills(),
	}).Info("Schedule generated")
}

func removeTask(list []graph.TaskID, t graph.TaskID) []graph.TaskID {
	out := list[:0]
	for _, x := range list {
		if x != t {
			out = append(out, x)
		}
	}
	return out
}

// bufferSet collects buffers once each and orders them largest first.
type bufferSet struct {
	items map[graph.BufferID]graph.BufferInfo
}

func newBufferSet() bufferSet {
	return bufferSet{items: make(map[graph.BufferID]graph.BufferInfo)}
}

func (b bufferSet) add(bufs ...graph.BufferInfo) {
	for _, x := range bufs {
		b.items[x.ID] = x
	}
}

func (b bufferSet) sorted() []graph.BufferInfo {
	out := make([]graph.BufferInfo, 0, len(b.items))
	for _, x := range b.items {
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].ID < out[j].ID
	})
	return out
}
