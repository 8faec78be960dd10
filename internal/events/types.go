package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Graph() string
}

// Topic constants
const (
	TopicSchedule = "schedule"
	TopicBarrier  = "barrier"
	TopicPipeline = "pipeline"
)

// Event type constants
const (
	EventTypeTaskScheduled  = "schedule.task"
	EventTypeBufferEvicted  = "schedule.evicted"
	EventTypeBarrierAttempt = "barrier.attempt"
	EventTypeBarrierStall   = "barrier.stall"
	EventTypeGraphStarted   = "pipeline.started"
	EventTypeGraphCompiled  = "pipeline.compiled"
	EventTypeGraphFailed    = "pipeline.failed"
	EventTypeBatchProgress  = "pipeline.progress"
)

// TaskScheduledEvent is published when an op leaves the start-time heap.
type TaskScheduledEvent struct {
	GraphName string
	Task      int
	Kind      string
	Time      int
	Timestamp time.Time
}

func (e TaskScheduledEvent) EventType() string { return EventTypeTaskScheduled }
func (e TaskScheduledEvent) Graph() string     { return e.GraphName }

// BufferEvictedEvent is published when the scheduler forces a spill.
type BufferEvictedEvent struct {
	GraphName string
	Buffer    int
	Writer    int
	Size      int64
	Priority  int
	Time      int
	Timestamp time.Time
}

func (e BufferEvictedEvent) EventType() string { return EventTypeBufferEvicted }
func (e BufferEvictedEvent) Graph() string     { return e.GraphName }

// BarrierAttemptEvent is published after each simulation in the retry loop.
type BarrierAttemptEvent struct {
	GraphName string
	Attempt   int
	Budget    int
	Feasible  bool
	Timestamp time.Time
}

func (e BarrierAttemptEvent) EventType() string { return EventTypeBarrierAttempt }
func (e BarrierAttemptEvent) Graph() string     { return e.GraphName }

// BarrierStallEvent is published when a simulation deadlocks.
type BarrierStallEvent struct {
	GraphName string
	Pending   int
	Timestamp time.Time
}

func (e BarrierStallEvent) EventType() string { return EventTypeBarrierStall }
func (e BarrierStallEvent) Graph() string     { return e.GraphName }

// GraphStartedEvent is published when a graph enters the pipeline.
type GraphStartedEvent struct {
	GraphName string
	Tasks     int
	Timestamp time.Time
}

func (e GraphStartedEvent) EventType() string { return EventTypeGraphStarted }
func (e GraphStartedEvent) Graph() string     { return e.GraphName }

// GraphCompiledEvent is published when scheduling and barrier assignment succeed.
type GraphCompiledEvent struct {
	GraphName string
	Makespan  int
	Spills    int
	Barriers  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e GraphCompiledEvent) EventType() string { return EventTypeGraphCompiled }
func (e GraphCompiledEvent) Graph() string     { return e.GraphName }

// GraphFailedEvent is published when a graph cannot be compiled.
type GraphFailedEvent struct {
	GraphName string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e GraphFailedEvent) EventType() string { return EventTypeGraphFailed }
func (e GraphFailedEvent) Graph() string     { return e.GraphName }

// BatchProgressEvent is published when batch progress changes.
type BatchProgressEvent struct {
	Total     int
	Completed int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e BatchProgressEvent) EventType() string { return EventTypeBatchProgress }
func (e BatchProgressEvent) Graph() string     { return "" }
