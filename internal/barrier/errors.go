package barrier

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProducerCountExceeded means a barrier has more producers than the runtime can track.
	ErrProducerCountExceeded = errors.New("barrier producer count exceeds maximum")
	// ErrMixedBarriers means a stream declares both static and virtual barriers.
	ErrMixedBarriers = errors.New("static and virtual barriers cannot be mixed")
	// ErrInconsistentCounts means a task consumed or produced more than a barrier expected.
	ErrInconsistentCounts = errors.New("barrier counts are inconsistent")
	// ErrInvalidStream means a stream references unknown barriers, ports or slots.
	ErrInvalidStream = errors.New("invalid barrier stream")
	// ErrPassLimit means the simulation exceeded its pass cap.
	ErrPassLimit = errors.New("barrier simulation pass limit exceeded")
	// ErrBudgetExhausted means no barrier budget down to 1 produced a feasible stream.
	ErrBudgetExhausted = errors.New("barrier budget exhausted")
)

// QueueHead describes the blocked head of one engine queue.
type QueueHead struct {
	Queue    string
	Position int
	Length   int
	Task     string
	Reason   string
}

// PendingBarrier is a mapped barrier whose counts never drained.
type PendingBarrier struct {
	Virtual   int
	Real      int
	Producers int
	Consumers int
}

// StallReport is the diagnostic state of a deadlocked simulation.
type StallReport struct {
	Available int
	Free      int // Physical slots left unbound
	Mapped    int // Virtual barriers mapped so far
	Total     int
	Heads     []QueueHead
	Pending   []PendingBarrier
}

func (r *StallReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "barrier simulation blocked with %d/%d barriers mapped (%d of %d slots free)", r.Mapped, r.Total, r.Free, r.Available)
	for _, h := range r.Heads {
		fmt.Fprintf(&b, "\n  %s: %d/%d", h.Queue, h.Position, h.Length)
		if h.Task != "" {
			fmt.Fprintf(&b, " at %s (%s)", h.Task, h.Reason)
		}
	}
	for _, p := range r.Pending {
		fmt.Fprintf(&b, "\n  barrier %d on slot %d: producers %d, consumers %d", p.Virtual, p.Real, p.Producers, p.Consumers)
	}
	return b.String()
}
