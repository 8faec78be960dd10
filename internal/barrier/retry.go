package barrier

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/aristath/npusched/internal/events"
)

// Generator builds a task stream that should run with at most budget physical barriers.
// A smaller budget is expected to produce a more serialized stream.
type Generator func(ctx context.Context, budget int) (Stream, error)

// RetryConfig configures the budget-halving retry loop.
type RetryConfig struct {
	MaxBarriers int     // Hardware maximum; the first attempt uses half of it
	Sim         Options // AvailableBarriers is overwritten with each attempt's budget
}

// Outcome is the first feasible attempt of a retry loop.
type Outcome struct {
	Budget   int
	Attempts int
	Stream   Stream
	Result   *Result
}

var errInfeasible = errors.New("barrier stream infeasible")

// initialBudget is half the hardware maximum, and at least 1.
func initialBudget(maxBarriers int) int {
	return max(1, maxBarriers/2)
}

// Retry generates and simulates streams with a barrier budget that starts at half
// the hardware maximum and halves after every infeasible simulation, down to 1.
// Generator and simulator errors stop the loop immediately.
func Retry(ctx context.Context, gen Generator, cfg RetryConfig) (*Outcome, error) {
	if cfg.MaxBarriers <= 0 {
		return nil, fmt.Errorf("%w: max barriers %d", ErrInvalidStream, cfg.MaxBarriers)
	}
	log := cfg.Sim.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "barrier-retry")
	if cfg.Sim.GraphName != "" {
		log = log.WithField("graph", cfg.Sim.GraphName)
	}

	budget := initialBudget(cfg.MaxBarriers)
	attempts := 0
	var out *Outcome

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempts++

		stream, err := gen(ctx, budget)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("generating stream for %d barriers: %w", budget, err))
		}

		opts := cfg.Sim
		opts.AvailableBarriers = budget
		sim, err := NewSimulator(stream, opts)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := sim.Simulate()
		if err != nil {
			return backoff.Permanent(err)
		}

		log.WithFields(logrus.Fields{
			"attempt":  attempts,
			"budget":   budget,
			"feasible": res.Feasible,
			"peak":     res.PeakLive,
		}).Debug("Barrier simulation attempt")
		if cfg.Sim.Publisher != nil {
			cfg.Sim.Publisher.Publish(events.TopicBarrier, events.BarrierAttemptEvent{
				GraphName: cfg.Sim.GraphName,
				Attempt:   attempts,
				Budget:    budget,
				Feasible:  res.Feasible,
				Timestamp: time.Now(),
			})
		}

		if res.Feasible {
			out = &Outcome{Budget: budget, Attempts: attempts, Stream: stream, Result: res}
			return nil
		}
		if budget == 1 {
			return backoff.Permanent(fmt.Errorf("%w after %d attempts", ErrBudgetExhausted, attempts))
		}
		budget = max(1, budget/2)
		return errInfeasible
	}

	// Budgets are halved, never slept on
	maxRetries := uint64(bits.Len(uint(initialBudget(cfg.MaxBarriers))))
	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, errInfeasible) {
			err = fmt.Errorf("%w after %d attempts", ErrBudgetExhausted, attempts)
		}
		log.WithError(err).Error("No feasible barrier budget")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"budget":   out.Budget,
		"attempts": out.Attempts,
	}).Info("Barrier assignment found")
	return out, nil
}
