package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/aristath/npusched/internal/graph"
	"github.com/aristath/npusched/internal/memsched"
	"github.com/aristath/npusched/internal/persistence"
)

// RetryConfig configures exponential backoff for writes to the run store.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 50ms)
	MaxInterval         time.Duration // Maximum retry interval (default 1s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Run store circuit breaker settings
const (
	storeBreakerFailures = 5                // Consecutive failures that open the breaker
	storeBreakerTimeout  = 30 * time.Second // Open time before a trial write
)

// newStoreBreaker creates the breaker shared by every write a Compiler makes to its
// store, so concurrent graphs stop hammering a store that keeps failing.
func newStoreBreaker(log *logrus.Entry) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "run-store",
		MaxRequests: 1,
		Timeout:     storeBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= storeBreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Run store circuit breaker changed state")
		},
		IsSuccessful: func(err error) bool {
			// Cancellation and missing runs say nothing about store health
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, persistence.ErrRunNotFound)
		},
	})
}

// withRetry runs op through the breaker with exponential backoff. A missing run
// and an open breaker are never retried.
func withRetry(ctx context.Context, cfg RetryConfig, cb *gobreaker.CircuitBreaker, op func() error) error {
	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, op()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, persistence.ErrRunNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = cfg.MaxElapsedTime
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = cfg.RandomizationFactor

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// persist records the run, its schedule and its barrier assignment.
func (c *Compiler) persist(ctx context.Context, d *graph.DAG, res *Result) error {
	run := &persistence.Run{
		Graph:       res.Graph,
		Fingerprint: d.Fingerprint(),
		Arch:        c.target.Arch,
		PoolSize:    c.target.PoolSize,
		Status:      persistence.RunCompiled,
	}
	if res.Err != nil {
		run.Status = persistence.RunFailed
		run.Error = res.Err.Error()
	}
	if res.Schedule != nil {
		run.Makespan = res.Schedule.Makespan()
		run.Spills = res.Schedule.Spills()
	}
	if res.Barriers != nil {
		run.Budget = res.Barriers.Budget
		run.Attempts = res.Barriers.Attempts
		run.PeakLive = res.Barriers.Result.PeakLive
	}

	cfg := c.opts.StoreRetry
	if err := withRetry(ctx, cfg, c.breaker, func() error { return c.opts.Store.SaveRun(ctx, run) }); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	res.RunID = run.ID

	if res.Schedule != nil {
		entries := scheduleEntries(d, res.Schedule)
		if err := withRetry(ctx, cfg, c.breaker, func() error { return c.opts.Store.SaveSchedule(ctx, run.ID, entries) }); err != nil {
			return fmt.Errorf("saving schedule: %w", err)
		}
	}
	if res.Barriers != nil {
		assignments := barrierAssignments(res)
		if err := withRetry(ctx, cfg, c.breaker, func() error { return c.opts.Store.SaveBarriers(ctx, run.ID, assignments) }); err != nil {
			return fmt.Errorf("saving barriers: %w", err)
		}
	}
	return nil
}

func scheduleEntries(d *graph.DAG, s *memsched.Schedule) []persistence.ScheduledTask {
	out := make([]persistence.ScheduledTask, 0, len(s.Ops))
	for i, op := range s.Ops {
		out = append(out, persistence.ScheduledTask{
			Position: i,
			Task:     int(op.Task),
			Name:     d.TaskName(op.Task),
			Kind:     op.Kind.String(),
			Time:     op.Time,
			IsDataOp: op.IsDataOp,
		})
	}
	return out
}

func barrierAssignments(res *Result) []persistence.BarrierAssignment {
	configs := res.Barriers.Result.Barriers
	out := make([]persistence.BarrierAssignment, 0, len(configs))
	for v, b := range configs {
		out = append(out, persistence.BarrierAssignment{
			Virtual:    v,
			Name:       res.Barriers.Stream.Barriers[v].Name,
			Real:       b.RealID,
			Producers:  b.ProducerCount,
			Consumers:  b.ConsumerCount,
			NextSameID: b.NextSameID,
		})
	}
	return out
}
