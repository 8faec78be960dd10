// Package pipeline compiles task graphs: memory scheduling followed by
// barrier assignment, with optional persistence of every run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aristath/npusched/internal/allocator"
	"github.com/aristath/npusched/internal/barrier"
	"github.com/aristath/npusched/internal/config"
	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
	"github.com/aristath/npusched/internal/memsched"
	"github.com/aristath/npusched/internal/persistence"
	"github.com/aristath/npusched/internal/tracing"
)

// Publisher receives pipeline, scheduling and barrier events. *events.EventBus implements it.
type Publisher interface {
	Publish(topic string, event events.Event)
}

// Target is the hardware a graph is compiled for, resolved from configuration.
type Target struct {
	Arch                string
	PoolSize            int64
	Alignment           int64
	FastSpace           graph.MemSpace
	MaxBarriers         int
	MaxProducerCount    int
	DMAPorts            int
	MaxSchedulerSteps   int
	MaxSimulationPasses int
}

// TargetFromConfig resolves the configured arch preset and overrides into a Target.
func TargetFromConfig(cfg *config.Config) (Target, error) {
	if err := cfg.Validate(); err != nil {
		return Target{}, fmt.Errorf("invalid configuration: %w", err)
	}
	pool, err := cfg.PoolBytes()
	if err != nil {
		return Target{}, err
	}
	barriers, err := cfg.Barriers()
	if err != nil {
		return Target{}, err
	}
	hw := cfg.Hardware
	fast := graph.MemCMX
	if hw.FastMemory != "" {
		fast = graph.ParseMemSpace(hw.FastMemory)
	}
	return Target{
		Arch:                hw.Arch,
		PoolSize:            pool,
		Alignment:           hw.Alignment,
		FastSpace:           fast,
		MaxBarriers:         barriers,
		MaxProducerCount:    hw.MaxProducerCount,
		DMAPorts:            hw.DMAPorts,
		MaxSchedulerSteps:   hw.MaxSchedulerSteps,
		MaxSimulationPasses: hw.MaxSimulationPasses,
	}, nil
}

// Options configures a Compiler.
type Options struct {
	Concurrency int               // Graphs compiled in parallel by CompileAll (default 4)
	Logger      *logrus.Entry     // Nil uses the logrus standard logger
	Publisher   Publisher         // Optional
	Store       persistence.Store // Optional; every run is recorded when set
	StoreRetry  RetryConfig       // Zero value uses DefaultRetryConfig
}

// Result is the outcome of compiling one graph.
type Result struct {
	Graph      string
	Tasks      int
	Schedule   *memsched.Schedule
	Barriers   *barrier.Outcome
	Pool       int64
	PeakMemory int64
	RunID      string
	Duration   time.Duration
	Err        error
}

// Compiler runs the memory scheduler and the barrier retry loop for one target.
type Compiler struct {
	target  Target
	opts    Options
	log     *logrus.Entry
	breaker *gobreaker.CircuitBreaker // Guards opts.Store
}

// NewCompiler creates a compiler for the target.
func NewCompiler(target Target, opts Options) (*Compiler, error) {
	if target.PoolSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", target.PoolSize)
	}
	if target.MaxBarriers <= 0 {
		return nil, fmt.Errorf("barrier budget must be positive, got %d", target.MaxBarriers)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = config.DefaultConcurrency
	}
	if opts.StoreRetry == (RetryConfig{}) {
		opts.StoreRetry = DefaultRetryConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "pipeline")
	return &Compiler{
		target:  target,
		opts:    opts,
		log:     log,
		breaker: newStoreBreaker(log),
	}, nil
}

// Target returns the hardware the compiler was created for.
func (c *Compiler) Target() Target { return c.target }

// Compile schedules one graph and finds a feasible barrier budget for it.
// The returned Result is never nil; on failure Err carries the same error.
func (c *Compiler) Compile(ctx context.Context, d *graph.DAG) (*Result, error) {
	start := time.Now()
	res := &Result{Graph: d.Name, Tasks: d.NumTasks(), Pool: c.target.PoolSize}
	log := c.log.WithField("graph", res.Graph)

	ctx, span := tracing.StartSpan(ctx, "compile",
		attribute.String("graph", res.Graph),
		attribute.Int("tasks", res.Tasks),
		attribute.String("arch", c.target.Arch),
	)

	c.publish(events.TopicPipeline, events.GraphStartedEvent{GraphName: res.Graph, Tasks: res.Tasks, Timestamp: start})
	log.WithField("tasks", res.Tasks).Info("Compiling graph")

	err := c.compile(ctx, d, res, log)
	res.Duration = time.Since(start)
	res.Err = err

	if err != nil {
		log.WithError(err).Error("Graph compilation failed")
		c.publish(events.TopicPipeline, events.GraphFailedEvent{
			GraphName: res.Graph,
			Err:       err,
			Duration:  res.Duration,
			Timestamp: time.Now(),
		})
	} else {
		span.SetAttributes(
			attribute.Int("makespan", res.Schedule.Makespan()),
			attribute.Int("spills", res.Schedule.Spills()),
			attribute.Int("barrier_budget", res.Barriers.Budget),
		)
		log.WithFields(logrus.Fields{
			"makespan": res.Schedule.Makespan(),
			"spills":   res.Schedule.Spills(),
			"budget":   res.Barriers.Budget,
			"duration": res.Duration,
		}).Info("Graph compiled")
		c.publish(events.TopicPipeline, events.GraphCompiledEvent{
			GraphName: res.Graph,
			Makespan:  res.Schedule.Makespan(),
			Spills:    res.Schedule.Spills(),
			Barriers:  res.Barriers.Budget,
			Duration:  res.Duration,
			Timestamp: time.Now(),
		})
	}

	if c.opts.Store != nil {
		if perr := c.persist(ctx, d, res); perr != nil {
			// The compilation itself stands; only the record is lost
			log.WithError(perr).Warn("Failed to record run")
		}
	}

	tracing.EndSpan(span, err)
	return res, err
}

func (c *Compiler) compile(ctx context.Context, d *graph.DAG, res *Result, log *logrus.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	alloc := allocator.NewLinearScan(c.target.PoolSize, c.target.Alignment)
	sched := memsched.New(d, alloc, memsched.Options{
		GraphName: res.Graph,
		FastSpace: c.target.FastSpace,
		MaxSteps:  c.target.MaxSchedulerSteps,
		Logger:    log,
		Publisher: c.opts.Publisher,
	})

	_, span := tracing.StartSpan(ctx, "memsched")
	schedule, err := sched.Generate()
	tracing.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", res.Graph, err)
	}
	res.Schedule = schedule
	res.PeakMemory = alloc.PeakUsage()

	bctx, span := tracing.StartSpan(ctx, "barriers", attribute.Int("max_barriers", c.target.MaxBarriers))
	outcome, err := barrier.Retry(bctx, barrier.ScheduleGenerator(schedule, d), barrier.RetryConfig{
		MaxBarriers: c.target.MaxBarriers,
		Sim: barrier.Options{
			MaxProducerCount: c.target.MaxProducerCount,
			DMAPorts:         c.target.DMAPorts,
			MaxPasses:        c.target.MaxSimulationPasses,
			GraphName:        res.Graph,
			Logger:           log,
			Publisher:        c.opts.Publisher,
		},
	})
	tracing.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("assigning barriers for %s: %w", res.Graph, err)
	}
	res.Barriers = outcome
	return nil
}

func (c *Compiler) publish(topic string, event events.Event) {
	if c.opts.Publisher != nil {
		c.opts.Publisher.Publish(topic, event)
	}
}
