package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
	"github.com/aristath/npusched/internal/tracing"
)

// batchProgress tracks completion counts across concurrently compiled graphs.
type batchProgress struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
}

func (p *batchProgress) record(err error) events.BatchProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	return events.BatchProgressEvent{
		Total:     p.total,
		Completed: p.completed,
		Failed:    p.failed,
		Pending:   p.total - p.completed - p.failed,
		Timestamp: time.Now(),
	}
}

// CompileAll compiles independent graphs concurrently, at most Concurrency at a
// time. Each graph gets its own allocator and scheduler; nothing is shared
// between them. Per-graph failures are reported in the matching Result and do
// not stop the batch. Only context cancellation is returned as an error.
func (c *Compiler) CompileAll(ctx context.Context, dags []*graph.DAG) ([]*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "compile-batch", attribute.Int("graphs", len(dags)))

	results := make([]*Result, len(dags))
	progress := &batchProgress{total: len(dags)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for i, d := range dags {
		g.Go(func() error {
			// Check context early
			if err := gctx.Err(); err != nil {
				results[i] = &Result{Graph: d.Name, Tasks: d.NumTasks(), Pool: c.target.PoolSize, Err: err}
				return err
			}
			res, err := c.Compile(gctx, d)
			results[i] = res
			c.publish(events.TopicPipeline, progress.record(err))
			// Graph errors are tracked in the result, not returned here
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	tracing.EndSpan(span, err)

	failed := 0
	for _, r := range results {
		if r != nil && r.Err != nil {
			failed++
		}
	}
	c.log.WithField("graphs", len(dags)).WithField("failed", failed).Info("Batch finished")
	return results, err
}
