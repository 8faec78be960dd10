package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
)

func TestCompileAll(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicPipeline, 32)

	c, err := NewCompiler(testTarget(), Options{Logger: quietLogger(), Publisher: bus, Concurrency: 2})
	require.NoError(t, err)

	dags := []*graph.DAG{
		parse(t, spillYAML, "a"),
		parse(t, tooBigYAML, "b"),
		parse(t, spillYAML, "c"),
	}
	results, err := c.CompileAll(context.Background(), dags)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, results[i].Graph, "results keep input order")
	}
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)

	// Independent graphs give identical schedules regardless of interleaving
	assert.Equal(t, results[0].Schedule, results[2].Schedule)

	var progress []events.BatchProgressEvent
	for len(ch) > 0 {
		if e, ok := (<-ch).(events.BatchProgressEvent); ok {
			progress = append(progress, e)
		}
	}
	require.Len(t, progress, 3)
	last := progress[len(progress)-1]
	assert.Equal(t, 3, last.Total)
	assert.Equal(t, 2, last.Completed)
	assert.Equal(t, 1, last.Failed)
	assert.Zero(t, last.Pending)
}

func TestCompileAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := NewCompiler(testTarget(), Options{Logger: quietLogger()})
	require.NoError(t, err)

	results, err := c.CompileAll(ctx, []*graph.DAG{parse(t, spillYAML, "a"), parse(t, spillYAML, "b")})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestCompileAll_Empty(t *testing.T) {
	c, err := NewCompiler(testTarget(), Options{Logger: quietLogger()})
	require.NoError(t, err)

	results, err := c.CompileAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
