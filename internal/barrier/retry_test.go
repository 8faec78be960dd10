package barrier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
)

// recordingGenerator remembers every budget it was asked for.
type recordingGenerator struct {
	budgets []int
	build   func(budget int) (Stream, error)
}

func (g *recordingGenerator) generate(_ context.Context, budget int) (Stream, error) {
	g.budgets = append(g.budgets, budget)
	return g.build(budget)
}

func TestInitialBudget(t *testing.T) {
	tests := []struct {
		max  int
		want int
	}{
		{64, 32},
		{33, 16},
		{2, 1},
		{1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, initialBudget(tt.max), "max=%d", tt.max)
	}
}

func TestRetry_HalvesUntilFeasible(t *testing.T) {
	gen := &recordingGenerator{build: func(budget int) (Stream, error) {
		if budget > 8 {
			return wideStream(40), nil
		}
		return pairedStream(40), nil
	}}

	out, err := Retry(context.Background(), gen.generate, RetryConfig{MaxBarriers: 64, Sim: opts(0)})
	require.NoError(t, err)
	assert.Equal(t, 8, out.Budget)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []int{32, 16, 8}, gen.budgets)
	assert.True(t, out.Result.Feasible)
	assert.Equal(t, 8, out.Result.Available)
	assert.Len(t, out.Stream.Tasks, 80)
}

func TestRetry_FirstBudgetFeasible(t *testing.T) {
	gen := &recordingGenerator{build: func(int) (Stream, error) { return pairedStream(4), nil }}

	out, err := Retry(context.Background(), gen.generate, RetryConfig{MaxBarriers: 64, Sim: opts(0)})
	require.NoError(t, err)
	assert.Equal(t, 32, out.Budget)
	assert.Equal(t, 1, out.Attempts)
}

func TestRetry_BudgetExhausted(t *testing.T) {
	gen := &recordingGenerator{build: func(int) (Stream, error) { return wideStream(40), nil }}

	out, err := Retry(context.Background(), gen.generate, RetryConfig{MaxBarriers: 64, Sim: opts(0)})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Contains(t, err.Error(), "after 6 attempts")
	assert.Equal(t, []int{32, 16, 8, 4, 2, 1}, gen.budgets)
}

func TestRetry_FatalErrorsStopImmediately(t *testing.T) {
	genErr := errors.New("lowering failed")

	tests := []struct {
		name  string
		build func(int) (Stream, error)
		want  error
	}{
		{
			name:  "generator error",
			build: func(int) (Stream, error) { return Stream{}, genErr },
			want:  genErr,
		},
		{
			name: "producer count exceeded",
			build: func(int) (Stream, error) {
				return Stream{
					Barriers: dynamicBarriers(1),
					Tasks:    []Task{{Name: "nce", Executor: graph.ExecutorCompute, Variants: 300, Updates: []int{0}}},
				}, nil
			},
			want: ErrProducerCountExceeded,
		},
		{
			name: "invalid stream",
			build: func(int) (Stream, error) {
				return Stream{Tasks: []Task{{Name: "d", Executor: graph.ExecutorDataMover, Port: 7}}}, nil
			},
			want: ErrInvalidStream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &recordingGenerator{build: tt.build}
			_, err := Retry(context.Background(), gen.generate, RetryConfig{MaxBarriers: 64, Sim: opts(0)})
			assert.ErrorIs(t, err, tt.want)
			assert.Len(t, gen.budgets, 1)
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &recordingGenerator{build: func(int) (Stream, error) { return pairedStream(1), nil }}
	_, err := Retry(ctx, gen.generate, RetryConfig{MaxBarriers: 64, Sim: opts(0)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, gen.budgets)
}

func TestRetry_InvalidMaximum(t *testing.T) {
	gen := &recordingGenerator{build: func(int) (Stream, error) { return pairedStream(1), nil }}
	_, err := Retry(context.Background(), gen.generate, RetryConfig{MaxBarriers: 0, Sim: opts(0)})
	assert.ErrorIs(t, err, ErrInvalidStream)
}

func TestRetry_PublishesAttempts(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicBarrier, 16)

	gen := &recordingGenerator{build: func(budget int) (Stream, error) {
		if budget > 8 {
			return wideStream(40), nil
		}
		return pairedStream(40), nil
	}}
	sim := opts(0)
	sim.Publisher = bus
	sim.GraphName = "net"
	_, err := Retry(context.Background(), gen.generate, RetryConfig{MaxBarriers: 64, Sim: sim})
	require.NoError(t, err)

	var attempts []events.BarrierAttemptEvent
	stalls := 0
	for len(ch) > 0 {
		switch e := (<-ch).(type) {
		case events.BarrierAttemptEvent:
			attempts = append(attempts, e)
		case events.BarrierStallEvent:
			stalls++
		}
	}
	require.Len(t, attempts, 3)
	assert.Equal(t, 2, stalls)
	for i, budget := range []int{32, 16, 8} {
		assert.Equal(t, i+1, attempts[i].Attempt)
		assert.Equal(t, budget, attempts[i].Budget)
		assert.Equal(t, "net", attempts[i].Graph())
	}
	assert.False(t, attempts[1].Feasible)
	assert.True(t, attempts[2].Feasible)
}
