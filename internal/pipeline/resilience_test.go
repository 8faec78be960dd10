package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/npusched/internal/graph"
	"github.com/aristath/npusched/internal/persistence"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		Multiplier:      2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, 50*time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, time.Second, cfg.MaxInterval)
	assert.Equal(t, 10*time.Second, cfg.MaxElapsedTime)
	assert.Equal(t, 2.0, cfg.Multiplier)
	assert.Equal(t, 0.5, cfg.RandomizationFactor)
}

func TestWithRetry(t *testing.T) {
	busy := errors.New("database is locked")

	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   error
	}{
		{name: "succeeds first time", failures: 0, wantCalls: 1},
		{name: "transient errors are retried", failures: 2, err: busy, wantCalls: 3},
		{name: "missing run is permanent", failures: 5, err: fmt.Errorf("wrapped: %w", persistence.ErrRunNotFound), wantCalls: 1, wantErr: persistence.ErrRunNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := withRetry(context.Background(), fastRetry(), newStoreBreaker(quietLogger()), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, fastRetry(), newStoreBreaker(quietLogger()), func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestWithRetry_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newStoreBreaker(quietLogger())
	diskErr := errors.New("disk I/O error")

	calls := 0
	err := withRetry(context.Background(), fastRetry(), cb, func() error {
		calls++
		return diskErr
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, storeBreakerFailures, calls)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	// An open breaker fails without touching the store
	err = withRetry(context.Background(), fastRetry(), cb, func() error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, storeBreakerFailures, calls)
}

func TestWithRetry_MissingRunDoesNotTripBreaker(t *testing.T) {
	cb := newStoreBreaker(quietLogger())
	for i := 0; i < 2*storeBreakerFailures; i++ {
		err := withRetry(context.Background(), fastRetry(), cb, func() error {
			return persistence.ErrRunNotFound
		})
		assert.ErrorIs(t, err, persistence.ErrRunNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

// brokenStore fails every run write and counts the attempts.
type brokenStore struct {
	persistence.Store
	mu    sync.Mutex
	saves int
}

func (s *brokenStore) SaveRun(ctx context.Context, run *persistence.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return errors.New("disk I/O error")
}

func TestCompileAll_BrokenStoreTripsBreaker(t *testing.T) {
	logger, hook := test.NewNullLogger()
	store := &brokenStore{}

	c, err := NewCompiler(testTarget(), Options{
		Concurrency: 1,
		Logger:      logrus.NewEntry(logger),
		Store:       store,
		StoreRetry:  fastRetry(),
	})
	require.NoError(t, err)

	dags := []*graph.DAG{
		parse(t, spillYAML, "a"),
		parse(t, spillYAML, "b"),
		parse(t, spillYAML, "c"),
	}
	results, err := c.CompileAll(context.Background(), dags)
	require.NoError(t, err)

	for _, r := range results {
		assert.NoError(t, r.Err, "a lost record does not fail the graph")
		assert.Empty(t, r.RunID)
	}
	assert.Equal(t, storeBreakerFailures, store.saves, "later graphs must not reach the store")

	var opened bool
	var fastFails int
	for _, e := range hook.AllEntries() {
		switch e.Message {
		case "Run store circuit breaker changed state":
			if e.Data["to"] == gobreaker.StateOpen.String() {
				opened = true
			}
		case "Failed to record run":
			if perr, ok := e.Data[logrus.ErrorKey].(error); ok && errors.Is(perr, gobreaker.ErrOpenState) {
				fastFails++
			}
		}
	}
	assert.True(t, opened)
	assert.Equal(t, 3, fastFails)
}
