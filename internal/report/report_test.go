package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/npusched/internal/events"
	"github.com/aristath/npusched/internal/graph"
	"github.com/aristath/npusched/internal/pipeline"
)

const spillGraph = `
name: spill
buffers:
  - {name: B1, size: "4", space: CMX}
  - {name: B2, size: "4", space: CMX}
  - {name: B3, size: "4", space: CMX}
  - {name: O1, size: "4"}
  - {name: O2, size: "4"}
tasks:
  - {name: I, executor: compute, writes: [B1]}
  - {name: D1, executor: dma, copy: in, writes: [B2]}
  - {name: D2, executor: dma, copy: in, writes: [B3]}
  - {name: C, executor: compute, deps: [D1, D2], reads: [B2, B3], writes: [O1]}
  - {name: C2, executor: compute, deps: [I, C], reads: [B1], writes: [O2]}
`

func compiled(t *testing.T) (*graph.DAG, *pipeline.Result) {
	t.Helper()
	d, err := graph.Parse([]byte(spillGraph))
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	c, err := pipeline.NewCompiler(pipeline.Target{
		Arch:        "test",
		PoolSize:    8,
		Alignment:   1,
		FastSpace:   graph.MemCMX,
		MaxBarriers: 8,
	}, pipeline.Options{Logger: logrus.NewEntry(logger)})
	require.NoError(t, err)

	res, err := c.Compile(context.Background(), d)
	require.NoError(t, err)
	return d, res
}

func TestSchedule(t *testing.T) {
	d, res := compiled(t)
	out := Schedule(d, res.Schedule)

	assert.Contains(t, out, "Schedule of spill (makespan 6, 1 spills)")
	assert.Contains(t, out, "SPILL_WRITE")
	assert.Contains(t, out, "SPILL_READ")
	assert.Contains(t, out, "B1 [0, 4) 4B")
	// Five tasks plus the spill pair
	assert.Equal(t, 7, strings.Count(out, "ORIGINAL")+strings.Count(out, "SPILL_"))
}

func TestBarriers(t *testing.T) {
	_, res := compiled(t)
	out := Barriers(res)

	assert.Contains(t, out, "budget 4 of 4 available, 1 attempts")
	for _, name := range []string{"I", "D1", "D2", "C"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "Next on slot")

	assert.Empty(t, Barriers(&pipeline.Result{Graph: "failed"}))
}

func TestSummary(t *testing.T) {
	_, ok := compiled(t)
	failed := &pipeline.Result{Graph: "broken", Tasks: 3, Err: errors.New("no feasible barrier budget")}

	out := Summary([]*pipeline.Result{ok, failed, nil})
	assert.Contains(t, out, "Compilation summary")
	assert.Contains(t, out, "spill")
	assert.Contains(t, out, "broken")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "4 (peak 4)")

	errs := Errors([]*pipeline.Result{ok, failed})
	assert.Contains(t, errs, "broken: no feasible barrier budget")
	assert.NotContains(t, errs, "spill")
	assert.Empty(t, Errors([]*pipeline.Result{ok}))
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name  string
		ev    events.BatchProgressEvent
		width int
		want  string
	}{
		{
			name:  "half done",
			ev:    events.BatchProgressEvent{Total: 4, Completed: 1, Failed: 1, Pending: 2},
			width: 26,
			want:  "[=====xxxxx..........] 2/4",
		},
		{
			name:  "narrow terminal keeps a minimum bar",
			ev:    events.BatchProgressEvent{Total: 2, Completed: 2},
			width: 0,
			want:  "[==========] 2/2",
		},
		{
			name: "empty batch",
			ev:   events.BatchProgressEvent{},
			want: " 0/0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Progress(tt.ev, tt.width))
		})
	}
}
