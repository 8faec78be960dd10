package graph

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGraph = `
name: conv-pair
buffers:
  - name: act
    size: 4KiB
    space: cmx
  - name: act_view
    alias_of: act
  - name: weights
    size: 2KiB
    space: cmx
  - name: result
    size: 1MiB
    space: ddr
tasks:
  - name: input
    executor: compute
    graph_input: true
    writes: [act]
  - name: load_weights
    executor: dma
    copy: in
    port: 1
    writes: [weights]
  - name: conv
    executor: nce
    variants: 5
    deps: [input, load_weights]
    reads: [act_view, weights]
    writes: [result]
`

func TestParseGraph(t *testing.T) {
	dag, err := Parse([]byte(sampleGraph))
	require.NoError(t, err)

	assert.Equal(t, "conv-pair", dag.Name)
	assert.Equal(t, 3, dag.NumTasks())
	assert.Equal(t, 4, dag.NumBuffers())

	conv, ok := dag.TaskByName("conv")
	require.True(t, ok)
	task, ok := dag.Task(conv)
	require.True(t, ok)
	assert.Equal(t, ExecutorCompute, task.Executor)
	assert.Equal(t, 5, task.Units())
	assert.Equal(t, []TaskID{0, 1}, task.DependsOn)

	consumed := dag.BuffersConsumed(conv)
	require.Len(t, consumed, 2)
	assert.Equal(t, int64(4096), consumed[0].Size)
	assert.Equal(t, MemCMX, consumed[0].Space)

	load, _ := dag.TaskByName("load_weights")
	assert.Equal(t, CopyIn, dag.CopyKind(load))
	assert.Equal(t, ExecutorDataMover, dag.ExecutorKind(load))

	input, _ := dag.TaskByName("input")
	assert.True(t, dag.ReadsGraphInput(input))
}

func TestParseGraphErrors(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		errIs error
	}{
		{
			name:  "unknown dependency",
			data:  "tasks:\n  - name: a\n    executor: dma\n    deps: [ghost]\n",
			errIs: ErrUnknownTask,
		},
		{
			name:  "unknown buffer",
			data:  "tasks:\n  - name: a\n    executor: dma\n    reads: [ghost]\n",
			errIs: ErrUnknownBuffer,
		},
		{
			name:  "cycle",
			data:  "tasks:\n  - name: a\n    executor: dma\n    deps: [b]\n  - name: b\n    executor: dma\n    deps: [a]\n",
			errIs: ErrCycle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.errIs), "got %v", err)
		})
	}

	_, err := Parse([]byte("tasks:\n  - name: a\n    executor: gpu\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("buffers:\n  - name: a\n    size: lots\n"))
	assert.Error(t, err)
}

func TestLoadGraphFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGraph), 0644))

	dag, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, dag.NumTasks())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFingerprintIgnoresNames(t *testing.T) {
	a, err := Parse([]byte(sampleGraph))
	require.NoError(t, err)

	renamed := File{}
	require.NoError(t, yamlRoundTrip(sampleGraph, &renamed))
	renamed.Name = "other"
	renamed.Tasks[0].Name = "source"
	renamed.Tasks[2].Deps[0] = "source"
	b, err := renamed.Build()
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	renamed.Buffers[0].Size = "8KiB"
	c, err := renamed.Build()
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
