package pipeline

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/aristath/npusched/internal/graph"
)

// spillYAML holds one buffer across a compute op that needs the rest of the
// 8-byte pool, forcing exactly one spill.
const spillYAML = `
name: %s
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

// tooBigYAML writes a fast buffer larger than the pool.
const tooBigYAML = `
name: %s
buffers:
  - {name: BIG, size: "16", space: CMX}
tasks:
  - {name: T, executor: compute, writes: [BIG]}
`

func parse(t *testing.T, tmpl, name string) *graph.DAG {
	t.Helper()
	d, err := graph.Parse([]byte(fmt.Sprintf(tmpl, name)))
	require.NoError(t, err)
	return d
}

func testTarget() Target {
	return Target{
		Arch:             "test",
		PoolSize:         8,
		Alignment:        1,
		FastSpace:        graph.MemCMX,
		MaxBarriers:      8,
		MaxProducerCount: 256,
		DMAPorts:         2,
	}
}

func quietLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}
