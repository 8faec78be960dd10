package barrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_FIFOWithWrapAround(t *testing.T) {
	r := NewRingBuffer[int](3)
	assert.Equal(t, 0, r.Len())

	require.True(t, r.Push(1))
	require.True(t, r.Push(2))
	require.True(t, r.Push(3))
	assert.True(t, r.Full())
	assert.False(t, r.Push(4), "push into a full buffer")

	v, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	require.True(t, r.Push(4))
	assert.Equal(t, 3, r.Len())

	var got []int
	for r.Len() > 0 {
		v, _ := r.Pop()
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4}, got)

	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestRingBuffer_ZeroCapacity(t *testing.T) {
	r := NewRingBuffer[string](0)
	assert.True(t, r.Full())
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Push("x"))
}
