package barrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_AddAndLookup(t *testing.T) {
	tr := NewVirtualDependencyTracker()
	assert.Equal(t, 0, tr.Add(nil, nil), "tasks without barriers share the empty dependency")

	i := tr.Add([]int{4, 5}, []int{7})
	assert.Equal(t, 1, i)
	d := tr.Dep(i)
	assert.Equal(t, Range{Start: 0, Len: 2}, d.Consumer)
	assert.Equal(t, Range{Start: 2, Len: 1}, d.Producer)
	assert.Equal(t, []int{4, 5}, tr.Waits(d))
	assert.Equal(t, []int{7}, tr.Updates(d))

	j := tr.Add(nil, []int{9})
	assert.Equal(t, []int{9}, tr.Updates(tr.Dep(j)))
	assert.Empty(t, tr.Waits(tr.Dep(j)))

	c := tr.Clone(i)
	assert.Equal(t, 3, c)
	assert.Equal(t, tr.Dep(i), tr.Dep(c))
	assert.Empty(t, tr.Waits(tr.Dep(0)))
}
