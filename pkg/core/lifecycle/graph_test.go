package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyGraphDistinctNodes(t *testing.T) {
	g := newDependencyGraph()
	require.NoError(t, g.addInstance("a"))
	require.NoError(t, g.addInstance("b"))
	require.NoError(t, g.addInstance("c"))
	assert.Error(t, g.addInstance("a"), "同一实例ID不能重复加入")

	require.NoError(t, g.addDependency("a", "c"))
	require.NoError(t, g.addDependency("b", "c"))
	require.NoError(t, g.addDependency("a", "c"), "重复的边直接忽略")

	assert.Equal(t, []string{"a", "b"}, g.dependencies("c"))
	assert.Equal(t, []string{"c"}, g.dependents("a"))
	assert.Empty(t, g.dependencies("a"))

	assert.Error(t, g.addDependency("c", "a"), "成环的边被拒绝")

	g.removeInstance("a")
	assert.Equal(t, []string{"b"}, g.dependencies("c"))
	require.NoError(t, g.addInstance("a"), "删除后可重新加入")
}
