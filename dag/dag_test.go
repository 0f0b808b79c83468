package dag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportToDot(t *testing.T) {
	g := New()
	a, err := g.AddLabeledNode("create database")
	require.NoError(t, err)
	b, err := g.AddLabeledNode("create server")
	require.NoError(t, err)

	require.NoError(t, g.Connect(a, b, "then"))

	out, err := g.ExportToDot("deploy")
	require.NoError(t, err)
	assert.Contains(t, out, "deploy")
	assert.Contains(t, out, "create database")
	assert.Contains(t, out, "then")
	assert.Equal(t, 1, strings.Count(out, "->"))
}

func TestConnectRejectsForeignNodes(t *testing.T) {
	g := New()
	a, err := g.AddLabeledNode("a")
	require.NoError(t, err)

	other := New()
	_, err = other.AddLabeledNode("b")
	require.NoError(t, err)
	c, err := other.AddLabeledNode("c")
	require.NoError(t, err)

	assert.Error(t, g.Connect(a, c, ""))
}

func TestOrder(t *testing.T) {
	g := New()
	root, err := g.AddLabeledNode("root")
	require.NoError(t, err)
	left, err := g.AddLabeledNode("left")
	require.NoError(t, err)
	right, err := g.AddLabeledNode("right")
	require.NoError(t, err)

	require.NoError(t, g.Connect(root, right, ""))
	require.NoError(t, g.Connect(root, left, ""))
	require.NoError(t, g.Connect(right, left, ""))

	order, err := g.Order()
	require.NoError(t, err)
	assert.Equal(t, []int64{root.ID(), right.ID(), left.ID()}, order)
}
