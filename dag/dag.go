// Package dag is a labelled directed graph that renders to Graphviz DOT.
package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

type Graph struct {
	*simple.DirectedGraph
	attrs     encoding.Attributes
	nodeAttrs encoding.Attributes
	edgeAttrs encoding.Attributes
}

func New() *Graph {
	return &Graph{DirectedGraph: simple.NewDirectedGraph()}
}

// DOTAttributers returns the graph-wide, default node and default edge
// attributes.
func (g *Graph) DOTAttributers() (encoding.Attributer, encoding.Attributer, encoding.Attributer) {
	return &g.attrs, &g.nodeAttrs, &g.edgeAttrs
}

func (g *Graph) SetAttribute(attr encoding.Attribute) error {
	return g.attrs.SetAttribute(attr)
}

func (g *Graph) SetNodeAttribute(attr encoding.Attribute) error {
	return g.nodeAttrs.SetAttribute(attr)
}

func (g *Graph) SetEdgeAttribute(attr encoding.Attribute) error {
	return g.edgeAttrs.SetAttribute(attr)
}

type Node struct {
	graph.Node
	attrs encoding.Attributes
}

// DOTID implements the dot.Node interface.
func (n *Node) DOTID() string {
	return fmt.Sprintf("n%d", n.ID())
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// AddLabeledNode adds a node carrying label and any extra attributes.
func (g *Graph) AddLabeledNode(label string, attrs ...encoding.Attribute) (*Node, error) {
	n := &Node{Node: g.DirectedGraph.NewNode()}
	if err := n.SetAttribute(encoding.Attribute{Key: "label", Value: label}); err != nil {
		return nil, err
	}
	for _, a := range attrs {
		if err := n.SetAttribute(a); err != nil {
			return nil, err
		}
	}
	g.AddNode(n)
	return n, nil
}

// Connect adds an edge from -> to. An empty label leaves the edge unlabelled.
func (g *Graph) Connect(from, to *Node, label string) error {
	if g.Node(from.ID()) == nil || g.Node(to.ID()) == nil {
		return fmt.Errorf("node does not exist")
	}
	e := &edge{Edge: g.DirectedGraph.NewEdge(from, to)}
	if label != "" {
		if err := e.SetAttribute(encoding.Attribute{Key: "label", Value: label}); err != nil {
			return err
		}
	}
	g.SetEdge(e)
	return nil
}

// Order returns the node IDs in topological order, breaking ties by ID.
func (g *Graph) Order() ([]int64, error) {
	sorted, err := topo.SortStabilized(g, nil)
	if err != nil {
		return nil, fmt.Errorf("graph is not acyclic: %w", err)
	}
	ids := make([]int64, len(sorted))
	for i, n := range sorted {
		ids[i] = n.ID()
	}
	return ids, nil
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot(name string) (string, error) {
	data, err := dot.Marshal(g, name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export graph to DOT format: %v", err)
	}
	return string(data), nil
}

type edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

func (e *edge) SetAttribute(attr encoding.Attribute) error {
	return e.attrs.SetAttribute(attr)
}
