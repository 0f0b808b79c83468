package sagastack

import (
	"fmt"
	"strconv"

	"github.com/fortressi/sagastack/dag"
	"gonum.org/v1/gonum/graph/encoding"
)

// RenderDOT renders exported entries as a Graphviz tree rooted at rootLabel.
// Edges are numbered in the order compensation would undo them, so the
// newest entry carries 1. Nested entries are expanded under a node naming
// their routing key.
func RenderDOT(rootLabel string, entries []Entry) (string, error) {
	g := dag.New()
	if err := g.SetAttribute(encoding.Attribute{Key: "rankdir", Value: "LR"}); err != nil {
		return "", err
	}
	if err := g.SetNodeAttribute(encoding.Attribute{Key: "shape", Value: "box"}); err != nil {
		return "", err
	}

	root, err := g.AddLabeledNode(rootLabel, encoding.Attribute{Key: "shape", Value: "doublecircle"})
	if err != nil {
		return "", err
	}
	if err := addEntries(g, root, entries); err != nil {
		return "", err
	}
	return g.ExportToDot("compensation")
}

func addEntries(g *dag.Graph, parent *dag.Node, entries []Entry) error {
	for i := len(entries) - 1; i >= 0; i-- {
		order := strconv.Itoa(len(entries) - i)

		var (
			n   *dag.Node
			err error
		)
		switch e := entries[i].(type) {
		case ActivityEntry:
			n, err = g.AddLabeledNode(string(e.Undo))
		case NestedEntry:
			n, err = g.AddLabeledNode(e.RoutingKey, encoding.Attribute{Key: "shape", Value: "folder"})
			if err == nil {
				err = addEntries(g, n, e.Entries)
			}
		default:
			return fmt.Errorf("%w: unsupported entry type %T", ErrInvalidEntry, entries[i])
		}
		if err != nil {
			return err
		}
		if err := g.Connect(parent, n, order); err != nil {
			return err
		}
	}
	return nil
}
