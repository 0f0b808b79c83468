package sagastack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDOT(t *testing.T) {
	out, err := RenderDOT("order", []Entry{
		ActivityEntry{Undo: "release_seat"},
		NestedEntry{RoutingKey: "payments", Entries: []Entry{
			ActivityEntry{Undo: "refund"},
		}},
	})
	require.NoError(t, err)

	assert.Contains(t, out, "digraph compensation {")
	for _, want := range []string{"order", "release_seat", "payments", "refund", "rankdir", "folder"} {
		assert.Contains(t, out, want)
	}
	// root, two entries, one nested activity
	assert.Equal(t, 3, strings.Count(out, "->"))
}

func TestRenderDOTRejectsUnknownEntries(t *testing.T) {
	_, err := RenderDOT("order", []Entry{bogusEntry{}})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}
