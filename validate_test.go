package sagastack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type bogusEntry struct{}

func (bogusEntry) Kind() EntryKind { return KindActivity }
func (bogusEntry) isEntry() {}

func TestValidateEntries(t *testing.T) {
	registry := NewUndoRegistry()
	registry.MustRegister(recordingUndo("refund", &undoRecorder{}))

	tests := []struct {
		name    string
		entries []Entry
		wantErr error
		wantMsg string
	}{
		{
			name:    "empty list",
			entries: nil,
		},
		{
			name: "registered activity and routed nested entry",
			entries: []Entry{
				ActivityEntry{Undo: "refund"},
				NestedEntry{RoutingKey: "child", Entries: []Entry{ActivityEntry{Undo: "unknown_here"}}},
			},
		},
		{
			name:    "activity without undo",
			entries: []Entry{ActivityEntry{}},
			wantErr: ErrInvalidEntry,
		},
		{
			name:    "nested without routing key",
			entries: []Entry{NestedEntry{}},
			wantErr: ErrInvalidEntry,
		},
		{
			name:    "nil entry",
			entries: []Entry{nil},
			wantErr: ErrInvalidEntry,
		},
		{
			name:    "foreign entry type",
			entries: []Entry{bogusEntry{}},
			wantErr: ErrInvalidEntry,
		},
		{
			name: "unregistered undo names are all reported",
			entries: []Entry{
				ActivityEntry{Undo: "zeta"},
				ActivityEntry{Undo: "alpha"},
				ActivityEntry{Undo: "zeta"},
			},
			wantErr: ErrUndoNotFound,
			wantMsg: "undo action not found: alpha, zeta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntries(registry, tt.entries)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.EqualError(t, err, tt.wantMsg)
			}
		})
	}
}
