package sagastack

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryStatusTransitions(t *testing.T) {
	tests := []struct {
		from    EntryStatus
		event   EntryEventType
		want    EntryStatus
		wantErr bool
	}{
		{StatusUnknown, EventPushed, StatusPushed, false},
		{StatusPushed, EventUndoStarted, StatusUndoStarted, false},
		{StatusUndoStarted, EventUndoFinished, StatusUndoFinished, false},
		{StatusUndoStarted, EventUndoFailed, StatusUndoFailed, false},
		{StatusUndoFailed, EventUndoStarted, StatusUndoStarted, false},
		{StatusUnknown, EventUndoStarted, StatusUnknown, true},
		{StatusPushed, EventPushed, StatusUnknown, true},
		{StatusUndoFinished, EventUndoStarted, StatusUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.event.String(), func(t *testing.T) {
			got, err := tt.from.nextStatus(tt.event)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompensationLogRejectsIllegalEvents(t *testing.T) {
	log := NewCompensationLog("p1")
	entry := ActivityEntry{Undo: "u1"}

	require.NoError(t, log.Record(&EntryEvent{EntryID: 0, Entry: entry, EventType: EventPushed}))
	assert.Error(t, log.Record(&EntryEvent{EntryID: 0, Entry: entry, EventType: EventUndoFinished}))
	assert.Len(t, log.Events(), 1, "rejected events are not recorded")
	assert.False(t, log.Unwinding())

	require.NoError(t, log.Record(&EntryEvent{EntryID: 0, Entry: entry, EventType: EventUndoStarted}))
	assert.True(t, log.Unwinding())
	assert.Equal(t, StatusUndoStarted, log.Status(0))
	assert.Equal(t, StatusUnknown, log.Status(7))

	out := log.String()
	assert.Contains(t, out, "process id: p1")
	assert.Contains(t, out, "direction:  unwinding")
}

func TestEntryStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusUndoFailed)
	require.NoError(t, err)
	assert.Equal(t, `"UndoFailed"`, string(data))

	var s EntryStatus
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, StatusUndoFailed, s)

	assert.Error(t, json.Unmarshal([]byte(`"Exploded"`), &s))
}
