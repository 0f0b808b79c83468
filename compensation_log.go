package sagastack

import (
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// EntryID identifies one push onto a stack. IDs are assigned in push order.
type EntryID int

// EntryEvent represents a record in the compensation log.
type EntryEvent struct {
	EntryID   EntryID
	Entry     Entry
	EventType EntryEventType
}

// String implements the fmt.Stringer interface for EntryEvent.
func (e *EntryEvent) String() string {
	return fmt.Sprintf("E%03d %s %v", e.EntryID, e.EventType.String(), e.Entry)
}

// EntryEventType defines the events that can occur for a stack entry.
type EntryEventType int

const (
	EventPushed EntryEventType = iota
	EventUndoStarted
	EventUndoFinished
	EventUndoFailed
)

// String returns the string representation of the EntryEventType.
func (s EntryEventType) String() string {
	switch s {
	case EventPushed:
		return "pushed"
	case EventUndoStarted:
		return "undo_started"
	case EventUndoFinished:
		return "undo_finished"
	case EventUndoFailed:
		return "undo_failed"
	default:
		return fmt.Sprintf("Unknown EntryEventType: %d", s)
	}
}

// EntryStatus is the status of an entry derived from its events.
type EntryStatus int

const (
	StatusUnknown EntryStatus = iota
	StatusPushed
	StatusUndoStarted
	StatusUndoFinished
	StatusUndoFailed
)

// nextStatus returns the new status for an entry after recording the given
// event. A failed undo may be started again when compensation is retried.
func (s EntryStatus) nextStatus(eventType EntryEventType) (EntryStatus, error) {
	switch s {
	case StatusUnknown:
		if eventType == EventPushed {
			return StatusPushed, nil
		}
	case StatusPushed, StatusUndoFailed:
		if eventType == EventUndoStarted {
			return StatusUndoStarted, nil
		}
	case StatusUndoStarted:
		switch eventType {
		case EventUndoFinished:
			return StatusUndoFinished, nil
		case EventUndoFailed:
			return StatusUndoFailed, nil
		}
	}

	return StatusUnknown, fmt.Errorf(
		"illegal event type %s for current entry status %v",
		eventType, s,
	)
}

// String returns the string representation of the EntryStatus.
func (s EntryStatus) String() string {
	switch s {
	case StatusUnknown:
		return "Unknown"
	case StatusPushed:
		return "Pushed"
	case StatusUndoStarted:
		return "UndoStarted"
	case StatusUndoFinished:
		return "UndoFinished"
	case StatusUndoFailed:
		return "UndoFailed"
	default:
		return fmt.Sprintf("Unknown EntryStatus: %d", s)
	}
}

// MarshalJSON implements the json.Marshaler interface for EntryStatus.
func (s EntryStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for EntryStatus.
func (s *EntryStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "Unknown":
		*s = StatusUnknown
	case "Pushed":
		*s = StatusPushed
	case "UndoStarted":
		*s = StatusUndoStarted
	case "UndoFinished":
		*s = StatusUndoFinished
	case "UndoFailed":
		*s = StatusUndoFailed
	default:
		return fmt.Errorf("invalid EntryStatus: %s", str)
	}

	return nil
}

// CompensationLog is the write log of one stack: every push and every undo
// attempt, in the order they happened.
type CompensationLog struct {
	mu          sync.Mutex
	processID   string
	unwinding   bool
	events      []*EntryEvent
	entryStatus map[EntryID]EntryStatus
}

// NewCompensationLog creates a new, empty CompensationLog.
func NewCompensationLog(processID string) *CompensationLog {
	return &CompensationLog{
		processID:   processID,
		events:      make([]*EntryEvent, 0),
		entryStatus: make(map[EntryID]EntryStatus),
	}
}

// Record adds an event to the log.
func (l *CompensationLog) Record(event *EntryEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := l.entryStatus[event.EntryID].nextStatus(event.EventType)
	if err != nil {
		return fmt.Errorf("entry %d: %w", event.EntryID, err)
	}

	if event.EventType != EventPushed {
		l.unwinding = true
	}

	l.entryStatus[event.EntryID] = next
	l.events = append(l.events, event)
	return nil
}

// Status returns the current status of an entry.
func (l *CompensationLog) Status(id EntryID) EntryStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.entryStatus[id]
}

// Unwinding returns true once any undo has been attempted.
func (l *CompensationLog) Unwinding() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.unwinding
}

// Events returns a copy of the events in the log.
func (l *CompensationLog) Events() []*EntryEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]*EntryEvent(nil), l.events...)
}

// UndoOrder returns the entries whose undo finished, in the order they
// finished.
func (l *CompensationLog) UndoOrder() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var order []Entry
	for _, event := range l.events {
		if event.EventType == EventUndoFinished {
			order = append(order, event.Entry)
		}
	}
	return order
}

// String implements the fmt.Stringer interface for CompensationLog.
func (l *CompensationLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("COMPENSATION LOG:\n")
	sb.WriteString(fmt.Sprintf("process id: %s\n", l.processID))
	direction := "forward"
	if l.unwinding {
		direction = "unwinding"
	}
	sb.WriteString(fmt.Sprintf("direction:  %s\n", direction))
	sb.WriteString(fmt.Sprintf("events (%d total):\n", len(l.events)))
	sb.WriteString("\n")
	for i, event := range l.events {
		sb.WriteString(fmt.Sprintf("%03d %s\n", i+1, event.String()))
	}
	return sb.String()
}
