package sagastack

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Store persists exported compensation stacks for a host that wants to replay
// them after the process that produced them is gone. Stacks never write to a
// Store themselves; a Worker saves snapshots of the nested processes it runs
// when configured with one.
type Store interface {
	// Save persists the snapshot under its ProcessID
	Save(ctx context.Context, snapshot Snapshot) error

	// Load retrieves a snapshot by process ID
	Load(ctx context.Context, processID string) (*Snapshot, error)

	// Delete removes a snapshot
	Delete(ctx context.Context, processID string) error

	// List returns the stored process IDs in sorted order
	List(ctx context.Context) ([]string, error)
}

// Snapshot status constants
const (
	SnapshotStatusCompleted   = "completed"
	SnapshotStatusCompensated = "compensated"
	SnapshotStatusFailed      = "failed"
)

// Snapshot is the exported stack of one process instance together with the
// execution context that owns its undo actions.
type Snapshot struct {
	ProcessID  string
	Name       string
	RoutingKey string
	Status     string
	Entries    []Entry
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type snapshotJSON struct {
	ProcessID  string          `json:"process_id"`
	Name       string          `json:"name,omitempty"`
	RoutingKey string          `json:"routing_key"`
	Status     string          `json:"status"`
	Entries    json.RawMessage `json:"entries"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MarshalJSON implements the json.Marshaler interface for Snapshot.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	entries, err := MarshalEntries(s.Entries)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshotJSON{
		ProcessID:  s.ProcessID,
		Name:       s.Name,
		RoutingKey: s.RoutingKey,
		Status:     s.Status,
		Entries:    entries,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface for Snapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var entries []Entry
	if len(raw.Entries) > 0 {
		var err error
		if entries, err = UnmarshalEntries(raw.Entries); err != nil {
			return err
		}
	}
	*s = Snapshot{
		ProcessID:  raw.ProcessID,
		Name:       raw.Name,
		RoutingKey: raw.RoutingKey,
		Status:     raw.Status,
		Entries:    entries,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}
	return nil
}

// MemoryStore provides an in-memory implementation of Store for testing
// or scenarios where persistence is not required.
type MemoryStore struct {
	snapshots map[string]*Snapshot
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*Snapshot),
	}
}

// Save stores the snapshot in memory.
func (m *MemoryStore) Save(ctx context.Context, snapshot Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Create a copy to avoid external modifications
	snapshot.Entries = copyEntries(snapshot.Entries)
	snapshot.UpdatedAt = time.Now()

	m.snapshots[snapshot.ProcessID] = &snapshot
	return nil
}

// Load retrieves the snapshot from memory.
func (m *MemoryStore) Load(ctx context.Context, processID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, exists := m.snapshots[processID]
	if !exists {
		return nil, fmt.Errorf("process %s not found", processID)
	}

	// Return a copy to avoid external modifications
	out := *snapshot
	out.Entries = copyEntries(snapshot.Entries)
	return &out, nil
}

// Delete removes the snapshot from memory.
func (m *MemoryStore) Delete(ctx context.Context, processID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.snapshots, processID)
	return nil
}

// List returns the stored process IDs.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
