package sagastack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// FileStore provides a file-based implementation of Store that persists
// snapshots as JSON files on disk.
type FileStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileStore creates a new file-based store that saves snapshots
// to the specified directory.
func NewFileStore(basePath string) (*FileStore, error) {
	// Ensure the base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		basePath: basePath,
	}, nil
}

// Save persists the snapshot to a JSON file.
func (f *FileStore) Save(ctx context.Context, snapshot Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Readers see either the old or the new file, never a partial one
	filename := f.filename(snapshot.ProcessID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}

	return nil
}

// Load retrieves the snapshot from a JSON file.
func (f *FileStore) Load(ctx context.Context, processID string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filename(processID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("process %s not found", processID)
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// Delete removes the snapshot file.
func (f *FileStore) Delete(ctx context.Context, processID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(processID)); err != nil {
		if os.IsNotExist(err) {
			// Already deleted, not an error
			return nil
		}
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}

	return nil
}

// List returns the process IDs of all snapshot files.
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(f.basePath, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot files: %w", err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// filename returns the full path for a process's snapshot file.
func (f *FileStore) filename(processID string) string {
	return filepath.Join(f.basePath, processID+".json")
}
