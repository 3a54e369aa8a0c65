package oplog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/store"
)

// OpHeadsStore tracks the current heads of the operation log as one empty
// file per head id in a directory. Adding the new head before removing the
// superseded ones keeps at least one valid head visible at every instant,
// whatever the crash point.
type OpHeadsStore struct {
	dir string
}

// NewOpHeadsStore creates the heads directory at dir.
func NewOpHeadsStore(dir string) (*OpHeadsStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "heads"), 0755); err != nil {
		return nil, fmt.Errorf("create op heads dir: %w", err)
	}
	return &OpHeadsStore{dir: dir}, nil
}

// Heads returns the current operation-log heads, sorted.
func (s *OpHeadsStore) Heads() ([]model.OperationID, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "heads"))
	if err != nil {
		return nil, fmt.Errorf("list op heads: %w", err)
	}
	ids := make([]model.OperationID, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Update makes newHead a head and retires the superseded ids. Callers hold
// the advisory lock across the read-merge-update sequence.
func (s *OpHeadsStore) Update(newHead model.OperationID, superseded []model.OperationID) error {
	path := filepath.Join(s.dir, "heads", newHead)
	if err := store.SafeWrite(path, nil, 0644); err != nil {
		return fmt.Errorf("add op head: %w", err)
	}
	for _, id := range superseded {
		if id == newHead {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, "heads", id)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("retire op head %s: %w", id, err)
		}
	}
	return nil
}

// Lock takes the short-lived advisory lock guarding head updates.
func (s *OpHeadsStore) Lock() (*store.FileLock, error) {
	return store.AcquireLock(filepath.Join(s.dir, "lock"))
}
