// Package workingcopy reconciles an on-disk working tree with the commit
// graph: snapshot walks the filesystem and produces a tree reflecting it,
// materialize writes a commit's tree back out, rendering conflicts with
// markers. A per-path state cache of mtimes and sizes keeps both
// directions incremental, and both are idempotent.
package workingcopy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/store"
)

// FileState is the last known on-disk state of one path. A path whose
// mtime, size, and kind all match is assumed clean without reading it.
type FileState struct {
	MtimeMs int64           `json:"mtime_ms"`
	Size    int64           `json:"size"`
	Kind    model.EntryKind `json:"kind"`
}

// State is the on-disk working-copy state cache.
type State struct {
	V     int                  `json:"v"`
	Files map[string]FileState `json:"files"`
}

func newState() *State {
	return &State{V: 1, Files: make(map[string]FileState)}
}

func loadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read working copy state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse working copy state: %w", err)
	}
	if s.Files == nil {
		s.Files = make(map[string]FileState)
	}
	return &s, nil
}

func (s *State) save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize working copy state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create working copy dir: %w", err)
	}
	return store.SafeWrite(path, data, 0644)
}

// fileStateOf captures the cache entry for a stat result.
func fileStateOf(info os.FileInfo, kind model.EntryKind) FileState {
	return FileState{
		MtimeMs: info.ModTime().UnixMilli(),
		Size:    info.Size(),
		Kind:    kind,
	}
}
