package workingcopy

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/siltvcs/silt/internal/conflicts"
	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/model"
)

// WorkingCopy snapshots and materializes one workspace's working tree.
type WorkingCopy struct {
	root      string // workspace root on disk
	statePath string
	g         *graph.CommitGraph
	state     *State
}

// Open loads the working copy for root, with its state cache in stateDir.
func Open(root, stateDir string, g *graph.CommitGraph) (*WorkingCopy, error) {
	statePath := filepath.Join(stateDir, "state.json")
	state, err := loadState(statePath)
	if err != nil {
		return nil, err
	}
	return &WorkingCopy{root: root, statePath: statePath, g: g, state: state}, nil
}

// ignored reports paths the walker never considers repository content.
func ignored(rel string) bool {
	return rel == ".silt" || strings.HasPrefix(rel, ".silt/")
}

// SnapshotTree walks the working tree, hashes changed files into the
// content store, and returns the tree reflecting the current filesystem
// state. baseTree is the tree of the workspace's current working-copy
// commit; unchanged paths (by mtime and size) reuse its entries without
// reading file contents. Running it twice with no filesystem change
// returns the identical tree id.
//
// If dirty is non-nil, only those paths are re-examined; everything else
// is trusted from the state cache. The nil case is the full-walk fallback.
func (wc *WorkingCopy) SnapshotTree(baseTree model.TreeID, dirty map[string]bool) (model.TreeID, error) {
	recorded, err := wc.g.ListTree(baseTree)
	if err != nil {
		return "", err
	}

	entries := make(map[string]model.TreeEntry, len(recorded))
	newFiles := make(map[string]FileState)

	examine := func(rel string) error {
		entry, state, present, err := wc.examinePath(rel, recorded[rel])
		if err != nil {
			return err
		}
		if present {
			entries[rel] = entry
			newFiles[rel] = state
		}
		return nil
	}

	if dirty != nil {
		for rel, entry := range recorded {
			entries[rel] = entry
			if st, ok := wc.state.Files[rel]; ok {
				newFiles[rel] = st
			}
		}
		for rel := range dirty {
			if ignored(rel) {
				continue
			}
			abs := filepath.Join(wc.root, filepath.FromSlash(rel))
			if info, err := os.Lstat(abs); err == nil && info.IsDir() {
				// A dirty directory re-examines everything under it; files
				// created before its watch was added would otherwise slip by.
				err := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
					if err != nil || d.IsDir() {
						return err
					}
					sub, rerr := filepath.Rel(wc.root, path)
					if rerr != nil {
						return rerr
					}
					sub = filepath.ToSlash(sub)
					delete(entries, sub)
					delete(newFiles, sub)
					return examine(sub)
				})
				if err != nil {
					return "", fmt.Errorf("walk dirty dir %s: %w", rel, err)
				}
				continue
			}
			delete(entries, rel)
			delete(newFiles, rel)
			if err := examine(rel); err != nil {
				return "", err
			}
		}
	} else {
		seen := make(map[string]bool)
		err := filepath.WalkDir(wc.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, rerr := filepath.Rel(wc.root, path)
			if rerr != nil {
				return rerr
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				return nil
			}
			if ignored(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			seen[rel] = true
			return examine(rel)
		})
		if err != nil {
			return "", fmt.Errorf("walk working tree: %w", err)
		}
		// Paths recorded but no longer on disk are deletions; examine
		// confirms and drops them.
		for rel := range recorded {
			if !seen[rel] {
				if err := examine(rel); err != nil {
					return "", err
				}
			}
		}
	}

	treeID, err := wc.g.BuildTree(entries)
	if err != nil {
		return "", err
	}
	wc.state.Files = newFiles
	if err := wc.state.save(wc.statePath); err != nil {
		return "", err
	}
	return treeID, nil
}

// examinePath stats one path and returns its tree entry, reusing the
// recorded entry when the state cache proves it unchanged.
func (wc *WorkingCopy) examinePath(rel string, recorded model.TreeEntry) (model.TreeEntry, FileState, bool, error) {
	abs := filepath.Join(wc.root, filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if os.IsNotExist(err) {
		return model.TreeEntry{}, FileState{}, false, nil
	}
	if err != nil {
		return model.TreeEntry{}, FileState{}, false, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return model.TreeEntry{}, FileState{}, false, nil
	}

	kind := model.KindFile
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		kind = model.KindSymlink
	case info.Mode()&0111 != 0:
		kind = model.KindExec
	}

	old, hasOld := wc.state.Files[rel]
	now := fileStateOf(info, kind)
	if hasOld && old == now && recorded.Kind != "" {
		return recorded, now, true, nil
	}

	if kind == model.KindSymlink {
		target, err := os.Readlink(abs)
		if err != nil {
			return model.TreeEntry{}, FileState{}, false, fmt.Errorf("readlink %s: %w", rel, err)
		}
		id, err := wc.g.Objects().Put([]byte(target))
		if err != nil {
			return model.TreeEntry{}, FileState{}, false, err
		}
		return model.TreeEntry{Kind: kind, ID: id}, now, true, nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return model.TreeEntry{}, FileState{}, false, fmt.Errorf("read %s: %w", rel, err)
	}

	if recorded.Kind == model.KindConflict {
		updated, err := conflicts.UpdateFromContent(wc.g, model.EntryToMerge(recorded), content)
		if err != nil {
			return model.TreeEntry{}, FileState{}, false, err
		}
		entry, present := model.EntryFromMerge(updated)
		return entry, now, present, nil
	}

	id, err := wc.g.Objects().Put(content)
	if err != nil {
		return model.TreeEntry{}, FileState{}, false, err
	}
	return model.TreeEntry{Kind: kind, ID: id}, now, true, nil
}

// Materialize writes the tree rooted at treeID onto the filesystem: files
// whose recorded state differs are rewritten, conflicted paths render with
// markers, and paths tracked in the state but gone from the tree are
// removed. Idempotent: a second run with the same tree touches nothing.
func (wc *WorkingCopy) Materialize(treeID model.TreeID) error {
	target, err := wc.g.ListTree(treeID)
	if err != nil {
		return err
	}

	newFiles := make(map[string]FileState, len(target))
	for rel, entry := range target {
		state, err := wc.writePath(rel, entry)
		if err != nil {
			return err
		}
		newFiles[rel] = state
	}

	for rel := range wc.state.Files {
		if _, keep := target[rel]; keep {
			continue
		}
		abs := filepath.Join(wc.root, filepath.FromSlash(rel))
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", rel, err)
		}
		removeEmptyParents(wc.root, filepath.Dir(abs))
	}

	wc.state.Files = newFiles
	return wc.state.save(wc.statePath)
}

// writePath materializes one entry, skipping the write when the cached
// state shows the path already has the wanted content kind and the file is
// unchanged since we last wrote it.
func (wc *WorkingCopy) writePath(rel string, entry model.TreeEntry) (FileState, error) {
	abs := filepath.Join(wc.root, filepath.FromSlash(rel))

	var content []byte
	kind := entry.Kind
	switch entry.Kind {
	case model.KindConflict:
		data, err := conflicts.MaterializeFileConflict(wc.g, model.EntryToMerge(entry))
		if err != nil {
			return FileState{}, err
		}
		content = data
		kind = model.KindConflict
	case model.KindSymlink:
		data, err := wc.g.Objects().Get(entry.ID)
		if err != nil {
			return FileState{}, err
		}
		content = data
	default:
		data, err := wc.g.Objects().Get(entry.ID)
		if err != nil {
			return FileState{}, err
		}
		content = data
	}

	if old, ok := wc.state.Files[rel]; ok && old.Kind == kind {
		if info, err := os.Lstat(abs); err == nil {
			if info.ModTime().UnixMilli() == old.MtimeMs && info.Size() == old.Size {
				return old, nil
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return FileState{}, fmt.Errorf("create parent dirs for %s: %w", rel, err)
	}

	if entry.Kind == model.KindSymlink {
		os.Remove(abs)
		if err := os.Symlink(string(content), abs); err != nil {
			return FileState{}, fmt.Errorf("symlink %s: %w", rel, err)
		}
		info, err := os.Lstat(abs)
		if err != nil {
			return FileState{}, err
		}
		return fileStateOf(info, kind), nil
	}

	perm := os.FileMode(0644)
	if entry.Kind == model.KindExec {
		perm = 0755
	}
	if err := os.WriteFile(abs, content, perm); err != nil {
		return FileState{}, fmt.Errorf("write %s: %w", rel, err)
	}
	// Chmod explicitly: WriteFile does not change the mode of an existing
	// file.
	if err := os.Chmod(abs, perm); err != nil {
		return FileState{}, fmt.Errorf("chmod %s: %w", rel, err)
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return FileState{}, err
	}
	return fileStateOf(info, kind), nil
}

func removeEmptyParents(root, dir string) {
	for dir != root {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
