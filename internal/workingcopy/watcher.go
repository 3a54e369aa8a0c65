package workingcopy

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher accumulates dirty paths between snapshots so a snapshot can
// re-examine only what changed instead of walking the whole tree. It is an
// accelerator, not a correctness mechanism: when the watcher is not
// running, snapshot falls back to a full walk.
type Watcher struct {
	root   string
	fsw    *fsnotify.Watcher
	mu     sync.Mutex
	dirty  map[string]bool
	stopCh chan struct{}
	doneCh chan struct{}
}

// Watch starts watching the working tree rooted at root, recursively.
func Watch(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:   root,
		fsw:    fsw,
		dirty:  make(map[string]bool),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if ignored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return nil, err
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if ignored(rel) {
				continue
			}
			w.mu.Lock()
			w.dirty[rel] = true
			w.mu.Unlock()
			// New directories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						log.Printf("silt: watch %s: %v", rel, err)
					}
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("silt: watcher error: %v", err)
		}
	}
}

// TakeDirty returns the accumulated dirty paths and clears the set.
func (w *Watcher) TakeDirty() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirty := w.dirty
	w.dirty = make(map[string]bool)
	return dirty
}

// Stop shuts the watcher down and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.fsw.Close()
	<-w.doneCh
}
