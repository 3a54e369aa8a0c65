// Package repo is the top-level façade: it opens the on-disk layout, wires
// the stores together, and exposes the transaction lifecycle that every
// command goes through — read the current view by merging operation heads,
// snapshot the working copy, mutate, commit one new operation.
package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/oplog"
	"github.com/siltvcs/silt/internal/store"
	"github.com/siltvcs/silt/internal/workingcopy"
)

const siltDirName = ".silt"

// DefaultWorkspace is the workspace name used by single-workspace repos.
const DefaultWorkspace = "default"

// Signer is the pluggable commit-signing collaborator. This core stores
// whatever it produces and never interprets it.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Repository wires together the content store, the commit graph, the
// operation log, and the working copy of one workspace.
type Repository struct {
	root     string
	Objects  *store.ObjectStore
	Graph    *graph.CommitGraph
	Ops      *oplog.OpStore
	OpHeads  *oplog.OpHeadsStore
	WC       *workingcopy.WorkingCopy
	Identity *Identity
	Signer   Signer

	RootCommitID model.CommitID
	hostname     string

	watcher       *workingcopy.Watcher
	watcherPrimed bool
}

// SiltDir returns the repository data directory.
func (r *Repository) SiltDir() string {
	return filepath.Join(r.root, siltDirName)
}

// Init creates a repository at root: the directory layout, the
// deterministic root commit, an empty working-copy commit on top of it,
// and the root operation recording the initial view.
func Init(root string) (*Repository, error) {
	siltDir := filepath.Join(root, siltDirName)
	if _, err := os.Stat(filepath.Join(siltDir, "meta.json")); err == nil {
		return nil, fmt.Errorf("repository already exists at %s", root)
	}
	r, err := open(root, true)
	if err != nil {
		return nil, err
	}

	emptyTree, err := r.Graph.EmptyTree()
	if err != nil {
		return nil, err
	}
	wcCommit := &model.Commit{
		V:        1,
		Parents:  []model.CommitID{r.RootCommitID},
		Tree:     emptyTree,
		ChangeID: model.NewChangeID(),
		Author:   r.signatureNow(),
	}
	wcCommit.Committer = wcCommit.Author
	wcID, err := r.Graph.WriteCommit(wcCommit)
	if err != nil {
		return nil, err
	}

	view := model.NewView()
	view.AddHead(wcID)
	view.WCCommitIDs[DefaultWorkspace] = wcID

	viewID, err := r.Ops.WriteView(view)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	op := &model.Operation{
		V:       1,
		ViewID:  viewID,
		Parents: []model.OperationID{},
		Meta: model.OperationMetadata{
			StartTime:   now,
			EndTime:     now,
			Description: "initialize repo",
			Username:    r.Identity.Name,
			Hostname:    r.hostname,
		},
	}
	opID, err := r.Ops.WriteOperation(op)
	if err != nil {
		return nil, err
	}
	if err := r.OpHeads.Update(opID, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens an existing repository at root.
func Open(root string) (*Repository, error) {
	siltDir := filepath.Join(root, siltDirName)
	if _, err := os.Stat(filepath.Join(siltDir, "meta.json")); err != nil {
		return nil, fmt.Errorf("no repository at %s: %w", root, err)
	}
	return open(root, false)
}

func open(root string, create bool) (*Repository, error) {
	siltDir := filepath.Join(root, siltDirName)
	if create {
		for _, dir := range []string{siltDir, filepath.Join(siltDir, "objects")} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create dir %s: %w", dir, err)
			}
		}
		metaPath := filepath.Join(siltDir, "meta.json")
		meta := map[string]interface{}{
			"version": 1,
			"created": time.Now().UTC().Format(time.RFC3339),
		}
		data, _ := json.MarshalIndent(meta, "", "  ")
		if err := store.SafeWrite(metaPath, data, 0644); err != nil {
			return nil, err
		}
	}

	objects, err := store.NewObjectStore(filepath.Join(siltDir, "objects"))
	if err != nil {
		return nil, err
	}
	g, err := graph.New(objects)
	if err != nil {
		return nil, err
	}
	ops, err := oplog.NewOpStore(filepath.Join(siltDir, "op_store"))
	if err != nil {
		return nil, err
	}
	opHeads, err := oplog.NewOpHeadsStore(filepath.Join(siltDir, "op_heads"))
	if err != nil {
		return nil, err
	}
	wc, err := workingcopy.Open(root, filepath.Join(siltDir, "working_copy"), g)
	if err != nil {
		return nil, err
	}
	identity, err := LoadIdentity()
	if err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()

	// The root commit is deterministic; writing it is an idempotent put.
	rootID, err := g.WriteRootCommit()
	if err != nil {
		return nil, err
	}

	return &Repository{
		root:         root,
		Objects:      objects,
		Graph:        g,
		Ops:          ops,
		OpHeads:      opHeads,
		WC:           wc,
		Identity:     identity,
		RootCommitID: rootID,
		hostname:     hostname,
	}, nil
}

// StartWatcher begins watching the working tree so later snapshots only
// re-examine the paths that changed. The first snapshot after starting
// still walks everything: changes from before the watch began are only
// caught by a full walk, and hints are trusted from then on.
func (r *Repository) StartWatcher() error {
	if r.watcher != nil {
		return nil
	}
	w, err := workingcopy.Watch(r.root)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	r.watcher = w
	r.watcherPrimed = false
	return nil
}

// StopWatcher stops the working-tree watcher, if one is running.
func (r *Repository) StopWatcher() {
	if r.watcher == nil {
		return
	}
	r.watcher.Stop()
	r.watcher = nil
}

// CurrentView merges all current operation heads into one view. Merging is
// a read-path operation: concurrent writers leave multiple heads, and any
// reader reconstructs a current view from them without error.
func (r *Repository) CurrentView() (*model.View, []model.OperationID, error) {
	heads, err := r.OpHeads.Heads()
	if err != nil {
		return nil, nil, err
	}
	view, err := oplog.MergeHeads(r.Ops, r.Graph, heads)
	if err != nil {
		return nil, nil, err
	}
	return view, heads, nil
}

// CurrentOperation returns the single head operation, first reifying a
// merge operation if concurrent writers left several heads.
func (r *Repository) CurrentOperation() (model.OperationID, error) {
	heads, err := r.OpHeads.Heads()
	if err != nil {
		return "", err
	}
	if len(heads) == 1 {
		return heads[0], nil
	}
	tx, err := r.StartTransaction()
	if err != nil {
		return "", err
	}
	return tx.Commit("reconcile divergent operations", false, nil)
}

// StartTransaction opens a transaction on the merged current view.
func (r *Repository) StartTransaction() (*oplog.Transaction, error) {
	view, heads, err := r.CurrentView()
	if err != nil {
		return nil, err
	}
	return oplog.Begin(r.Ops, r.OpHeads, r.Graph, heads, view, r.Identity.Name, r.hostname), nil
}

// signatureNow stamps the configured identity with the current time.
func (r *Repository) signatureNow() model.Signature {
	return model.Signature{
		Name:  r.Identity.Name,
		Email: r.Identity.Email,
		Time:  time.Now().UTC(),
	}
}
