// Package graph reads and writes the commit DAG through the content store
// and implements the operations that need whole-graph awareness: ancestry
// queries, head reduction, recursive tree merging, and the topological
// rewrite pass that rebases descendants of rewritten commits.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/store"
)

const cacheSize = 1024

// CommitGraph provides typed access to commits, trees, and file blobs in
// the content store. Objects are immutable, so cached reads never go stale.
type CommitGraph struct {
	objects *store.ObjectStore
	commits *lru.Cache[model.CommitID, *model.Commit]
	trees   *lru.Cache[model.TreeID, *model.Tree]
}

// New creates a CommitGraph over the given object store.
func New(objects *store.ObjectStore) (*CommitGraph, error) {
	commits, err := lru.New[model.CommitID, *model.Commit](cacheSize)
	if err != nil {
		return nil, err
	}
	trees, err := lru.New[model.TreeID, *model.Tree](cacheSize)
	if err != nil {
		return nil, err
	}
	return &CommitGraph{objects: objects, commits: commits, trees: trees}, nil
}

// Objects exposes the underlying content store for file blob access.
func (g *CommitGraph) Objects() *store.ObjectStore {
	return g.objects
}

// WriteCommit serializes and stores a commit, returning its content id.
func (g *CommitGraph) WriteCommit(c *model.Commit) (model.CommitID, error) {
	data, err := store.CanonicalJSON(c)
	if err != nil {
		return "", fmt.Errorf("serialize commit: %w", err)
	}
	id, err := g.objects.Put(data)
	if err != nil {
		return "", fmt.Errorf("store commit: %w", err)
	}
	g.commits.Add(id, c)
	return id, nil
}

// ReadCommit fetches a commit by id.
func (g *CommitGraph) ReadCommit(id model.CommitID) (*model.Commit, error) {
	if c, ok := g.commits.Get(id); ok {
		return c, nil
	}
	data, err := g.objects.Get(id)
	if err != nil {
		return nil, err
	}
	var c model.Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal commit %s: %w", id, err)
	}
	g.commits.Add(id, &c)
	return &c, nil
}

// WriteTree serializes and stores a tree, returning its content id.
func (g *CommitGraph) WriteTree(t *model.Tree) (model.TreeID, error) {
	data, err := store.CanonicalJSON(t)
	if err != nil {
		return "", fmt.Errorf("serialize tree: %w", err)
	}
	id, err := g.objects.Put(data)
	if err != nil {
		return "", fmt.Errorf("store tree: %w", err)
	}
	g.trees.Add(id, t)
	return id, nil
}

// ReadTree fetches a tree by id.
func (g *CommitGraph) ReadTree(id model.TreeID) (*model.Tree, error) {
	if t, ok := g.trees.Get(id); ok {
		return t, nil
	}
	data, err := g.objects.Get(id)
	if err != nil {
		return nil, err
	}
	var t model.Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal tree %s: %w", id, err)
	}
	g.trees.Add(id, &t)
	return &t, nil
}

// EmptyTree stores (idempotently) and returns the id of the empty tree.
func (g *CommitGraph) EmptyTree() (model.TreeID, error) {
	return g.WriteTree(model.NewTree())
}

// WriteRootCommit stores the deterministic root commit: no parents, empty
// tree, zero change id, zero timestamps. Every repository shares it.
func (g *CommitGraph) WriteRootCommit() (model.CommitID, error) {
	treeID, err := g.EmptyTree()
	if err != nil {
		return "", err
	}
	root := &model.Commit{
		V:        1,
		Parents:  []model.CommitID{},
		Tree:     treeID,
		ChangeID: model.RootChangeID,
	}
	return g.WriteCommit(root)
}

// ListTree flattens the tree rooted at id into slash-joined paths.
func (g *CommitGraph) ListTree(id model.TreeID) (map[string]model.TreeEntry, error) {
	out := make(map[string]model.TreeEntry)
	if err := g.listTreeInto(id, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *CommitGraph) listTreeInto(id model.TreeID, prefix string, out map[string]model.TreeEntry) error {
	t, err := g.ReadTree(id)
	if err != nil {
		return err
	}
	for name, entry := range t.Entries {
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if entry.Kind == model.KindTree {
			if err := g.listTreeInto(entry.ID, path, out); err != nil {
				return err
			}
			continue
		}
		out[path] = entry
	}
	return nil
}

// BuildTree assembles nested tree objects from a flat path → entry map and
// returns the root tree id. Entries of kind tree are not allowed; nesting
// comes from slashes in the paths.
func (g *CommitGraph) BuildTree(entries map[string]model.TreeEntry) (model.TreeID, error) {
	type dirNode struct {
		files map[string]model.TreeEntry
		dirs  map[string]*dirNode
	}
	newDir := func() *dirNode {
		return &dirNode{files: make(map[string]model.TreeEntry), dirs: make(map[string]*dirNode)}
	}
	root := newDir()

	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		dir := root
		rest := p
		for {
			i := strings.IndexByte(rest, '/')
			if i < 0 {
				dir.files[rest] = entries[p]
				break
			}
			name := rest[:i]
			sub, ok := dir.dirs[name]
			if !ok {
				sub = newDir()
				dir.dirs[name] = sub
			}
			dir = sub
			rest = rest[i+1:]
		}
	}

	var write func(d *dirNode) (model.TreeID, error)
	write = func(d *dirNode) (model.TreeID, error) {
		t := model.NewTree()
		for name, e := range d.files {
			t.Entries[name] = e
		}
		for name, sub := range d.dirs {
			subID, err := write(sub)
			if err != nil {
				return "", err
			}
			t.Entries[name] = model.TreeEntry{Kind: model.KindTree, ID: subID}
		}
		return g.WriteTree(t)
	}
	return write(root)
}
