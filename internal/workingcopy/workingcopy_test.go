package workingcopy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/store"
)

func openTestWC(t *testing.T) (*WorkingCopy, *graph.CommitGraph, string) {
	t.Helper()
	root := t.TempDir()
	siltDir := filepath.Join(root, ".silt")
	objects, err := store.NewObjectStore(filepath.Join(siltDir, "objects"))
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	g, err := graph.New(objects)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	wc, err := Open(root, filepath.Join(siltDir, "working_copy"), g)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return wc, g, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotTree_RecordsFiles(t *testing.T) {
	wc, g, root := openTestWC(t)
	empty, _ := g.EmptyTree()

	writeFile(t, root, "a.txt", "hello\n")
	writeFile(t, root, "dir/b.txt", "world\n")

	tree, err := wc.SnapshotTree(empty, nil)
	if err != nil {
		t.Fatalf("SnapshotTree: %v", err)
	}
	entries, err := g.ListTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want a.txt and dir/b.txt", entries)
	}
	data, err := g.Objects().Get(entries["dir/b.txt"].ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "world\n" {
		t.Errorf("dir/b.txt = %q", data)
	}
}

func TestSnapshotTree_Idempotent(t *testing.T) {
	wc, g, root := openTestWC(t)
	empty, _ := g.EmptyTree()

	writeFile(t, root, "f", "content\n")
	first, err := wc.SnapshotTree(empty, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := wc.SnapshotTree(first, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("unchanged tree snapshotted to %s, want %s", second, first)
	}
}

func TestSnapshotTree_DetectsDeletion(t *testing.T) {
	wc, g, root := openTestWC(t)
	empty, _ := g.EmptyTree()

	writeFile(t, root, "doomed", "x\n")
	first, err := wc.SnapshotTree(empty, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "doomed")); err != nil {
		t.Fatal(err)
	}
	second, err := wc.SnapshotTree(first, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := g.ListTree(second)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := entries["doomed"]; ok {
		t.Error("deleted file still recorded")
	}
}

func TestSnapshotTree_IgnoresSiltDir(t *testing.T) {
	wc, g, root := openTestWC(t)
	empty, _ := g.EmptyTree()

	writeFile(t, root, "tracked", "t\n")
	tree, err := wc.SnapshotTree(empty, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := g.ListTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	for path := range entries {
		if strings.HasPrefix(path, ".silt") {
			t.Errorf("repository data leaked into snapshot: %s", path)
		}
	}
	if len(entries) != 1 {
		t.Errorf("entries = %v, want only tracked", entries)
	}
}

func TestSnapshotTree_DirtyHint(t *testing.T) {
	wc, g, root := openTestWC(t)
	empty, _ := g.EmptyTree()

	writeFile(t, root, "a", "a\n")
	writeFile(t, root, "b", "b\n")
	base, err := wc.SnapshotTree(empty, nil)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, root, "b", "B2\n")
	tree, err := wc.SnapshotTree(base, map[string]bool{"b": true})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := g.ListTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	data, err := g.Objects().Get(entries["b"].ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "B2\n" {
		t.Errorf("b = %q, want hinted change picked up", data)
	}
	if _, ok := entries["a"]; !ok {
		t.Error("unhinted file dropped from snapshot")
	}
}

func TestMaterialize_RoundTrip(t *testing.T) {
	wc, g, root := openTestWC(t)

	blob := func(content string) model.TreeEntry {
		id, err := g.Objects().Put([]byte(content))
		if err != nil {
			t.Fatal(err)
		}
		return model.TreeEntry{Kind: model.KindFile, ID: id}
	}
	tree, err := g.BuildTree(map[string]model.TreeEntry{
		"x":       blob("x\n"),
		"sub/y":   blob("y\n"),
		"sub/z/w": blob("w\n"),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := wc.Materialize(tree); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "sub", "z", "w"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "w\n" {
		t.Errorf("sub/z/w = %q", data)
	}

	// Snapshot after materialize reproduces the same tree.
	got, err := wc.SnapshotTree(tree, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != tree {
		t.Errorf("snapshot after materialize = %s, want %s", got, tree)
	}
}

func TestMaterialize_RemovesStaleFiles(t *testing.T) {
	wc, g, root := openTestWC(t)
	empty, _ := g.EmptyTree()

	writeFile(t, root, "old/file", "o\n")
	tree, err := wc.SnapshotTree(empty, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = tree

	if err := wc.Materialize(empty); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "old", "file")); !os.IsNotExist(err) {
		t.Error("stale file survived materialize")
	}
	if _, err := os.Stat(filepath.Join(root, "old")); !os.IsNotExist(err) {
		t.Error("empty parent dir survived materialize")
	}
}

func TestMaterialize_ConflictMarkers(t *testing.T) {
	wc, g, root := openTestWC(t)

	term := func(content string) model.EntryValue {
		id, err := g.Objects().Put([]byte(content))
		if err != nil {
			t.Fatal(err)
		}
		return model.EntryValue{Kind: model.KindFile, ID: id}
	}
	entry, present := model.EntryFromMerge(merge.FromTerms(term("L\n"), term("b\n"), term("R\n")))
	if !present {
		t.Fatal("conflict entry absent")
	}
	tree, err := g.BuildTree(map[string]model.TreeEntry{"f": entry})
	if err != nil {
		t.Fatal(err)
	}

	if err := wc.Materialize(tree); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "f"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<<<<<<<") || !strings.Contains(string(data), ">>>>>>>") {
		t.Errorf("conflict not materialized with markers: %q", data)
	}

	// Untouched markers snapshot back to the identical conflict entry.
	got, err := wc.SnapshotTree(tree, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != tree {
		t.Errorf("snapshot after conflict materialize = %s, want %s", got, tree)
	}

	// Editing the file to plain text resolves the conflict.
	writeFile(t, root, "f", "done\n")
	resolved, err := wc.SnapshotTree(tree, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := g.ListTree(resolved)
	if err != nil {
		t.Fatal(err)
	}
	if entries["f"].Kind != model.KindFile {
		t.Errorf("f kind = %q, want plain file after resolution", entries["f"].Kind)
	}
}

func TestSnapshotTree_ExecutableBit(t *testing.T) {
	wc, g, root := openTestWC(t)
	empty, _ := g.EmptyTree()

	abs := filepath.Join(root, "run.sh")
	if err := os.WriteFile(abs, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	tree, err := wc.SnapshotTree(empty, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := g.ListTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	if entries["run.sh"].Kind != model.KindExec {
		t.Errorf("run.sh kind = %q, want exec", entries["run.sh"].Kind)
	}
}

func TestSnapshotTree_Symlink(t *testing.T) {
	wc, g, root := openTestWC(t)
	empty, _ := g.EmptyTree()

	writeFile(t, root, "target", "t\n")
	if err := os.Symlink("target", filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	tree, err := wc.SnapshotTree(empty, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := g.ListTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	e := entries["link"]
	if e.Kind != model.KindSymlink {
		t.Fatalf("link kind = %q, want symlink", e.Kind)
	}
	data, err := g.Objects().Get(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "target" {
		t.Errorf("link blob = %q, want target path", data)
	}
}

func TestWatcher_AccumulatesDirty(t *testing.T) {
	_, _, root := openTestWC(t)

	w, err := Watch(root)
	if err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}
	defer w.Stop()

	writeFile(t, root, "noticed", "n\n")

	seen := false
	for i := 0; i < 100 && !seen; i++ {
		if w.TakeDirty()["noticed"] {
			seen = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !seen {
		t.Error("watcher never reported the new file")
	}
}
