package model

import (
	"github.com/siltvcs/silt/internal/merge"
)

// EntryKind discriminates tree entry values.
type EntryKind string

const (
	KindAbsent    EntryKind = ""          // no entry at this path
	KindFile      EntryKind = "file"      // regular file
	KindExec      EntryKind = "exec"      // executable file
	KindSymlink   EntryKind = "symlink"   // blob holds the link target
	KindSubmodule EntryKind = "submodule" // blob holds a foreign commit pointer
	KindTree      EntryKind = "tree"      // subtree
	KindConflict  EntryKind = "conflict"  // unresolved N-way merge
)

// EntryValue is one term of a tree entry: a kind plus the content id it
// points at. The zero value means "absent".
type EntryValue struct {
	Kind EntryKind `json:"kind,omitempty"`
	ID   FileID    `json:"id,omitempty"`
}

// AbsentValue is the term for a path with no entry.
var AbsentValue = EntryValue{}

// IsAbsent reports whether the value denotes no entry.
func (v EntryValue) IsAbsent() bool {
	return v.Kind == KindAbsent
}

// TreeEntry is a named slot in a tree. For a plain entry, Kind and ID
// describe the value directly. For Kind == KindConflict, Conflict holds the
// alternating positive/negative terms of the unresolved merge; invariant:
// the terms are always in simplified canonical form, and a conflict with a
// single positive term is stored as a plain entry instead.
type TreeEntry struct {
	Kind     EntryKind    `json:"kind"`
	ID       FileID       `json:"id,omitempty"`
	Conflict []EntryValue `json:"conflict,omitempty"`
}

// Tree is the on-disk envelope of a tree object: path component → entry.
type Tree struct {
	V       int                  `json:"v"`
	Entries map[string]TreeEntry `json:"entries"`
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{V: 1, Entries: make(map[string]TreeEntry)}
}

// EntryToMerge lifts a tree entry into a merge of entry values.
func EntryToMerge(e TreeEntry) merge.Merge[EntryValue] {
	if e.Kind == KindConflict {
		return merge.FromTerms(e.Conflict...)
	}
	return merge.Resolved(EntryValue{Kind: e.Kind, ID: e.ID})
}

// EntryFromMerge stores a merge of entry values as a tree entry, enforcing
// the canonical-form invariant: the merge is simplified first, and a merge
// that resolves to a single term becomes a plain entry (or no entry at all
// when resolved to absent).
func EntryFromMerge(m merge.Merge[EntryValue]) (TreeEntry, bool) {
	m = m.Simplify()
	if v, ok := m.AsResolved(); ok {
		if v.IsAbsent() {
			return TreeEntry{}, false
		}
		return TreeEntry{Kind: v.Kind, ID: v.ID}, true
	}
	return TreeEntry{Kind: KindConflict, Conflict: m.Terms()}, true
}
