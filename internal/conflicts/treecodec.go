package conflicts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
)

// Synthetic sibling suffixes for the tree-level conflict encoding. The
// encoded tree looks like a plain tree to conflict-unaware tools but keeps
// every term addressable, so decoding reconstructs the conflict exactly.
const (
	sideSuffix = ".silt-side-"
	baseSuffix = ".silt-base-"
)

// EncodeTree rewrites the tree rooted at id so it contains no conflict
// entries: each conflicted path becomes a marker file at the original name
// plus one sibling entry per present term, named `<name>.silt-side-<i>` or
// `<name>.silt-base-<i>`. The returned tree is a view for interchange; the
// original conflicted tree remains the source of truth in the store.
func (c *Codec) EncodeTree(id model.TreeID) (model.TreeID, error) {
	t, err := c.g.ReadTree(id)
	if err != nil {
		return "", err
	}
	out := model.NewTree()
	for name, entry := range t.Entries {
		switch entry.Kind {
		case model.KindTree:
			subID, err := c.EncodeTree(entry.ID)
			if err != nil {
				return "", err
			}
			out.Entries[name] = model.TreeEntry{Kind: model.KindTree, ID: subID}
		case model.KindConflict:
			terms := model.EntryToMerge(entry)
			marker, err := MaterializeFileConflict(c.g, terms)
			if err != nil {
				return "", err
			}
			markerID, err := c.g.Objects().Put(marker)
			if err != nil {
				return "", err
			}
			out.Entries[name] = model.TreeEntry{Kind: model.KindFile, ID: markerID}
			for i, v := range terms.Adds() {
				if v.IsAbsent() {
					continue
				}
				out.Entries[name+sideSuffix+strconv.Itoa(i)] = model.TreeEntry{Kind: v.Kind, ID: v.ID}
			}
			for i, v := range terms.Removes() {
				if v.IsAbsent() {
					continue
				}
				out.Entries[name+baseSuffix+strconv.Itoa(i)] = model.TreeEntry{Kind: v.Kind, ID: v.ID}
			}
		default:
			out.Entries[name] = entry
		}
	}
	return c.g.WriteTree(out)
}

// Codec encodes and decodes conflict trees against a commit graph.
type Codec struct {
	g *graph.CommitGraph
}

// NewCodec returns a Codec over g.
func NewCodec(g *graph.CommitGraph) *Codec {
	return &Codec{g: g}
}

// DecodeTree reverses EncodeTree: sibling side/base entries are folded back
// into a conflict entry at the original name and dropped from the tree. A
// tree without synthetic siblings decodes to itself; plain trees are not
// conflicts and are not required to round-trip the other way.
func (c *Codec) DecodeTree(id model.TreeID) (model.TreeID, error) {
	t, err := c.g.ReadTree(id)
	if err != nil {
		return "", err
	}

	type termSet struct {
		sides map[int]model.EntryValue
		bases map[int]model.EntryValue
	}
	conflicted := make(map[string]*termSet)
	get := func(name string) *termSet {
		ts, ok := conflicted[name]
		if !ok {
			ts = &termSet{sides: make(map[int]model.EntryValue), bases: make(map[int]model.EntryValue)}
			conflicted[name] = ts
		}
		return ts
	}

	out := model.NewTree()
	for name, entry := range t.Entries {
		if entry.Kind == model.KindTree {
			subID, err := c.DecodeTree(entry.ID)
			if err != nil {
				return "", err
			}
			out.Entries[name] = model.TreeEntry{Kind: model.KindTree, ID: subID}
			continue
		}
		if orig, idx, isSide, ok := parseSyntheticName(name); ok {
			ts := get(orig)
			v := model.EntryValue{Kind: entry.Kind, ID: entry.ID}
			if isSide {
				ts.sides[idx] = v
			} else {
				ts.bases[idx] = v
			}
			continue
		}
		out.Entries[name] = entry
	}

	names := make([]string, 0, len(conflicted))
	for name := range conflicted {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ts := conflicted[name]
		numSides := 0
		for i := range ts.sides {
			if i+1 > numSides {
				numSides = i + 1
			}
		}
		for i := range ts.bases {
			if i+2 > numSides {
				numSides = i + 2
			}
		}
		if numSides < 2 {
			return "", fmt.Errorf("decode conflict %s: fewer than two sides", name)
		}
		adds := make([]model.EntryValue, numSides)
		removes := make([]model.EntryValue, numSides-1)
		for i := range adds {
			adds[i] = ts.sides[i] // zero value is absent
		}
		for i := range removes {
			removes[i] = ts.bases[i]
		}
		entry, present := model.EntryFromMerge(merge.FromRemovesAdds(removes, adds))
		if present {
			out.Entries[name] = entry
		} else {
			delete(out.Entries, name)
		}
	}
	return c.g.WriteTree(out)
}

// parseSyntheticName splits a synthetic sibling name into the original
// path, the term index, and whether it is a side (positive) term.
func parseSyntheticName(name string) (orig string, idx int, isSide bool, ok bool) {
	for _, suffix := range []string{sideSuffix, baseSuffix} {
		i := strings.LastIndex(name, suffix)
		if i < 0 {
			continue
		}
		n, err := strconv.Atoi(name[i+len(suffix):])
		if err != nil {
			continue
		}
		return name[:i], n, suffix == sideSuffix, true
	}
	return "", 0, false, false
}
