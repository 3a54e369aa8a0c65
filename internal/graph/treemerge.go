package graph

import (
	"fmt"

	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
)

// MergeTrees merges an N-way tree merge recursively. Trivially resolvable
// entries resolve; same-kind file entries get a line-based content merge;
// everything else becomes a conflict entry in simplified canonical form.
// Merging always succeeds — conflicts are results, not errors.
func (g *CommitGraph) MergeTrees(m merge.Merge[model.TreeID]) (model.TreeID, error) {
	m = m.Simplify()
	if id, ok := m.ResolveTrivial(); ok {
		return id, nil
	}

	terms := m.Terms()
	trees := make([]*model.Tree, len(terms))
	names := make(map[string]bool)
	for i, id := range terms {
		t, err := g.ReadTree(id)
		if err != nil {
			return "", err
		}
		trees[i] = t
		for name := range t.Entries {
			names[name] = true
		}
	}

	out := model.NewTree()
	for name := range names {
		subMerges := make([]merge.Merge[model.EntryValue], len(terms))
		for i, t := range trees {
			if e, ok := t.Entries[name]; ok {
				subMerges[i] = model.EntryToMerge(e)
			} else {
				subMerges[i] = merge.Resolved(model.AbsentValue)
			}
		}
		entryMerge := merge.Flatten(subMerges...).Simplify()

		merged, err := g.mergeEntry(entryMerge)
		if err != nil {
			return "", err
		}
		if entry, present := model.EntryFromMerge(merged); present {
			out.Entries[name] = entry
		}
	}
	return g.WriteTree(out)
}

// mergeEntry resolves one path's entry merge as far as possible and returns
// the (possibly still conflicted) result.
func (g *CommitGraph) mergeEntry(m merge.Merge[model.EntryValue]) (merge.Merge[model.EntryValue], error) {
	if _, ok := m.AsResolved(); ok {
		return m, nil
	}
	if v, ok := m.ResolveTrivial(); ok {
		return merge.Resolved(v), nil
	}

	allTrees := true
	allFiles := true
	for _, v := range m.Terms() {
		switch v.Kind {
		case model.KindTree:
			allFiles = false
		case model.KindAbsent:
			allFiles = false
		case model.KindFile, model.KindExec:
			allTrees = false
		default:
			allTrees = false
			allFiles = false
		}
	}

	if allTrees {
		// Absent terms act as the empty tree so a directory added on one
		// side merges cleanly.
		empty, err := g.EmptyTree()
		if err != nil {
			return m, err
		}
		subIDs := merge.Map(m, func(v model.EntryValue) model.TreeID {
			if v.IsAbsent() {
				return empty
			}
			return v.ID
		})
		mergedID, err := g.MergeTrees(subIDs)
		if err != nil {
			return m, err
		}
		return merge.Resolved(model.EntryValue{Kind: model.KindTree, ID: mergedID}), nil
	}

	if allFiles {
		contents, err := merge.TryMap(m, func(v model.EntryValue) (string, error) {
			data, err := g.objects.Get(v.ID)
			if err != nil {
				return "", err
			}
			return string(data), nil
		})
		if err != nil {
			return m, err
		}
		result := merge.MergeContents(contents)
		if result.Resolved {
			id, err := g.objects.Put([]byte(result.Content))
			if err != nil {
				return m, fmt.Errorf("store merged file: %w", err)
			}
			return merge.Resolved(model.EntryValue{Kind: mergedKind(m), ID: id}), nil
		}
	}

	return m, nil
}

// mergedKind resolves the file kind (executable bit) of a content-merged
// entry: trivial resolution across terms, falling back to the first side.
func mergedKind(m merge.Merge[model.EntryValue]) model.EntryKind {
	kinds := merge.Map(m, func(v model.EntryValue) model.EntryKind { return v.Kind })
	if k, ok := kinds.ResolveTrivial(); ok {
		return k
	}
	return m.First().Kind
}

// MergeCommitTrees folds the trees of the given commits into one merged
// tree, using a nearest common ancestor as the base of each pairwise step.
// This is the effective parent tree of a merge commit.
func (g *CommitGraph) MergeCommitTrees(ids []model.CommitID) (model.TreeID, error) {
	if len(ids) == 0 {
		return g.EmptyTree()
	}
	first, err := g.ReadCommit(ids[0])
	if err != nil {
		return "", err
	}
	result := first.Tree
	for _, id := range ids[1:] {
		c, err := g.ReadCommit(id)
		if err != nil {
			return "", err
		}
		baseTree, err := g.EmptyTree()
		if err != nil {
			return "", err
		}
		if ancestor, err := g.CommonAncestor(ids[0], id); err != nil {
			return "", err
		} else if ancestor != "" {
			ac, err := g.ReadCommit(ancestor)
			if err != nil {
				return "", err
			}
			baseTree = ac.Tree
		}
		result, err = g.MergeTrees(merge.FromTerms(result, baseTree, c.Tree))
		if err != nil {
			return "", err
		}
	}
	return result, nil
}
