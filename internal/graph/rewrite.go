package graph

import (
	"sort"

	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
)

// RebaseDescendants rewrites every visible descendant of the commits in
// replacements so that the whole graph is consistent again: children of a
// rewritten commit are rebased onto the replacement, transitively, in
// topological order. A commit with several rewritten parents is processed
// only after all replacements are known. Irreconcilable diffs never abort
// the pass — they are stored as tree conflicts in the rebased commit.
//
// The view is updated in place: heads, ref targets, and working-copy
// pointers that named a rewritten commit now name its replacement. The
// returned map extends replacements with every commit rewritten by the
// pass.
func (g *CommitGraph) RebaseDescendants(
	view *model.View,
	replacements map[model.CommitID]model.CommitID,
	committer model.Signature,
) (map[model.CommitID]model.CommitID, error) {
	visible, err := g.VisibleCommits(view.HeadIDs)
	if err != nil {
		return nil, err
	}

	// One index per visible commit; replacement propagation works on the
	// index mapping, so shared ancestors are processed exactly once.
	ids := make([]model.CommitID, 0, len(visible))
	for id := range visible {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	order, err := topoSort(ids, visible)
	if err != nil {
		return nil, err
	}

	replaced := make(map[model.CommitID]model.CommitID, len(replacements))
	for old, new_ := range replacements {
		replaced[old] = new_
	}

	for _, id := range order {
		if _, done := replaced[id]; done {
			continue
		}
		c := visible[id]
		newParents := make([]model.CommitID, len(c.Parents))
		changed := false
		for i, p := range c.Parents {
			if r, ok := replaced[p]; ok && r != p {
				newParents[i] = r
				changed = true
			} else {
				newParents[i] = p
			}
		}
		if !changed {
			continue
		}

		oldParentTree, err := g.MergeCommitTrees(c.Parents)
		if err != nil {
			return nil, err
		}
		newParentTree, err := g.MergeCommitTrees(newParents)
		if err != nil {
			return nil, err
		}
		// diff3: base = old parent tree, side A = old tree, side B = new
		// parent tree.
		newTree, err := g.MergeTrees(merge.FromTerms(c.Tree, oldParentTree, newParentTree))
		if err != nil {
			return nil, err
		}

		rebased := &model.Commit{
			V:            1,
			Parents:      newParents,
			Tree:         newTree,
			ChangeID:     c.ChangeID,
			Author:       c.Author,
			Committer:    committer,
			Description:  c.Description,
			Predecessors: []model.CommitID{id},
		}
		newID, err := g.WriteCommit(rebased)
		if err != nil {
			return nil, err
		}
		replaced[id] = newID
	}

	if err := g.applyReplacements(view, replaced); err != nil {
		return nil, err
	}
	return replaced, nil
}

// topoSort orders the visible commits parents-first (Kahn's algorithm over
// the visible subgraph). Ties break by id for determinism.
func topoSort(ids []model.CommitID, visible map[model.CommitID]*model.Commit) ([]model.CommitID, error) {
	indegree := make(map[model.CommitID]int, len(ids))
	children := make(map[model.CommitID][]model.CommitID, len(ids))
	for _, id := range ids {
		for _, p := range visible[id].Parents {
			if _, ok := visible[p]; !ok {
				continue
			}
			indegree[id]++
			children[p] = append(children[p], id)
		}
	}

	var ready []model.CommitID
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]model.CommitID, 0, len(ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		next := append([]model.CommitID(nil), children[id]...)
		sort.Strings(next)
		for _, child := range next {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	return order, nil
}

// applyReplacements rewires the view after a rewrite pass: heads move to
// their replacements (then re-reduce), ref targets and working-copy
// pointers follow.
func (g *CommitGraph) applyReplacements(view *model.View, replaced map[model.CommitID]model.CommitID) error {
	mapID := func(id model.CommitID) model.CommitID {
		if r, ok := replaced[id]; ok {
			return r
		}
		return id
	}

	heads := make([]model.CommitID, 0, len(view.HeadIDs))
	for _, h := range view.HeadIDs {
		heads = append(heads, mapID(h))
	}
	reduced, err := g.ReduceHeads(heads)
	if err != nil {
		return err
	}
	view.HeadIDs = reduced

	mapTarget := func(t model.RefTarget) model.RefTarget {
		out := model.RefTarget{
			Adds:    make([]model.CommitID, len(t.Adds)),
			Removes: make([]model.CommitID, len(t.Removes)),
		}
		for i, id := range t.Adds {
			out.Adds[i] = mapID(id)
		}
		for i, id := range t.Removes {
			out.Removes[i] = mapID(id)
		}
		return model.TargetFromMerge(out.ToMerge())
	}
	for name, t := range view.Refs {
		view.SetRef(name, mapTarget(t))
	}
	for ws, id := range view.WCCommitIDs {
		view.WCCommitIDs[ws] = mapID(id)
	}
	return nil
}
