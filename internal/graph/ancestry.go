package graph

import (
	"sort"

	"github.com/siltvcs/silt/internal/model"
)

// IsAncestor reports whether ancestor is reachable from id by following
// parent edges. A commit is its own ancestor.
func (g *CommitGraph) IsAncestor(ancestor, id model.CommitID) (bool, error) {
	if ancestor == id {
		return true, nil
	}
	visited := map[model.CommitID]bool{id: true}
	queue := []model.CommitID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		c, err := g.ReadCommit(cur)
		if err != nil {
			return false, err
		}
		for _, p := range c.Parents {
			if p == ancestor {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// ReduceHeads removes every commit that is an ancestor of another commit in
// the set, leaving only true heads. Order of the result is sorted for
// deterministic serialization.
func (g *CommitGraph) ReduceHeads(ids []model.CommitID) ([]model.CommitID, error) {
	unique := make([]model.CommitID, 0, len(ids))
	seen := make(map[model.CommitID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	var heads []model.CommitID
	for _, id := range unique {
		ancestor := false
		for _, other := range unique {
			if other == id {
				continue
			}
			ok, err := g.IsAncestor(id, other)
			if err != nil {
				return nil, err
			}
			if ok {
				ancestor = true
				break
			}
		}
		if !ancestor {
			heads = append(heads, id)
		}
	}
	sort.Strings(heads)
	return heads, nil
}

// VisibleCommits returns every commit reachable from the given heads.
func (g *CommitGraph) VisibleCommits(heads []model.CommitID) (map[model.CommitID]*model.Commit, error) {
	out := make(map[model.CommitID]*model.Commit)
	queue := append([]model.CommitID(nil), heads...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := out[id]; ok {
			continue
		}
		c, err := g.ReadCommit(id)
		if err != nil {
			return nil, err
		}
		out[id] = c
		queue = append(queue, c.Parents...)
	}
	return out, nil
}

// CommonAncestor finds a nearest common ancestor of a and b by breadth-first
// search from both sides. When several candidates tie, the smallest id wins
// so the choice is deterministic.
func (g *CommitGraph) CommonAncestor(a, b model.CommitID) (model.CommitID, error) {
	fromA := map[model.CommitID]bool{a: true}
	fromB := map[model.CommitID]bool{b: true}
	queueA := []model.CommitID{a}
	queueB := []model.CommitID{b}

	step := func(queue []model.CommitID, mine, theirs map[model.CommitID]bool) ([]model.CommitID, []model.CommitID, error) {
		var next []model.CommitID
		var found []model.CommitID
		for _, id := range queue {
			if theirs[id] {
				found = append(found, id)
				continue
			}
			c, err := g.ReadCommit(id)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range c.Parents {
				if !mine[p] {
					mine[p] = true
					next = append(next, p)
				}
			}
		}
		return next, found, nil
	}

	for len(queueA) > 0 || len(queueB) > 0 {
		var found []model.CommitID
		var err error
		queueA, found, err = step(queueA, fromA, fromB)
		if err != nil {
			return "", err
		}
		if len(found) > 0 {
			sort.Strings(found)
			return found[0], nil
		}
		queueB, found, err = step(queueB, fromB, fromA)
		if err != nil {
			return "", err
		}
		if len(found) > 0 {
			sort.Strings(found)
			return found[0], nil
		}
	}
	return "", nil
}

// DivergentChanges returns the change ids that are visible on more than one
// commit in the view, with the offending commits. Divergence is a reported
// state, never auto-resolved.
func (g *CommitGraph) DivergentChanges(view *model.View) (map[model.ChangeID][]model.CommitID, error) {
	visible, err := g.VisibleCommits(view.HeadIDs)
	if err != nil {
		return nil, err
	}
	byChange := make(map[model.ChangeID][]model.CommitID)
	for id, c := range visible {
		byChange[c.ChangeID] = append(byChange[c.ChangeID], id)
	}
	out := make(map[model.ChangeID][]model.CommitID)
	for change, ids := range byChange {
		if len(ids) > 1 {
			sort.Strings(ids)
			out[change] = ids
		}
	}
	return out, nil
}
