package oplog

import (
	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/refs"
)

// MergeViews merges two divergent views over a common ancestor view. Head
// sets union and re-reduce to true heads; every ref merges 3-way; remote
// tracking state merges with last-writer-wins on the tracked flag;
// working-copy pointers are scalar 3-way with the left side winning a
// double move. Merging never errors on divergence — conflicted refs are
// valid results.
func MergeViews(g *graph.CommitGraph, base, left, right *model.View) (*model.View, error) {
	out := left.Clone()

	// Heads: apply the right side's additions and removals relative to the
	// base, then drop any head that became an ancestor of another.
	baseHeads := make(map[model.CommitID]bool, len(base.HeadIDs))
	for _, h := range base.HeadIDs {
		baseHeads[h] = true
	}
	rightHeads := make(map[model.CommitID]bool, len(right.HeadIDs))
	for _, h := range right.HeadIDs {
		rightHeads[h] = true
		if !baseHeads[h] {
			out.AddHead(h)
		}
	}
	for h := range baseHeads {
		if !rightHeads[h] {
			out.RemoveHead(h)
		}
	}
	reduced, err := g.ReduceHeads(out.HeadIDs)
	if err != nil {
		return nil, err
	}
	out.HeadIDs = reduced

	// Refs.
	for _, name := range unionRefNames(base, left, right) {
		merged := refs.MergeTargets(base.Ref(name), left.Ref(name), right.Ref(name))
		out.SetRef(name, merged)
	}

	// Remote tracking state.
	for _, remote := range unionRemotes(base, left, right) {
		for _, name := range unionRemoteRefNames(remote, base, left, right) {
			merged := refs.MergeRemoteRefs(
				base.RemoteRefState(remote, name),
				left.RemoteRefState(remote, name),
				right.RemoteRefState(remote, name),
			)
			out.SetRemoteRef(remote, name, merged)
		}
	}

	// Working-copy pointers.
	for _, ws := range unionWorkspaces(base, left, right) {
		b, l, r := base.WCCommitIDs[ws], left.WCCommitIDs[ws], right.WCCommitIDs[ws]
		merged := l
		if l == b {
			merged = r
		}
		if merged == "" {
			delete(out.WCCommitIDs, ws)
		} else {
			out.WCCommitIDs[ws] = merged
		}
	}

	return out, nil
}

func unionRefNames(views ...*model.View) []string {
	return unionKeys(func(v *model.View, add func(string)) {
		for name := range v.Refs {
			add(name)
		}
	}, views)
}

func unionRemotes(views ...*model.View) []string {
	return unionKeys(func(v *model.View, add func(string)) {
		for remote := range v.RemoteViews {
			add(remote)
		}
	}, views)
}

func unionRemoteRefNames(remote string, views ...*model.View) []string {
	return unionKeys(func(v *model.View, add func(string)) {
		for name := range v.RemoteViews[remote] {
			add(name)
		}
	}, views)
}

func unionWorkspaces(views ...*model.View) []string {
	return unionKeys(func(v *model.View, add func(string)) {
		for ws := range v.WCCommitIDs {
			add(ws)
		}
	}, views)
}

func unionKeys(collect func(*model.View, func(string)), views []*model.View) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, v := range views {
		collect(v, add)
	}
	return out
}
