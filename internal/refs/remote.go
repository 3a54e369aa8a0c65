package refs

import (
	"fmt"

	"github.com/siltvcs/silt/internal/model"
)

// RemoteSync is the network transport collaborator. Implementations fetch
// ref heads from and push commits to a named remote; this core never talks
// to the network itself.
type RemoteSync interface {
	// Fetch returns the refs matching pattern as (ref name → commit id).
	Fetch(pattern string) (map[string]model.CommitID, error)
	// Push uploads the given commits and points the remote ref at id.
	// A rejected push returns an error describing the reason.
	Push(commits []model.CommitID, refName string, id model.CommitID) error
}

// ApplyFetch records fetched remote ref positions in the view and merges
// tracked refs into their local counterparts using the previously recorded
// remote position as the 3-way base. Untracked remote refs are recorded but
// never merged. Fetch-driven transitions never error: divergence yields a
// conflicted local ref.
func ApplyFetch(view *model.View, remote string, fetched map[string]model.CommitID) {
	for name, id := range fetched {
		known := view.RemoteRefState(remote, name)
		newTarget := model.NormalTarget(id)
		view.SetRemoteRef(remote, name, model.RemoteRef{Target: newTarget, Tracked: known.Tracked})
		if !known.Tracked {
			continue
		}
		merged := MergeTargets(known.Target, view.Ref(name), newTarget)
		view.SetRef(name, merged)
	}
	// A tracked ref deleted on the remote merges the deletion in.
	var gone []string
	for name := range view.RemoteViews[remote] {
		if _, stillThere := fetched[name]; !stillThere {
			gone = append(gone, name)
		}
	}
	for _, name := range gone {
		known := view.RemoteRefState(remote, name)
		view.SetRemoteRef(remote, name, model.RemoteRef{Target: model.AbsentTarget(), Tracked: known.Tracked})
		if known.Tracked {
			merged := MergeTargets(known.Target, view.Ref(name), model.AbsentTarget())
			view.SetRef(name, merged)
		}
	}
}

// Track marks a remote ref as tracked and immediately merges its recorded
// position into the local ref.
func Track(view *model.View, remote, name string) {
	known := view.RemoteRefState(remote, name)
	view.SetRemoteRef(remote, name, model.RemoteRef{Target: known.Target, Tracked: true})
	if !known.Target.IsAbsent() {
		merged := MergeTargets(model.AbsentTarget(), view.Ref(name), known.Target)
		view.SetRef(name, merged)
	}
}

// Untrack clears the tracked flag; the remote ref no longer participates in
// automatic merges.
func Untrack(view *model.View, remote, name string) {
	known := view.RemoteRefState(remote, name)
	view.SetRemoteRef(remote, name, model.RemoteRef{Target: known.Target, Tracked: false})
}

// PushTarget returns the single commit a push of the named ref should use.
// Pushing a conflicted or absent ref is refused.
func PushTarget(view *model.View, name string) (model.CommitID, error) {
	t := view.Ref(name)
	if t.IsConflicted() {
		return "", fmt.Errorf("ref %s: %w", name, ErrConflictedRef)
	}
	id, ok := t.Single()
	if !ok {
		return "", fmt.Errorf("ref %s does not exist", name)
	}
	return id, nil
}
