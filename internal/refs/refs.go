// Package refs implements merging of mutable ref state: the 3-way merge of
// local targets that concurrent writers and fetches funnel through, and the
// rules for remote-tracking state. A ref whose merge leaves more than one
// surviving target is conflicted — a first-class state, not an error. Only
// explicit local mutation of a conflicted ref is refused.
package refs

import (
	"errors"

	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
)

// ErrConflictedRef is returned when a local mutation targets a conflicted
// ref without an explicit new target to disambiguate.
var ErrConflictedRef = errors.New("ref is conflicted; resolve it with an explicit target")

// MergeTargets merges two divergent ref targets over a common base. Both
// sides' added and removed commits combine; if the sides moved the ref to
// different non-ancestor commits the result holds all surviving targets in
// first-seen order. Never errors.
func MergeTargets(base, left, right model.RefTarget) model.RefTarget {
	if targetsEqual(left, right) {
		return left
	}
	flat := merge.Flatten(left.ToMerge(), base.ToMerge(), right.ToMerge())
	if v, ok := flat.ResolveTrivial(); ok {
		if v == "" {
			return model.AbsentTarget()
		}
		return model.NormalTarget(v)
	}
	return model.TargetFromMerge(flat)
}

// MergeRemoteRefs merges the recorded state of one remote ref. The target
// follows the same 3-way rule as local refs; the tracked flag is
// last-writer-wins, preferring the side that changed it.
func MergeRemoteRefs(base, left, right model.RemoteRef) model.RemoteRef {
	tracked := left.Tracked
	if left.Tracked == base.Tracked {
		tracked = right.Tracked
	}
	return model.RemoteRef{
		Target:  MergeTargets(base.Target, left.Target, right.Target),
		Tracked: tracked,
	}
}

func targetsEqual(a, b model.RefTarget) bool {
	return merge.Equal(a.ToMerge(), b.ToMerge())
}

// SetLocal applies an explicit local mutation (create, move, or delete) to
// the named ref in the view. Mutating a currently conflicted ref requires
// the caller to pass an explicit resolution; without one the mutation is
// refused with ErrConflictedRef.
func SetLocal(view *model.View, name string, target model.RefTarget, resolveConflict bool) error {
	if view.Ref(name).IsConflicted() && !resolveConflict {
		return ErrConflictedRef
	}
	view.SetRef(name, target)
	return nil
}
