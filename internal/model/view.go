package model

import (
	"sort"

	"github.com/siltvcs/silt/internal/merge"
)

// RefTarget is the target of a mutable ref, stored as the adds/removes of a
// merge over commit ids, with "" meaning absent. A normal ref has one add;
// a conflicted ref has two or more. Order is first-seen, never sorted:
// display keeps "mine vs theirs" ordering.
type RefTarget struct {
	Adds    []CommitID `json:"adds,omitempty"`
	Removes []CommitID `json:"removes,omitempty"`
}

// AbsentTarget is the target of a ref that does not exist.
func AbsentTarget() RefTarget {
	return RefTarget{}
}

// NormalTarget points a ref at a single commit.
func NormalTarget(id CommitID) RefTarget {
	return RefTarget{Adds: []CommitID{id}}
}

// IsAbsent reports whether the ref does not exist.
func (t RefTarget) IsAbsent() bool {
	return len(t.Adds) == 0 || (len(t.Adds) == 1 && t.Adds[0] == "")
}

// IsConflicted reports whether the ref has more than one surviving target.
func (t RefTarget) IsConflicted() bool {
	return len(t.Adds) > 1
}

// Single returns the sole target of an unconflicted, present ref.
func (t RefTarget) Single() (CommitID, bool) {
	if len(t.Adds) == 1 && t.Adds[0] != "" && len(t.Removes) == 0 {
		return t.Adds[0], true
	}
	return "", false
}

// ToMerge lifts the target into a merge value. Absent refs become a
// resolved merge of the empty id.
func (t RefTarget) ToMerge() merge.Merge[CommitID] {
	if len(t.Adds) == 0 {
		return merge.Resolved(CommitID(""))
	}
	return merge.FromRemovesAdds(t.Removes, t.Adds)
}

// TargetFromMerge stores a simplified merge back as a ref target.
func TargetFromMerge(m merge.Merge[CommitID]) RefTarget {
	m = m.Simplify()
	if v, ok := m.AsResolved(); ok {
		if v == "" {
			return AbsentTarget()
		}
		return NormalTarget(v)
	}
	return RefTarget{Adds: m.Adds(), Removes: m.Removes()}
}

// RemoteRef is the last-seen state of a ref on one remote. Only tracked
// remote refs participate in automatic merging with the local ref.
type RemoteRef struct {
	Target  RefTarget `json:"target"`
	Tracked bool      `json:"tracked,omitempty"`
}

// View is the complete repository state at one point in time: the visible
// head set, every ref, and the working-copy commit of each workspace.
// Immutable once recorded; Transaction mutates a private copy.
type View struct {
	V           int                             `json:"v"`
	HeadIDs     []CommitID                      `json:"head_ids"`
	Refs        map[string]RefTarget            `json:"refs,omitempty"`
	RemoteViews map[string]map[string]RemoteRef `json:"remote_views,omitempty"`
	WCCommitIDs map[string]CommitID             `json:"wc_commit_ids,omitempty"`
}

// NewView returns an empty view.
func NewView() *View {
	return &View{
		V:           1,
		Refs:        make(map[string]RefTarget),
		RemoteViews: make(map[string]map[string]RemoteRef),
		WCCommitIDs: make(map[string]CommitID),
	}
}

// Clone deep-copies the view so a transaction can mutate it privately.
func (v *View) Clone() *View {
	out := NewView()
	out.HeadIDs = append([]CommitID(nil), v.HeadIDs...)
	for name, t := range v.Refs {
		out.Refs[name] = cloneTarget(t)
	}
	for remote, refs := range v.RemoteViews {
		m := make(map[string]RemoteRef, len(refs))
		for name, r := range refs {
			m[name] = RemoteRef{Target: cloneTarget(r.Target), Tracked: r.Tracked}
		}
		out.RemoteViews[remote] = m
	}
	for ws, id := range v.WCCommitIDs {
		out.WCCommitIDs[ws] = id
	}
	return out
}

func cloneTarget(t RefTarget) RefTarget {
	return RefTarget{
		Adds:    append([]CommitID(nil), t.Adds...),
		Removes: append([]CommitID(nil), t.Removes...),
	}
}

// HasHead reports whether id is in the head set.
func (v *View) HasHead(id CommitID) bool {
	for _, h := range v.HeadIDs {
		if h == id {
			return true
		}
	}
	return false
}

// AddHead inserts id into the head set, keeping the set sorted and unique
// so the canonical serialization is deterministic.
func (v *View) AddHead(id CommitID) {
	if v.HasHead(id) {
		return
	}
	v.HeadIDs = append(v.HeadIDs, id)
	sort.Strings(v.HeadIDs)
}

// RemoveHead deletes id from the head set.
func (v *View) RemoveHead(id CommitID) {
	for i, h := range v.HeadIDs {
		if h == id {
			v.HeadIDs = append(v.HeadIDs[:i], v.HeadIDs[i+1:]...)
			return
		}
	}
}

// Ref returns the local target of the named ref, absent when missing.
func (v *View) Ref(name string) RefTarget {
	if t, ok := v.Refs[name]; ok {
		return t
	}
	return AbsentTarget()
}

// SetRef sets or deletes the local target of the named ref.
func (v *View) SetRef(name string, t RefTarget) {
	if t.IsAbsent() {
		delete(v.Refs, name)
		return
	}
	v.Refs[name] = t
}

// RemoteRefState returns the recorded state of a ref on a remote.
func (v *View) RemoteRefState(remote, name string) RemoteRef {
	if refs, ok := v.RemoteViews[remote]; ok {
		if r, ok := refs[name]; ok {
			return r
		}
	}
	return RemoteRef{Target: AbsentTarget()}
}

// SetRemoteRef records the state of a ref on a remote.
func (v *View) SetRemoteRef(remote, name string, r RemoteRef) {
	refs, ok := v.RemoteViews[remote]
	if !ok {
		refs = make(map[string]RemoteRef)
		v.RemoteViews[remote] = refs
	}
	if r.Target.IsAbsent() && !r.Tracked {
		delete(refs, name)
		if len(refs) == 0 {
			delete(v.RemoteViews, remote)
		}
		return
	}
	refs[name] = r
}
