package repo

import (
	"fmt"

	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/oplog"
	"github.com/siltvcs/silt/internal/refs"
	"github.com/siltvcs/silt/internal/store"
)

// writeCommit stores a commit, signing it first when a signer is plugged
// in.
func (r *Repository) writeCommit(c *model.Commit) (model.CommitID, error) {
	if r.Signer != nil {
		payload, err := store.CanonicalJSON(c)
		if err != nil {
			return "", err
		}
		sig, err := r.Signer.Sign(payload)
		if err != nil {
			return "", fmt.Errorf("sign commit: %w", err)
		}
		c.SigData = sig
	}
	return r.Graph.WriteCommit(c)
}

// Snapshot records filesystem divergence as an amended working-copy commit
// inside tx. Returns the (possibly unchanged) working-copy commit id and
// whether anything changed: snapshotting an unmodified tree writes no new
// commit. Every command implicitly snapshots before acting.
func (r *Repository) Snapshot(tx *oplog.Transaction, dirty map[string]bool) (model.CommitID, bool, error) {
	if dirty == nil && r.watcher != nil {
		hints := r.watcher.TakeDirty()
		if r.watcherPrimed {
			dirty = hints
		} else {
			// The hints accumulated so far are covered by the full walk.
			r.watcherPrimed = true
		}
	}
	view := tx.View()
	wcID, ok := view.WCCommitIDs[DefaultWorkspace]
	if !ok {
		return "", false, fmt.Errorf("workspace %s has no working-copy commit", DefaultWorkspace)
	}
	wcCommit, err := r.Graph.ReadCommit(wcID)
	if err != nil {
		return "", false, err
	}
	newTree, err := r.WC.SnapshotTree(wcCommit.Tree, dirty)
	if err != nil {
		return "", false, err
	}
	if newTree == wcCommit.Tree {
		return wcID, false, nil
	}
	return r.amendWorkingCopy(tx, wcCommit, wcID, newTree)
}

// amendWorkingCopy replaces the working-copy commit with one holding
// newTree, keeping its change id, and rebases any descendants.
func (r *Repository) amendWorkingCopy(tx *oplog.Transaction, wcCommit *model.Commit, wcID model.CommitID, newTree model.TreeID) (model.CommitID, bool, error) {
	amended := &model.Commit{
		V:            1,
		Parents:      wcCommit.Parents,
		Tree:         newTree,
		ChangeID:     wcCommit.ChangeID,
		Author:       wcCommit.Author,
		Committer:    r.signatureNow(),
		Description:  wcCommit.Description,
		Predecessors: []model.CommitID{wcID},
	}
	newID, err := r.writeCommit(amended)
	if err != nil {
		return "", false, err
	}
	tx.RecordRewrite(newID, wcID)
	if _, err := r.Graph.RebaseDescendants(tx.View(), map[model.CommitID]model.CommitID{wcID: newID}, r.signatureNow()); err != nil {
		return "", false, err
	}
	return newID, true, nil
}

// Describe rewrites a commit's description. The original object is
// untouched; a new commit supersedes it and descendants are rebased.
func (r *Repository) Describe(tx *oplog.Transaction, id model.CommitID, description string) (model.CommitID, error) {
	if id == r.RootCommitID {
		return "", fmt.Errorf("cannot rewrite the root commit")
	}
	c, err := r.Graph.ReadCommit(id)
	if err != nil {
		return "", err
	}
	rewritten := &model.Commit{
		V:            1,
		Parents:      c.Parents,
		Tree:         c.Tree,
		ChangeID:     c.ChangeID,
		Author:       c.Author,
		Committer:    r.signatureNow(),
		Description:  description,
		Predecessors: []model.CommitID{id},
	}
	newID, err := r.writeCommit(rewritten)
	if err != nil {
		return "", err
	}
	tx.RecordRewrite(newID, id)
	if _, err := r.Graph.RebaseDescendants(tx.View(), map[model.CommitID]model.CommitID{id: newID}, r.signatureNow()); err != nil {
		return "", err
	}
	return newID, nil
}

// Rebase moves a commit onto new parents and rebases its descendants.
// Irreconcilable diffs become stored tree conflicts; the rewrite always
// succeeds.
func (r *Repository) Rebase(tx *oplog.Transaction, id model.CommitID, newParents []model.CommitID) (model.CommitID, error) {
	if id == r.RootCommitID {
		return "", fmt.Errorf("cannot rewrite the root commit")
	}
	c, err := r.Graph.ReadCommit(id)
	if err != nil {
		return "", err
	}
	oldParentTree, err := r.Graph.MergeCommitTrees(c.Parents)
	if err != nil {
		return "", err
	}
	newParentTree, err := r.Graph.MergeCommitTrees(newParents)
	if err != nil {
		return "", err
	}
	newTree, err := r.Graph.MergeTrees(merge.FromTerms(c.Tree, oldParentTree, newParentTree))
	if err != nil {
		return "", err
	}
	rewritten := &model.Commit{
		V:            1,
		Parents:      newParents,
		Tree:         newTree,
		ChangeID:     c.ChangeID,
		Author:       c.Author,
		Committer:    r.signatureNow(),
		Description:  c.Description,
		Predecessors: []model.CommitID{id},
	}
	newID, err := r.writeCommit(rewritten)
	if err != nil {
		return "", err
	}
	tx.RecordRewrite(newID, id)
	if _, err := r.Graph.RebaseDescendants(tx.View(), map[model.CommitID]model.CommitID{id: newID}, r.signatureNow()); err != nil {
		return "", err
	}
	return newID, nil
}

// NewChange creates a fresh empty change on top of the given parents and
// makes it the working-copy commit.
func (r *Repository) NewChange(tx *oplog.Transaction, parents []model.CommitID, description string) (model.CommitID, error) {
	tree, err := r.Graph.MergeCommitTrees(parents)
	if err != nil {
		return "", err
	}
	sig := r.signatureNow()
	c := &model.Commit{
		V:           1,
		Parents:     parents,
		Tree:        tree,
		ChangeID:    model.NewChangeID(),
		Author:      sig,
		Committer:   sig,
		Description: description,
	}
	id, err := r.writeCommit(c)
	if err != nil {
		return "", err
	}
	tx.AddHead(id)
	for _, p := range parents {
		tx.RemoveHead(p)
	}
	tx.SetWCCommit(DefaultWorkspace, id)
	return id, nil
}

// ResolvePath records an explicit resolution for a conflicted path in the
// working-copy commit: the literal content becomes the new file entry.
func (r *Repository) ResolvePath(tx *oplog.Transaction, path string, content []byte) (model.CommitID, error) {
	view := tx.View()
	wcID := view.WCCommitIDs[DefaultWorkspace]
	wcCommit, err := r.Graph.ReadCommit(wcID)
	if err != nil {
		return "", err
	}
	entries, err := r.Graph.ListTree(wcCommit.Tree)
	if err != nil {
		return "", err
	}
	if entries[path].Kind != model.KindConflict {
		return "", fmt.Errorf("path %s is not conflicted", path)
	}
	blobID, err := r.Objects.Put(content)
	if err != nil {
		return "", err
	}
	entries[path] = model.TreeEntry{Kind: model.KindFile, ID: blobID}
	newTree, err := r.Graph.BuildTree(entries)
	if err != nil {
		return "", err
	}
	newID, _, err := r.amendWorkingCopy(tx, wcCommit, wcID, newTree)
	return newID, err
}

// Undo reverts exactly one step: a new forward operation whose view is the
// view of the target operation's (first) parent. History is preserved and
// undo is itself undoable.
func (r *Repository) Undo(target model.OperationID) (model.OperationID, error) {
	if target == "" {
		head, err := r.CurrentOperation()
		if err != nil {
			return "", err
		}
		target = head
	}
	op, err := r.Ops.ReadOperation(target)
	if err != nil {
		return "", err
	}
	if len(op.Parents) == 0 {
		return "", fmt.Errorf("cannot undo the root operation")
	}
	parentView, err := r.Ops.OpView(op.Parents[0])
	if err != nil {
		return "", err
	}
	tx, err := r.StartTransaction()
	if err != nil {
		return "", err
	}
	tx.SetView(parentView)
	return tx.Commit(fmt.Sprintf("undo operation %s", shortID(target)), false, nil)
}

// Fetch records remote ref positions from the transport and merges tracked
// refs into their local counterparts. Newly fetched commits join the head
// set, which is then re-reduced.
func (r *Repository) Fetch(tx *oplog.Transaction, remote string, rs refs.RemoteSync, pattern string) error {
	fetched, err := rs.Fetch(pattern)
	if err != nil {
		return fmt.Errorf("fetch from %s: %w", remote, err)
	}
	view := tx.View()
	refs.ApplyFetch(view, remote, fetched)
	for _, id := range fetched {
		view.AddHead(id)
	}
	reduced, err := r.Graph.ReduceHeads(view.HeadIDs)
	if err != nil {
		return err
	}
	view.HeadIDs = reduced
	return nil
}

// Push uploads the named ref's target and its ancestors. Pushing a
// conflicted ref is refused; resolve it first.
func (r *Repository) Push(tx *oplog.Transaction, remote string, rs refs.RemoteSync, name string) error {
	view := tx.View()
	id, err := refs.PushTarget(view, name)
	if err != nil {
		return err
	}
	visible, err := r.Graph.VisibleCommits([]model.CommitID{id})
	if err != nil {
		return err
	}
	commits := make([]model.CommitID, 0, len(visible))
	for cid := range visible {
		commits = append(commits, cid)
	}
	if err := rs.Push(commits, name, id); err != nil {
		return fmt.Errorf("push %s to %s: %w", name, remote, err)
	}
	known := view.RemoteRefState(remote, name)
	view.SetRemoteRef(remote, name, model.RemoteRef{Target: model.NormalTarget(id), Tracked: known.Tracked})
	return nil
}

// FinishTransaction commits tx and rewrites the working tree from the view
// that actually resulted. Commit may fold in concurrent writers' heads, so
// the merged view is re-read rather than materializing the transaction's
// own, possibly stale, view.
func (r *Repository) FinishTransaction(tx *oplog.Transaction, description string) (model.OperationID, error) {
	opID, err := tx.Commit(description, false, nil)
	if err != nil {
		return "", err
	}
	view, _, err := r.CurrentView()
	if err != nil {
		return "", err
	}
	if err := r.Materialize(view); err != nil {
		return "", fmt.Errorf("update working tree: %w", err)
	}
	return opID, nil
}

// Materialize writes the working-copy commit's tree onto the filesystem.
func (r *Repository) Materialize(view *model.View) error {
	wcID, ok := view.WCCommitIDs[DefaultWorkspace]
	if !ok {
		return fmt.Errorf("workspace %s has no working-copy commit", DefaultWorkspace)
	}
	c, err := r.Graph.ReadCommit(wcID)
	if err != nil {
		return err
	}
	return r.WC.Materialize(c.Tree)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
