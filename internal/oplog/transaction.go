package oplog

import (
	"errors"
	"fmt"
	"time"

	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/refs"
	"github.com/siltvcs/silt/internal/store"
)

// ErrContention is returned when the commit's advisory lock could not be
// acquired within the retry budget. The user may simply re-run the command.
var ErrContention = errors.New("operation log contended")

// ErrTransactionClosed is returned when a transaction is used after commit.
var ErrTransactionClosed = errors.New("transaction already committed")

// Transaction is the single mutation unit. It clones the base view, buffers
// all changes in memory, and on Commit appends one new operation with
// concurrency-safe head detection. An abandoned transaction leaves no
// trace. Transactions are single-owner: no cross-transaction sharing.
type Transaction struct {
	ops       *OpStore
	heads     *OpHeadsStore
	g         *graph.CommitGraph
	baseOpIDs []model.OperationID
	baseView  *model.View
	view      *model.View
	preds     map[model.CommitID][]model.CommitID
	start     time.Time
	username  string
	hostname  string
	done      bool
}

// Begin opens a transaction on the given base view, which must be the merge
// of baseOpIDs' views.
func Begin(ops *OpStore, heads *OpHeadsStore, g *graph.CommitGraph,
	baseOpIDs []model.OperationID, baseView *model.View, username, hostname string) *Transaction {
	return &Transaction{
		ops:       ops,
		heads:     heads,
		g:         g,
		baseOpIDs: append([]model.OperationID(nil), baseOpIDs...),
		baseView:  baseView,
		view:      baseView.Clone(),
		preds:     make(map[model.CommitID][]model.CommitID),
		start:     time.Now().UTC(),
		username:  username,
		hostname:  hostname,
	}
}

// View returns the transaction's mutable view.
func (tx *Transaction) View() *model.View {
	return tx.view
}

// BaseView returns the immutable view the transaction started from.
func (tx *Transaction) BaseView() *model.View {
	return tx.baseView
}

// AddHead adds a commit to the visible head set.
func (tx *Transaction) AddHead(id model.CommitID) {
	tx.view.AddHead(id)
}

// RemoveHead removes a commit from the visible head set.
func (tx *Transaction) RemoveHead(id model.CommitID) {
	tx.view.RemoveHead(id)
}

// SetRef applies a local ref mutation. Mutating a conflicted ref without
// resolveConflict reports refs.ErrConflictedRef.
func (tx *Transaction) SetRef(name string, target model.RefTarget, resolveConflict bool) error {
	return refs.SetLocal(tx.view, name, target, resolveConflict)
}

// SetWCCommit points a workspace's working copy at a commit.
func (tx *Transaction) SetWCCommit(workspace string, id model.CommitID) {
	tx.view.WCCommitIDs[workspace] = id
}

// SetView replaces the whole resulting view; undo is built on this.
func (tx *Transaction) SetView(v *model.View) {
	tx.view = v.Clone()
}

// RecordRewrite notes that newID supersedes the given predecessors, for the
// operation's predecessor record.
func (tx *Transaction) RecordRewrite(newID model.CommitID, predecessors ...model.CommitID) {
	tx.preds[newID] = append(tx.preds[newID], predecessors...)
}

// Commit appends the transaction as a new operation and returns its id.
//
// Under the advisory lock, the current operation heads are re-read. If they
// still match the transaction's base, the new operation extends it
// directly. If a concurrent writer committed first, the transaction's view
// is merged with every new head over the base view, and the new operation
// records all current heads as parents; concurrent races always resolve,
// never error. Lock exhaustion is the only contention failure, reported as
// ErrContention.
func (tx *Transaction) Commit(description string, isSnapshot bool, tags map[string]string) (model.OperationID, error) {
	if tx.done {
		return "", ErrTransactionClosed
	}

	lock, err := tx.heads.Lock()
	if err != nil {
		if errors.Is(err, store.ErrLockContended) {
			return "", fmt.Errorf("commit %q: %w", description, ErrContention)
		}
		return "", err
	}
	defer lock.Release()

	current, err := tx.heads.Heads()
	if err != nil {
		return "", err
	}

	parents := tx.baseOpIDs
	resultView := tx.view
	if !sameIDSet(current, tx.baseOpIDs) {
		base := make(map[model.OperationID]bool, len(tx.baseOpIDs))
		for _, id := range tx.baseOpIDs {
			base[id] = true
		}
		for _, h := range current {
			if base[h] {
				continue
			}
			hv, err := tx.ops.OpView(h)
			if err != nil {
				return "", err
			}
			resultView, err = MergeViews(tx.g, tx.baseView, resultView, hv)
			if err != nil {
				return "", err
			}
		}
		parents = current
	}

	viewID, err := tx.ops.WriteView(resultView)
	if err != nil {
		return "", err
	}
	op := &model.Operation{
		V:       1,
		ViewID:  viewID,
		Parents: parents,
		Meta: model.OperationMetadata{
			StartTime:   tx.start,
			EndTime:     time.Now().UTC(),
			Description: description,
			Username:    tx.username,
			Hostname:    tx.hostname,
			IsSnapshot:  isSnapshot,
			Tags:        tags,
		},
	}
	if len(tx.preds) > 0 {
		op.Predecessors = tx.preds
	}
	opID, err := tx.ops.WriteOperation(op)
	if err != nil {
		return "", err
	}
	if err := tx.heads.Update(opID, parents); err != nil {
		return "", err
	}
	tx.done = true
	return opID, nil
}

func sameIDSet(a, b []model.OperationID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[model.OperationID]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

// MergeHeads folds the views of the given operation heads into one view,
// pairwise, using a nearest common ancestor operation's view as each step's
// base. This is the pervasive read-path merge: any reader facing multiple
// heads reconstructs a current view this way.
func MergeHeads(ops *OpStore, g *graph.CommitGraph, heads []model.OperationID) (*model.View, error) {
	if len(heads) == 0 {
		return nil, fmt.Errorf("operation log has no heads")
	}
	view, err := ops.OpView(heads[0])
	if err != nil {
		return nil, err
	}
	folded := []model.OperationID{heads[0]}
	for _, h := range heads[1:] {
		ancestor, err := ops.CommonAncestor(folded, h)
		if err != nil {
			return nil, err
		}
		baseView := model.NewView()
		if ancestor != "" {
			baseView, err = ops.OpView(ancestor)
			if err != nil {
				return nil, err
			}
		}
		hv, err := ops.OpView(h)
		if err != nil {
			return nil, err
		}
		view, err = MergeViews(g, baseView, view, hv)
		if err != nil {
			return nil, err
		}
		folded = append(folded, h)
	}
	return view, nil
}
