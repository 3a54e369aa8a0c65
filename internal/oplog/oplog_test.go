package oplog

import (
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/store"
)

type testLog struct {
	ops   *OpStore
	heads *OpHeadsStore
	g     *graph.CommitGraph
}

func openTestLog(t *testing.T) *testLog {
	t.Helper()
	dir := t.TempDir()
	objects, err := store.NewObjectStore(filepath.Join(dir, "objects"))
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	g, err := graph.New(objects)
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	ops, err := NewOpStore(filepath.Join(dir, "op_store"))
	if err != nil {
		t.Fatalf("NewOpStore: %v", err)
	}
	heads, err := NewOpHeadsStore(filepath.Join(dir, "op_heads"))
	if err != nil {
		t.Fatalf("NewOpHeadsStore: %v", err)
	}
	return &testLog{ops: ops, heads: heads, g: g}
}

// seedRoot installs a root operation over an empty view holding one head
// commit, and returns the op id and the commit id.
func (l *testLog) seedRoot(t *testing.T) (model.OperationID, model.CommitID) {
	t.Helper()
	empty, err := l.g.EmptyTree()
	if err != nil {
		t.Fatal(err)
	}
	cid, err := l.g.WriteCommit(&model.Commit{V: 1, Tree: empty, ChangeID: model.NewChangeID()})
	if err != nil {
		t.Fatal(err)
	}
	view := model.NewView()
	view.AddHead(cid)
	opID := l.writeOp(t, view, nil, "root")
	if err := l.heads.Update(opID, nil); err != nil {
		t.Fatal(err)
	}
	return opID, cid
}

func (l *testLog) writeOp(t *testing.T, view *model.View, parents []model.OperationID, desc string) model.OperationID {
	t.Helper()
	viewID, err := l.ops.WriteView(view)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	opID, err := l.ops.WriteOperation(&model.Operation{
		V: 1, ViewID: viewID, Parents: parents,
		Meta: model.OperationMetadata{StartTime: now, EndTime: now, Description: desc},
	})
	if err != nil {
		t.Fatal(err)
	}
	return opID
}

func (l *testLog) begin(t *testing.T) *Transaction {
	t.Helper()
	heads, err := l.heads.Heads()
	if err != nil {
		t.Fatal(err)
	}
	view, err := MergeHeads(l.ops, l.g, heads)
	if err != nil {
		t.Fatal(err)
	}
	return Begin(l.ops, l.heads, l.g, heads, view, "tester", "host")
}

func (l *testLog) commitOn(t *testing.T, parent model.CommitID, desc string) model.CommitID {
	t.Helper()
	empty, err := l.g.EmptyTree()
	if err != nil {
		t.Fatal(err)
	}
	id, err := l.g.WriteCommit(&model.Commit{
		V: 1, Parents: []model.CommitID{parent}, Tree: empty,
		ChangeID: model.NewChangeID(), Description: desc,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestTransaction_CommitAdvancesHead(t *testing.T) {
	l := openTestLog(t)
	rootOp, base := l.seedRoot(t)

	tx := l.begin(t)
	child := l.commitOn(t, base, "child")
	tx.AddHead(child)
	tx.RemoveHead(base)
	opID, err := tx.Commit("add child", false, nil)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	heads, err := l.heads.Heads()
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 || heads[0] != opID {
		t.Fatalf("heads = %v, want [%s]", heads, opID)
	}
	op, err := l.ops.ReadOperation(opID)
	if err != nil {
		t.Fatal(err)
	}
	if len(op.Parents) != 1 || op.Parents[0] != rootOp {
		t.Errorf("parents = %v, want [%s]", op.Parents, rootOp)
	}
	view, err := l.ops.OpView(opID)
	if err != nil {
		t.Fatal(err)
	}
	if !view.HasHead(child) || view.HasHead(base) {
		t.Errorf("view heads = %v", view.HeadIDs)
	}
	if op.Meta.Description != "add child" || op.Meta.Username != "tester" {
		t.Errorf("metadata = %+v", op.Meta)
	}
}

func TestTransaction_DoubleCommitFails(t *testing.T) {
	l := openTestLog(t)
	l.seedRoot(t)

	tx := l.begin(t)
	if _, err := tx.Commit("first", false, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Commit("second", false, nil); err != ErrTransactionClosed {
		t.Errorf("second commit = %v, want ErrTransactionClosed", err)
	}
}

func TestTransaction_ConcurrentCommitsMerge(t *testing.T) {
	l := openTestLog(t)
	_, base := l.seedRoot(t)

	// Both transactions start from the same single head.
	tx1 := l.begin(t)
	tx2 := l.begin(t)

	c1 := l.commitOn(t, base, "one")
	tx1.AddHead(c1)
	if err := tx1.SetRef("one", model.NormalTarget(c1), false); err != nil {
		t.Fatal(err)
	}
	op1, err := tx1.Commit("writer one", false, nil)
	if err != nil {
		t.Fatal(err)
	}

	c2 := l.commitOn(t, base, "two")
	tx2.AddHead(c2)
	if err := tx2.SetRef("two", model.NormalTarget(c2), false); err != nil {
		t.Fatal(err)
	}
	op2, err := tx2.Commit("writer two", false, nil)
	if err != nil {
		t.Fatal(err)
	}

	// The second commit noticed the first and merged: one head whose view
	// holds both writers' changes.
	heads, err := l.heads.Heads()
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 1 || heads[0] != op2 {
		t.Fatalf("heads = %v, want [%s]", heads, op2)
	}
	mergedOp, err := l.ops.ReadOperation(op2)
	if err != nil {
		t.Fatal(err)
	}
	if len(mergedOp.Parents) != 1 || mergedOp.Parents[0] != op1 {
		t.Errorf("merged parents = %v, want [%s]", mergedOp.Parents, op1)
	}

	view, err := l.ops.OpView(op2)
	if err != nil {
		t.Fatal(err)
	}
	if !view.HasHead(c1) || !view.HasHead(c2) {
		t.Errorf("merged view heads = %v, want both writers' commits", view.HeadIDs)
	}
	for _, name := range []string{"one", "two"} {
		if view.Ref(name).IsAbsent() {
			t.Errorf("ref %s lost in merge", name)
		}
	}
}

func TestMergeHeads_TwoHeads(t *testing.T) {
	l := openTestLog(t)
	rootOp, base := l.seedRoot(t)

	// Simulate two processes that raced to publish heads: both ops descend
	// from the root and neither saw the other.
	rootView, err := l.ops.OpView(rootOp)
	if err != nil {
		t.Fatal(err)
	}

	vA := rootView.Clone()
	cA := l.commitOn(t, base, "A")
	vA.AddHead(cA)
	vA.SetRef("a", model.NormalTarget(cA))
	opA := l.writeOp(t, vA, []model.OperationID{rootOp}, "op A")

	vB := rootView.Clone()
	cB := l.commitOn(t, base, "B")
	vB.AddHead(cB)
	vB.SetRef("b", model.NormalTarget(cB))
	opB := l.writeOp(t, vB, []model.OperationID{rootOp}, "op B")

	// Each publisher retires the root head it descends from; the second
	// removal is a no-op, leaving both new ops as heads.
	if err := l.heads.Update(opA, []model.OperationID{rootOp}); err != nil {
		t.Fatal(err)
	}
	if err := l.heads.Update(opB, []model.OperationID{rootOp}); err != nil {
		t.Fatal(err)
	}
	heads, err := l.heads.Heads()
	if err != nil {
		t.Fatal(err)
	}
	if len(heads) != 2 {
		t.Fatalf("heads = %v, want 2", heads)
	}

	view, err := MergeHeads(l.ops, l.g, heads)
	if err != nil {
		t.Fatalf("MergeHeads: %v", err)
	}
	if !view.HasHead(cA) || !view.HasHead(cB) {
		t.Errorf("merged heads = %v", view.HeadIDs)
	}
	if view.Ref("a").IsAbsent() || view.Ref("b").IsAbsent() {
		t.Errorf("refs lost in merge: %v", view.Refs)
	}
	// base is an ancestor of both new commits and must not survive.
	if view.HasHead(base) {
		t.Error("ancestor head survived merge")
	}
}

func TestMergeHeads_FoldOrderIndependent(t *testing.T) {
	l := openTestLog(t)
	rootOp, base := l.seedRoot(t)

	rootView, err := l.ops.OpView(rootOp)
	if err != nil {
		t.Fatal(err)
	}

	// Three writers race from the root, each adding its own commit and ref.
	names := []string{"a", "b", "c"}
	ops := make([]model.OperationID, len(names))
	commits := make(map[string]model.CommitID, len(names))
	for i, name := range names {
		v := rootView.Clone()
		c := l.commitOn(t, base, name)
		v.AddHead(c)
		v.SetRef(name, model.NormalTarget(c))
		ops[i] = l.writeOp(t, v, []model.OperationID{rootOp}, "op "+name)
		commits[name] = c
	}

	orders := [][]model.OperationID{
		{ops[0], ops[1], ops[2]},
		{ops[2], ops[0], ops[1]},
		{ops[1], ops[2], ops[0]},
	}
	views := make([]*model.View, len(orders))
	for i, order := range orders {
		v, err := MergeHeads(l.ops, l.g, order)
		if err != nil {
			t.Fatalf("MergeHeads(%v): %v", order, err)
		}
		views[i] = v
	}

	want := views[0]
	for _, name := range names {
		if id, ok := want.Ref(name).Single(); !ok || id != commits[name] {
			t.Fatalf("ref %s = %+v, want %s", name, want.Ref(name), commits[name])
		}
	}
	wantHeads := append([]model.CommitID(nil), want.HeadIDs...)
	sort.Strings(wantHeads)
	for i, v := range views[1:] {
		gotHeads := append([]model.CommitID(nil), v.HeadIDs...)
		sort.Strings(gotHeads)
		if !reflect.DeepEqual(gotHeads, wantHeads) {
			t.Errorf("order %d heads = %v, want %v", i+1, gotHeads, wantHeads)
		}
		for _, name := range names {
			gotID, gotOK := v.Ref(name).Single()
			wantID, wantOK := want.Ref(name).Single()
			if gotID != wantID || gotOK != wantOK {
				t.Errorf("order %d ref %s = %+v, want %+v", i+1, name, v.Ref(name), want.Ref(name))
			}
		}
		if !reflect.DeepEqual(v.WCCommitIDs, want.WCCommitIDs) {
			t.Errorf("order %d wc pointers = %v, want %v", i+1, v.WCCommitIDs, want.WCCommitIDs)
		}
	}
}

func TestMergeViews_RefDivergenceConflicts(t *testing.T) {
	l := openTestLog(t)
	_, base := l.seedRoot(t)

	cY := l.commitOn(t, base, "Y")
	cZ := l.commitOn(t, base, "Z")

	baseView := model.NewView()
	baseView.AddHead(base)
	baseView.SetRef("main", model.NormalTarget(base))

	left := baseView.Clone()
	left.SetRef("main", model.NormalTarget(cY))
	left.AddHead(cY)
	right := baseView.Clone()
	right.SetRef("main", model.NormalTarget(cZ))
	right.AddHead(cZ)

	merged, err := MergeViews(l.g, baseView, left, right)
	if err != nil {
		t.Fatalf("MergeViews: %v", err)
	}
	target := merged.Ref("main")
	if !target.IsConflicted() {
		t.Fatalf("main = %+v, want conflicted", target)
	}
	if target.Adds[0] != cY || target.Adds[1] != cZ {
		t.Errorf("Adds = %v, want [%s %s]", target.Adds, cY, cZ)
	}
	if len(target.Removes) != 1 || target.Removes[0] != base {
		t.Errorf("Removes = %v, want [%s]", target.Removes, base)
	}
}

func TestLog_NewestFirst(t *testing.T) {
	l := openTestLog(t)
	rootOp, base := l.seedRoot(t)

	tx := l.begin(t)
	tx.AddHead(l.commitOn(t, base, "x"))
	op2, err := tx.Commit("second", false, nil)
	if err != nil {
		t.Fatal(err)
	}

	entries, err := l.ops.Log(op2, 10)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].ID != op2 || entries[1].ID != rootOp {
		t.Errorf("order = [%s %s], want newest first", entries[0].ID, entries[1].ID)
	}

	limited, err := l.ops.Log(op2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != op2 {
		t.Errorf("limited = %v", limited)
	}
}

func TestOpStore_PredecessorRecordSurvives(t *testing.T) {
	l := openTestLog(t)
	_, base := l.seedRoot(t)

	tx := l.begin(t)
	newC := l.commitOn(t, base, "amended")
	tx.RecordRewrite(newC, base)
	opID, err := tx.Commit("amend", false, nil)
	if err != nil {
		t.Fatal(err)
	}
	op, err := l.ops.ReadOperation(opID)
	if err != nil {
		t.Fatal(err)
	}
	preds, ok := op.Predecessors[newC]
	if !ok || len(preds) != 1 || preds[0] != base {
		t.Errorf("predecessors = %v, want %s -> [%s]", op.Predecessors, newC, base)
	}
}
