package conflicts

import (
	"strings"
	"testing"

	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
	"github.com/siltvcs/silt/internal/store"
)

func testGraph(t *testing.T) *graph.CommitGraph {
	t.Helper()
	objects, err := store.NewObjectStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	g, err := graph.New(objects)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func fileTerm(t *testing.T, g *graph.CommitGraph, content string) model.EntryValue {
	t.Helper()
	id, err := g.Objects().Put([]byte(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return model.EntryValue{Kind: model.KindFile, ID: id}
}

func conflictTerms(t *testing.T, g *graph.CommitGraph, left, base, right string) merge.Merge[model.EntryValue] {
	t.Helper()
	return merge.FromTerms(fileTerm(t, g, left), fileTerm(t, g, base), fileTerm(t, g, right))
}

func TestMaterializeContents_MarkerFormat(t *testing.T) {
	m := merge.FromTerms("head\nLEFT\n", "head\nbase\n", "head\nRIGHT\n")
	out := string(MaterializeContents(m))

	wantLines := []string{
		"head\n",
		"<<<<<<< conflict 1 of 1\n",
		"+++++++ side #1\n",
		"LEFT\n",
		"------- base\n",
		"base\n",
		"+++++++ side #2\n",
		"RIGHT\n",
		">>>>>>>\n",
	}
	if out != strings.Join(wantLines, "") {
		t.Errorf("materialized:\n%s\nwant:\n%s", out, strings.Join(wantLines, ""))
	}
}

func TestMaterializeContents_ResolvedPassesThrough(t *testing.T) {
	m := merge.FromTerms("new\n", "old\n", "old\n")
	out := string(MaterializeContents(m))
	if out != "new\n" {
		t.Errorf("materialized = %q, want new", out)
	}
}

func TestMaterializeContents_MarkerLenGrows(t *testing.T) {
	// Content containing a marker-like line forces longer markers.
	m := merge.FromTerms("<<<<<<<<< not a marker\nL\n", "b\n", "R\n")
	out := string(MaterializeContents(m))
	if !strings.Contains(out, "<<<<<<<<<<<<< conflict") {
		t.Errorf("marker not lengthened past content:\n%s", out)
	}
}

func TestMaterializeContents_NoTrailingNewline(t *testing.T) {
	m := merge.FromTerms("left", "base\n", "right\n")
	out := string(MaterializeContents(m))
	if !strings.Contains(out, "side #1 (no terminating newline)\n") {
		t.Errorf("missing no-EOL comment:\n%s", out)
	}

	parsed, ok := ParseContents(out, 2)
	if !ok {
		t.Fatal("round-trip parse failed")
	}
	if parsed.Terms()[0] != "left" {
		t.Errorf("side 1 = %q, want %q", parsed.Terms()[0], "left")
	}
}

func TestParseContents_NoMarkers(t *testing.T) {
	m, ok := ParseContents("plain text\n", 2)
	if !ok {
		t.Fatal("plain text did not parse")
	}
	v, resolved := m.AsResolved()
	if !resolved || v != "plain text\n" {
		t.Errorf("parse = %v", m.Terms())
	}
}

func TestParseContents_RoundTrip(t *testing.T) {
	orig := merge.FromTerms("common\nLEFT\ntail\n", "common\nbase\ntail\n", "common\nRIGHT\ntail\n")
	out := MaterializeContents(orig)

	parsed, ok := ParseContents(string(out), 2)
	if !ok {
		t.Fatal("materialized output did not parse")
	}
	if !merge.Equal(parsed, orig) {
		t.Errorf("round trip:\n got %q\nwant %q", parsed.Terms(), orig.Terms())
	}
}

func TestParseContents_MalformedUnclosed(t *testing.T) {
	text := "<<<<<<< conflict 1 of 1\n+++++++ side #1\nL\n"
	if _, ok := ParseContents(text, 2); ok {
		t.Error("unclosed conflict block parsed")
	}
}

func TestParseContents_WrongSideCount(t *testing.T) {
	text := "<<<<<<< conflict 1 of 1\n" +
		"+++++++ side #1\nL\n" +
		"------- base\nb\n" +
		"+++++++ side #2\nR\n" +
		">>>>>>>\n"
	if _, ok := ParseContents(text, 3); ok {
		t.Error("block with 2 sides parsed against numSides=3")
	}
}

func TestParseContents_ContentBeforeSectionMarker(t *testing.T) {
	text := "<<<<<<< conflict 1 of 1\nstray\n+++++++ side #1\nL\n------- base\nb\n+++++++ side #2\nR\n>>>>>>>\n"
	if _, ok := ParseContents(text, 2); ok {
		t.Error("content before first section marker parsed")
	}
}

func TestParseContents_MarkerLikeContentLine(t *testing.T) {
	// All terms share a marker-like line, so it lands in a resolved region
	// and the real markers grow past it. An edit inside the block must still
	// parse against the grown markers, not the shorter content run.
	orig := merge.FromTerms("<<<<<<<<<\nL\n", "<<<<<<<<<\nb\n", "<<<<<<<<<\nR\n")
	out := string(MaterializeContents(orig))
	if !strings.Contains(out, "<<<<<<<<<<<<< conflict") {
		t.Fatalf("markers did not grow past the content run:\n%s", out)
	}

	edited := strings.Replace(out, "L\n", "L2\n", 1)
	parsed, ok := ParseContents(edited, 2)
	if !ok {
		t.Fatalf("edited block with marker-like content did not parse:\n%s", edited)
	}
	if parsed.Terms()[0] != "<<<<<<<<<\nL2\n" {
		t.Errorf("side 1 = %q, want the edit applied", parsed.Terms()[0])
	}
	if parsed.Terms()[1] != "<<<<<<<<<\nb\n" {
		t.Errorf("base = %q, want untouched", parsed.Terms()[1])
	}
}

func TestUpdateFromContent_UnchangedIsIdentity(t *testing.T) {
	g := testGraph(t)
	recorded := conflictTerms(t, g, "shared\nL\n", "shared\nb\n", "shared\nR\n")

	materialized, err := MaterializeFileConflict(g, recorded)
	if err != nil {
		t.Fatalf("MaterializeFileConflict: %v", err)
	}
	updated, err := UpdateFromContent(g, recorded, materialized)
	if err != nil {
		t.Fatalf("UpdateFromContent: %v", err)
	}
	if !merge.Equal(updated, recorded) {
		t.Errorf("unchanged content altered the recorded conflict")
	}
}

func TestUpdateFromContent_UserResolves(t *testing.T) {
	g := testGraph(t)
	recorded := conflictTerms(t, g, "L\n", "b\n", "R\n")

	updated, err := UpdateFromContent(g, recorded, []byte("my resolution\n"))
	if err != nil {
		t.Fatalf("UpdateFromContent: %v", err)
	}
	v, ok := updated.AsResolved()
	if !ok {
		t.Fatalf("edit without markers stayed conflicted: %v", updated.Terms())
	}
	data, err := g.Objects().Get(v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "my resolution\n" {
		t.Errorf("resolved content = %q", data)
	}
}

func TestUpdateFromContent_EditedSideKeepsConflict(t *testing.T) {
	g := testGraph(t)
	recorded := conflictTerms(t, g, "shared\nL\n", "shared\nb\n", "shared\nR\n")

	materialized, err := MaterializeFileConflict(g, recorded)
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(materialized), "L\n", "L2\n", 1)

	updated, err := UpdateFromContent(g, recorded, []byte(edited))
	if err != nil {
		t.Fatalf("UpdateFromContent: %v", err)
	}
	if updated.IsResolved() {
		t.Fatal("edited conflict resolved unexpectedly")
	}
	data, err := g.Objects().Get(updated.Terms()[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "shared\nL2\n" {
		t.Errorf("side 1 = %q, want edited content", data)
	}
	// The other terms keep their ids.
	if updated.Terms()[2] != recorded.Terms()[2] {
		t.Error("untouched side was re-recorded")
	}
}

func TestUpdateFromContent_MalformedResolvesAsTyped(t *testing.T) {
	g := testGraph(t)
	recorded := conflictTerms(t, g, "L\n", "b\n", "R\n")

	typed := "<<<<<<< conflict 1 of 1\nhalf deleted\n"
	updated, err := UpdateFromContent(g, recorded, []byte(typed))
	if err != nil {
		t.Fatalf("UpdateFromContent: %v", err)
	}
	v, ok := updated.AsResolved()
	if !ok {
		t.Fatal("malformed markers did not resolve as typed")
	}
	data, err := g.Objects().Get(v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != typed {
		t.Errorf("resolved content = %q, want the literal text", data)
	}
}

func TestCodec_EncodeDecodeRoundTrip(t *testing.T) {
	g := testGraph(t)
	terms := conflictTerms(t, g, "L\n", "b\n", "R\n")
	entry, present := model.EntryFromMerge(terms)
	if !present || entry.Kind != model.KindConflict {
		t.Fatalf("setup: entry = %+v", entry)
	}

	tree := model.NewTree()
	tree.Entries["f"] = entry
	tree.Entries["plain"] = model.TreeEntry{Kind: model.KindFile, ID: fileTerm(t, g, "p\n").ID}
	treeID, err := g.WriteTree(tree)
	if err != nil {
		t.Fatal(err)
	}

	codec := NewCodec(g)
	encoded, err := codec.EncodeTree(treeID)
	if err != nil {
		t.Fatalf("EncodeTree: %v", err)
	}

	// The encoded tree has no conflict entries, only synthetic siblings.
	et, err := g.ReadTree(encoded)
	if err != nil {
		t.Fatal(err)
	}
	for name, e := range et.Entries {
		if e.Kind == model.KindConflict {
			t.Errorf("encoded tree still has conflict entry %s", name)
		}
	}
	if _, ok := et.Entries["f.silt-side-0"]; !ok {
		t.Errorf("missing synthetic side entry: %v", et.Entries)
	}
	if _, ok := et.Entries["f.silt-base-0"]; !ok {
		t.Errorf("missing synthetic base entry: %v", et.Entries)
	}

	decoded, err := codec.DecodeTree(encoded)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}
	dt, err := g.ReadTree(decoded)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := dt.Entries["f"]
	if !ok || got.Kind != model.KindConflict {
		t.Fatalf("decoded entry = %+v, want conflict", got)
	}
	if !merge.Equal(model.EntryToMerge(got), terms) {
		t.Errorf("decode(encode) terms = %v, want %v", got.Conflict, terms.Terms())
	}
	if dt.Entries["plain"].ID != tree.Entries["plain"].ID || dt.Entries["plain"].Kind != model.KindFile {
		t.Error("plain entry did not pass through")
	}
}

func TestCodec_PlainTreeUnchangedContent(t *testing.T) {
	g := testGraph(t)
	tree := model.NewTree()
	tree.Entries["a"] = model.TreeEntry{Kind: model.KindFile, ID: fileTerm(t, g, "a\n").ID}
	treeID, err := g.WriteTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	codec := NewCodec(g)
	encoded, err := codec.EncodeTree(treeID)
	if err != nil {
		t.Fatal(err)
	}
	if encoded != treeID {
		t.Errorf("encoding a conflict-free tree changed it: %s vs %s", encoded, treeID)
	}
}
