package conflicts

import (
	"bytes"

	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
)

// UpdateFromContent reconciles on-disk content with a recorded conflict
// entry. If the content still materializes the recorded conflict exactly,
// the recorded terms are returned unchanged — materialize then decode is
// the identity on conflicts this core produced. Otherwise the markers are
// parsed: a clean parse yields updated terms (or a resolution), and
// malformed markers resolve to the literal typed content.
func UpdateFromContent(g *graph.CommitGraph, recorded merge.Merge[model.EntryValue], content []byte) (merge.Merge[model.EntryValue], error) {
	materialized, err := MaterializeFileConflict(g, recorded)
	if err != nil {
		return recorded, err
	}
	if bytes.Equal(materialized, content) {
		return recorded, nil
	}

	resolveAsTyped := func() (merge.Merge[model.EntryValue], error) {
		id, err := g.Objects().Put(content)
		if err != nil {
			return recorded, err
		}
		return merge.Resolved(model.EntryValue{Kind: resolvedKind(recorded), ID: id}), nil
	}

	parsed, ok := ParseContents(string(content), recorded.NumSides())
	if !ok {
		return resolveAsTyped()
	}
	if text, resolved := parsed.AsResolved(); resolved {
		id, err := g.Objects().Put([]byte(text))
		if err != nil {
			return recorded, err
		}
		return merge.Resolved(model.EntryValue{Kind: resolvedKind(recorded), ID: id}), nil
	}

	// Updated conflict: re-hash each term's content, keeping term kinds.
	// A term that was absent and is still empty stays absent.
	recordedTerms := recorded.Terms()
	parsedTerms := parsed.Terms()
	newTerms := make([]model.EntryValue, len(recordedTerms))
	for i, text := range parsedTerms {
		old := recordedTerms[i]
		if old.IsAbsent() && text == "" {
			newTerms[i] = model.AbsentValue
			continue
		}
		id, err := g.Objects().Put([]byte(text))
		if err != nil {
			return recorded, err
		}
		kind := old.Kind
		if kind == model.KindAbsent {
			kind = model.KindFile
		}
		newTerms[i] = model.EntryValue{Kind: kind, ID: id}
	}
	return merge.FromTerms(newTerms...).Simplify(), nil
}

// resolvedKind picks the file kind for a manual resolution: the first
// present side's kind, defaulting to a regular file.
func resolvedKind(m merge.Merge[model.EntryValue]) model.EntryKind {
	for _, v := range m.Adds() {
		if v.Kind == model.KindFile || v.Kind == model.KindExec {
			return v.Kind
		}
	}
	return model.KindFile
}
