// Package conflicts renders unresolved merges into conventional formats
// that conflict-unaware tools can handle, and parses them back. The
// materialized forms are views; the authoritative conflict stays
// content-addressed in the store, so encoding is lossless even when it
// looks lossy.
package conflicts

import (
	"fmt"
	"strings"

	"github.com/siltvcs/silt/internal/graph"
	"github.com/siltvcs/silt/internal/merge"
	"github.com/siltvcs/silt/internal/model"
)

// MinMarkerLen is the shortest conflict marker line this package writes or
// recognizes.
const MinMarkerLen = 7

// markerLenIncrement pads the chosen marker length past any marker-like
// line already present in the conflicting content.
const markerLenIncrement = 4

const noEOLComment = " (no terminating newline)"

// MaterializeFileConflict renders a conflicted tree entry's terms as text
// with conflict markers. Absent terms render as empty content.
func MaterializeFileConflict(g *graph.CommitGraph, terms merge.Merge[model.EntryValue]) ([]byte, error) {
	contents, err := merge.TryMap(terms, func(v model.EntryValue) (string, error) {
		if v.IsAbsent() {
			return "", nil
		}
		data, err := g.Objects().Get(v.ID)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	if err != nil {
		return nil, err
	}
	return MaterializeContents(contents), nil
}

// MaterializeContents merges the term contents line-wise and renders the
// result: resolved regions verbatim, conflicted regions bracketed by
// `<<<<<<<` / `>>>>>>>` with a `+++++++` snapshot per side and a `-------`
// snapshot per base.
func MaterializeContents(m merge.Merge[string]) []byte {
	result := merge.MergeContents(m)
	if result.Resolved {
		return []byte(result.Content)
	}

	markerLen := chooseMarkerLen(m.Terms())
	numConflicts := 0
	for _, h := range result.Hunks {
		if !h.IsResolved() {
			numConflicts++
		}
	}

	var sb strings.Builder
	conflictIndex := 0
	for _, hunk := range result.Hunks {
		if content, ok := hunk.AsResolved(); ok {
			sb.WriteString(content)
			continue
		}
		conflictIndex++
		writeMarker(&sb, '<', markerLen, fmt.Sprintf("conflict %d of %d", conflictIndex, numConflicts))
		terms := hunk.Terms()
		numBases := (len(terms) - 1) / 2
		writeSnapshot(&sb, '+', markerLen, sideLabel(0), terms[0])
		for i := 0; i < numBases; i++ {
			writeSnapshot(&sb, '-', markerLen, baseLabel(i, numBases), terms[i*2+1])
			writeSnapshot(&sb, '+', markerLen, sideLabel(i+1), terms[i*2+2])
		}
		writeMarker(&sb, '>', markerLen, "")
	}
	return []byte(sb.String())
}

func sideLabel(i int) string {
	return fmt.Sprintf("side #%d", i+1)
}

func baseLabel(i, numBases int) string {
	if numBases == 1 {
		return "base"
	}
	return fmt.Sprintf("base #%d", i+1)
}

func writeMarker(sb *strings.Builder, ch byte, length int, suffix string) {
	for i := 0; i < length; i++ {
		sb.WriteByte(ch)
	}
	if suffix != "" {
		sb.WriteByte(' ')
		sb.WriteString(suffix)
	}
	sb.WriteByte('\n')
}

// writeSnapshot writes one term's region. A region without a terminating
// newline gets one added, noted on the marker line so parsing can undo it.
func writeSnapshot(sb *strings.Builder, ch byte, length int, label, content string) {
	if content != "" && !strings.HasSuffix(content, "\n") {
		label += noEOLComment
		content += "\n"
	}
	writeMarker(sb, ch, length, label)
	sb.WriteString(content)
}

// chooseMarkerLen returns a marker length longer than any marker-like line
// in the conflicting content, so materialized markers are unambiguous.
func chooseMarkerLen(termContents []string) int {
	maxExisting := 0
	for _, content := range termContents {
		for _, line := range merge.SplitLines(content) {
			if n := markerRunLen(line); n > maxExisting {
				maxExisting = n
			}
		}
	}
	length := maxExisting + markerLenIncrement
	if length < MinMarkerLen {
		length = MinMarkerLen
	}
	return length
}

// markerRunLen returns the length of the marker-character run a line starts
// with, or 0 if the line could not be mistaken for a marker.
func markerRunLen(line string) int {
	line = strings.TrimSuffix(line, "\n")
	if line == "" {
		return 0
	}
	ch := line[0]
	switch ch {
	case '<', '>', '+', '-':
	default:
		return 0
	}
	n := 0
	for n < len(line) && line[n] == ch {
		n++
	}
	if n < len(line) && line[n] != ' ' {
		return 0
	}
	return n
}
