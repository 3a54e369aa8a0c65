package conflicts

import (
	"sort"
	"strings"

	"github.com/siltvcs/silt/internal/merge"
)

// ParseContents decodes marker-bearing text back into per-term contents.
//
// Text with no conflict markers decodes to a resolved merge of the literal
// content. Well-formed conflict blocks reconstruct each term's full
// content: resolved regions belong to every term, conflicted regions to
// their own term. Malformed or partial markers, or blocks whose side count
// disagrees with numSides, decode as "resolved as typed": ok is false and
// the caller should treat the literal text as the resolution. We never
// guess intent beyond literal interpretation.
func ParseContents(content string, numSides int) (merge.Merge[string], bool) {
	lines := merge.SplitLines(content)

	// Materialized markers are longer than any marker-like content line, so
	// a run of '<' may be real or may be content. Each distinct run length
	// is a candidate marker length; the longest one that yields a
	// well-formed parse wins, which keeps shorter content runs inside
	// resolved regions from shadowing the real markers.
	var candidates []int
	seen := make(map[int]bool)
	for _, line := range lines {
		if n := markerRunLen(line); n >= MinMarkerLen && line[0] == '<' && !seen[n] {
			seen[n] = true
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return merge.Resolved(content), true
	}
	sort.Sort(sort.Reverse(sort.IntSlice(candidates)))

	for _, markerLen := range candidates {
		if m, ok := parseWithMarkerLen(lines, content, markerLen, numSides); ok {
			return m, true
		}
	}
	return merge.Merge[string]{}, false
}

func parseWithMarkerLen(lines []string, content string, markerLen, numSides int) (merge.Merge[string], bool) {
	numTerms := numSides*2 - 1
	builders := make([]strings.Builder, numTerms)
	appendAll := func(s string) {
		for i := range builders {
			builders[i].WriteString(s)
		}
	}

	i := 0
	sawConflict := false
	for i < len(lines) {
		kind, suffix, ok := parseMarker(lines[i], markerLen)
		if !ok || kind != '<' {
			appendAll(lines[i])
			i++
			continue
		}

		// Inside a conflict block: alternating +/- sections until '>'.
		i++
		var sides, bases []string
		closed := false
		current := -1 // index into sides (+) or bases (-), via sign
		var section strings.Builder
		var sectionKind byte
		var sectionNoEOL bool
		flush := func() {
			if current < 0 {
				return
			}
			text := section.String()
			if sectionNoEOL {
				text = strings.TrimSuffix(text, "\n")
			}
			if sectionKind == '+' {
				sides = append(sides, text)
			} else {
				bases = append(bases, text)
			}
			section.Reset()
		}
		for i < len(lines) {
			kind, suffix, ok = parseMarker(lines[i], markerLen)
			if !ok {
				if current < 0 {
					break // content before any section marker: malformed
				}
				section.WriteString(lines[i])
				i++
				continue
			}
			if kind == '>' {
				flush()
				closed = true
				i++
				break
			}
			if kind != '+' && kind != '-' {
				break // nested '<' or stray marker: malformed
			}
			flush()
			current = len(sides) + len(bases)
			sectionKind = kind
			sectionNoEOL = strings.Contains(suffix, "(no terminating newline)")
			i++
		}

		if !closed || len(sides) != len(bases)+1 || len(sides) != numSides {
			return merge.Merge[string]{}, false
		}
		sawConflict = true
		for t := 0; t < numTerms; t++ {
			if t%2 == 0 {
				builders[t].WriteString(sides[t/2])
			} else {
				builders[t].WriteString(bases[(t-1)/2])
			}
		}
	}

	if !sawConflict {
		return merge.Resolved(content), true
	}
	terms := make([]string, numTerms)
	for t := range builders {
		terms[t] = builders[t].String()
	}
	return merge.FromTerms(terms...), true
}

// parseMarker reports whether a line is a marker of exactly markerLen
// characters, returning its kind byte and suffix text.
func parseMarker(line string, markerLen int) (byte, string, bool) {
	n := markerRunLen(line)
	if n != markerLen {
		return 0, "", false
	}
	rest := strings.TrimSuffix(line[n:], "\n")
	rest = strings.TrimPrefix(rest, " ")
	return line[0], rest, true
}
