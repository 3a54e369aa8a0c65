package merge

import (
	"sort"
	"strings"
)

// ContentResult is the outcome of merging file contents. Either the whole
// file resolved to Content, or Hunks holds an alternation of resolved and
// conflicted regions in file order.
type ContentResult struct {
	Resolved bool
	Content  string
	Hunks    []Merge[string]
}

// editHunk is one term's replacement of a line range of the reference term.
type editHunk struct {
	refStart, refEnd int
	lines            []string
	term             int
}

// MergeContents merges the line contents of an N-way file merge. Every term
// is diffed against the first negative term; changed ranges that touch the
// same reference lines merge into one region, which resolves trivially
// where possible and otherwise becomes a conflict hunk. Changes on disjoint
// reference lines interleave cleanly, so edits to different lines of the
// same file never conflict.
func MergeContents(m Merge[string]) ContentResult {
	if v, ok := m.ResolveTrivial(); ok {
		return ContentResult{Resolved: true, Content: v}
	}

	terms := m.Terms()
	termLines := make([][]string, len(terms))
	for i, t := range terms {
		termLines[i] = SplitLines(t)
	}
	ref := termLines[1]

	var edits []editHunk
	for i, lines := range termLines {
		if i == 1 {
			continue
		}
		edits = append(edits, diffAgainst(ref, lines, i)...)
	}
	sort.Slice(edits, func(a, b int) bool {
		if edits[a].refStart != edits[b].refStart {
			return edits[a].refStart < edits[b].refStart
		}
		return edits[a].refEnd < edits[b].refEnd
	})

	var hunks []Merge[string]
	appendResolved := func(content string) {
		if content == "" {
			return
		}
		if n := len(hunks); n > 0 && hunks[n-1].IsResolved() {
			prev, _ := hunks[n-1].AsResolved()
			hunks[n-1] = Resolved(prev + content)
			return
		}
		hunks = append(hunks, Resolved(content))
	}

	conflicted := false
	pos := 0
	k := 0
	for k < len(edits) {
		group := []editHunk{edits[k]}
		start, end := edits[k].refStart, edits[k].refEnd
		k++
		for k < len(edits) && overlapsRange(start, end, edits[k].refStart, edits[k].refEnd) {
			if edits[k].refEnd > end {
				end = edits[k].refEnd
			}
			group = append(group, edits[k])
			k++
		}

		appendResolved(strings.Join(ref[pos:start], ""))
		pos = end

		regionTerms := make([]string, len(terms))
		baseText := strings.Join(ref[start:end], "")
		for i := range regionTerms {
			regionTerms[i] = baseText
		}
		for i := range terms {
			if i == 1 {
				continue
			}
			if text, changed := applyEdits(ref, start, end, group, i); changed {
				regionTerms[i] = text
			}
		}

		region := FromTerms(regionTerms...)
		if v, ok := region.ResolveTrivial(); ok {
			appendResolved(v)
			continue
		}
		conflicted = true
		hunks = append(hunks, region)
	}
	appendResolved(strings.Join(ref[pos:], ""))

	if !conflicted {
		var sb strings.Builder
		for _, h := range hunks {
			v, _ := h.AsResolved()
			sb.WriteString(v)
		}
		return ContentResult{Resolved: true, Content: sb.String()}
	}
	return ContentResult{Hunks: hunks}
}

// overlapsRange reports whether an edit over [s, e) belongs to the combined
// region [start, end). Insertions (empty ranges) only join a region they
// fall strictly inside, or another insertion at the same point, so an
// insertion adjacent to a separate term's edit stays independent.
func overlapsRange(start, end, s, e int) bool {
	if s < end && start < e {
		return true
	}
	if s == e {
		if start == end {
			return s == start
		}
		return start < s && s < end
	}
	return false
}

// applyEdits reconstructs a term's text for the reference range [start, end)
// by splicing the term's own edits from group into the reference lines.
// Reports whether the term had any edit in the group.
func applyEdits(ref []string, start, end int, group []editHunk, term int) (string, bool) {
	var sb strings.Builder
	cur := start
	changed := false
	for _, e := range group {
		if e.term != term {
			continue
		}
		changed = true
		sb.WriteString(strings.Join(ref[cur:e.refStart], ""))
		for _, line := range e.lines {
			sb.WriteString(line)
		}
		cur = e.refEnd
	}
	if !changed {
		return "", false
	}
	sb.WriteString(strings.Join(ref[cur:end], ""))
	return sb.String(), true
}

// diffAgainst returns the line ranges where lines diverges from ref, as
// replacement hunks in reference coordinates.
func diffAgainst(ref, lines []string, term int) []editHunk {
	matches := lcsMatches(ref, lines)
	var edits []editHunk
	ri, li := 0, 0
	emit := func(refEnd, lineEnd int) {
		if ri == refEnd && li == lineEnd {
			return
		}
		edits = append(edits, editHunk{
			refStart: ri,
			refEnd:   refEnd,
			lines:    lines[li:lineEnd],
			term:     term,
		})
	}
	for _, mt := range matches {
		emit(mt[0], mt[1])
		ri, li = mt[0]+1, mt[1]+1
	}
	emit(len(ref), len(lines))
	return edits
}

// SplitLines splits content after every newline, preserving the newlines so
// that concatenating the pieces reproduces the input exactly.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	var lines []string
	for {
		i := strings.IndexByte(content, '\n')
		if i < 0 {
			lines = append(lines, content)
			return lines
		}
		lines = append(lines, content[:i+1])
		content = content[i+1:]
		if content == "" {
			return lines
		}
	}
}

// lcsMatches returns the matched index pairs of a longest common
// subsequence of a and b, in order.
func lcsMatches(a, b []string) [][2]int {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	// Classic DP table; merge inputs are line-sized, not pathological.
	table := make([][]int, len(a)+1)
	for i := range table {
		table[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}
	matches := make([][2]int, 0, table[0][0])
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			matches = append(matches, [2]int{i, j})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			i++
		default:
			j++
		}
	}
	return matches
}
