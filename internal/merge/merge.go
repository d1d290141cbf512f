// Package merge implements the line-oriented three-way text merge the
// Content Store needs for conflicting concurrent edits. It builds a
// diff3-style merge on top of github.com/sergi/go-diff's Myers-diff
// engine, used in its documented "line mode" (DiffLinesToChars /
// DiffCharsToLines) so the underlying edit script operates on whole
// lines rather than characters.
package merge

import (
	"bytes"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	markerLocal  = "<<<<<<< LOCAL"
	markerMiddle = "======="
	markerRemote = ">>>>>>> REMOTE"
)

// chunk is a maximal contiguous change against the base: base lines
// [baseStart, baseEnd) are replaced by lines. baseStart == baseEnd marks a
// pure insertion; an empty lines slice marks a pure deletion.
type chunk struct {
	baseStart, baseEnd int
	lines              []string
}

// ThreeWay performs a line-oriented three-way merge of local and remote
// against their common ancestor base. When the merge is clean, hasConflicts
// is false and merged contains neither input identifiers nor conflict
// markers. When conflicting hunks exist, merged contains
//
//	<<<<<<< LOCAL
//	<local lines>
//	=======
//	<remote lines>
//	>>>>>>> REMOTE
//
// Identical hunks present in both local and remote are retained once. The
// result is a deterministic function of the three inputs.
func ThreeWay(base, local, remote []byte) (merged []byte, hasConflicts bool) {
	baseLines, _ := splitLines(base)
	localLines, localTrailing := splitLines(local)
	remoteLines, remoteTrailing := splitLines(remote)

	localChunks := diffChunks(baseLines, localLines)
	remoteChunks := diffChunks(baseLines, remoteLines)

	out := make([]string, 0, len(baseLines))
	li, ri := 0, 0
	pos := 0

	for li < len(localChunks) || ri < len(remoteChunks) {
		var l, r *chunk
		if li < len(localChunks) {
			l = &localChunks[li]
		}
		if ri < len(remoteChunks) {
			r = &remoteChunks[ri]
		}

		switch {
		case r == nil || (l != nil && l.baseEnd <= r.baseStart):
			// l strictly precedes r (or r exhausted): apply l alone.
			out = append(out, baseLines[pos:l.baseStart]...)
			out = append(out, l.lines...)
			pos = l.baseEnd
			li++
		case l == nil || (r.baseEnd <= l.baseStart):
			// r strictly precedes l (or l exhausted): apply r alone.
			out = append(out, baseLines[pos:r.baseStart]...)
			out = append(out, r.lines...)
			pos = r.baseEnd
			ri++
		default:
			// Overlapping region touched by both sides: absorb every
			// chunk (from either side) that overlaps the growing group,
			// then resolve as clean (identical) or conflicting.
			groupStart := min(l.baseStart, r.baseStart)
			groupEnd := max(l.baseEnd, r.baseEnd)
			var localLinesGroup, remoteLinesGroup []string
			for {
				absorbed := false
				for li < len(localChunks) && localChunks[li].baseStart < groupEnd {
					localLinesGroup = append(localLinesGroup, localChunks[li].lines...)
					if localChunks[li].baseEnd > groupEnd {
						groupEnd = localChunks[li].baseEnd
					}
					li++
					absorbed = true
				}
				for ri < len(remoteChunks) && remoteChunks[ri].baseStart < groupEnd {
					remoteLinesGroup = append(remoteLinesGroup, remoteChunks[ri].lines...)
					if remoteChunks[ri].baseEnd > groupEnd {
						groupEnd = remoteChunks[ri].baseEnd
					}
					ri++
					absorbed = true
				}
				if !absorbed {
					break
				}
			}

			out = append(out, baseLines[pos:groupStart]...)
			if sameLines(localLinesGroup, remoteLinesGroup) {
				out = append(out, localLinesGroup...)
			} else {
				hasConflicts = true
				out = append(out, markerLocal)
				out = append(out, localLinesGroup...)
				out = append(out, markerMiddle)
				out = append(out, remoteLinesGroup...)
				out = append(out, markerRemote)
			}
			pos = groupEnd
		}
	}
	out = append(out, baseLines[pos:]...)

	trailing := localTrailing || remoteTrailing
	merged = joinLines(out, trailing)
	return merged, hasConflicts
}

// diffChunks computes the list of chunks describing how other differs
// from base, via sergi/go-diff's documented line-mode diff: the raw texts
// are first mapped to a synthetic character-per-line alphabet
// (DiffLinesToChars), Myers-diffed, and the result expanded back to lines
// (DiffCharsToLines).
func diffChunks(base, other []string) []chunk {
	dmp := diffmatchpatch.New()
	baseText := strings.Join(base, "\n")
	otherText := strings.Join(other, "\n")

	a, b, lineArray := dmp.DiffLinesToChars(baseText, otherText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupMerge(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var chunks []chunk
	baseIdx := 0

	// Line-mode diff texts keep each line's "\n" terminator; drop the last
	// one so a run of n terminated lines counts as n lines, not n+1.
	linesOf := func(text string) []string {
		if text == "" {
			return nil
		}
		return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	}

	i := 0
	for i < len(diffs) {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			baseIdx += len(linesOf(d.Text))
			i++
		case diffmatchpatch.DiffDelete:
			delLines := linesOf(d.Text)
			start := baseIdx
			end := baseIdx + len(delLines)
			var insLines []string
			consumed := 1
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				insLines = linesOf(diffs[i+1].Text)
				consumed = 2
			}
			chunks = append(chunks, chunk{baseStart: start, baseEnd: end, lines: insLines})
			baseIdx = end
			i += consumed
		case diffmatchpatch.DiffInsert:
			insLines := linesOf(d.Text)
			chunks = append(chunks, chunk{baseStart: baseIdx, baseEnd: baseIdx, lines: insLines})
			i++
		}
	}

	return chunks
}

func sameLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitLines splits raw bytes into lines without their separators,
// reporting whether the input ended with a trailing newline.
func splitLines(data []byte) ([]string, bool) {
	if len(data) == 0 {
		return nil, false
	}
	trailing := bytes.HasSuffix(data, []byte("\n"))
	text := string(data)
	if trailing {
		text = text[:len(text)-1]
	}
	return strings.Split(text, "\n"), trailing
}

func joinLines(lines []string, trailingNewline bool) []byte {
	text := strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		text += "\n"
	}
	return []byte(text)
}
