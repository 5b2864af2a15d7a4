// Copyright (C) 2022  Shanhu Tech Inc.
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
// for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package upd

import "strings"

// globSegment is one literal run of a glob pattern, optionally preceded
// by a wildcard. The first segment may or may not be wildcard-prefixed;
// every later segment always is, because wildcards are what separate
// literals in the first place.
type globSegment struct {
	literal  string
	wildcard bool // true if this segment is preceded by a '*'
}

// globPattern is an ordered sequence of segments. A wildcard matches any
// run of bytes, including empty, except '/'.
type globPattern struct {
	segments []globSegment
}

// compileGlob splits a "foo*bar*baz" style pattern on '*' into segments.
func compileGlob(pattern string) globPattern {
	parts := strings.Split(pattern, "*")
	segs := make([]globSegment, len(parts))
	for i, p := range parts {
		segs[i] = globSegment{literal: p, wildcard: i > 0}
	}
	return globPattern{segments: segs}
}

// matchLiteral advances candidateIx over as much of literal as matches
// starting at *candidateIx, byte for byte. It reports whether all of
// literal was consumed (a match), leaving *candidateIx just past it.
func matchLiteral(literal, candidate string, candidateIx *int) bool {
	literalIx := 0
	ix := *candidateIx
	for ix < len(candidate) && literalIx < len(literal) && candidate[ix] == literal[literalIx] {
		ix++
		literalIx++
	}
	*candidateIx = ix
	return literalIx == len(literal)
}

// match reports whether candidate matches the glob pattern, using a
// classic bookmark/backtrack scan: every time a wildcard is entered we
// remember where we were, and on a literal mismatch we rewind to the
// bookmark and retry one byte further along.
func (p globPattern) match(candidate string) bool {
	if len(p.segments) == 0 {
		return false
	}

	segmentIx := 0
	candidateIx := 0
	hasBookmark := false
	bookmarkCandidateIx := 0
	bookmarkSegmentIx := 0

	for {
		if p.segments[segmentIx].wildcard {
			hasBookmark = true
			bookmarkCandidateIx = candidateIx
			bookmarkSegmentIx = segmentIx
		}

		if !matchLiteral(p.segments[segmentIx].literal, candidate, &candidateIx) {
			if !restoreBookmark(&hasBookmark, &bookmarkCandidateIx, &bookmarkSegmentIx, &candidateIx, &segmentIx, p, candidate) {
				return false
			}
			continue
		}

		segmentIx++
		if segmentIx == len(p.segments) {
			if candidateIx == len(candidate) {
				return true
			}
			if !restoreBookmark(&hasBookmark, &bookmarkCandidateIx, &bookmarkSegmentIx, &candidateIx, &segmentIx, p, candidate) {
				return false
			}
			continue
		}
	}
}

// restoreBookmark rewinds to the last wildcard bookmark, advanced by one
// candidate byte, and reports whether that rewind is still viable (the
// remaining literal must still fit in what's left of candidate) — without
// this bound check the scan never terminates once candidate is exhausted.
func restoreBookmark(
	hasBookmark *bool,
	bookmarkCandidateIx, bookmarkSegmentIx *int,
	candidateIx, segmentIx *int,
	p globPattern,
	candidate string,
) bool {
	if !*hasBookmark {
		return false
	}
	// The wildcard is about to absorb one more byte; it never absorbs '/'.
	if *bookmarkCandidateIx < len(candidate) && candidate[*bookmarkCandidateIx] == '/' {
		return false
	}
	*bookmarkCandidateIx++
	*candidateIx = *bookmarkCandidateIx
	*segmentIx = *bookmarkSegmentIx
	if *candidateIx+len(p.segments[*segmentIx].literal) > len(candidate) {
		return false
	}
	return true
}

// matchWithOffsets behaves like match but also records, for each
// literal segment, the candidate byte offset at which it started
// matching — used by the path-glob matcher to derive capture groups.
func (p globPattern) matchWithOffsets(candidate string) (bool, []int) {
	if len(p.segments) == 0 {
		return false, nil
	}

	offsets := make([]int, len(p.segments))
	segmentIx := 0
	candidateIx := 0
	hasBookmark := false
	bookmarkCandidateIx := 0
	bookmarkSegmentIx := 0

	for {
		if p.segments[segmentIx].wildcard {
			hasBookmark = true
			bookmarkCandidateIx = candidateIx
			bookmarkSegmentIx = segmentIx
		}

		offsets[segmentIx] = candidateIx
		if !matchLiteral(p.segments[segmentIx].literal, candidate, &candidateIx) {
			if !restoreBookmark(&hasBookmark, &bookmarkCandidateIx, &bookmarkSegmentIx, &candidateIx, &segmentIx, p, candidate) {
				return false, nil
			}
			continue
		}

		segmentIx++
		if segmentIx == len(p.segments) {
			if candidateIx == len(candidate) {
				return true, offsets
			}
			if !restoreBookmark(&hasBookmark, &bookmarkCandidateIx, &bookmarkSegmentIx, &candidateIx, &segmentIx, p, candidate) {
				return false, nil
			}
			continue
		}
	}
}

func match(pattern, candidate string) bool {
	return compileGlob(pattern).match(candidate)
}
