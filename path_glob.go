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

import (
	"fmt"
	"strings"
)

// endpointKind distinguishes the two kinds of capture-group endpoint
// spec §3 allows: a directory-level boundary (wildcard) or an interior
// offset of a single matched entity name (entity-name).
type endpointKind int

const (
	endpointWildcard endpointKind = iota
	endpointEntityName
)

// captureEndpoint is one end of a capture group. For endpointWildcard,
// segmentIndex names the path-segment boundary "before segmentIndex"
// (segmentIndex may equal len(segments), meaning "after the last
// segment"). For endpointEntityName, segmentIndex names the owning
// path-segment and globBoundary names the boundary between that
// segment's own glob sub-segments (0..len(glob.segments)).
type captureEndpoint struct {
	kind         endpointKind
	segmentIndex int
	globBoundary int
}

// pathCaptureGroup is a (from, to) pair of endpoints, numbered 1..N in
// textual order by construction order in compilePathGlob.
type pathCaptureGroup struct {
	from, to captureEndpoint
}

// pathSegmentPattern is one '/'-separated component of a path-glob
// pattern: either a literal/wildcard glob over a single entity name, or
// a recursive-wildcard marker ("**") consuming zero or more directory
// levels.
type pathSegmentPattern struct {
	glob      globPattern
	recursive bool
}

// pathGlobPattern is spec §3's path-glob pattern: an ordered sequence of
// path segments plus the capture groups defined over them.
type pathGlobPattern struct {
	raw      string
	segments []pathSegmentPattern
	captures []pathCaptureGroup
}

// patternParseError reports an invalid glob/substitution string (§7,
// PatternParse).
type patternParseError struct {
	pattern string
	reason  string
}

func (e *patternParseError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.pattern, e.reason)
}

// compilePathGlob parses a pattern string such as "a/(*)/c.cpp" or
// "(src/**/*).c" into a pathGlobPattern. Parentheses mark capture group
// boundaries; everything else is split on '/' into path segments, each
// compiled as a single-component glob (§4.2), except the literal
// segment "**", which becomes a recursive-wildcard segment.
func compilePathGlob(pattern string) (*pathGlobPattern, error) {
	segTexts, events, err := scanPathGlobSyntax(pattern)
	if err != nil {
		return nil, err
	}

	p := &pathGlobPattern{raw: pattern}
	p.segments = make([]pathSegmentPattern, len(segTexts))
	for i, text := range segTexts {
		if text == "**" {
			p.segments[i] = pathSegmentPattern{recursive: true}
			continue
		}
		p.segments[i] = pathSegmentPattern{glob: compileGlob(text)}
	}

	// Pair up open/close events in the order they were pushed (parens
	// don't nest in this grammar; unmatched parens are a parse error
	// caught in scanPathGlobSyntax).
	var open *parenEvent
	for i := range events {
		ev := &events[i]
		if ev.open {
			open = ev
			continue
		}
		if open == nil {
			return nil, &patternParseError{pattern, "unmatched ')'"}
		}
		from, err := resolveEndpoint(p, *open)
		if err != nil {
			return nil, err
		}
		to, err := resolveEndpoint(p, *ev)
		if err != nil {
			return nil, err
		}
		p.captures = append(p.captures, pathCaptureGroup{from: from, to: to})
		open = nil
	}
	if open != nil {
		return nil, &patternParseError{pattern, "unmatched '('"}
	}

	return p, nil
}

// resolveEndpoint turns a raw (segmentIndex, offsetInSegmentText) paren
// position into a captureEndpoint. An offset of 0 or of the full
// segment-text length is a directory-level boundary (endpointWildcard);
// an offset falling exactly on one of the segment's own glob sub-
// segment boundaries is an endpointEntityName; any other offset (a
// paren landing inside a literal run) cannot be expressed by this
// grammar and is a PatternParse error.
func resolveEndpoint(p *pathGlobPattern, ev parenEvent) (captureEndpoint, error) {
	seg := p.segments[ev.segmentIndex]
	if seg.recursive {
		if ev.offset == 0 {
			return captureEndpoint{kind: endpointWildcard, segmentIndex: ev.segmentIndex}, nil
		}
		return captureEndpoint{kind: endpointWildcard, segmentIndex: ev.segmentIndex + 1}, nil
	}

	segTextLen := globTextLen(seg.glob)
	if ev.offset == 0 {
		return captureEndpoint{kind: endpointWildcard, segmentIndex: ev.segmentIndex}, nil
	}
	if ev.offset == segTextLen {
		return captureEndpoint{kind: endpointWildcard, segmentIndex: ev.segmentIndex + 1}, nil
	}

	boundary, ok := globSubSegmentBoundary(seg.glob, ev.offset)
	if !ok {
		return captureEndpoint{}, &patternParseError{p.raw, "capture boundary falls inside a literal"}
	}
	return captureEndpoint{
		kind:         endpointEntityName,
		segmentIndex: ev.segmentIndex,
		globBoundary: boundary,
	}, nil
}

// globTextLen is the length, in raw pattern-string bytes (counting each
// '*' as one byte), of a compiled glob pattern.
func globTextLen(g globPattern) int {
	n := 0
	for i, s := range g.segments {
		n += len(s.literal)
		if i > 0 {
			n++ // the '*' that separates it from the previous segment
		}
	}
	return n
}

// globSubSegmentBoundary finds the glob sub-segment index i such that
// the raw-text offset right before glob segment i equals offset, or
// reports false if offset doesn't line up with a sub-segment boundary.
func globSubSegmentBoundary(g globPattern, offset int) (int, bool) {
	pos := 0
	for i, s := range g.segments {
		if i > 0 {
			pos++ // '*'
		}
		if pos == offset {
			return i, true
		}
		pos += len(s.literal)
	}
	if pos == offset {
		return len(g.segments), true
	}
	return 0, false
}

// parenEvent records where one parenthesis fell, in terms of (path
// segment index, byte offset within that segment's paren-free text).
type parenEvent struct {
	open         bool
	segmentIndex int
	offset       int
}

// scanPathGlobSyntax strips parentheses out of pattern and splits the
// remainder on '/', returning the per-segment texts and the positions
// at which parens fell.
func scanPathGlobSyntax(pattern string) ([]string, []parenEvent, error) {
	var segTexts []string
	var events []parenEvent

	var cur strings.Builder
	segIx := 0
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '/':
			segTexts = append(segTexts, cur.String())
			cur.Reset()
			segIx++
		case '(':
			events = append(events, parenEvent{open: true, segmentIndex: segIx, offset: cur.Len()})
		case ')':
			events = append(events, parenEvent{open: false, segmentIndex: segIx, offset: cur.Len()})
		default:
			cur.WriteByte(c)
		}
	}
	segTexts = append(segTexts, cur.String())

	for _, t := range segTexts {
		if t == "" {
			return nil, nil, &patternParseError{pattern, "empty path segment"}
		}
	}

	return segTexts, events, nil
}

// pathGlobMatch is one match produced by the matcher: the local path
// (relative to the project root, no leading '/') and its captured
// groups, resolved against that local path's bytes.
type pathGlobMatch struct {
	patternIx int
	localPath string
	captured  capturedString
}

// pendingDir is one directory queued for listing by the path-glob
// matcher, together with the bookmarks (in-progress pattern matches)
// that apply to it.
type pendingDir struct {
	pathPrefix string // local path prefix, no leading or trailing '/'
	bookmarks  []pathBookmark
}

// pathBookmark tracks one in-progress match of one pattern against the
// directory tree: which pattern, which segment we're matching next, and
// the directory-boundary prefix lengths accumulated so far (needed to
// resolve endpointWildcard capture endpoints once a match completes).
type pathBookmark struct {
	patternIx     int
	segmentIx     int
	boundaryPrefixLens []int // boundaryPrefixLens[i] = len(path prefix) at the start of segment i
}

// pathGlobMatcher is an incremental iterator over the matches of one or
// more path-glob patterns under a project root, as described in §4.3.
type pathGlobMatcher struct {
	root     string
	patterns []*pathGlobPattern
	reader   dirReader

	pending []pendingDir

	curPrefix    string
	curEntries   []dirEntry
	curEntryIx   int
	curBookmarks []pathBookmark
}

func newPathGlobMatcher(root string, patterns []*pathGlobPattern, reader dirReader) *pathGlobMatcher {
	initial := make([]pathBookmark, len(patterns))
	for i := range patterns {
		initial[i] = pathBookmark{patternIx: i, segmentIx: 0, boundaryPrefixLens: []int{0}}
	}
	return &pathGlobMatcher{
		root:     root,
		patterns: patterns,
		reader:   reader,
		pending:  []pendingDir{{pathPrefix: "", bookmarks: initial}},
	}
}

// next fills *m with the next match and returns true, or returns false
// once the matcher is exhausted. Directory read errors are fatal and
// returned as the error.
func (pm *pathGlobMatcher) next(m *pathGlobMatch) (bool, error) {
	for {
		if pm.curEntryIx >= len(pm.curEntries) {
			ok, err := pm.openNextDir()
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			continue
		}

		entry := pm.curEntries[pm.curEntryIx]
		pm.curEntryIx++

		for _, bm := range pm.curBookmarks {
			found, match := pm.tryAdvance(bm, entry)
			if found {
				*m = match
				return true, nil
			}
		}
	}
}

func (pm *pathGlobMatcher) openNextDir() (bool, error) {
	if len(pm.pending) == 0 {
		return false, nil
	}
	next := pm.pending[0]
	pm.pending = pm.pending[1:]

	absDir := pm.root
	if next.pathPrefix != "" {
		absDir = joinLocal(pm.root, next.pathPrefix)
	}
	entries, err := pm.reader.readDir(absDir)
	if err != nil {
		return false, err
	}

	pm.curPrefix = next.pathPrefix
	pm.curEntries = entries
	pm.curEntryIx = 0
	pm.curBookmarks = next.bookmarks
	return true, nil
}

// tryAdvance applies one bookmark to one directory entry. It may
// enqueue new pending directories (via pm.pending) as a side effect,
// and reports a completed match when the entry is the final segment's
// file.
func (pm *pathGlobMatcher) tryAdvance(bm pathBookmark, entry dirEntry) (bool, pathGlobMatch) {
	pattern := pm.patterns[bm.patternIx]
	seg := pattern.segments[bm.segmentIx]
	isLast := bm.segmentIx == len(pattern.segments)-1

	childPrefix := entry.name
	if pm.curPrefix != "" {
		childPrefix = pm.curPrefix + "/" + entry.name
	}

	if seg.recursive {
		if entry.kind == entryDirectory {
			// Re-enqueue the same recursive segment for the
			// subdirectory: it may consume more levels.
			pm.enqueue(childPrefix, bm)
		}
		// A recursive-wildcard segment also consumes zero levels: try
		// the *next* segment against this very entry too.
		if bm.segmentIx+1 < len(pattern.segments) {
			nextBm := pathBookmark{
				patternIx:          bm.patternIx,
				segmentIx:          bm.segmentIx + 1,
				boundaryPrefixLens: append(append([]int{}, bm.boundaryPrefixLens...), startOffsetAfter(pm.curPrefix)),
			}
			return pm.tryAdvance(nextBm, entry)
		}
		return false, pathGlobMatch{}
	}

	ok, offsets := seg.glob.matchWithOffsets(entry.name)
	if !ok {
		return false, pathGlobMatch{}
	}

	if entry.kind == entryDirectory && !isLast {
		nextBm := pathBookmark{
			patternIx:          bm.patternIx,
			segmentIx:          bm.segmentIx + 1,
			boundaryPrefixLens: append(append([]int{}, bm.boundaryPrefixLens...), len(childPrefix)+1),
		}
		pm.enqueue(childPrefix, nextBm)
	}

	if entry.kind == entryRegular && isLast {
		localPath := childPrefix
		boundaryPrefixLens := append(append([]int{}, bm.boundaryPrefixLens...), len(childPrefix))
		groups := resolveCaptureGroups(pattern, localPath, boundaryPrefixLens, bm.segmentIx, offsets, entry.name)
		return true, pathGlobMatch{
			patternIx: bm.patternIx,
			localPath: localPath,
			captured:  capturedString{value: localPath, groups: groups},
		}
	}

	return false, pathGlobMatch{}
}

// startOffsetAfter returns the byte offset at which a name appended to
// prefix (as prefix + "/" + name) would start.
func startOffsetAfter(prefix string) int {
	if prefix == "" {
		return 0
	}
	return len(prefix) + 1
}

func (pm *pathGlobMatcher) enqueue(prefix string, bm pathBookmark) {
	for i := range pm.pending {
		if pm.pending[i].pathPrefix == prefix {
			pm.pending[i].bookmarks = append(pm.pending[i].bookmarks, bm)
			return
		}
	}
	pm.pending = append(pm.pending, pendingDir{pathPrefix: prefix, bookmarks: []pathBookmark{bm}})
}

// resolveCaptureGroups turns a pattern's endpoint list into concrete
// byte ranges into the fully matched local path.
func resolveCaptureGroups(
	pattern *pathGlobPattern,
	localPath string,
	boundaryPrefixLens []int,
	lastSegmentIx int,
	lastSegmentOffsets []int,
	lastEntryName string,
) []byteRange {
	resolve := func(ep captureEndpoint, isEnd bool) int {
		if ep.kind == endpointWildcard {
			if ep.segmentIndex < len(boundaryPrefixLens)-1 {
				pos := boundaryPrefixLens[ep.segmentIndex]
				// A group closing at an interior directory boundary
				// ends before the '/' separating the two segments.
				if isEnd && pos > 0 {
					pos--
				}
				return pos
			}
			return len(localPath)
		}
		// endpointEntityName: only meaningful against the final,
		// just-matched segment in this incremental matcher, since
		// that's the only segment whose full match offsets are known
		// to the caller at match time.
		base := 0
		if ep.segmentIndex < len(boundaryPrefixLens) {
			base = boundaryPrefixLens[ep.segmentIndex]
		}
		var within int
		if ep.segmentIndex == lastSegmentIx {
			if ep.globBoundary < len(lastSegmentOffsets) {
				within = lastSegmentOffsets[ep.globBoundary]
			} else {
				within = len(lastEntryName)
			}
		}
		return base + within
	}

	groups := make([]byteRange, len(pattern.captures))
	for i, g := range pattern.captures {
		groups[i] = byteRange{start: resolve(g.from, false), end: resolve(g.to, true)}
	}
	return groups
}
