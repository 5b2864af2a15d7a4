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

import "fmt"

// substitutionSegment is one piece of a rule's output template: either a
// literal run, or a reference to one of the input's captured groups.
type substitutionSegment struct {
	literal    string
	groupIndex int // meaningful only when isGroup is true
	isGroup    bool
}

// substitutionTemplate is an ordered list of segments, as parsed out of
// a rule's "output" field (e.g. "build/(1)/(2).o").
type substitutionTemplate struct {
	segments []substitutionSegment
}

// substitutionError reports a group reference that has no corresponding
// capture in the input pattern it is being resolved against.
type substitutionError struct {
	groupIndex, numGroups int
}

func (e *substitutionError) Error() string {
	return fmt.Sprintf("substitution references group %d, input has %d", e.groupIndex, e.numGroups)
}

// resolve concatenates the template's literals and the referenced
// groups of input, returning the resolved string together with the
// byte offset, within that string, at which each segment began. The
// offsets let capture re-derive new capture groups from the result
// without re-scanning it.
func resolve(t substitutionTemplate, input capturedString) (string, []int, error) {
	offsets := make([]int, len(t.segments))
	var out []byte

	for i, seg := range t.segments {
		offsets[i] = len(out)
		if !seg.isGroup {
			out = append(out, seg.literal...)
			continue
		}
		if seg.groupIndex < 0 || seg.groupIndex >= len(input.groups) {
			return "", nil, &substitutionError{groupIndex: seg.groupIndex, numGroups: len(input.groups)}
		}
		out = append(out, input.subString(seg.groupIndex)...)
	}
	return string(out), offsets, nil
}

// capture re-derives capture groups on a resolved string, so that a
// rule's output can itself serve as another rule's captured input. Each
// output capture group is defined by referencing a segment's start (or
// end) in the template, mirroring the path-glob grammar's capture
// endpoints but projected onto a flat substitution template instead of
// a directory tree.
type captureSpec struct {
	fromSegment, toSegment int // half-open segment range
}

func capture(specs []captureSpec, resolved string, offsets []int) (capturedString, error) {
	groups := make([]byteRange, len(specs))
	for i, s := range specs {
		if s.fromSegment < 0 || s.toSegment > len(offsets) || s.fromSegment > s.toSegment {
			return capturedString{}, fmt.Errorf("invalid capture segment range [%d,%d)", s.fromSegment, s.toSegment)
		}
		start := segmentOffset(offsets, resolved, s.fromSegment)
		end := segmentOffset(offsets, resolved, s.toSegment)
		groups[i] = byteRange{start: start, end: end}
	}
	return newCapturedString(resolved, groups), nil
}

// captureSpecsFromTemplate derives one output capture group per group
// reference in t, in declaration order, each spanning exactly the
// segment that referenced it. This is how a rule's output pattern
// doubles as the capture grammar for anything that consumes the output
// as a later rule's input.
func captureSpecsFromTemplate(t substitutionTemplate) []captureSpec {
	var specs []captureSpec
	for i, seg := range t.segments {
		if seg.isGroup {
			specs = append(specs, captureSpec{fromSegment: i, toSegment: i + 1})
		}
	}
	return specs
}

// segmentOffset returns the byte offset at which segment ix begins, or
// the length of resolved if ix is one past the last segment.
func segmentOffset(offsets []int, resolved string, ix int) int {
	if ix == len(offsets) {
		return len(resolved)
	}
	return offsets[ix]
}

// compileSubstitutionTemplate parses a template string where "(N)"
// refers to capture group N (1-indexed in the surface syntax, as in the
// rest of the manifest grammar) and any other run of bytes is literal.
// "((" escapes to a literal "(".
func compileSubstitutionTemplate(s string) (substitutionTemplate, error) {
	var segs []substitutionSegment
	var literal []byte
	flushLiteral := func() {
		if len(literal) > 0 {
			segs = append(segs, substitutionSegment{literal: string(literal)})
			literal = nil
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '(' {
			literal = append(literal, c)
			continue
		}
		if i+1 < len(s) && s[i+1] == '(' {
			literal = append(literal, '(')
			i++
			continue
		}
		close := indexByte(s, ')', i+1)
		if close < 0 {
			return substitutionTemplate{}, fmt.Errorf("unterminated group reference in %q", s)
		}
		num, ok := parseDecimal(s[i+1 : close])
		if !ok {
			return substitutionTemplate{}, fmt.Errorf("invalid group reference %q in %q", s[i+1:close], s)
		}
		flushLiteral()
		segs = append(segs, substitutionSegment{isGroup: true, groupIndex: num - 1})
		i = close
	}
	flushLiteral()
	return substitutionTemplate{segments: segs}, nil
}

func indexByte(s string, b byte, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func parseDecimal(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}
