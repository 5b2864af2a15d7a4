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
	"bufio"
	"io"
)

// depfileToken is one lexical unit of a depfile stream.
type depfileTokenKind int

const (
	tokString depfileTokenKind = iota
	tokColon
	tokNewline
	tokEnd
)

type depfileToken struct {
	kind depfileTokenKind
	text string
}

// depfileLexer tokenizes a depfile byte stream: whitespace separates
// string tokens, ':' and '\n' are their own tokens, '\' escapes the
// next character verbatim, and "\\\n" (backslash immediately before a
// newline) acts like a single space: it separates tokens and produces
// no newline token.
// Reads are buffered at about 4KiB, per §4.7.
type depfileLexer struct {
	r *bufio.Reader
}

func newDepfileLexer(r io.Reader) *depfileLexer {
	return &depfileLexer{r: bufio.NewReaderSize(r, 4096)}
}

func (l *depfileLexer) next() (depfileToken, error) {
	for {
		b, err := l.r.ReadByte()
		if err == io.EOF {
			return depfileToken{kind: tokEnd}, nil
		}
		if err != nil {
			return depfileToken{}, err
		}
		switch {
		case b == ' ' || b == '\t' || b == '\r':
			continue
		case b == ':':
			return depfileToken{kind: tokColon}, nil
		case b == '\n':
			return depfileToken{kind: tokNewline}, nil
		case b == '\\':
			cont, err := l.isLineContinuation()
			if err != nil {
				return depfileToken{}, err
			}
			if cont {
				continue
			}
			return l.readString(b)
		default:
			return l.readString(b)
		}
	}
}

// isLineContinuation reports whether an already-consumed backslash is
// immediately followed by a newline — a Makefile-style line
// continuation (§4.7) that collapses to nothing but a token
// separator, never a character of its own. On a true result the
// newline is consumed; on a false result the peeked byte is pushed
// back for the caller to treat as an ordinary escape.
func (l *depfileLexer) isLineContinuation() (bool, error) {
	nb, err := l.r.ReadByte()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if nb == '\n' {
		return true, nil
	}
	return false, l.r.UnreadByte()
}

// readString reads a string token starting with the already-consumed
// byte first, stopping before the next unescaped whitespace, ':', or
// '\n'. A line continuation found mid-token ends the token right
// there, exactly as whitespace would.
func (l *depfileLexer) readString(first byte) (depfileToken, error) {
	var buf []byte
	b := first
	for {
		if b == '\\' {
			cont, err := l.isLineContinuation()
			if err != nil {
				return depfileToken{}, err
			}
			if cont {
				break
			}
			nb, err := l.r.ReadByte()
			if err == io.EOF {
				buf = append(buf, '\\')
				break
			}
			if err != nil {
				return depfileToken{}, err
			}
			buf = append(buf, nb)
		} else {
			buf = append(buf, b)
		}

		nb, err := l.r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return depfileToken{}, err
		}
		if nb == ' ' || nb == '\t' || nb == '\r' || nb == ':' || nb == '\n' {
			l.r.UnreadByte()
			break
		}
		b = nb
	}
	return depfileToken{kind: tokString, text: string(buf)}, nil
}

// depfileRecord is the parsed content of one depfile: one target and
// its ordered dependencies.
type depfileRecord struct {
	target       string
	dependencies []string
}

// depfileState names the states of §4.7's grammar state machine:
// TARGET ':' DEP* '\n'* EOF.
type depfileState int

const (
	depStateReadTarget depfileState = iota
	depStateReadColon
	depStateReadDep
	depStateDone
)

// parseDepfile consumes r to completion and returns the parsed record,
// or nil if the stream carried no data at all. Only the first
// target/dependency-list is interpreted; anything after it, up to
// end-of-stream, is tolerated as whitespace.
func parseDepfile(r io.Reader) (*depfileRecord, error) {
	lex := newDepfileLexer(r)
	state := depStateReadTarget
	var rec depfileRecord
	sawAny := false

	for {
		tok, err := lex.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEnd {
			break
		}

		switch state {
		case depStateReadTarget:
			if tok.kind != tokString {
				return nil, &depfileParseError{reason: "expected target string"}
			}
			sawAny = true
			rec.target = tok.text
			state = depStateReadColon
		case depStateReadColon:
			if tok.kind != tokColon {
				return nil, &depfileParseError{reason: "expected ':' after target"}
			}
			state = depStateReadDep
		case depStateReadDep:
			switch tok.kind {
			case tokString:
				rec.dependencies = append(rec.dependencies, tok.text)
			case tokNewline:
				state = depStateDone
			default:
				return nil, &depfileParseError{reason: "expected dependency or newline"}
			}
		case depStateDone:
			// Tolerated trailing content: ignore everything else.
		}
	}

	if !sawAny {
		return nil, nil
	}
	if state == depStateReadColon {
		return nil, &depfileParseError{reason: "unexpected end of depfile after target"}
	}
	return &rec, nil
}
