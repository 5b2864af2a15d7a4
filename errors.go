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

// The error taxonomy of §7. Most kinds already have a dedicated
// sentinel type defined alongside the component that raises them
// (manifestParseError, patternParseError, ruleOrderError,
// pathOutsideRootError, substitutionError); the remaining kinds, which
// have no single natural home, live here.

// outputCollisionError reports two rules producing the same output
// path.
type outputCollisionError struct {
	output    string
	firstRule int
	rule      int
}

func (e *outputCollisionError) Error() string {
	return fmt.Sprintf("output %q produced by both rule %d and rule %d", e.output, e.firstRule, e.rule)
}

// unknownTargetError reports a requested target that is not a known
// rule output.
type unknownTargetError struct {
	target string
}

func (e *unknownTargetError) Error() string {
	return fmt.Sprintf("unknown target %q", e.target)
}

// depfileParseError reports a depfile token appearing where the
// grammar's state machine does not allow it.
type depfileParseError struct {
	reason string
}

func (e *depfileParseError) Error() string {
	return fmt.Sprintf("depfile parse error: %s", e.reason)
}

// logCorruptionError reports a malformed line in the on-disk update
// log.
type logCorruptionError struct {
	reason string
}

func (e *logCorruptionError) Error() string {
	return fmt.Sprintf("update log is corrupt: %s", e.reason)
}

// processFailureError reports a target's command line exiting with a
// nonzero status or failing to start.
type processFailureError struct {
	target string
	err    error
}

func (e *processFailureError) Error() string {
	return fmt.Sprintf("target %q: %v", e.target, e.err)
}

func (e *processFailureError) Unwrap() error { return e.err }

// ioFailureError wraps an unexpected filesystem or subprocess I/O
// error not otherwise covered by a dedicated kind.
type ioFailureError struct {
	op  string
	err error
}

func (e *ioFailureError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *ioFailureError) Unwrap() error { return e.err }

// internalInvariantError reports a condition the implementation
// believes can never happen — a corrupt plan, a missing pending
// counter, a reverse-index inconsistency. It always aborts the run
// immediately.
type internalInvariantError struct {
	reason string
}

func (e *internalInvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated: %s", e.reason)
}

