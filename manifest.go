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

// ruleInputKind distinguishes a rule input that reads from a source
// pattern match from one that reads from an earlier rule's output.
type ruleInputKind int

const (
	inputFromSource ruleInputKind = iota
	inputFromRule
)

// ruleInput is one element of a rule's ordered input list: either
// "source_ix" or "rule_ix" into, respectively, the manifest's
// source_patterns table or the rules table preceding this one.
type ruleInput struct {
	kind ruleInputKind
	ix   int
}

// rule is one manifest rule: which command-line template to run, its
// ordered inputs, and a substitution pattern describing its output
// local path (and, transitively, its own capture groups for any rule
// that references it as an input).
type rule struct {
	commandLineIx int
	inputs        []ruleInput
	output        string
}

// rawCommandLineTemplate is the manifest's on-disk shape for one
// command-line table entry: a binary path template and its argument
// templates, both using the "(INPUT_FILES)"/"(OUTPUT_FILES)"/"(DEPFILE)"
// variable grammar of §4.6, and a flag marking whether the rule
// declares a depfile at all.
type rawCommandLineTemplate struct {
	binary     string
	args       []string
	hasDepfile bool
}

// manifest is the full parsed, but not yet compiled, data model of
// §4.5: pure data, structurally comparable, with no knowledge of the
// filesystem or of how it was read off the wire.
type manifest struct {
	sourcePatterns       []string
	commandLineTemplates []rawCommandLineTemplate
	rules                []rule
}

// manifestParseError reports a malformed manifest structure (§7,
// ManifestParse).
type manifestParseError struct {
	reason string
}

func (e *manifestParseError) Error() string {
	return fmt.Sprintf("manifest parse error: %s", e.reason)
}

// ruleOrderError reports a rule referencing a rule that is not
// strictly earlier than itself (§7, RuleOrder).
type ruleOrderError struct {
	ruleIx, referencedIx int
}

func (e *ruleOrderError) Error() string {
	return fmt.Sprintf("rule %d references rule %d, which is not strictly earlier", e.ruleIx, e.referencedIx)
}

// validate checks the structural invariants §4.5 and §4.9 require
// before the manifest can be compiled: every source_ix and rule_ix a
// rule names must be in range, and rule_ix must name a strictly
// earlier rule.
func (m *manifest) validate() error {
	for ri, r := range m.rules {
		if r.commandLineIx < 0 || r.commandLineIx >= len(m.commandLineTemplates) {
			return &manifestParseError{reason: fmt.Sprintf(
				"rule %d: command_line_ix %d out of range", ri, r.commandLineIx)}
		}
		for _, in := range r.inputs {
			switch in.kind {
			case inputFromSource:
				if in.ix < 0 || in.ix >= len(m.sourcePatterns) {
					return &manifestParseError{reason: fmt.Sprintf(
						"rule %d: source_ix %d out of range", ri, in.ix)}
				}
			case inputFromRule:
				if in.ix < 0 || in.ix >= len(m.rules) {
					return &manifestParseError{reason: fmt.Sprintf(
						"rule %d: rule_ix %d out of range", ri, in.ix)}
				}
				if in.ix >= ri {
					return &ruleOrderError{ruleIx: ri, referencedIx: in.ix}
				}
			}
		}
	}
	return nil
}
