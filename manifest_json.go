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
	"encoding/json"
	"fmt"
	"io"

	"shanhu.io/misc/errcode"
)

// jsonManifest is the wire shape of §4.5's grammar. Decoding here is
// the typed-handler collaborator the spec calls out as out of scope
// for the core; this is its concrete, minimal form.
type jsonManifest struct {
	SourcePatterns       []string                  `json:"source_patterns"`
	CommandLineTemplates []jsonCommandLineTemplate `json:"command_line_templates"`
	Rules                []jsonRule                `json:"rules"`
}

type jsonCommandLineTemplate struct {
	Binary  string   `json:"binary"`
	Args    []string `json:"args"`
	Depfile bool     `json:"depfile"`
}

type jsonRule struct {
	CommandLineIx json.Number     `json:"command_line_ix"`
	Inputs        []jsonRuleInput `json:"inputs"`
	Output        string          `json:"output"`
}

// jsonRuleInput decodes the {source_ix: N} | {rule_ix: N} union by
// inspecting which key is present; exactly one must be.
type jsonRuleInput struct {
	SourceIx *json.Number `json:"source_ix"`
	RuleIx   *json.Number `json:"rule_ix"`
}

func (in jsonRuleInput) resolve() (ruleInput, error) {
	switch {
	case in.SourceIx != nil && in.RuleIx == nil:
		ix, err := intNumber(*in.SourceIx)
		if err != nil {
			return ruleInput{}, err
		}
		return ruleInput{kind: inputFromSource, ix: ix}, nil
	case in.RuleIx != nil && in.SourceIx == nil:
		ix, err := intNumber(*in.RuleIx)
		if err != nil {
			return ruleInput{}, err
		}
		return ruleInput{kind: inputFromRule, ix: ix}, nil
	default:
		return ruleInput{}, &manifestParseError{
			reason: "rule input must set exactly one of source_ix or rule_ix",
		}
	}
}

// intNumber demands an integer-valued JSON number, per §4.5's
// "numeric fields must be integer-valued" rule; a fractional number is
// a ManifestParse error, not silently truncated.
func intNumber(n json.Number) (int, error) {
	f, err := n.Float64()
	if err != nil {
		return 0, &manifestParseError{reason: fmt.Sprintf("invalid number %q", n)}
	}
	i := int(f)
	if float64(i) != f {
		return 0, &manifestParseError{reason: fmt.Sprintf("index %q is not integer-valued", n)}
	}
	return i, nil
}

// parseManifest decodes and validates a manifest document from r.
func parseManifest(r io.Reader) (*manifest, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc jsonManifest
	if err := dec.Decode(&doc); err != nil {
		return nil, errcode.Annotate(&manifestParseError{reason: err.Error()}, "decode manifest")
	}
	if tok, err := dec.Token(); err != io.EOF {
		if err == nil {
			return nil, &manifestParseError{reason: fmt.Sprintf("unexpected trailing content %v", tok)}
		}
	}

	m := &manifest{sourcePatterns: doc.SourcePatterns}
	for _, t := range doc.CommandLineTemplates {
		m.commandLineTemplates = append(m.commandLineTemplates, rawCommandLineTemplate{
			binary:     t.Binary,
			args:       t.Args,
			hasDepfile: t.Depfile,
		})
	}
	for ri, jr := range doc.Rules {
		clIx, err := intNumber(jr.CommandLineIx)
		if err != nil {
			return nil, err
		}
		r := rule{commandLineIx: clIx, output: jr.Output}
		for _, ji := range jr.Inputs {
			in, err := ji.resolve()
			if err != nil {
				return nil, errcode.Annotatef(err, "rule %d", ri)
			}
			r.inputs = append(r.inputs, in)
		}
		m.rules = append(m.rules, r)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}
