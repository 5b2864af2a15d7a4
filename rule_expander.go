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

// updateTarget is one entry of the update map built by the rule
// expander: which command-line template to run, and the ordered list
// of local input paths accumulated for it. Multiple input captures can
// resolve to the same output, so inputs accumulates across all of
// them (§4.9).
type updateTarget struct {
	commandLineIx int
	ownerRule     int
	inputs        []string
}

// updateMap is the compiled form of a manifest: every output path a
// rule can produce, plus the command line table it indexes into. It is
// built once per run and treated as immutable afterward (§3,
// Lifecycle).
type updateMap struct {
	commandLines []commandLineTemplate
	targets      map[string]*updateTarget
	order        []string // insertion order of targets, for deterministic iteration
}

func (u *updateMap) addTarget(output string, commandLineIx, ownerRule int) *updateTarget {
	t := &updateTarget{commandLineIx: commandLineIx, ownerRule: ownerRule}
	u.targets[output] = t
	u.order = append(u.order, output)
	return t
}

// expandManifest crawls every source pattern against root, then
// expands every rule in declaration order into the update map,
// implementing §4.9 end to end.
func expandManifest(m *manifest, root string) (*updateMap, error) {
	patterns := make([]*pathGlobPattern, len(m.sourcePatterns))
	for i, raw := range m.sourcePatterns {
		p, err := compilePathGlob(raw)
		if err != nil {
			return nil, err
		}
		patterns[i] = p
	}

	sourceMatches, err := crawlSourcePatterns(root, patterns)
	if err != nil {
		return nil, err
	}

	commandLines := make([]commandLineTemplate, len(m.commandLineTemplates))
	for i, raw := range m.commandLineTemplates {
		t, err := compileCommandLineTemplate(raw.binary, raw.args, raw.hasDepfile)
		if err != nil {
			return nil, err
		}
		commandLines[i] = t
	}

	outputTemplates := make([]substitutionTemplate, len(m.rules))
	for i, r := range m.rules {
		t, err := compileSubstitutionTemplate(r.output)
		if err != nil {
			return nil, err
		}
		outputTemplates[i] = t
	}

	um := &updateMap{commandLines: commandLines, targets: make(map[string]*updateTarget)}
	// ruleOutputs[ri] holds, for every distinct output path rule ri
	// produced, the re-captured string a later rule can reference as a
	// rule_ix input.
	ruleOutputs := make([][]capturedString, len(m.rules))
	// ruleOutputIndex[ri] maps an output local path back to its index in
	// ruleOutputs[ri], so repeated inputs accumulate onto the same entry.
	ruleOutputIndex := make([]map[string]int, len(m.rules))

	for ri, r := range m.rules {
		ruleOutputIndex[ri] = make(map[string]int)
		var inputCaptures []capturedString
		for _, in := range r.inputs {
			switch in.kind {
			case inputFromSource:
				inputCaptures = append(inputCaptures, sourceMatches[in.ix]...)
			case inputFromRule:
				inputCaptures = append(inputCaptures, ruleOutputs[in.ix]...)
			}
		}

		for _, ic := range inputCaptures {
			resolved, offsets, err := resolve(outputTemplates[ri], ic)
			if err != nil {
				return nil, err
			}

			target, exists := um.targets[resolved]
			if !exists {
				target = um.addTarget(resolved, r.commandLineIx, ri)
			} else if target.ownerRule != ri {
				return nil, &outputCollisionError{output: resolved, firstRule: target.ownerRule, rule: ri}
			}
			target.inputs = append(target.inputs, ic.value)

			if _, ok := ruleOutputIndex[ri][resolved]; !ok {
				specs := captureSpecsFromTemplate(outputTemplates[ri])
				cs, err := capture(specs, resolved, offsets)
				if err != nil {
					return nil, err
				}
				ruleOutputIndex[ri][resolved] = len(ruleOutputs[ri])
				ruleOutputs[ri] = append(ruleOutputs[ri], cs)
			}
		}
	}

	return um, nil
}

// crawlSourcePatterns runs one pathGlobMatcher over every compiled
// source pattern simultaneously and buckets the resulting matches by
// pattern index, per §4.9 step 1 ("crawl each source pattern once").
func crawlSourcePatterns(root string, patterns []*pathGlobPattern) ([][]capturedString, error) {
	out := make([][]capturedString, len(patterns))
	matcher := newPathGlobMatcher(root, patterns, osDirReader{})
	var m pathGlobMatch
	for {
		ok, err := matcher.next(&m)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out[m.patternIx] = append(out[m.patternIx], m.captured)
	}
	return out, nil
}
