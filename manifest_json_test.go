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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifestJSON = `{
  "source_patterns": ["src/(*).c"],
  "command_line_templates": [
    {"binary": "/usr/bin/cc", "args": ["-c", "(INPUT_FILES)", "-o", "(OUTPUT_FILES)"]}
  ],
  "rules": [
    {"command_line_ix": 0, "inputs": [{"source_ix": 0}], "output": "dist/(1).o"}
  ]
}`

func TestParseManifestBasic(t *testing.T) {
	m, err := parseManifest(strings.NewReader(sampleManifestJSON))
	require.NoError(t, err)
	require.Len(t, m.sourcePatterns, 1)
	require.Len(t, m.commandLineTemplates, 1)
	require.Len(t, m.rules, 1)
	assert.Equal(t, "dist/(1).o", m.rules[0].output)
	assert.Equal(t, inputFromSource, m.rules[0].inputs[0].kind)
}

func TestParseManifestFractionalIndexRejected(t *testing.T) {
	const doc = `{
	  "source_patterns": ["src/(*).c"],
	  "command_line_templates": [{"binary": "cc", "args": []}],
	  "rules": [{"command_line_ix": 0.5, "inputs": [], "output": "x"}]
	}`
	_, err := parseManifest(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseManifestRuleOrderViolation(t *testing.T) {
	const doc = `{
	  "source_patterns": [],
	  "command_line_templates": [{"binary": "cc", "args": []}],
	  "rules": [
	    {"command_line_ix": 0, "inputs": [{"rule_ix": 0}], "output": "x"}
	  ]
	}`
	_, err := parseManifest(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseManifestAmbiguousInputUnionRejected(t *testing.T) {
	const doc = `{
	  "source_patterns": ["a"],
	  "command_line_templates": [{"binary": "cc", "args": []}],
	  "rules": [
	    {"command_line_ix": 0, "inputs": [{"source_ix": 0, "rule_ix": 0}], "output": "x"}
	  ]
	}`
	_, err := parseManifest(strings.NewReader(doc))
	assert.Error(t, err)
}
