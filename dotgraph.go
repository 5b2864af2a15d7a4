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
	"io"
	"sort"
)

// writeDotGraph renders every target of the update map as a Graphviz
// DOT digraph, for --dot-graph. Each target is a node; each edge points
// from an input (a source or another target) to the output it feeds,
// matching the direction a reader would expect a build graph to flow.
func writeDotGraph(w io.Writer, um *updateMap) error {
	if _, err := fmt.Fprintln(w, "digraph upd {"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "  rankdir=LR;"); err != nil {
		return err
	}

	outputs := append([]string{}, um.order...)
	sort.Strings(outputs)

	for _, out := range outputs {
		if _, err := fmt.Fprintf(w, "  %q;\n", out); err != nil {
			return err
		}
		t := um.targets[out]
		inputs := append([]string{}, t.inputs...)
		sort.Strings(inputs)
		seen := make(map[string]bool)
		for _, in := range inputs {
			if seen[in] {
				continue
			}
			seen[in] = true
			if _, err := fmt.Fprintf(w, "  %q -> %q;\n", in, out); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintln(w, "}")
	return err
}
