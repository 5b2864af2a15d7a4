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

package main

import (
	"fmt"

	"github.com/spf13/pflag"
)

const usage = `upd [options] [targets...]

A declarative-manifest-driven, content-addressed, dependency-aware
rebuild tool. Targets are relative paths into the project rooted at
the nearest ancestor directory containing an Updfile.

Options:
  --help                Print this message and exit.
  --version             Print the version and exit.
  --root                Print the discovered project root and exit.
  --dot-graph           Emit the full update map as Graphviz DOT instead of running it;
                        targets and --all do not narrow it.
  --all                 Update every known output; mutually exclusive with explicit targets.
  --color-diagnostics   Color stderr diagnostics with ANSI escapes.
  --                    Treat everything after this as a target, not an option.
`

// options is the parsed form of upd's command line, per §6.
type options struct {
	help             bool
	printVersion     bool
	printRoot        bool
	dotGraph         bool
	all              bool
	colorDiagnostics bool
	targets          []string
}

// parseArgs parses argv (not including the program name) into options,
// returning an argument error for anything pflag itself rejects or for
// the explicit --all/targets mutual exclusion §6 calls out.
func parseArgs(argv []string) (*options, error) {
	fs := pflag.NewFlagSet("upd", pflag.ContinueOnError)
	fs.Usage = func() {}

	opts := &options{}
	fs.BoolVar(&opts.help, "help", false, "print usage")
	fs.BoolVar(&opts.printVersion, "version", false, "print version")
	fs.BoolVar(&opts.printRoot, "root", false, "print discovered project root")
	fs.BoolVar(&opts.dotGraph, "dot-graph", false, "emit the plan as Graphviz DOT")
	fs.BoolVar(&opts.all, "all", false, "update every known output")
	fs.BoolVar(&opts.colorDiagnostics, "color-diagnostics", false, "color stderr diagnostics")

	if err := fs.Parse(argv); err != nil {
		return nil, &argErr{fmt.Sprintf("%v", err)}
	}
	opts.targets = fs.Args()

	if opts.all && len(opts.targets) > 0 {
		return nil, &argErr{"--all is mutually exclusive with explicit targets"}
	}
	return opts, nil
}

// argErr reports a malformed invocation (§6, exit code 1).
type argErr struct {
	reason string
}

func (e *argErr) Error() string { return fmt.Sprintf("argument error: %s", e.reason) }
