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
	"os"

	"shanhu.io/upd2"
)

// run implements the CLI entry point described in §6, returning the
// process exit code. Argument errors exit 1; everything upd itself
// raises (missing Updfile, manifest/depfile/log errors, unknown
// targets, paths escaping the root, process failures) exits 2.
func run(argv []string) int {
	opts, err := parseArgs(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, upd.FormatDiagnostic(err, false))
		return 1
	}

	if opts.help {
		fmt.Print(usage)
		return 0
	}
	if opts.printVersion {
		fmt.Println(upd.Version)
		return 0
	}

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, upd.FormatDiagnostic(err, opts.colorDiagnostics))
		return 2
	}

	root, err := upd.FindRoot(wd)
	if err != nil {
		fmt.Fprintln(os.Stderr, upd.FormatDiagnostic(err, opts.colorDiagnostics))
		return 2
	}
	if opts.printRoot {
		fmt.Println(root)
		return 0
	}

	proj, err := upd.Load(root)
	if err != nil {
		fmt.Fprintln(os.Stderr, upd.FormatDiagnostic(err, opts.colorDiagnostics))
		return 2
	}

	if opts.dotGraph {
		if err := proj.WriteDotGraph(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, upd.FormatDiagnostic(err, opts.colorDiagnostics))
			return 2
		}
		return 0
	}

	if err := proj.Build(opts.targets, opts.all); err != nil {
		fmt.Fprintln(os.Stderr, upd.FormatDiagnostic(err, opts.colorDiagnostics))
		return 2
	}
	return 0
}
