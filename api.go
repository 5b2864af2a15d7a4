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

// Package upd implements a declarative-manifest-driven,
// content-addressed, dependency-aware incremental build engine.
package upd

import (
	"io"
	"os"

	"shanhu.io/misc/errcode"
)

// Version is upd's semantic version, printed by --version.
const Version = "0.1.0"

// FindRoot walks up from startDir looking for the nearest ancestor
// directory containing a regular file named Updfile (§6).
func FindRoot(startDir string) (string, error) {
	return findProjectRoot(startDir)
}

// Project is a loaded manifest, compiled and expanded into an update
// map rooted at a discovered project directory. It is the unit a CLI
// builds once per invocation and then either executes against or
// renders as a graph.
type Project struct {
	root string
	um   *updateMap
}

// Load discovers the manifest at <root>/Updfile, parses it, and
// expands it into a compiled update map (§4.5, §4.9).
func Load(root string) (*Project, error) {
	f, err := os.Open(absPath(root, updfileName))
	if err != nil {
		return nil, errcode.Annotatef(err, "open %s", updfileName)
	}
	defer f.Close()

	m, err := parseManifest(f)
	if err != nil {
		return nil, err
	}
	um, err := expandManifest(m, root)
	if err != nil {
		return nil, err
	}
	return &Project{root: root, um: um}, nil
}

// Root returns the project's discovered root directory.
func (p *Project) Root() string { return p.root }

// WriteDotGraph renders the project's full compiled update map as a
// Graphviz DOT digraph (§6, --dot-graph).
func (p *Project) WriteDotGraph(w io.Writer) error {
	return writeDotGraph(w, p.um)
}

// Build plans and executes an update of targets (or of every known
// output, if all is true), then rewrites the update log atomically
// whether or not the build succeeded, so records of targets completed
// before a failure are kept. It implements the run described end to end by §4.10,
// §4.11 and §5.
func (p *Project) Build(targets []string, all bool) error {
	for i, t := range targets {
		norm, err := normalizeLocalPath(t)
		if err != nil {
			return err
		}
		targets[i] = norm
	}

	plan, err := buildPlan(p.um, targets, all)
	if err != nil {
		return err
	}

	cache := newCacheDir(p.root)
	if err := cache.ensure(); err != nil {
		return errcode.Annotatef(err, "prepare cache dir")
	}

	log, err := openUpdateLogCache(cache.log())
	if err != nil {
		return err
	}

	ex := newExecutor(p.root, p.um, cache, log)
	buildErr := ex.run(plan)

	if err := log.rewrite(cache.logRewritten()); err != nil {
		if buildErr != nil {
			return buildErr
		}
		return err
	}
	return buildErr
}
