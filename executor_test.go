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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCopyExecutor wires one update map with a single rule that shells
// out to "cp" to copy its one input to its one output, so tests can
// exercise the real freshness-check/execute/record cycle without a
// compiler toolchain.
func newCopyExecutor(t *testing.T, root string) (*executor, *updateMap, *cacheDir) {
	cl, err := compileCommandLineTemplate("/bin/cp", []string{"(INPUT_FILES)", "(OUTPUT_FILES)"}, false)
	require.NoError(t, err)

	um := &updateMap{
		commandLines: []commandLineTemplate{cl},
		targets:      make(map[string]*updateTarget),
	}
	um.addTarget("dist/foo.o", 0, 0)
	um.targets["dist/foo.o"].inputs = []string{"src/foo.c"}

	cache := newCacheDir(root)
	require.NoError(t, cache.ensure())
	log, err := openUpdateLogCache(cache.log())
	require.NoError(t, err)

	return newExecutor(root, um, cache, log), um, cache
}

func TestExecutorColdBuild(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, "src/foo.c")

	ex, um, _ := newCopyExecutor(t, root)
	plan, err := buildPlan(um, []string{"dist/foo.o"}, false)
	require.NoError(t, err)

	require.NoError(t, ex.run(plan))
	require.NoError(t, ex.log.close())

	got, err := os.ReadFile(filepath.Join(root, "dist/foo.o"))
	require.NoError(t, err)
	assert.Equal(t, "content of src/foo.c", string(got))

	_, ok := ex.log.find("dist/foo.o")
	assert.True(t, ok)
}

func TestExecutorNoOpRebuildSkipsExecution(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, "src/foo.c")

	ex, um, _ := newCopyExecutor(t, root)
	plan, err := buildPlan(um, []string{"dist/foo.o"}, false)
	require.NoError(t, err)
	require.NoError(t, ex.run(plan))

	// Make the output undeletable by "cp" (simulate a read-only
	// artifact) so a second, un-short-circuited run would fail loudly.
	require.NoError(t, os.Chmod(filepath.Join(root, "dist/foo.o"), 0o444))
	require.NoError(t, os.Chmod(filepath.Join(root, "dist"), 0o555))

	plan2, err := buildPlan(um, []string{"dist/foo.o"}, false)
	require.NoError(t, err)
	target, ok := plan2.next()
	require.True(t, ok)

	state, err := ex.runTarget(target)
	require.NoError(t, err, "a fresh target must be skipped, not re-executed")
	assert.Equal(t, stateUpToDate, state)

	require.NoError(t, os.Chmod(filepath.Join(root, "dist"), 0o755))
}

func TestExecutorSourceEditTriggersRebuild(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, "src/foo.c")

	ex, um, cache := newCopyExecutor(t, root)
	plan, err := buildPlan(um, []string{"dist/foo.o"}, false)
	require.NoError(t, err)
	require.NoError(t, ex.run(plan))

	// Ensure the rewritten file's mtime-independent content hash
	// actually changes, not just its timestamp.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "src/foo.c"), []byte("edited content"), 0o644))

	// The second run gets a fresh executor, and with it a fresh
	// per-run file-hash cache, sharing only the update log.
	ex = newExecutor(root, um, cache, ex.log)

	plan2, err := buildPlan(um, []string{"dist/foo.o"}, false)
	require.NoError(t, err)
	target, ok := plan2.next()
	require.True(t, ok)

	state, err := ex.runTarget(target)
	require.NoError(t, err)
	assert.Equal(t, stateUpdated, state)

	got, err := os.ReadFile(filepath.Join(root, "dist/foo.o"))
	require.NoError(t, err)
	assert.Equal(t, "edited content", string(got))
}

func TestExecutorProcessFailureLeavesLogIntact(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, "src/a.c")

	okCl, err := compileCommandLineTemplate("/bin/cp", []string{"(INPUT_FILES)", "(OUTPUT_FILES)"}, false)
	require.NoError(t, err)
	failCl, err := compileCommandLineTemplate("/bin/false", nil, false)
	require.NoError(t, err)

	um := &updateMap{
		commandLines: []commandLineTemplate{okCl, failCl},
		targets:      make(map[string]*updateTarget),
	}
	um.addTarget("dist/a.o", 0, 0)
	um.targets["dist/a.o"].inputs = []string{"src/a.c"}
	um.addTarget("dist/app", 1, 1)
	um.targets["dist/app"].inputs = []string{"dist/a.o"}

	cache := newCacheDir(root)
	require.NoError(t, cache.ensure())
	log, err := openUpdateLogCache(cache.log())
	require.NoError(t, err)
	ex := newExecutor(root, um, cache, log)

	plan, err := buildPlan(um, []string{"dist/app"}, false)
	require.NoError(t, err)

	err = ex.run(plan)
	assert.Error(t, err, "the failing link step must abort the run")

	_, ok := ex.log.find("dist/a.o")
	assert.True(t, ok, "the already-updated predecessor's log record must survive")
	_, ok = ex.log.find("dist/app")
	assert.False(t, ok, "the failed target must never be appended to the log")
}

// TestExecutorHeaderDiscoveryViaDepfile exercises the depfile path end
// to end: a rule whose command line declares DEPFILE writes a real
// makefile-style record into the FIFO, and the executor must thread
// the discovered dependency into the update-log record.
func TestExecutorHeaderDiscoveryViaDepfile(t *testing.T) {
	root := t.TempDir()
	mkTree(t, root, "src/foo.c", "src/foo.h")

	cl, err := compileCommandLineTemplate("/bin/sh",
		[]string{"-c", "cp (INPUT_FILES) (OUTPUT_FILES) && printf '(OUTPUT_FILES): (INPUT_FILES) src/foo.h\\n' > (DEPFILE)"},
		true)
	require.NoError(t, err)

	um := &updateMap{
		commandLines: []commandLineTemplate{cl},
		targets:      make(map[string]*updateTarget),
	}
	um.addTarget("dist/foo.o", 0, 0)
	um.targets["dist/foo.o"].inputs = []string{"src/foo.c"}

	cache := newCacheDir(root)
	require.NoError(t, cache.ensure())
	log, err := openUpdateLogCache(cache.log())
	require.NoError(t, err)
	ex := newExecutor(root, um, cache, log)

	plan, err := buildPlan(um, []string{"dist/foo.o"}, false)
	require.NoError(t, err)
	require.NoError(t, ex.run(plan))

	rec, ok := ex.log.find("dist/foo.o")
	require.True(t, ok)
	assert.Equal(t, []string{"src/foo.c", "src/foo.h"}, rec.dependencies)
}

// TestExecutorDepfileNeverWrittenDoesNotHang covers a rule that
// declares a depfile but whose command line never touches the FIFO at
// all: the depfile-reading goroutine would otherwise block forever
// inside its read-side Open, waiting for a writer that will never
// show up.
func TestExecutorDepfileNeverWrittenDoesNotHang(t *testing.T) {
	old := depfileReaderGrace
	depfileReaderGrace = 50 * time.Millisecond
	defer func() { depfileReaderGrace = old }()

	root := t.TempDir()
	mkTree(t, root, "src/foo.c")

	cl, err := compileCommandLineTemplate("/bin/cp", []string{"(INPUT_FILES)", "(OUTPUT_FILES)"}, true)
	require.NoError(t, err)

	um := &updateMap{
		commandLines: []commandLineTemplate{cl},
		targets:      make(map[string]*updateTarget),
	}
	um.addTarget("dist/foo.o", 0, 0)
	um.targets["dist/foo.o"].inputs = []string{"src/foo.c"}

	cache := newCacheDir(root)
	require.NoError(t, cache.ensure())
	log, err := openUpdateLogCache(cache.log())
	require.NoError(t, err)
	ex := newExecutor(root, um, cache, log)

	plan, err := buildPlan(um, []string{"dist/foo.o"}, false)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ex.run(plan) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ex.run did not return; the depfile reader is stuck")
	}
}

func TestNormalizeDependencyPath(t *testing.T) {
	root := "/proj"

	rel, err := normalizeDependencyPath(root, "src/a.h")
	require.NoError(t, err)
	assert.Equal(t, "src/a.h", rel)

	rel, err = normalizeDependencyPath(root, "/proj/src/b.h")
	require.NoError(t, err)
	assert.Equal(t, "src/b.h", rel)

	_, err = normalizeDependencyPath(root, "/other/c.h")
	assert.Error(t, err)

	_, err = normalizeDependencyPath(root, "../escape.h")
	assert.Error(t, err)
}
