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
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
	"shanhu.io/misc/errcode"
	"shanhu.io/misc/osutil"
)

// depfileReaderGrace bounds how long execute waits, after the child
// has already exited, for the depfile-reading goroutine to report in.
// By the time the child has exited it has either already opened and
// closed its end of the FIFO (in which case the goroutine finishes
// almost immediately) or it never touched the FIFO at all (in which
// case the goroutine is stuck inside its blocking Open call, waiting
// for a writer that will never arrive).
var depfileReaderGrace = 5 * time.Second

// executor drives the update plan to completion, one target at a time
// (§4.11, §5). It owns the two pieces of state that must survive
// across targets within a run: the file-hash cache and the update-log
// cache.
type executor struct {
	root   string
	um     *updateMap
	cache  *cacheDir
	hashes *fileHashCache
	log    *updateLogCache
}

func newExecutor(root string, um *updateMap, cache *cacheDir, log *updateLogCache) *executor {
	return &executor{root: root, um: um, cache: cache, hashes: newFileHashCache(), log: log}
}

// run drains plan's ready queue until exhausted, executing or skipping
// each target in turn. It stops and returns the first error: per §7's
// propagation policy, a single target's failure aborts the whole run
// while leaving the log's record of everything already completed
// intact.
func (ex *executor) run(plan *updatePlan) error {
	for {
		target, ok := plan.next()
		if !ok {
			break
		}

		final, err := ex.runTarget(target)
		if err != nil {
			_ = plan.complete(target, stateFailed)
			return err
		}
		if err := plan.complete(target, final); err != nil {
			return err
		}
	}
	return nil
}

// runTarget performs the freshness check and, if needed, the full
// execute-and-record cycle for one target, returning its terminal
// state.
func (ex *executor) runTarget(target string) (targetState, error) {
	t := ex.um.targets[target]
	cl, err := ex.reifyFor(t, target)
	if err != nil {
		return stateFailed, err
	}

	if rec, ok := ex.log.find(target); ok {
		if ex.isFresh(rec, cl, t) {
			return stateUpToDate, nil
		}
	}

	depRec, err := ex.execute(cl, t.commandLineIx, target)
	if err != nil {
		return stateFailed, &processFailureError{target: target, err: err}
	}

	if err := ex.recordImprint(target, cl, t, depRec); err != nil {
		return stateFailed, err
	}
	return stateUpdated, nil
}

// reifyFor builds the concrete command line for target from its
// owning rule's template and the target's accumulated inputs.
func (ex *executor) reifyFor(t *updateTarget, target string) (*commandLine, error) {
	tmpl := ex.um.commandLines[t.commandLineIx]
	in := reifyInputs{
		inputFiles:  t.inputs,
		outputFiles: []string{target},
	}
	if tmpl.hasDepfile {
		in.depfile = ex.cache.depfileLocal()
	}
	return reify(tmpl, ex.root, in)
}

// isFresh reimplements the freshness check of §4.11 step 2: the
// recomputed imprint (command line, inputs, recorded dependencies)
// must match the logged imprint, and the target's current on-disk
// content hash must match the logged content hash.
func (ex *executor) isFresh(rec updateLogRecord, cl *commandLine, t *updateTarget) bool {
	imprint, err := computeImprint(ex.hashes, ex.root, cl, t.inputs, rec.dependencies)
	if err != nil || imprint != rec.imprint {
		return false
	}
	contentHash, ok := ex.tryHash(absPath(ex.root, rec.target))
	if !ok || contentHash != rec.contentHash {
		return false
	}
	return true
}

// tryHash hashes a file, reporting false rather than an error if it is
// missing — a missing artifact is simply not fresh, not fatal.
func (ex *executor) tryHash(absPath string) (uint64, bool) {
	h, err := ex.hashes.hash(absPath)
	if err != nil {
		return 0, false
	}
	return h, true
}

// execute runs the command line for one target: it creates the
// depfile FIFO if the rule declares one, spawns the child with its
// working directory at the project root, and concurrently drains and
// parses the depfile so the child's writes never block (§4.11 step 3,
// §5).
func (ex *executor) execute(cl *commandLine, commandLineIx int, target string) (*depfileRecord, error) {
	tmpl := ex.um.commandLines[commandLineIx]

	outDir := filepath.Dir(absPath(ex.root, target))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errcode.Annotatef(err, "mkdir %q", outDir)
	}

	cmd := exec.Command(cl.binaryPath, cl.args...)
	cmd.Dir = ex.root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	osutil.CmdCopyEnv(cmd, "HOME")
	osutil.CmdCopyEnv(cmd, "PATH")
	osutil.CmdCopyEnv(cmd, "SSH_AUTH_SOCK")

	type depResult struct {
		rec *depfileRecord
		err error
	}
	var depCh chan depResult

	if tmpl.hasDepfile {
		fifoPath := ex.cache.depfile()
		if err := ensureFifo(fifoPath); err != nil {
			return nil, err
		}
		depCh = make(chan depResult, 1)
		go func() {
			f, err := os.Open(fifoPath)
			if err != nil {
				depCh <- depResult{err: errcode.Annotatef(err, "open depfile %q", fifoPath)}
				return
			}
			defer f.Close()
			rec, err := parseDepfile(f)
			depCh <- depResult{rec: rec, err: err}
		}()
	}

	startErr := cmd.Start()
	var waitErr error
	if startErr == nil {
		waitErr = cmd.Wait()
	} else {
		waitErr = startErr
	}

	var depRec *depfileRecord
	var depErr error
	if depCh != nil {
		select {
		case res := <-depCh:
			depRec, depErr = res.rec, res.err
		case <-time.After(depfileReaderGrace):
			if err := unstickFifoReader(ex.cache.depfile()); err != nil {
				return nil, err
			}
			res := <-depCh
			depRec, depErr = res.rec, res.err
		}
	}

	if waitErr != nil {
		return nil, waitErr
	}
	if depErr != nil {
		return nil, depErr
	}
	return depRec, nil
}

// unstickFifoReader opens path for writing, then immediately closes
// it. It exists only to release a goroutine that is stuck inside a
// blocking read-side Open on the same FIFO because the subprocess
// exited without ever opening it for writing: completing the
// rendezvous lets that Open return, and the immediate close leaves
// zero writers and zero buffered bytes, so the subsequent read sees a
// clean EOF rather than hanging forever.
func unstickFifoReader(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return errcode.Annotatef(err, "unstick depfile reader %q", path)
	}
	return f.Close()
}

// ensureFifo creates a named pipe at path if one is not already there,
// per §6's "depfile" cache-directory entry being shared across
// invocations.
func ensureFifo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errcode.Annotatef(err, "mkdir %q", filepath.Dir(path))
	}
	if fi, err := os.Stat(path); err == nil {
		if fi.Mode()&os.ModeNamedPipe != 0 {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return errcode.Annotatef(err, "remove stale %q", path)
		}
	}
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return errcode.Annotatef(err, "mkfifo %q", path)
	}
	return nil
}

// recordImprint implements §4.11 step 4: invalidate the stale cached
// hash for the just-written target, normalize the depfile's discovered
// dependencies against the project root, and append a fresh record to
// the update-log cache.
func (ex *executor) recordImprint(target string, cl *commandLine, t *updateTarget, depRec *depfileRecord) error {
	ex.hashes.invalidate(absPath(ex.root, target))

	var deps []string
	if depRec != nil {
		for _, raw := range depRec.dependencies {
			dep, err := normalizeDependencyPath(ex.root, raw)
			if err != nil {
				return err
			}
			deps = append(deps, dep)
		}
	}

	imprint, err := computeImprint(ex.hashes, ex.root, cl, t.inputs, deps)
	if err != nil {
		return err
	}
	contentHash, err := ex.hashes.hash(absPath(ex.root, target))
	if err != nil {
		return errcode.Annotatef(err, "hash target %q after build", target)
	}

	return ex.log.record(updateLogRecord{
		imprint:      imprint,
		contentHash:  contentHash,
		target:       target,
		dependencies: deps,
	})
}

// normalizeDependencyPath converts a path reported by a depfile (which
// may be absolute or root-relative) into a local path, rejecting
// anything that resolves outside the project root.
func normalizeDependencyPath(root, raw string) (string, error) {
	if filepath.IsAbs(raw) {
		rel, err := filepath.Rel(root, raw)
		if err != nil {
			return "", &pathOutsideRootError{path: raw}
		}
		rel = filepath.ToSlash(rel)
		if rel == ".." || len(rel) >= 3 && rel[:3] == "../" {
			return "", &pathOutsideRootError{path: raw}
		}
		return rel, nil
	}
	return normalizeLocalPath(raw)
}
