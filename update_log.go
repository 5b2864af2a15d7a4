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
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"shanhu.io/misc/errcode"
)

// updateLogRecord is one line of the on-disk update log: a target's
// last-known imprint, its content hash at that time, and the local
// dependency paths discovered alongside it.
type updateLogRecord struct {
	imprint      uint64
	contentHash  uint64
	target       string
	dependencies []string
}

func formatLogRecord(r updateLogRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%016x %016x %s", r.imprint, r.contentHash, r.target)
	for _, d := range r.dependencies {
		b.WriteByte(' ')
		b.WriteString(d)
	}
	return b.String()
}

func parseLogLine(line string) (updateLogRecord, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return updateLogRecord{}, &logCorruptionError{reason: fmt.Sprintf("malformed line %q", line)}
	}
	imprint, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return updateLogRecord{}, &logCorruptionError{reason: fmt.Sprintf("bad imprint in %q", line)}
	}
	contentHash, err := strconv.ParseUint(fields[1], 16, 64)
	if err != nil {
		return updateLogRecord{}, &logCorruptionError{reason: fmt.Sprintf("bad content hash in %q", line)}
	}
	rec := updateLogRecord{
		imprint:     imprint,
		contentHash: contentHash,
		target:      fields[2],
	}
	if len(fields) > 3 {
		rec.dependencies = append([]string{}, fields[3:]...)
	}
	return rec, nil
}

// updateLogCache is the in-memory mapping local_path -> record kept by
// the executor for the whole run, backed by an append-only on-disk
// log. find/record mutate and query the map in lock-step with the
// file, per §4.8.
type updateLogCache struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	records map[string]updateLogRecord
}

// openUpdateLogCache parses the existing log at path (if any) into the
// in-memory map, keeping only the latest occurrence per target, then
// opens it for append so record() can keep appending to the same file.
func openUpdateLogCache(path string) (*updateLogCache, error) {
	records := make(map[string]updateLogRecord)

	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			rec, err := parseLogLine(line)
			if err != nil {
				return nil, err
			}
			records[rec.target] = rec
		}
	} else if !os.IsNotExist(err) {
		return nil, errcode.Annotatef(err, "read update log %q", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errcode.Annotatef(err, "open update log %q", path)
	}
	return &updateLogCache{path: path, f: f, w: bufio.NewWriter(f), records: records}, nil
}

// find reports the cached record for a local target path, if any.
func (c *updateLogCache) find(target string) (updateLogRecord, bool) {
	rec, ok := c.records[target]
	return rec, ok
}

// record updates the in-memory map and appends one line to the log,
// flushing immediately so a crash mid-build leaves a durable record of
// everything completed so far.
func (c *updateLogCache) record(rec updateLogRecord) error {
	c.records[rec.target] = rec
	line := formatLogRecord(rec) + "\n"
	if _, err := c.w.WriteString(line); err != nil {
		return errcode.Annotatef(err, "append update log %q", c.path)
	}
	if err := c.w.Flush(); err != nil {
		return errcode.Annotatef(err, "flush update log %q", c.path)
	}
	if err := c.f.Sync(); err != nil {
		return errcode.Annotatef(err, "sync update log %q", c.path)
	}
	return nil
}

// recordsSnapshot returns every record currently cached, order
// unspecified.
func (c *updateLogCache) recordsSnapshot() []updateLogRecord {
	out := make([]updateLogRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return out
}

// close releases the underlying file handle without rewriting it.
func (c *updateLogCache) close() error {
	return c.f.Close()
}

// rewrite deduplicates the log by writing the current in-memory
// snapshot to a temporary path and atomically renaming it over the
// real log, then reopens the log for further appends. A failed rename
// is fatal: the caller has no safe way to know which version of the
// log is now on disk.
func (c *updateLogCache) rewrite(tmpPath string) error {
	if err := c.f.Close(); err != nil {
		return errcode.Annotatef(err, "close update log %q", c.path)
	}

	var b strings.Builder
	for _, rec := range c.recordsSnapshot() {
		b.WriteString(formatLogRecord(rec))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(tmpPath, []byte(b.String()), 0o644); err != nil {
		return errcode.Annotatef(err, "write temporary log %q", tmpPath)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return errcode.Annotatef(err, "rename %q to %q", tmpPath, c.path)
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errcode.Annotatef(err, "reopen update log %q", c.path)
	}
	c.f = f
	c.w = bufio.NewWriter(f)
	return nil
}
