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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateLogRecordAndFind(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")

	c, err := openUpdateLogCache(logPath)
	require.NoError(t, err)

	err = c.record(updateLogRecord{imprint: 1, contentHash: 2, target: "dist/a.o", dependencies: []string{"a.h"}})
	require.NoError(t, err)

	rec, ok := c.find("dist/a.o")
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.imprint)
	assert.Equal(t, uint64(2), rec.contentHash)
	assert.Equal(t, []string{"a.h"}, rec.dependencies)

	require.NoError(t, c.close())
}

func TestUpdateLogDuplicateTargetSupersedes(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")

	c, err := openUpdateLogCache(logPath)
	require.NoError(t, err)
	require.NoError(t, c.record(updateLogRecord{imprint: 1, contentHash: 1, target: "x"}))
	require.NoError(t, c.record(updateLogRecord{imprint: 2, contentHash: 2, target: "x"}))
	require.NoError(t, c.close())

	c2, err := openUpdateLogCache(logPath)
	require.NoError(t, err)
	rec, ok := c2.find("x")
	require.True(t, ok)
	assert.Equal(t, uint64(2), rec.imprint)
}

func TestUpdateLogRewriteIsAtomicAndReusable(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")
	tmpPath := filepath.Join(dir, "log_rewritten")

	c, err := openUpdateLogCache(logPath)
	require.NoError(t, err)
	require.NoError(t, c.record(updateLogRecord{imprint: 1, contentHash: 1, target: "x"}))
	require.NoError(t, c.rewrite(tmpPath))

	_, err = os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(err), "temporary path should be renamed away, not left behind")

	require.NoError(t, c.record(updateLogRecord{imprint: 3, contentHash: 3, target: "y"}))
	require.NoError(t, c.close())

	c2, err := openUpdateLogCache(logPath)
	require.NoError(t, err)
	_, ok := c2.find("x")
	assert.True(t, ok)
	_, ok = c2.find("y")
	assert.True(t, ok)
}

func TestUpdateLogCorruptionOnStartup(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "log")
	require.NoError(t, os.WriteFile(logPath, []byte("not a valid line\n"), 0o644))

	_, err := openUpdateLogCache(logPath)
	assert.Error(t, err)
}
