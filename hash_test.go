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

func writeTempFile(t *testing.T, dir, name, content string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "a.txt", "hello world")

	h1, err := hashFile(p)
	require.NoError(t, err)
	h2, err := hashFile(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	q := writeTempFile(t, dir, "b.txt", "hello worlD")
	h3, err := hashFile(q)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestFileHashCacheMemoizesAndInvalidates(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "a.txt", "v1")

	c := newFileHashCache()
	h1, err := c.hash(p)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("v2"), 0o644))
	h2, err := c.hash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "cache should still return the stale digest")

	c.invalidate(p)
	h3, err := c.hash(p)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestComputeImprintOrderSensitive(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "aaa")
	writeTempFile(t, dir, "b.txt", "bbb")

	cl := &commandLine{binaryPath: "/bin/cc", args: []string{"-c", "a.txt"}}
	c := newFileHashCache()

	i1, err := computeImprint(c, dir, cl, []string{"a.txt", "b.txt"}, nil)
	require.NoError(t, err)
	i2, err := computeImprint(c, dir, cl, []string{"b.txt", "a.txt"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, i1, i2, "imprint must be sensitive to input order")

	i3, err := computeImprint(c, dir, cl, []string{"a.txt", "b.txt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, i1, i3)
}

func TestComputeImprintSensitiveToCommandLine(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "a.txt", "aaa")

	c := newFileHashCache()
	cl1 := &commandLine{binaryPath: "/bin/cc", args: []string{"-O2"}}
	cl2 := &commandLine{binaryPath: "/bin/cc", args: []string{"-O0"}}

	i1, err := computeImprint(c, dir, cl1, []string{"a.txt"}, nil)
	require.NoError(t, err)
	i2, err := computeImprint(c, dir, cl2, []string{"a.txt"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, i1, i2)
}
