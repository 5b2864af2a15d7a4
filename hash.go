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
	"encoding/binary"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"shanhu.io/misc/errcode"
)

// hashFile streams a file through XXH64 in 4KiB blocks and returns its
// digest. Read failures are wrapped with the offending path.
func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errcode.Annotatef(err, "hash file %q", path)
	}
	defer f.Close()

	h := xxhash.New()
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errcode.Annotatef(err, "read file %q", path)
		}
	}
	return h.Sum64(), nil
}

// fileHashCache memoizes file digests by absolute path within one run.
// It is not shared across runs and carries no synchronization because
// the executor that owns it runs single-threaded (spec §5).
type fileHashCache struct {
	digests map[string]uint64
}

func newFileHashCache() *fileHashCache {
	return &fileHashCache{digests: make(map[string]uint64)}
}

// hash returns the cached digest of absPath, computing and storing it
// on first access.
func (c *fileHashCache) hash(absPath string) (uint64, error) {
	if d, ok := c.digests[absPath]; ok {
		return d, nil
	}
	d, err := hashFile(absPath)
	if err != nil {
		return 0, err
	}
	c.digests[absPath] = d
	return d, nil
}

// invalidate removes a cached digest, used after the executor writes a
// fresh artifact at absPath so a later freshness check sees its new
// content.
func (c *fileHashCache) invalidate(absPath string) {
	delete(c.digests, absPath)
}

// hashCommandLine feeds a reified command line into a running digest:
// the binary path, then each argument, each length-prefixed so that
// "a","bc" cannot collide with "ab","c".
func hashCommandLine(h *xxhash.Digest, cl *commandLine) {
	writeLenPrefixed(h, cl.binaryPath)
	for _, arg := range cl.args {
		writeLenPrefixed(h, arg)
	}
}

func writeLenPrefixed(h *xxhash.Digest, s string) {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

// computeImprint resolves the freshness-check Open Question (spec §9)
// by sequentially reducing, into a single running hash, the command
// line, then each input file's hash (in declared order), then each
// dependency file's hash (in recorded order) — never XOR.
func computeImprint(
	hashes *fileHashCache,
	root string,
	cl *commandLine,
	localInputPaths []string,
	localDependencyPaths []string,
) (uint64, error) {
	h := xxhash.New()
	hashCommandLine(h, cl)

	writeFileHashes := func(localPaths []string) error {
		for _, p := range localPaths {
			d, err := hashes.hash(absPath(root, p))
			if err != nil {
				return err
			}
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], d)
			h.Write(buf[:])
		}
		return nil
	}

	if err := writeFileHashes(localInputPaths); err != nil {
		return 0, err
	}
	if err := writeFileHashes(localDependencyPaths); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
