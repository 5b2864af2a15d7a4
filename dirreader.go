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

	"shanhu.io/misc/errcode"
)

// entryKind replaces the original C++ matcher's raw dirent/DT_DIR/DT_REG
// pair with an owned, closed enum (Design Notes item 2).
type entryKind int

const (
	entryOther entryKind = iota
	entryRegular
	entryDirectory
)

// dirEntry is one listed directory entry.
type dirEntry struct {
	name string
	kind entryKind
}

// dirReader lists the immediate entries of a directory, skipping
// dotfiles. Production code backs this with os.ReadDir; tests back it
// with an in-memory fixture (spec §8's synthetic tree).
type dirReader interface {
	readDir(absPath string) ([]dirEntry, error)
}

// osDirReader is the production dirReader, reading the real filesystem.
// A missing leaf directory is treated as empty, not an error, matching
// spec §4.3's failure model; any other read error is fatal.
type osDirReader struct{}

func (osDirReader) readDir(absPath string) ([]dirEntry, error) {
	entries, err := os.ReadDir(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errcode.Annotatef(err, "read dir %q", absPath)
	}

	out := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		kind := entryOther
		switch {
		case e.IsDir():
			kind = entryDirectory
		case e.Type().IsRegular():
			kind = entryRegular
		}
		out = append(out, dirEntry{name: name, kind: kind})
	}
	return out, nil
}
