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
	"fmt"

	"github.com/muesli/termenv"
)

// FormatDiagnostic renders the one-line fatal-error message §7
// requires for a run-ending error, optionally colored with ANSI SGR
// escapes via termenv.
func FormatDiagnostic(err error, color bool) string {
	msg := fmt.Sprintf("upd: error: %v", err)
	if color {
		msg = termenv.String(msg).Foreground(termenv.ANSIRed).String()
	}
	return msg
}
