// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package shell

import (
	"log/slog"
	"os/exec"
	"sync"
)

var programCache sync.Map

// ProgramsAvailable reports whether all given programs are found in PATH.
// Results are cached for the lifetime of the process.
func ProgramsAvailable(names ...string) bool {
	for _, name := range names {
		if found, ok := programCache.Load(name); ok {
			if !found.(bool) {
				return false
			}

			continue
		}

		_, err := exec.LookPath(name)
		programCache.Store(name, err == nil)

		if err != nil {
			slog.Debug("Program not available", slog.String("program", name))
			return false
		}
	}

	return true
}
