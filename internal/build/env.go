// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package build

import (
	"runtime"
	"slices"
	"strconv"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// strippedEnvPrefixes are the prefixes (up to the first underscore) of
// variables not passed on to makepkg.
var strippedEnvPrefixes = []string{"CI", "GITLAB", "FF"}

// MakepkgEnv returns the environment for makepkg runs. environ is the host
// environment as returned by [os.Environ]. If threads is zero, the number of
// CPUs is used.
func MakepkgEnv(environ []string, native, arch sys.Arch, threads int) (map[string]string, error) {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	env := make(map[string]string, len(environ)+4)

	for _, entry := range environ {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}

		prefix, _, _ := strings.Cut(key, "_")
		if slices.Contains(strippedEnvPrefixes, prefix) {
			continue
		}

		env[key] = value
	}

	env["LANG"] = "C"
	env["CARGO_BUILD_JOBS"] = strconv.Itoa(threads)
	env["MAKEFLAGS"] = "-j" + strconv.Itoa(threads)

	if arch != "" && arch != native {
		spec, err := sys.GCCHostSpec(native, arch)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		env["QEMU_LD_PREFIX"] = "/usr/" + spec
	}

	return env, nil
}

func prependPath(env map[string]string, dir string) {
	if path := env["PATH"]; path != "" {
		env["PATH"] = dir + ":" + path
		return
	}

	env["PATH"] = dir + ":/usr/local/sbin:/usr/local/bin:/usr/bin"
}
