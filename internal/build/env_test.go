// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package build_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/kupfer/kupferbootstrap/internal/build"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

func TestMakepkgEnv(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin:/bin",
		"CI=true",
		"CI_JOB_TOKEN=secret",
		"GITLAB_USER_LOGIN=someone",
		"FF_NETWORK_PER_BUILD=1",
		"CIRCLE=round",
		"HOME=/home/user",
		"MALFORMED",
	}

	env, err := build.MakepkgEnv(environ, sys.X8664, sys.X8664, 4)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"PATH":             "/usr/bin:/bin",
		"CIRCLE":           "round",
		"HOME":             "/home/user",
		"LANG":             "C",
		"CARGO_BUILD_JOBS": "4",
		"MAKEFLAGS":        "-j4",
	}, env)

	env, err = build.MakepkgEnv(nil, sys.X8664, sys.AArch64, 2)
	require.NoError(t, err)
	assert.Equal(t, "/usr/aarch64-linux-gnu", env["QEMU_LD_PREFIX"])
	assert.Equal(t, "-j2", env["MAKEFLAGS"])

	env, err = build.MakepkgEnv(nil, sys.X8664, sys.X8664, 0)
	require.NoError(t, err)
	assert.NotEqual(t, "-j0", env["MAKEFLAGS"])

	_, err = build.MakepkgEnv(nil, sys.AArch64, sys.ARMv7h, 1)
	require.ErrorIs(t, err, sys.ErrArchNotSupported)
}
