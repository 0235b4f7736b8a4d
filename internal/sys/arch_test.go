// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

func TestArchSet(t *testing.T) {
	tests := []struct {
		input       string
		expected    sys.Arch
		expectedErr error
	}{
		{input: "x86_64", expected: sys.X8664},
		{input: "aarch64", expected: sys.AArch64},
		{input: "armv7h", expected: sys.ARMv7h},
		{input: "armv7", expected: sys.ARMv7h},
		{input: "riscv64", expectedErr: sys.ErrArchNotSupported},
		{input: "", expectedErr: &sys.ArchError{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var arch sys.Arch

			err := arch.Set(tt.input)
			require.ErrorIs(t, err, tt.expectedErr)
			assert.Equal(t, tt.expected, arch)
		})
	}
}

func TestArchDerivedNames(t *testing.T) {
	tests := []struct {
		arch    sys.Arch
		qemu    string
		compile string
	}{
		{arch: sys.X8664, qemu: "x86_64", compile: "amd64"},
		{arch: sys.AArch64, qemu: "aarch64", compile: "arm64"},
		{arch: sys.ARMv7h, qemu: "arm", compile: "arm"},
	}

	for _, tt := range tests {
		t.Run(string(tt.arch), func(t *testing.T) {
			assert.Equal(t, tt.qemu, tt.arch.QemuArch())
			assert.Equal(t, tt.compile, tt.arch.CompileArch())
			assert.Contains(t, tt.arch.CFlags(), "-O2 -pipe")
		})
	}
}

func TestGCCHostSpec(t *testing.T) {
	spec, err := sys.GCCHostSpec(sys.X8664, sys.AArch64)
	require.NoError(t, err)
	assert.Equal(t, "aarch64-linux-gnu", spec)

	_, err = sys.GCCHostSpec(sys.AArch64, sys.X8664)
	require.ErrorIs(t, err, sys.ErrArchNotSupported)
}
