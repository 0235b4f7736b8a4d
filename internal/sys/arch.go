// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package sys

import (
	"runtime"
	"strings"
)

// Arch is a pacman architecture name.
type Arch string

// Supported architectures.
const (
	X8664   Arch = "x86_64"
	AArch64 Arch = "aarch64"
	ARMv7h  Arch = "armv7h"
)

// Arches lists all supported architectures in a stable order.
var Arches = []Arch{X8664, AArch64, ARMv7h}

// Native returns the architecture of the host.
func Native() Arch {
	switch runtime.GOARCH {
	case "arm64":
		return AArch64
	case "arm":
		return ARMv7h
	default:
		return X8664
	}
}

// ParseArch validates the given architecture name.
//
// "armv7" is accepted as legacy alias for [ARMv7h].
func ParseArch(s string) (Arch, error) {
	s = strings.TrimSpace(s)
	if s == "armv7" {
		return ARMv7h, nil
	}

	for _, arch := range Arches {
		if string(arch) == s {
			return arch, nil
		}
	}

	return "", &ArchError{Arch: s}
}

func (a *Arch) String() string {
	return string(*a)
}

// Set implements [pflag.Value].
func (a *Arch) Set(s string) error {
	arch, err := ParseArch(s)
	if err != nil {
		return err
	}

	*a = arch

	return nil
}

// Type implements [pflag.Value].
func (*Arch) Type() string {
	return "arch"
}

// IsNative reports whether the architecture matches the host.
func (a Arch) IsNative() bool {
	return a == Native()
}

// QemuArch is the architecture suffix of the qemu-user binaries and the
// binfmt_misc registrations.
func (a Arch) QemuArch() string {
	switch a {
	case ARMv7h:
		return "arm"
	default:
		return string(a)
	}
}

// CompileArch is the kernel style architecture name exported as ARCH for
// cross compilation.
func (a Arch) CompileArch() string {
	switch a {
	case AArch64:
		return "arm64"
	case ARMv7h:
		return "arm"
	default:
		return "amd64"
	}
}

var gccHostSpecs = map[Arch]map[Arch]string{
	X8664: {
		X8664:   "x86_64-pc-linux-gnu",
		AArch64: "aarch64-linux-gnu",
		ARMv7h:  "arm-unknown-linux-gnueabihf",
	},
	AArch64: {
		AArch64: "aarch64-unknown-linux-gnu",
	},
	ARMv7h: {
		ARMv7h: "armv7l-unknown-linux-gnueabihf",
	},
}

// GCCHostSpec returns the gcc target triplet for building target on host.
func GCCHostSpec(host, target Arch) (string, error) {
	spec, ok := gccHostSpecs[host][target]
	if !ok {
		return "", &ArchError{Arch: string(target), Host: string(host)}
	}

	return spec, nil
}

const (
	cflagsGeneral = "-O2 -pipe -fstack-protector-strong"
	cflagsAlarm   = "-fno-plt -fexceptions -Wp,-D_FORTIFY_SOURCE=2 -Wformat -Werror=format-security -fstack-clash-protection"
)

var cflagsArch = map[Arch]string{
	X8664:   "-march=x86-64 -mtune=generic",
	AArch64: "-march=armv8-a " + cflagsAlarm,
	ARMv7h:  "-march=armv7-a -mfloat-abi=hard -mfpu=neon " + cflagsAlarm,
}

// CFlags returns the compiler flags for the architecture.
func (a Arch) CFlags() string {
	return cflagsGeneral + " " + cflagsArch[a]
}
