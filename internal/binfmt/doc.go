// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package binfmt registers qemu-user handlers with the kernel's binfmt_misc
// so binaries of foreign architectures can be executed transparently.
package binfmt
