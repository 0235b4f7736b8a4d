// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package shell runs external programs and composes their command lines.
//
// Most privileged operations are done by spawning programs like mount, pacman
// or chroot. Command lines are built by the helpers in this package, which
// take care of privilege elevation with sudo, user switching with su and
// environment injection. The [Runner] interface decouples building the
// command from executing it, so callers can be tested with [FakeRunner].
package shell
