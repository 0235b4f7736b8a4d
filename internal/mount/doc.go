// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mount mounts file systems and manages loop devices.
//
// As root, the mount(2) and loop ioctl interfaces are used directly. Otherwise
// the mount, umount and losetup programs are run elevated with sudo.
package mount
