// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package chroot manages the Arch Linux chroots packages are built in and
// device images are installed from.
//
// There are three kinds: base chroots ("base_<arch>") are pacstrapped from
// the upstream distro, build chroots ("build_<arch>") are copies of the base
// chroot with the local Kupfer repos enabled and device chroots
// ("rootfs_<device>-<flavour>") hold the root file system of an image.
//
// Chroots are looked up through a [Registry] so that every part of a
// kupferbootstrap run shares the same mount state per chroot.
package chroot
