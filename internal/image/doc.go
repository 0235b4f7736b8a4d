// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package image creates Kupfer disk images and works with existing ones.
//
// A full image carries an msdos partition table with an ext2 boot partition
// and an ext4 root partition. The root file system is installed through a
// device chroot mounted on the partitions.
package image
