// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package build builds PKGBUILDs into the local package repos.
//
// Packages are ordered into dependency levels, checked against the local
// repos (and optionally the prebuilt HTTPS repos) and built with makepkg in
// build chroots, either natively, with qemu-user and crossdirect or with a
// cross compiler in the native chroot.
package build
