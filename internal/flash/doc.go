// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package flash writes images to devices and boots them.
//
// Root file systems are written to the eMMC or microSD card of a device
// running Jumpdrive, which exposes them as USB mass storage. Bootloader
// parts and boot images are sent with fastboot.
package flash
