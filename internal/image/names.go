// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Type is the kind of image file.
type Type string

// Image types.
const (
	TypeFull Type = "full"
	TypeBoot Type = "boot"
	TypeRoot Type = "root"
)

// Default sizes. Partition image files are slightly smaller than the
// partitions they are copied into.
const (
	RootDefaultSize   = "1800M"
	BootDefaultSize   = "90M"
	BootPartitionSize = "100MiB"

	// rootReserveMB is subtracted from the full image size for the root
	// partition image.
	rootReserveMB = 200
)

// Name returns the file name of the image.
func Name(device, flavour string, typ Type) string {
	return fmt.Sprintf("%s-%s-%s.img", device, flavour, typ)
}

// Path returns the path of the image in dir.
func Path(dir, device, flavour string, typ Type) string {
	return filepath.Join(dir, Name(device, flavour, typ))
}

// RootfsSizeMB returns the full image size for a flavour rootfs size in GB
// and the profile's extra MB.
func RootfsSizeMB(flavourGB, extraMB int) int {
	return flavourGB*1000 + extraMB
}

// RootPartitionSize returns the size of the root partition image for a full
// image of sizeMB.
func RootPartitionSize(sizeMB int) string {
	return strconv.Itoa(sizeMB-rootReserveMB) + "M"
}

var sizeUnits = map[string]int64{
	"":    1,
	"B":   1,
	"K":   1 << 10,
	"KIB": 1 << 10,
	"M":   1 << 20,
	"MIB": 1 << 20,
	"G":   1 << 30,
	"GIB": 1 << 30,
}

// ParseSize parses sizes like "90M" or "100MiB" with binary units into
// bytes.
func ParseSize(size string) (int64, error) {
	size = strings.TrimSpace(size)

	idx := strings.IndexFunc(size, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if idx < 0 {
		idx = len(size)
	}

	value, err := strconv.ParseInt(size[:idx], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, size)
	}

	unit, exists := sizeUnits[strings.ToUpper(size[idx:])]
	if !exists {
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidSize, size)
	}

	return value * unit, nil
}
