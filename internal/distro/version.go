// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro

import (
	"strings"
)

// VerCmp compares two package versions of the form [epoch:]version[-release]
// the same way pacman's vercmp does. It returns -1, 0 or 1 if a is older,
// equal or newer than b.
func VerCmp(a, b string) int {
	if a == b {
		return 0
	}

	epochA, versionA, releaseA := parseEVR(a)
	epochB, versionB, releaseB := parseEVR(b)

	result := rpmVerCmp(epochA, epochB)
	if result != 0 {
		return result
	}

	result = rpmVerCmp(versionA, versionB)
	if result == 0 && releaseA != "" && releaseB != "" {
		result = rpmVerCmp(releaseA, releaseB)
	}

	return result
}

func parseEVR(evr string) (string, string, string) {
	epoch := "0"
	version := evr

	digits := 0
	for digits < len(evr) && isDigit(evr[digits]) {
		digits++
	}

	if digits < len(evr) && evr[digits] == ':' {
		if digits > 0 {
			epoch = evr[:digits]
		}

		version = evr[digits+1:]
	}

	var release string

	if idx := strings.LastIndexByte(version, '-'); idx >= 0 {
		release = version[idx+1:]
		version = version[:idx]
	}

	return epoch, version, release
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isAlnum(c byte) bool {
	return isDigit(c) || isAlpha(c)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// rpmVerCmp compares alternating numeric and alphabetic segments. Numeric
// segments are newer than alphabetic ones and longer separators win.
//
//nolint:cyclop
func rpmVerCmp(a, b string) int {
	if a == b {
		return 0
	}

	var one, two, segStartA, segStartB int

	for one < len(a) && two < len(b) {
		for one < len(a) && !isAlnum(a[one]) {
			one++
		}

		for two < len(b) && !isAlnum(b[two]) {
			two++
		}

		if one >= len(a) || two >= len(b) {
			break
		}

		// The version with the longer separator is considered newer.
		if one-segStartA != two-segStartB {
			return compareInt(one-segStartA, two-segStartB)
		}

		endA, endB := one, two
		isNum := isDigit(a[one])

		if isNum {
			for endA < len(a) && isDigit(a[endA]) {
				endA++
			}

			for endB < len(b) && isDigit(b[endB]) {
				endB++
			}
		} else {
			for endA < len(a) && isAlpha(a[endA]) {
				endA++
			}

			for endB < len(b) && isAlpha(b[endB]) {
				endB++
			}
		}

		// Segments of different types: numeric is newer.
		if endB == two {
			if isNum {
				return 1
			}

			return -1
		}

		segA, segB := a[one:endA], b[two:endB]

		if isNum {
			segA = strings.TrimLeft(segA, "0")
			segB = strings.TrimLeft(segB, "0")

			if cmp := compareInt(len(segA), len(segB)); cmp != 0 {
				return cmp
			}
		}

		if cmp := strings.Compare(segA, segB); cmp != 0 {
			return cmp
		}

		one, two = endA, endB
		segStartA, segStartB = endA, endB
	}

	if one >= len(a) && two >= len(b) {
		return 0
	}

	// A remaining alpha segment never beats an empty string.
	if (one >= len(a) && !isAlpha(b[two])) || (one < len(a) && isAlpha(a[one])) {
		return -1
	}

	return 1
}
