// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pkgbuild

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

type checkKey struct {
	name     string
	required bool
}

// checkKeys returns the variables in the order they must appear.
func checkKeys(isGit bool) []checkKey {
	return []checkKey{
		{"_mode", true},
		{"_nodeps", false},
		{"pkgbase", false},
		{"pkgname", true},
		{"pkgdesc", false},
		{"pkgver", true},
		{"pkgrel", true},
		{"_arches", true},
		{"arch", true},
		{"license", true},
		{"url", false},
		{"provides", isGit},
		{"conflicts", false},
		{"depends", false},
		{"optdepends", false},
		{"makedepends", false},
		{"backup", false},
		{"install", false},
		{"options", false},
		{"_commit", isGit},
		{"source", false},
		{"sha256sums", false},
	}
}

// checkedPrivateKeys are the underscore variables subject to ordering.
var checkedPrivateKeys = []string{"_mode", "_nodeps", "_arches", "_commit"}

func quoteworthy(s string) bool {
	return strings.ContainsAny(s, `"'$ ;&<>*?`)
}

func setRequired(keys []checkKey, name string, required bool) {
	for idx := range keys {
		if keys[idx].name == name {
			keys[idx].required = required
		}
	}
}

// Check verifies the formatting of the PKGBUILD content of the package name.
// path is only used in messages. It returns hints about the arch list that
// do not fail the check.
func Check(path, content, name string) ([]string, error) {
	if strings.Contains(content, "\t") {
		return nil, &FormatError{Path: path, Reason: `\t is not allowed`}
	}

	keys := checkKeys(strings.HasSuffix(name, "-git"))
	lines := strings.Split(content, "\n")

	var (
		lineIdx        int
		keyIdx         int
		holdKey        bool
		key            string
		requiredArches string
		providedArches []string
		hints          []string
	)

	for {
		if lineIdx >= len(lines) {
			return hints, &FormatError{
				Path:   path,
				Line:   lineIdx,
				Reason: "Expected final empty line after all variables",
			}
		}

		line := lines[lineIdx]

		if strings.HasPrefix(line, "#") {
			lineIdx++
			continue
		}

		varName, _, _ := strings.Cut(line, "=")
		if strings.HasPrefix(line, "_") && !slices.Contains(checkedPrivateKeys, varName) {
			lineIdx++
			continue
		}

		formatted := true
		nextKey := false
		nextLine := false
		reason := ""

		if holdKey {
			nextLine = true
		} else if keyIdx < len(keys) {
			key = keys[keyIdx].name

			switch {
			case strings.HasPrefix(line, key):
				switch key {
				case "pkgbase":
					setRequired(keys, "pkgname", false)
				case "source":
					setRequired(keys, "sha256sums", true)
				}

				nextKey = true
				nextLine = true
			case !keys[keyIdx].required:
				nextKey = true
			}
		}

		if line == ")" {
			holdKey = false
			nextKey = true
		}

		if key == "_arches" {
			if _, value, found := strings.Cut(line, "="); found {
				requiredArches = value
			}
		}

		if strings.HasSuffix(line, "=(") {
			holdKey = true
		}

		if strings.HasPrefix(line, "    ") || line == ")" {
			nextLine = true
		}

		if strings.HasPrefix(line, "  ") && !strings.HasPrefix(line, "    ") {
			formatted = false
			reason = "Multiline variables should be indented with 4 spaces"
		}

		if strings.Contains(line, `"`) && !quoteworthy(line) {
			formatted = false
			reason = `Found literal " although no special character was found in the line to justify the usage of a literal "`
		}

		if strings.Contains(line, "'") && !strings.Contains(line, `"`) {
			formatted = false
			reason = `Found literal ' although either a literal " or no quotes should be used`
		}

		if (strings.Contains(line, "=(") && strings.Contains(line, " ") &&
			!strings.Contains(line, `"`) && !strings.HasSuffix(line, "=(")) ||
			(holdKey && strings.HasSuffix(line, ")")) {
			formatted = false
			reason = "Multiple elements in a list need to be in separate lines"
		}

		if formatted && !nextKey && !nextLine {
			if keyIdx == len(keys) {
				if line == "" {
					break
				}

				formatted = false
				reason = "Expected final empty line after all variables"
			} else {
				formatted = false
				reason = fmt.Sprintf("Expected to find %q", key)
			}
		}

		if !formatted {
			return hints, &FormatError{
				Path:   path,
				Line:   lineIdx + 1,
				Text:   line,
				Reason: reason,
			}
		}

		if key == "arch" {
			switch {
			case strings.HasSuffix(line, ")"):
				provided := providedArches
				if inline, found := strings.CutPrefix(line, "arch=("); found {
					provided = []string{strings.TrimSuffix(inline, ")")}
				}

				hints = append(hints, archesHints(path, requiredArches, provided)...)
			case strings.HasPrefix(line, "    "):
				providedArches = append(providedArches, line[4:])
			}
		}

		if nextKey && !holdKey {
			keyIdx++
		}

		if nextLine {
			lineIdx++
		}
	}

	return hints, nil
}

func archesHints(path, required string, provided []string) []string {
	if required != "all" {
		return nil
	}

	var hints []string

	for _, arch := range sys.Arches {
		if !slices.Contains(provided, string(arch)) {
			hint := fmt.Sprintf("Missing %s in arches list in %s, because _arches hint is `all`", arch, path)
			slog.Warn(hint)
			hints = append(hints, hint)
		}
	}

	return hints
}
