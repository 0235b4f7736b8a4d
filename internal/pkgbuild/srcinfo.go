// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package pkgbuild

import (
	"bufio"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// BuildFields are the kupfer specific variables read from a PKGBUILD.
type BuildFields struct {
	Mode   string
	NoDeps bool
}

// ParseBuildFields reads the "_mode" and "_nodeps" variables.
func ParseBuildFields(content string) BuildFields {
	var fields BuildFields

	for line := range strings.SplitSeq(content, "\n") {
		if !strings.HasPrefix(line, "_") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		value = strings.Trim(value, `"'`)

		switch key {
		case "_mode":
			fields.Mode = value
		case "_nodeps":
			fields.NoDeps = strings.EqualFold(value, "true")
		}
	}

	return fields
}

// ParseSRCINFO parses the output of "makepkg --printsrcinfo" for the
// PKGBUILD in relPath. It returns the sub packages of split PKGBUILDs and a
// single package otherwise.
func ParseSRCINFO(lines []string, relPath string, fields BuildFields) ([]*Pkgbuild, error) {
	mode, ok := ParseMode(fields.Mode)
	if !ok {
		return nil, &ModeError{Path: relPath, Mode: fields.Mode}
	}

	repo, _, _ := strings.Cut(relPath, "/")
	base := &Pkgbuild{
		Name:   lastElem(relPath),
		Repo:   repo,
		Path:   relPath,
		Mode:   mode,
		NoDeps: fields.NoDeps,
	}

	current := base
	split := false
	ownArches := false
	ownProvides := false
	ownReplaces := false

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, " = ")
		if !found {
			continue
		}

		switch key {
		case "pkgbase":
			base.Name = value
			split = true
		case "pkgname":
			if !split {
				current.Name = value
				continue
			}

			current = &Pkgbuild{
				Name:        value,
				Description: base.Description,
				PkgVer:      base.PkgVer,
				PkgRel:      base.PkgRel,
				Epoch:       base.Epoch,
				Arches:      slices.Clone(base.Arches),
				Provides:    slices.Clone(base.Provides),
				Replaces:    slices.Clone(base.Replaces),
				Depends:     slices.Clone(base.Depends),
				MakeDepends: slices.Clone(base.MakeDepends),
				Repo:        base.Repo,
				Path:        base.Path,
				Mode:        base.Mode,
				NoDeps:      base.NoDeps,
				Base:        base,
			}
			base.Subpackages = append(base.Subpackages, current)
			ownArches = false
			ownProvides = false
			ownReplaces = false
		case "pkgdesc":
			current.Description = value
		case "pkgver":
			current.PkgVer = value
		case "pkgrel":
			current.PkgRel = value
		case "epoch":
			current.Epoch = value
		case "arch":
			if current.Base != nil && !ownArches {
				current.Arches = nil
				ownArches = true
			}

			current.Arches = append(current.Arches, value)
		case "provides":
			if current.Base != nil && !ownProvides {
				current.Provides = nil
				ownProvides = true
			}

			current.Provides = append(current.Provides, value)
		case "replaces":
			if current.Base != nil && !ownReplaces {
				current.Replaces = nil
				ownReplaces = true
			}

			current.Replaces = append(current.Replaces, value)
		case "depends", "checkdepends", "optdepends":
			current.Depends = append(current.Depends, stripConstraint(value))
		case "makedepends":
			current.MakeDepends = append(current.MakeDepends, stripConstraint(value))
		default:
			if strings.HasPrefix(key, "depends_") || strings.HasPrefix(key, "makedepends_") {
				slog.Debug("Ignoring arch specific dependency",
					slog.String("path", relPath),
					slog.String("key", key),
				)
			}
		}
	}

	results := []*Pkgbuild{base}
	if len(base.Subpackages) > 1 {
		slog.Debug("Split package detected",
			slog.String("pkgbase", base.Name),
			slog.Int("subpackages", len(base.Subpackages)),
		)

		results = base.Subpackages
	} else if len(base.Subpackages) == 1 {
		sub := base.Subpackages[0]
		base.Name = sub.Name
		base.Description = sub.Description
		base.Arches = sub.Arches
		base.Depends = sub.Depends
		base.Provides = sub.Provides
		base.Replaces = sub.Replaces
		base.Subpackages = nil
	}

	for _, pkg := range results {
		pkg.Depends = dedup(pkg.Depends)
		pkg.MakeDepends = dedup(pkg.MakeDepends)

		if pkg.Version() != base.Version() {
			return nil, fmt.Errorf("%w: base %s, subpackage %s",
				ErrVersionMismatch, base, pkg)
		}
	}

	return results, nil
}

// ReadSRCINFOLines splits SRCINFO content into lines.
func ReadSRCINFOLines(content []byte) []string {
	var lines []string

	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	return lines
}

func dedup(list []string) []string {
	if len(list) == 0 {
		return list
	}

	list = slices.Clone(list)
	slices.Sort(list)

	return slices.Compact(list)
}

func lastElem(path string) string {
	path = strings.TrimRight(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}

	return path
}
