// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Package is a binary package as listed in a repo database.
type Package struct {
	Name     string
	Version  string
	Arch     string
	Filename string
	MD5Sum   string
	Depends  []string
	Provides []string
	Replaces []string

	// RepoName and ResolvedURL are set when the package is read from a repo.
	RepoName    string
	ResolvedURL string
}

// DefaultFilename returns the file name used if a database entry lacks one.
func (p *Package) DefaultFilename() string {
	return fmt.Sprintf("%s-%s-%s.pkg.tar.zst", p.Name, p.Version, p.Arch)
}

// FileURL returns the download URL of the package file.
func (p *Package) FileURL() string {
	return strings.TrimSuffix(p.ResolvedURL, "/") + "/" + p.Filename
}

// ParseDesc parses a desc file of a pacman database. Sections start with a
// %KEY% line and hold one value per line until an empty line.
func ParseDesc(reader io.Reader) (*Package, error) {
	fields := map[string][]string{}

	var key string

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			key = ""
		case key == "" && strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%"):
			key = strings.Trim(line, "%")
		case key != "":
			fields[key] = append(fields[key], line)
		}
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("scan desc: %w", err)
	}

	first := func(key string) string {
		if values := fields[key]; len(values) > 0 {
			return values[0]
		}

		return ""
	}

	pkg := &Package{
		Name:     first("NAME"),
		Version:  first("VERSION"),
		Arch:     first("ARCH"),
		Filename: first("FILENAME"),
		MD5Sum:   first("MD5SUM"),
		Depends:  fields["DEPENDS"],
		Provides: fields["PROVIDES"],
		Replaces: fields["REPLACES"],
	}

	if pkg.Name == "" || pkg.Version == "" {
		return nil, fmt.Errorf("%w: NAME and VERSION required", ErrInvalidDesc)
	}

	if pkg.Filename == "" {
		pkg.Filename = pkg.DefaultFilename()
	}

	return pkg, nil
}

// StripVersionConstraint returns the bare name of a dependency like
// "glibc>=2.37" or a provision like "sh=5.2".
func StripVersionConstraint(dep string) string {
	if idx := strings.IndexAny(dep, "<>="); idx >= 0 {
		return dep[:idx]
	}

	return dep
}
