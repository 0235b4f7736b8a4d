// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package flavour discovers the flavours, package sets that define the
// user experience of an image, from the flavour-* packages.
package flavour

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
)

const (
	// PackagePrefix is the name prefix of flavour packages.
	PackagePrefix = "flavour-"
	// DescriptionPrefix is stripped from package descriptions.
	DescriptionPrefix = "kupfer flavour:"
	// InfoFile is the file next to the PKGBUILD holding the [Info].
	InfoFile = "flavourinfo.json"
)

var (
	// ErrUnknownFlavour is returned if no flavour package exists for a name.
	ErrUnknownFlavour = errors.New("unknown flavour")

	// ErrInvalidPackage is returned for packages that are no flavour.
	ErrInvalidPackage = errors.New("invalid flavour package")

	// ErrInvalidInfo is returned if the flavour info can not be read.
	ErrInvalidInfo = errors.New("invalid flavour info")
)

// Info is the content of the flavour info file.
type Info struct {
	// RootfsSize is the rootfs size in GB.
	RootfsSize  int    `json:"rootfs_size"`
	Description string `json:"description,omitempty"`
}

// Flavour is a flavour package.
type Flavour struct {
	Name        string
	Description string
	Package     *pkgbuild.Pkgbuild
	// Info is nil until loaded with [Flavour.LoadInfo].
	Info *Info
}

func (f *Flavour) String() string {
	s := fmt.Sprintf("Flavour %q: %q, package: %s", f.Name, f.Description, f.Package.Name)
	if f.Info != nil {
		s += fmt.Sprintf(", rootfs_size: %d", f.Info.RootfsSize)
	}

	return s
}

// FromPkgbuild creates the flavour described by pkg.
func FromPkgbuild(pkg *pkgbuild.Pkgbuild) (*Flavour, error) {
	name, found := strings.CutPrefix(pkg.Name, PackagePrefix)
	if !found {
		return nil, fmt.Errorf("%w %q: doesn't start with %q", ErrInvalidPackage, pkg.Name, PackagePrefix)
	}

	if strings.HasSuffix(name, "-common") {
		return nil, fmt.Errorf("%w %q: ends with \"-common\"", ErrInvalidPackage, pkg.Name)
	}

	description := pkg.Description
	if len(description) >= len(DescriptionPrefix) &&
		strings.EqualFold(description[:len(DescriptionPrefix)], DescriptionPrefix) {
		description = description[len(DescriptionPrefix):]
	}

	return &Flavour{
		Name:        name,
		Description: strings.TrimSpace(description),
		Package:     pkg,
	}, nil
}

// Flavours returns all flavours in all, keyed by name.
func Flavours(all map[string]*pkgbuild.Pkgbuild) (map[string]*Flavour, error) {
	flavours := make(map[string]*Flavour)

	for _, pkg := range pkgbuild.Unique(all) {
		if !strings.HasPrefix(pkg.Name, PackagePrefix) || strings.HasSuffix(pkg.Name, "-common") {
			continue
		}

		flavour, err := FromPkgbuild(pkg)
		if err != nil {
			return nil, err
		}

		slog.Debug("Found flavour package", slog.String("flavour", flavour.Name))

		flavours[flavour.Name] = flavour
	}

	return flavours, nil
}

// Find returns the flavour name from all.
func Find(name string, all map[string]*pkgbuild.Pkgbuild) (*Flavour, error) {
	pkg, found := all[PackagePrefix+name]
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownFlavour, name)
	}

	return FromPkgbuild(pkg)
}

// LoadInfo reads the flavour info file from the PKGBUILD directory of the
// flavour in pkgbuildsDir. A description in the file replaces the one from
// the package.
func (f *Flavour) LoadInfo(pkgbuildsDir string) (*Info, error) {
	if f.Info != nil {
		return f.Info, nil
	}

	path := filepath.Join(pkgbuildsDir, f.Package.Path, InfoFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrInvalidInfo, f.Name, err)
	}

	var info Info

	err = json.Unmarshal(data, &info)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %s: %w", ErrInvalidInfo, f.Name, path, err)
	}

	f.Info = &info

	if info.Description != "" {
		f.Description = info.Description
	}

	return &info, nil
}
