// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/archive"
	"gitlab.com/kupfer/kupferbootstrap/internal/build"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

const (
	// Repo is the kupfer repo holding the device packages.
	Repo = "device"
	// PackagePrefix is the name prefix of device packages.
	PackagePrefix = "device-"
	// InfoPath is the location of the deviceinfo file in device packages.
	InfoPath = "etc/kupfer/deviceinfo"
)

// Deprecations map old device names to their replacement.
var Deprecations = map[string]string{
	"oneplus-enchilada":       "sdm845-oneplus-enchilada",
	"oneplus-fajita":          "sdm845-oneplus-fajita",
	"xiaomi-beryllium-ebbg":   "sdm845-xiaomi-beryllium-ebbg",
	"xiaomi-beryllium-tianma": "sdm845-xiaomi-beryllium-tianma",
	"bq-paella":               "msm8916-bq-paella",
}

// Device is a device supported by a device package.
type Device struct {
	Name    string
	Arch    sys.Arch
	Package *pkgbuild.Pkgbuild
	// Info is nil until loaded with [Device.LoadInfo].
	Info *Info
}

func (d *Device) String() string {
	return fmt.Sprintf("Device %q: %q, Architecture: %s, package: %s",
		d.Name, d.Package.Description, d.Arch, d.Package.Name)
}

// CheckPackageName returns an error if name is not a valid device package
// name.
func CheckPackageName(name string) error {
	if !strings.HasPrefix(name, PackagePrefix) {
		return fmt.Errorf("%w %q: doesn't start with %q", ErrInvalidPackage, name, PackagePrefix)
	}

	if strings.HasSuffix(name, "-common") {
		return fmt.Errorf("%w %q: ends with \"-common\"", ErrInvalidPackage, name)
	}

	return nil
}

// FromPkgbuild creates the device described by the device package pkg.
func FromPkgbuild(pkg *pkgbuild.Pkgbuild) (*Device, error) {
	if len(pkg.Arches) != 1 {
		return nil, fmt.Errorf("%w %s: must have exactly one arch, but has %v",
			ErrInvalidPackage, pkg.Name, pkg.Arches)
	}

	arch, err := sys.ParseArch(pkg.Arches[0])
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidPackage, pkg.Name, err)
	}

	if pkg.Repo != Repo {
		slog.Warn("Device package in unexpected repo",
			slog.String("package", pkg.Name),
			slog.String("repo", pkg.Repo),
		)
	}

	return &Device{
		Name:    strings.TrimPrefix(pkg.Name, PackagePrefix),
		Arch:    arch,
		Package: pkg,
	}, nil
}

// Devices returns all devices of the device repo in all, keyed by name.
func Devices(all map[string]*pkgbuild.Pkgbuild) (map[string]*Device, error) {
	devices := make(map[string]*Device)

	for _, pkg := range pkgbuild.Unique(all) {
		if pkg.Repo != Repo || CheckPackageName(pkg.Name) != nil {
			continue
		}

		dev, err := FromPkgbuild(pkg)
		if err != nil {
			return nil, err
		}

		devices[dev.Name] = dev
	}

	return devices, nil
}

// ResolveName returns the replacement of deprecated device names.
func ResolveName(name string) string {
	replacement, found := Deprecations[name]
	if !found {
		return name
	}

	slog.Warn("Deprecated device, please adjust your profile config",
		slog.String("device", name),
		slog.String("replacement", replacement),
	)

	return replacement
}

// Find returns the device name from all. Deprecated names are resolved.
func Find(name string, all map[string]*pkgbuild.Pkgbuild) (*Device, error) {
	name = ResolveName(name)

	pkg, found := all[PackagePrefix+name]
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownDevice, name)
	}

	return FromPkgbuild(pkg)
}

// ReadInfoFromPackage reads the deviceinfo file from the package archive
// at path.
func ReadInfoFromPackage(path string, dev *Device, kernel string) (*Info, error) {
	files, err := archive.ReadFilesFromPath(path, InfoPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dev.Name, err)
	}

	info, err := ParseInfo(
		bytes.NewReader(files[InfoPath]),
		dev.Name,
		filepath.Join(dev.Package.Path, "deviceinfo"),
		kernel,
	)
	if err != nil {
		return nil, err
	}

	if info.Arch != dev.Arch {
		return nil, fmt.Errorf("%s: deviceinfo arch %s doesn't match package arch %s: %w",
			dev.Name, info.Arch, dev.Arch, ErrInvalidPackage)
	}

	return info, nil
}

// LoadInfo makes sure the device package is in the local repo, building
// nothing but downloading it if tryDownload is set, and reads its
// deviceinfo. The result is cached in d.Info.
func (d *Device) LoadInfo(ctx context.Context, repo *build.LocalRepo, tryDownload bool) (*Info, error) {
	if d.Info != nil {
		return d.Info, nil
	}

	built, err := repo.IsBuilt(ctx, d.Package, d.Arch, tryDownload)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	if !built {
		return nil, fmt.Errorf("%w: %s for device %s", ErrNotAcquired, d.Package.Name, d.Name)
	}

	local, err := distro.KupferLocal(d.Arch, repo.Dir).Repo(d.Package.Repo)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	err = local.Scan(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	packages, err := local.Packages()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	pkg, found := packages[d.Package.Name]
	if !found {
		return nil, fmt.Errorf("%s: %w in local repo %s", d.Package.Name, distro.ErrNotFound, d.Package.Repo)
	}

	info, err := ReadInfoFromPackage(filepath.Join(repo.RepoDir(d.Arch, d.Package.Repo), pkg.Filename), d, DefaultKernel)
	if err != nil {
		return nil, err
	}

	d.Info = info

	return info, nil
}
