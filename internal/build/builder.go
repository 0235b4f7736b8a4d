// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package build

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gitlab.com/kupfer/kupferbootstrap/internal/chroot"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// Build user inside build chroots.
const (
	BuildUser         = "kupfer"
	buildUserPassword = "12345678"
	sudoersName       = "kupfer_nopw"
)

// QemuBinfmtPackages are installed on the host to run foreign binaries.
var QemuBinfmtPackages = []string{"qemu-user-static-bin", "binfmt-qemu-static"}

// Binfmt registers qemu-user binfmt handlers on the host.
type Binfmt interface {
	Register(ctx context.Context, arch sys.Arch) error
}

// Options are the build settings from the config file.
type Options struct {
	Crosscompile bool
	Crossdirect  bool
	CCache       bool
	CleanChroot  bool
	// Threads used by make and cargo. Zero means one per CPU.
	Threads int
	// UID of the build user, usually the uid of the invoking user so the
	// build results in the pkgbuilds dir are owned by them.
	UID int
	// Environ is the host environment makepkg's environment is derived
	// from.
	Environ []string
}

// Flags select which packages are built.
type Flags struct {
	// Force rebuilds the requested packages even if they are built already.
	Force bool
	// RebuildDependants also rebuilds all packages depending on the
	// requested ones.
	RebuildDependants bool
	// TryDownload fetches matching packages from the HTTPS repos instead of
	// building them.
	TryDownload bool
}

// Builder builds packages of a pkgbuilds tree into a local repo.
type Builder struct {
	Chroots *chroot.Registry
	Tree    *pkgbuild.Tree
	Repo    *LocalRepo
	Binfmt  Binfmt
	Runner  shell.Runner
	Options Options

	mu          sync.Mutex
	qemuEnabled map[sys.Arch]bool
}

func (b *Builder) native() sys.Arch {
	return b.Chroots.Settings.Native
}

// SetupBuildChroot returns the activated build chroot for arch with the
// pkgbuilds, packages and pacman cache mounted, extraPackages installed and
// the build user set up.
func (b *Builder) SetupBuildChroot(
	ctx context.Context,
	arch sys.Arch,
	extraPackages []string,
	kupferRepos bool,
) (*chroot.Chroot, error) {
	if arch != b.native() {
		err := b.EnableQemuBinfmt(ctx, arch)
		if err != nil {
			return nil, err
		}
	}

	err := b.Repo.Init(ctx, arch)
	if err != nil {
		return nil, err
	}

	c := b.Chroots.Build(arch, kupferRepos)

	slog.Debug("Initializing build chroot", slog.String("arch", string(arch)))

	err = c.Initialize(ctx, b.Options.CleanChroot, false)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	steps := []func() error{
		func() error { return c.WritePacmanConf(ctx, true, "") },
		func() error { return c.Activate(ctx, false) },
		func() error { _, err := c.MountPackages(ctx, false); return err },
		func() error { _, err := c.MountPacmanCache(ctx, false); return err },
		func() error { _, err := c.MountPkgbuilds(ctx, false); return err },
	}

	for _, step := range steps {
		err := step()
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	if len(extraPackages) > 0 {
		err := c.InstallPackages(ctx, extraPackages, false)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	uid := b.Options.UID

	err = c.CreateUser(ctx, chroot.User{
		Name:      BuildUser,
		Password:  buildUserPassword,
		UID:       &uid,
		NonUnique: true,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	if !exists(c.Path("etc", "sudoers.d", sudoersName)) {
		err := c.AddSudoConfig(ctx, sudoersName, BuildUser, false)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
	}

	return c, nil
}

func pkgbuildDir(pkg *pkgbuild.Pkgbuild) string {
	return filepath.Join(chroot.ChrootPkgbuildsDir, pkg.Path)
}

func setupGitSafeDirectory(ctx context.Context, c *chroot.Chroot) error {
	err := c.Run(ctx, "git config --global --add safe.directory '*'", chroot.RunOptions{User: BuildUser})
	if err != nil {
		return fmt.Errorf("git safe.directory: %w", err)
	}

	return nil
}

// SetupSources downloads and extracts the sources of pkg in c without
// building it.
func (b *Builder) SetupSources(
	ctx context.Context,
	pkg *pkgbuild.Pkgbuild,
	c *chroot.Chroot,
	makepkgConf string,
	env map[string]string,
) error {
	slog.Info("Setting up sources", slog.String("path", pkg.Path), slog.String("chroot", c.Name))

	err := setupGitSafeDirectory(ctx, c)
	if err != nil {
		return err
	}

	args := slices.Concat(pkgbuild.MakepkgCmd, []string{
		"--config", makepkgConf,
		"--nobuild",
		"--holdver",
		"--nodeps",
		"--skippgpcheck",
	})

	err = c.Run(ctx, shell.Join(args), chroot.RunOptions{
		InnerEnv: env,
		Cwd:      pkgbuildDir(pkg),
		User:     BuildUser,
	})
	if err != nil {
		return fmt.Errorf("%w for %s: %w", ErrSourcesFailed, pkg.Path, err)
	}

	return nil
}

// BuildPackage builds pkg for arch with makepkg. The resulting package files
// are left in the PKGBUILD directory.
func (b *Builder) BuildPackage(ctx context.Context, pkg *pkgbuild.Pkgbuild, arch sys.Arch) error {
	return b.buildPackage(ctx, pkg, arch, b.Options)
}

func (b *Builder) buildPackage(ctx context.Context, pkg *pkgbuild.Pkgbuild, arch sys.Arch, opts Options) error {
	native := b.native()
	foreign := arch != native

	names := pkg.Names()
	deps := slices.DeleteFunc(pkg.AllDepends(), func(dep string) bool {
		return slices.Contains(names, dep)
	})
	needsRust := slices.Contains(deps, "rust")

	target, err := b.SetupBuildChroot(ctx, arch, deps, true)
	if err != nil {
		return err
	}

	nativeChroot := target
	if foreign {
		nativeChroot, err = b.SetupBuildChroot(ctx, native, slices.Concat([]string{"base-devel"}, chroot.CrossdirectPackages), true)
		if err != nil {
			return err
		}
	}

	env, err := MakepkgEnv(opts.Environ, native, arch, opts.Threads)
	if err != nil {
		return err
	}

	var (
		buildRoot   *chroot.Chroot
		makepkgConf = "/etc/makepkg.conf"
		compileOpts = []string{"--holdver"}
	)

	if foreign && pkg.Mode == pkgbuild.ModeCross && opts.Crosscompile {
		slog.Info("Cross-compiling", slog.String("path", pkg.Path))

		buildRoot = nativeChroot
		compileOpts = append(compileOpts, "--nodeps")

		if opts.CCache {
			prependPath(env, "/usr/lib/ccache")
		}

		conf, err := b.setupCrossCompile(ctx, pkg, nativeChroot, target)
		if err != nil {
			return err
		}

		makepkgConf = conf
	} else {
		slog.Info("Host-compiling", slog.String("path", pkg.Path))

		buildRoot = target
		compileOpts = append(compileOpts, "--syncdeps")

		if foreign && opts.Crossdirect && !slices.Contains(chroot.CrossdirectPackages, pkg.Name) {
			prependPath(env, "/native/usr/lib/crossdirect/"+string(arch))

			_, err := target.MountCrossdirect(ctx, nativeChroot, false)
			if err != nil {
				return err //nolint:wrapcheck
			}
		} else {
			if opts.CCache {
				slog.Debug("ccache enabled")
				prependPath(env, "/usr/lib/ccache")

				deps = append(deps, "ccache")
			}

			slog.Debug("Skipping crossdirect", slog.Bool("foreign", foreign))
		}

		err := target.InstallPackages(ctx, deps, false)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDependencies, err)
		}
	}

	if opts.CCache {
		_, err := buildRoot.MountCCache(ctx, BuildUser, false)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	if needsRust {
		_, err := buildRoot.MountRust(ctx, BuildUser, false)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	err = b.SetupSources(ctx, pkg, buildRoot, makepkgConf, env)
	if err != nil {
		return err
	}

	args := slices.Concat(
		[]string{"makepkg", "--config", makepkgConf, "--skippgpcheck", "--needed", "--noconfirm", "--ignorearch"},
		compileOpts,
	)

	slog.Debug("Building", slog.String("cmd", shell.Join(args)))

	err = buildRoot.Run(ctx, shell.Join(args), chroot.RunOptions{
		InnerEnv: env,
		Cwd:      pkgbuildDir(pkg),
		User:     BuildUser,
	})
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrBuildFailed, pkg.Path, err)
	}

	return nil
}

// setupCrossCompile prepares the native chroot to build pkg for the arch of
// target with a cross compiler and returns the makepkg.conf path to use.
func (b *Builder) setupCrossCompile(
	ctx context.Context,
	pkg *pkgbuild.Pkgbuild,
	native *chroot.Chroot,
	target *chroot.Chroot,
) (string, error) {
	spec, err := sys.GCCHostSpec(native.Arch, target.Arch)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	slog.Info("Setting up dependencies for cross-compilation")

	results, err := native.TryInstallPackages(
		ctx,
		slices.Concat(pkg.AllDepends(), chroot.CrossdirectPackages, []string{spec + "-gcc"}),
		false,
		true,
	)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	if err := results["crossdirect"]; err != nil {
		return "", fmt.Errorf("unable to install crossdirect: %w", err)
	}

	crossChroot := filepath.Join(chroot.ChrootChrootsDir, target.Name)

	rel, err := native.WriteMakepkgConf(ctx, target.Arch, crossChroot, true)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	_, err = native.MountCrosscompile(ctx, target, false)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return "/" + rel, nil
}

// UnbuiltLevels returns the dependency levels of packages reduced to the
// packages that need to be built.
func (b *Builder) UnbuiltLevels(
	ctx context.Context,
	all map[string]*pkgbuild.Pkgbuild,
	packages []*pkgbuild.Pkgbuild,
	arch sys.Arch,
	flags Flags,
) ([][]*pkgbuild.Pkgbuild, error) {
	var dependants []*pkgbuild.Pkgbuild
	if flags.RebuildDependants {
		dependants = Dependants(all, packages, string(arch))
	}

	levels, err := DependencyLevels(all, slices.Concat(packages, dependants))
	if err != nil {
		return nil, err
	}

	var result [][]*pkgbuild.Pkgbuild

	for _, level := range levels {
		var unbuilt []*pkgbuild.Pkgbuild

		for _, pkg := range level {
			build := (flags.Force && slices.Contains(packages, pkg)) ||
				(flags.RebuildDependants && slices.Contains(dependants, pkg))

			if !build {
				built, err := b.Repo.IsBuilt(ctx, pkg, arch, flags.TryDownload)
				if err != nil {
					return nil, err
				}

				build = !built
			}

			if build {
				unbuilt = append(unbuilt, pkg)
			}
		}

		if len(unbuilt) > 0 {
			slog.Debug("Adding build level",
				slog.Int("level", len(result)),
				slog.String("packages", strings.Join(Names(unbuilt), ", ")),
			)

			result = append(result, unbuilt)
		}
	}

	return result, nil
}

// BuildPackages builds packages and their unbuilt dependencies for arch and
// adds them to the local repo. It returns the paths of the added package
// files.
func (b *Builder) BuildPackages(
	ctx context.Context,
	all map[string]*pkgbuild.Pkgbuild,
	packages []*pkgbuild.Pkgbuild,
	arch sys.Arch,
	flags Flags,
) ([]string, error) {
	return b.buildPackages(ctx, all, packages, arch, flags, b.Options)
}

func (b *Builder) buildPackages(
	ctx context.Context,
	all map[string]*pkgbuild.Pkgbuild,
	packages []*pkgbuild.Pkgbuild,
	arch sys.Arch,
	flags Flags,
	opts Options,
) ([]string, error) {
	err := b.Repo.Init(ctx, arch)
	if err != nil {
		return nil, err
	}

	levels, err := b.UnbuiltLevels(ctx, all, packages, arch, flags)
	if err != nil {
		return nil, err
	}

	if len(levels) == 0 {
		slog.Info("Everything built already")
		return nil, nil
	}

	var files []string

	// Sub packages of a split PKGBUILD are built and added together.
	builtPaths := make(map[string]bool)

	for idx, level := range levels {
		slog.Info("Building level",
			slog.Int("level", idx),
			slog.String("packages", strings.Join(Names(level), ", ")),
		)

		for _, pkg := range level {
			if builtPaths[pkg.Path] {
				continue
			}

			err := b.buildPackage(ctx, pkg, arch, opts)
			if err != nil {
				return files, err
			}

			added, err := b.Repo.AddPackage(ctx, filepath.Join(b.Tree.Dir, pkg.Path), pkg, arch)
			if err != nil {
				return files, err
			}

			builtPaths[pkg.Path] = true
			files = append(files, added...)
		}
	}

	return files, nil
}

// BuildPaths builds the packages matched by paths, see [pkgbuild.Filter].
func (b *Builder) BuildPaths(ctx context.Context, paths []string, arch sys.Arch, flags Flags) ([]string, error) {
	return b.buildPaths(ctx, paths, arch, flags, b.Options)
}

func (b *Builder) buildPaths(
	ctx context.Context,
	paths []string,
	arch sys.Arch,
	flags Flags,
	opts Options,
) ([]string, error) {
	for _, a := range slices.Compact([]sys.Arch{arch, b.native()}) {
		err := b.Repo.Init(ctx, a)
		if err != nil {
			return nil, err
		}
	}

	all, err := b.Tree.Discover(ctx, false)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	packages, err := FilterArch(all, paths, arch)
	if err != nil {
		return nil, err
	}

	return b.buildPackages(ctx, all, packages, arch, flags, opts)
}

// FilterArch filters the packages matched by paths to those that can be
// built for arch.
func FilterArch(all map[string]*pkgbuild.Pkgbuild, paths []string, arch sys.Arch) ([]*pkgbuild.Pkgbuild, error) {
	matched, err := pkgbuild.Filter(all, paths, false)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	packages := slices.DeleteFunc(matched, func(pkg *pkgbuild.Pkgbuild) bool {
		if pkg.SupportsArch(string(arch)) {
			return false
		}

		slog.Warn("Skipping package not built for arch",
			slog.String("package", pkg.Name),
			slog.String("arch", string(arch)),
			slog.Any("arches", pkg.Arches),
		)

		return true
	})

	if len(packages) == 0 {
		return nil, &pkgbuild.MatchError{Paths: paths}
	}

	return packages, nil
}

// EnableQemuBinfmt builds or downloads qemu-user and the binfmt
// configuration for the native arch, installs them on the host and
// registers the binfmt handler for arch. It does nothing for the native
// arch or if it already ran for arch.
func (b *Builder) EnableQemuBinfmt(ctx context.Context, arch sys.Arch) error {
	_, err := sys.ParseArch(string(arch))
	if err != nil {
		return err //nolint:wrapcheck
	}

	native := b.native()
	if arch == native {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.qemuEnabled[arch] {
		return nil
	}

	slog.Info("Installing qemu-user (building if necessary)")

	opts := b.Options
	opts.Crosscompile = false
	opts.Crossdirect = false
	opts.CCache = false

	_, err = b.buildPaths(ctx, chroot.CrossdirectPackages, native, Flags{TryDownload: true}, opts)
	if err != nil {
		return err
	}

	crossRepo, err := distro.KupferLocal(native, b.Repo.Dir).Repo("cross")
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = crossRepo.Scan(ctx)
	if err != nil {
		return err //nolint:wrapcheck
	}

	crossPackages, err := crossRepo.Packages()
	if err != nil {
		return err //nolint:wrapcheck
	}

	files := make([]string, 0, len(QemuBinfmtPackages))

	for _, name := range QemuBinfmtPackages {
		pkg, found := crossPackages[name]
		if !found {
			return fmt.Errorf("%s: %w in local cross repo", name, distro.ErrNotFound)
		}

		files = append(files, filepath.Join(strings.TrimPrefix(pkg.ResolvedURL, "file://"), pkg.Filename))
	}

	args := slices.Concat([]string{"pacman", "-U", "--noconfirm", "--needed"}, files)

	err = b.Runner.Run(ctx, shell.Command(shell.Sudo(args...)...))
	if err != nil {
		return fmt.Errorf("install qemu-user: %w", err)
	}

	err = b.Binfmt.Register(ctx, arch)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if b.qemuEnabled == nil {
		b.qemuEnabled = make(map[sys.Arch]bool)
	}

	b.qemuEnabled[arch] = true

	return nil
}
