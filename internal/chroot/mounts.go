// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chroot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

type basicMount struct {
	target string
	opts   mount.Options
}

// ResolvConf is bind mounted into active chroots.
var ResolvConf = "/etc/resolv.conf"

func basicMounts() []basicMount {
	resolv, err := filepath.EvalSymlinks(ResolvConf)
	if err != nil {
		resolv = ResolvConf
	}

	return []basicMount{
		{"/proc", mount.Options{FSType: mount.FSTypeProc, Source: "proc"}},
		{"/sys", mount.Options{FSType: mount.FSTypeSys, Source: "sys", ReadOnly: true}},
		{"/dev", mount.Options{Source: "/dev", Bind: true}},
		{"/dev/pts", mount.Options{FSType: mount.FSTypeDevPts, Source: "devpts", Data: "mode=0620,gid=5"}},
		{"/etc/resolv.conf", mount.Options{Source: resolv, Bind: true}},
	}
}

func absPath(path string) string {
	return "/" + strings.TrimLeft(path, "/")
}

// Mount mounts source at dest inside the chroot and returns the absolute
// host path of the mount point. Mount points that already exist and were
// mounted by this chroot are skipped unless failIfMounted is set.
func (c *Chroot) Mount(
	ctx context.Context,
	source string,
	dest string,
	opts mount.Options,
	failIfMounted bool,
) (string, error) {
	rel := absPath(dest)
	target := c.Path(rel)

	mounted, err := c.reg.IsMounted(target)
	if err != nil {
		return "", fmt.Errorf("check mount: %w", err)
	}

	if mounted {
		if !slices.Contains(c.activeMounts, rel) {
			return "", fmt.Errorf("%s: %w for %s (%s)", c.Name, ErrLeakedMount, rel, target)
		}

		if failIfMounted {
			return "", fmt.Errorf("%s: %s is %w", c.Name, target, ErrAlreadyMounted)
		}

		slog.Debug("Already mounted, skipping", slog.String("chroot", c.Name), slog.String("target", target))

		return target, nil
	}

	if idx := slices.Index(c.activeMounts, rel); idx >= 0 {
		slog.Error("Mount was in active mounts but not actually mounted",
			slog.String("chroot", c.Name),
			slog.String("target", target),
		)

		c.activeMounts = slices.Delete(c.activeMounts, idx, idx+1)
	}

	err = c.ensureMountPoint(ctx, source, target)
	if err != nil {
		return "", err
	}

	opts.Source = source

	err = c.reg.Mounter.Mount(ctx, target, opts)
	if err != nil {
		return "", fmt.Errorf("%s: failed to mount %s to %s: %w", c.Name, source, target, err)
	}

	slog.Debug("Mounted", slog.String("chroot", c.Name), slog.String("source", source), slog.String("target", target))

	c.activeMounts = append(c.activeMounts, rel)

	return target, nil
}

// ensureMountPoint creates a directory or, for file sources, an empty file
// at target.
func (c *Chroot) ensureMountPoint(ctx context.Context, source, target string) error {
	info, err := os.Stat(source)
	if err != nil || !info.Mode().IsRegular() {
		return c.files().MakeDir(ctx, target, shell.FileOptions{}) //nolint:wrapcheck
	}

	_, err = os.Stat(target)
	if !errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	err = c.files().MakeDir(ctx, filepath.Dir(target), shell.FileOptions{})
	if err != nil {
		return err //nolint:wrapcheck
	}

	return c.files().WriteFile(ctx, target, nil, shell.FileOptions{}) //nolint:wrapcheck
}

// Umount unmounts the path inside the chroot.
func (c *Chroot) Umount(ctx context.Context, path string) error {
	rel := absPath(path)

	err := c.reg.Mounter.Unmount(ctx, c.Path(rel), false)
	if err != nil {
		return fmt.Errorf("%s: umount %s: %w", c.Name, rel, err)
	}

	if idx := slices.Index(c.activeMounts, rel); idx >= 0 {
		c.activeMounts = slices.Delete(c.activeMounts, idx, idx+1)
	}

	return nil
}

// UmountMany unmounts the paths, deepest first and /proc last.
func (c *Chroot) UmountMany(ctx context.Context, paths []string) error {
	mounts := make([]string, len(paths))
	for idx, path := range paths {
		mounts[idx] = absPath(path)
	}

	slices.Sort(mounts)
	slices.Reverse(mounts)

	var errs []error

	for _, mnt := range mounts {
		if mnt == "/proc" {
			continue
		}

		errs = append(errs, c.Umount(ctx, mnt))
	}

	if slices.Contains(mounts, "/proc") {
		errs = append(errs, c.Umount(ctx, "/proc"))
	}

	return errors.Join(errs...)
}

// Activate initializes the chroot if necessary and mounts /proc, /sys, /dev
// and friends.
func (c *Chroot) Activate(ctx context.Context, failIfActive bool) error {
	if c.active && failIfActive {
		return fmt.Errorf("%s: %w", c.Name, ErrActive)
	}

	if !c.initialized {
		err := c.Initialize(ctx, false, false)
		if err != nil {
			return err
		}
	}

	for _, mnt := range basicMounts() {
		_, err := c.Mount(ctx, mnt.opts.Source, mnt.target, mnt.opts, failIfActive)
		if err != nil {
			return err
		}
	}

	c.active = true

	return nil
}

// Deactivate unmounts everything mounted in the chroot. With ignoreRootfs,
// mounts at / and /boot are kept.
func (c *Chroot) Deactivate(ctx context.Context, failIfInactive, ignoreRootfs bool) error {
	if !c.active && failIfInactive {
		return fmt.Errorf("%s: can't deactivate: %w", c.Name, ErrInactive)
	}

	var mounts []string

	for _, mnt := range c.activeMounts {
		if ignoreRootfs && (mnt == "/" || mnt == "/boot") {
			continue
		}

		mounts = append(mounts, mnt)
	}

	err := c.UmountMany(ctx, mounts)
	c.active = false

	return err
}

func (c *Chroot) bind(ctx context.Context, source, dest string, failIfMounted bool) (string, error) {
	return c.Mount(ctx, source, dest, mount.Options{Bind: true}, failIfMounted)
}

// MountPkgbuilds binds the pkgbuilds directory.
func (c *Chroot) MountPkgbuilds(ctx context.Context, failIfMounted bool) (string, error) {
	return c.bind(ctx, c.reg.Settings.Paths.Pkgbuilds, ChrootPkgbuildsDir, failIfMounted)
}

// MountPackages binds the local package repos.
func (c *Chroot) MountPackages(ctx context.Context, failIfMounted bool) (string, error) {
	return c.bind(ctx, c.reg.Settings.Paths.Packages, ChrootPackagesDir, failIfMounted)
}

// MountChroots binds the chroots directory.
func (c *Chroot) MountChroots(ctx context.Context, failIfMounted bool) (string, error) {
	return c.bind(ctx, c.reg.Settings.Paths.Chroots, ChrootChrootsDir, failIfMounted)
}

// MountPacmanCache binds the shared per arch pacman package cache.
func (c *Chroot) MountPacmanCache(ctx context.Context, failIfMounted bool) (string, error) {
	shared := filepath.Join(c.reg.Settings.Paths.Pacman, string(c.Arch))

	err := os.MkdirAll(shared, 0o755)
	if err != nil {
		return "", fmt.Errorf("pacman cache: %w", err)
	}

	return c.bind(ctx, shared, "var/cache/pacman/pkg", failIfMounted)
}

// MountCCache binds the per arch ccache directory into the home of user.
func (c *Chroot) MountCCache(ctx context.Context, user string, failIfMounted bool) (string, error) {
	dir := filepath.Join(c.reg.Settings.Paths.CCache, string(c.Arch))

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return "", fmt.Errorf("ccache: %w", err)
	}

	return c.bind(ctx, dir, filepath.Join("home", user, ".ccache"), failIfMounted)
}

// MountRust binds the shared cargo and rustup directories into the home of
// user.
func (c *Chroot) MountRust(ctx context.Context, user string, failIfMounted bool) ([]string, error) {
	var targets []string

	for _, name := range []string{"cargo", "rustup"} {
		dir := filepath.Join(c.reg.Settings.Paths.Rust, name)

		err := os.MkdirAll(dir, 0o755)
		if err != nil {
			return nil, fmt.Errorf("rust: %w", err)
		}

		target, err := c.bind(ctx, dir, filepath.Join("home", user, "."+name), failIfMounted)
		if err != nil {
			return nil, err
		}

		targets = append(targets, target)
	}

	return targets, nil
}

// CrossdirectPackages are installed into the native chroot for crossdirect
// and qemu-user support.
var CrossdirectPackages = []string{"crossdirect", "qemu-user-static-bin", "binfmt-qemu-static"}

// MountCrossdirect makes the native chroot available at /native so that
// crossdirect can run native compilers from inside this foreign chroot.
func (c *Chroot) MountCrossdirect(ctx context.Context, native *Chroot, failIfMounted bool) (string, error) {
	spec, err := sys.GCCHostSpec(native.Arch, c.Arch)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	gcc := spec + "-gcc"

	slog.Debug("Activating crossdirect", slog.String("chroot", c.Name), slog.String("native", native.Name))

	err = native.Initialize(ctx, false, false)
	if err != nil {
		return "", err
	}

	results, err := native.TryInstallPackages(ctx, slices.Concat([]string{"base-devel", gcc}, CrossdirectPackages), false, true)
	if err != nil {
		return "", err
	}

	for _, pkg := range []string{gcc, "crossdirect"} {
		if results[pkg] != nil {
			return "", fmt.Errorf("%s: unable to install %s: %w", native.Name, pkg, results[pkg])
		}
	}

	ccLink := native.Path("usr", "bin", spec+"-cc")
	if _, err := os.Lstat(ccLink); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("Symlinking cc", slog.String("link", ccLink))

		err := c.files().Symlink(ctx, gcc, ccLink)
		if err != nil {
			return "", err //nolint:wrapcheck
		}
	}

	ldSos, err := filepath.Glob(native.Path("usr", "lib", "ld-linux-*"))
	if err != nil {
		return "", fmt.Errorf("glob: %w", err)
	}

	if len(ldSos) > 0 {
		ldSo := filepath.Base(ldSos[0])
		link := c.Path("usr", "lib", ldSo)

		if _, err := os.Lstat(link); errors.Is(err, fs.ErrNotExist) {
			err := c.files().Symlink(ctx, filepath.Join("/native", "usr", "lib", ldSo), link)
			if err != nil {
				return "", err //nolint:wrapcheck
			}
		} else {
			slog.Debug("ld-linux.so symlink already exists", slog.String("chroot", c.Name))
		}
	}

	err = c.files().Remove(ctx, c.Path("etc", "ld.so.cache"), false)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return c.bind(ctx, native.Root, "native", failIfMounted)
}

// MountCrosscompile makes the foreign chroot available below /chroots so
// that a cross compiler in this chroot can use its headers and libraries.
func (c *Chroot) MountCrosscompile(ctx context.Context, foreign *Chroot, failIfMounted bool) (string, error) {
	return c.bind(ctx, foreign.Root, filepath.Join(ChrootChrootsDir, foreign.Name), failIfMounted)
}

// MountRootfs mounts a root file system image or device at the chroot root.
// Unless allowOverlay is set, it refuses to mount over anything that looks
// in use.
func (c *Chroot) MountRootfs(ctx context.Context, source string, opts mount.Options, allowOverlay bool) error {
	if c.active {
		return fmt.Errorf("%s: %w: chroot is marked as active", c.Name, ErrRootfsBusy)
	}

	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("rootfs source: %w", err)
	}

	if !allowOverlay {
		var reallyActive []string

		for _, mnt := range c.activeMounts {
			mounted, err := c.reg.IsMounted(c.Path(mnt))
			if err != nil {
				return fmt.Errorf("check mount: %w", err)
			}

			if mounted {
				reallyActive = append(reallyActive, mnt)
			}
		}

		if len(reallyActive) > 0 {
			return fmt.Errorf("%s: %w: submounts active: %v", c.Name, ErrRootfsBusy, reallyActive)
		}

		mounted, err := c.reg.IsMounted(c.Root)
		if err != nil {
			return fmt.Errorf("check mount: %w", err)
		}

		if mounted {
			return fmt.Errorf("%s: %w: something is mounted at %s", c.Name, ErrRootfsBusy, c.Root)
		}

		if _, err := os.Stat(c.Path("usr", "bin")); err == nil {
			return fmt.Errorf("%s: %w: %s/usr/bin exists", c.Name, ErrRootfsBusy, c.Root)
		}
	}

	err := c.files().MakeDir(ctx, c.Root, shell.FileOptions{})
	if err != nil {
		return err //nolint:wrapcheck
	}

	_, err = c.Mount(ctx, source, "/", opts, true)

	return err
}
