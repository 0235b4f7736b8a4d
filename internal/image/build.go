// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/chroot"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// PostCommands run inside a freshly installed rootfs.
var PostCommands = []string{"kupfer-config apply"}

const (
	defaultUser     = "kupfer"
	defaultHostname = "kupfer"
)

// Builder creates full device images.
type Builder struct {
	Disk    Disk
	Chroots *chroot.Registry

	// CopyKeys, if set, installs ssh keys for user into the rootfs mounted
	// at root.
	CopyKeys func(ctx context.Context, root, user string) error
}

// Target describes the device and flavour an image is built for.
type Target struct {
	Device  string
	Flavour string
	Arch    sys.Arch
	// SectorSize is the sector size of the device storage.
	SectorSize int
}

// InstallOptions configure the rootfs installation.
type InstallOptions struct {
	Packages []string
	// LocalRepos installs from the local package repos instead of the
	// HTTPS ones.
	LocalRepos bool
	Branch     string
	Username   string
	Password   string
	Hostname   string
}

// BuildOptions configure [Builder.Build].
type BuildOptions struct {
	InstallOptions

	// Dir is the images directory.
	Dir    string
	SizeMB int
	// BlockTarget is written to instead of the full image file in Dir.
	BlockTarget string
	// SkipPartImages works directly on the partitions of the full image
	// instead of separate partition image files.
	SkipPartImages bool
}

// Build creates the full image for target and returns its path.
func (b *Builder) Build(ctx context.Context, target Target, opts BuildOptions) (_ string, err error) {
	if target.SectorSize <= 0 {
		return "", fmt.Errorf("%w: device %s", ErrNoSectorSize, target.Device)
	}

	imagePath := opts.BlockTarget
	if imagePath == "" {
		imagePath = Path(opts.Dir, target.Device, target.Flavour, TypeFull)
	}

	slog.Info("Creating image", slog.String("path", imagePath))

	err = CreateFile(imagePath, strconv.Itoa(opts.SizeMB)+"M")
	if err != nil {
		return "", err
	}

	loop, err := b.Disk.Attach(ctx, imagePath, target.SectorSize)
	if err != nil {
		return "", err
	}

	defer func() {
		err = errors.Join(err, b.Disk.detachAll(ctx, []string{loop}))
	}()

	err = b.Disk.Partition(ctx, loop)
	if err != nil {
		return "", err
	}

	err = b.Disk.Partprobe(ctx, loop)
	if err != nil {
		return "", err
	}

	loopBoot := mount.Partition(loop, BootPartition)
	loopRoot := mount.Partition(loop, RootPartition)
	bootDev, rootDev := loopBoot, loopRoot

	if !opts.SkipPartImages {
		slog.Info("Creating partition image files")

		bootDev = Path(opts.Dir, target.Device, target.Flavour, TypeBoot)
		rootDev = Path(opts.Dir, target.Device, target.Flavour, TypeRoot)

		err = CreateFile(bootDev, BootDefaultSize)
		if err != nil {
			return "", err
		}

		err = CreateFile(rootDev, RootPartitionSize(opts.SizeMB))
		if err != nil {
			return "", err
		}
	}

	err = b.Disk.CreateBootFS(ctx, bootDev, target.SectorSize)
	if err != nil {
		return "", err
	}

	err = b.Disk.CreateRootFS(ctx, rootDev, target.SectorSize)
	if err != nil {
		return "", err
	}

	err = b.InstallRootfs(ctx, target, rootDev, bootDev, opts.InstallOptions)
	if err != nil {
		return "", err
	}

	if !opts.SkipPartImages {
		slog.Info("Copying partition images", slog.String("image", imagePath))

		err = b.Disk.Copy(ctx, bootDev, loopBoot, CopyOptions{})
		if err != nil {
			return "", err
		}

		err = b.Disk.Copy(ctx, rootDev, loopRoot, CopyOptions{})
		if err != nil {
			return "", err
		}
	}

	slog.Info("Image done", slog.String("path", imagePath))

	return imagePath, nil
}

// DeviceChroot returns the rootfs chroot for target.
func (b *Builder) DeviceChroot(target Target, opts InstallOptions) *chroot.Chroot {
	return b.Chroots.Device(chroot.DeviceOptions{
		Device:   target.Device,
		Flavour:  target.Flavour,
		Arch:     target.Arch,
		Packages: opts.Packages,
		Remote:   !opts.LocalRepos,
		Branch:   opts.Branch,
	})
}

// blockDevice returns source if it is a block device and attaches it to a
// loop device otherwise. The second return value is the attached loop
// device, if any.
func (b *Builder) blockDevice(ctx context.Context, source string) (string, string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", "", fmt.Errorf("mount source: %w", err)
	}

	if !info.Mode().IsRegular() {
		return source, "", nil
	}

	device, err := b.Disk.Loop.Attach(ctx, source, 0)
	if err != nil {
		return "", "", err //nolint:wrapcheck
	}

	return device, device, nil
}

// MountChroot mounts the root and boot file systems at the chroot. Regular
// files are attached to loop devices first, which are returned for
// detaching.
func (b *Builder) MountChroot(ctx context.Context, c *chroot.Chroot, rootSource, bootSource string) ([]string, error) {
	var attached []string

	rootDev, loop, err := b.blockDevice(ctx, rootSource)
	if err != nil {
		return attached, err
	}

	if loop != "" {
		attached = append(attached, loop)
	}

	slog.Debug("Mounting rootfs", slog.String("source", rootDev), slog.String("target", c.Root))

	err = c.MountRootfs(ctx, rootDev, mount.Options{Source: rootDev, FSType: mount.FSTypeExt4}, false)
	if err != nil {
		return attached, err //nolint:wrapcheck
	}

	bootDev, loop, err := b.blockDevice(ctx, bootSource)
	if err != nil {
		return attached, err
	}

	if loop != "" {
		attached = append(attached, loop)
	}

	_, err = c.Mount(ctx, bootDev, "/boot", mount.Options{Source: bootDev, FSType: mount.FSTypeExt2}, true)
	if err != nil {
		return attached, err //nolint:wrapcheck
	}

	return attached, nil
}

// UmountChroot deactivates the chroot and unmounts boot and root.
func (b *Builder) UmountChroot(ctx context.Context, c *chroot.Chroot) error {
	err := c.Deactivate(ctx, false, true)
	if err != nil {
		return err //nolint:wrapcheck
	}

	for _, mnt := range []string{"/boot", "/"} {
		if !slices.Contains(c.ActiveMounts(), mnt) {
			continue
		}

		err := c.Umount(ctx, mnt)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	return nil
}

// InstallRootfs installs the device chroot onto the root and boot sources.
// Sources may be block devices or image files.
func (b *Builder) InstallRootfs(
	ctx context.Context,
	target Target,
	rootSource, bootSource string,
	opts InstallOptions,
) (err error) {
	c := b.DeviceChroot(target, opts)

	attached, err := b.MountChroot(ctx, c, rootSource, bootSource)

	defer func() {
		err = errors.Join(err, b.Disk.detachAll(ctx, attached))
	}()

	defer func() {
		err = errors.Join(err, b.UmountChroot(ctx, c))
	}()

	if err != nil {
		return err
	}

	_, err = c.MountPacmanCache(ctx, false)
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = c.Initialize(ctx, false, false)
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = c.Activate(ctx, false)
	if err != nil {
		return err //nolint:wrapcheck
	}

	return b.configureRootfs(ctx, c, target, opts)
}

func (b *Builder) configureRootfs(ctx context.Context, c *chroot.Chroot, target Target, opts InstallOptions) error {
	user := opts.Username
	if user == "" {
		user = defaultUser
	}

	err := c.CreateUser(ctx, chroot.User{Name: user, Password: opts.Password})
	if err != nil {
		return err //nolint:wrapcheck
	}

	err = c.AddSudoConfig(ctx, "wheel", "%wheel", true)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if b.CopyKeys != nil {
		err = b.CopyKeys(ctx, c.Root, user)
		if err != nil {
			return err
		}
	}

	pacmanOpts := b.Chroots.Settings.Pacman
	pacmanOpts.Arch = string(target.Arch)
	pacmanOpts.CheckSpace = true
	pacmanOpts.CacheDir = ""

	pacmanConf, err := distro.BaseDistro(target.Arch).PacmanConf(
		pacmanOpts,
		distro.KupferHTTPS(target.Arch, opts.Branch).Repos,
	)
	if err != nil {
		return err //nolint:wrapcheck
	}

	hostname := opts.Hostname
	if hostname == "" {
		hostname = defaultHostname
	}

	files := shell.Files{Runner: b.Chroots.Runner}

	for path, content := range map[string]string{
		"etc/pacman.conf": pacmanConf,
		"etc/hostname":    hostname + "\n",
	} {
		err := files.WriteFile(ctx, c.Path(path), []byte(content), shell.FileOptions{})
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	if len(PostCommands) > 0 {
		slog.Info("Running post install commands")

		err = c.Run(ctx, strings.Join(PostCommands, " && "), chroot.RunOptions{})
		if err != nil {
			return fmt.Errorf("post install commands: %w", err)
		}
	}

	return c.Run(ctx, "sync", chroot.RunOptions{}) //nolint:wrapcheck
}
