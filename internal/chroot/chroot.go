// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chroot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// Kind is the kind of a chroot.
type Kind int

// Chroot kinds.
const (
	KindBase Kind = iota
	KindBuild
	KindDevice
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindBuild:
		return "build"
	case KindDevice:
		return "rootfs"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Chroot is an Arch Linux root file system on the host.
type Chroot struct {
	Name string
	Arch sys.Arch
	// Root is the absolute path of the chroot on the host.
	Root string
	UUID uuid.UUID
	Kind Kind
	// CopyBase creates the chroot as a copy of the base chroot instead of
	// pacstrapping it.
	CopyBase bool
	// ExtraRepos are added to pacman.conf before the upstream repos.
	ExtraRepos   []*distro.Repo
	BasePackages []string

	reg          *Registry
	initialized  bool
	active       bool
	activeMounts []string
}

func (c *Chroot) String() string {
	return fmt.Sprintf("Chroot(%s)", c.Name)
}

// Path returns the absolute host path of the path inside the chroot.
func (c *Chroot) Path(elems ...string) string {
	return filepath.Join(append([]string{c.Root}, elems...)...)
}

// Initialized reports whether the root file system has been created.
func (c *Chroot) Initialized() bool {
	return c.initialized
}

// MarkInitialized marks an existing root file system as usable.
func (c *Chroot) MarkInitialized() {
	c.initialized = true
}

// Exists reports whether the chroot looks like an installed root file
// system.
func (c *Chroot) Exists() bool {
	_, err := os.Stat(c.Path("bin"))
	return err == nil
}

// Active reports whether the basic mounts are in place.
func (c *Chroot) Active() bool {
	return c.active
}

// ActiveMounts returns the mounts made in this chroot, as absolute paths
// inside the chroot.
func (c *Chroot) ActiveMounts() []string {
	return slices.Clone(c.activeMounts)
}

func (c *Chroot) files() shell.Files {
	return c.reg.files()
}

// Initialize creates the root file system. Existing chroots are only
// recreated with reset.
func (c *Chroot) Initialize(ctx context.Context, reset, failIfInitialized bool) error {
	if c.initialized && !reset {
		if failIfInitialized {
			return fmt.Errorf("%s (%s): %w", c.Name, c.UUID, ErrAlreadyInitialized)
		}

		slog.Debug("Chroot already initialized", slog.String("name", c.Name))

		return nil
	}

	err := c.Deactivate(ctx, false, true)
	if err != nil {
		return err
	}

	switch {
	case c.Kind == KindDevice && !c.CopyBase:
		return c.pacstrapWithHostConf(ctx, reset)
	case c.CopyBase:
		return c.copyBase(ctx, reset)
	default:
		return c.pacstrap(ctx, reset, c.Path("etc", "pacman.conf"))
	}
}

func (c *Chroot) prepareDirs(ctx context.Context) error {
	err := c.files().MakeDir(ctx, c.reg.Settings.Paths.Chroots, shell.FileOptions{})
	if err != nil {
		return err //nolint:wrapcheck
	}

	return c.files().MakeDir(ctx, c.Root, shell.FileOptions{}) //nolint:wrapcheck
}

func (c *Chroot) pacstrap(ctx context.Context, reset bool, pacmanConf string) error {
	if reset {
		slog.Info("Resetting chroot", slog.String("name", c.Name))

		entries, err := filepath.Glob(filepath.Join(c.Root, "*"))
		if err != nil {
			return fmt.Errorf("glob: %w", err)
		}

		for _, entry := range entries {
			err := c.files().Remove(ctx, entry, true)
			if err != nil {
				return err //nolint:wrapcheck
			}
		}
	}

	err := c.prepareDirs(ctx)
	if err != nil {
		return err
	}

	err = c.WritePacmanConf(ctx, true, "")
	if err != nil {
		return err
	}

	_, err = c.MountPacmanCache(ctx, false)
	if err != nil {
		return err
	}

	slog.Info("Pacstrapping chroot",
		slog.String("name", c.Name),
		slog.String("packages", strings.Join(c.BasePackages, ", ")),
	)

	args := slices.Concat(
		[]string{"pacstrap", "-C", pacmanConf, "-c", "-G", c.Root},
		c.BasePackages,
		[]string{"--needed", "--overwrite=*", "-yyuu"},
	)

	err = c.reg.Runner.Run(ctx, shell.Command(shell.Sudo(args...)...))
	if err != nil {
		return fmt.Errorf("failed to initialize chroot %q: %w", c.Name, err)
	}

	c.initialized = true

	return nil
}

// pacstrapWithHostConf pacstraps with a pacman.conf that points local repos
// to their host location, since the packages dir is not mounted yet.
func (c *Chroot) pacstrapWithHostConf(ctx context.Context, reset bool) error {
	err := c.prepareDirs(ctx)
	if err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp("", "kupfer-pacman-")
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := filepath.Join(tmpDir, "pacman-"+c.Name+".conf")

	err = c.WritePacmanConf(ctx, false, conf)
	if err != nil {
		return err
	}

	return c.pacstrap(ctx, reset, conf)
}

func (c *Chroot) copyBase(ctx context.Context, reset bool) error {
	if !reset && c.Exists() {
		slog.Debug("Reusing existing chroot", slog.String("name", c.Name))

		err := c.WritePacmanConf(ctx, true, "")
		if err != nil {
			return err
		}

		c.initialized = true

		return nil
	}

	base := c.reg.Base(c.Arch)

	err := base.Initialize(ctx, false, false)
	if err != nil {
		return err
	}

	err = c.prepareDirs(ctx)
	if err != nil {
		return err
	}

	slog.Info("Copying base chroot",
		slog.String("from", base.Name),
		slog.String("to", c.Name),
	)

	err = c.reg.Runner.Run(ctx, shell.Command(shell.Sudo(
		"rsync", "-a", "--delete", "-q", "-W", "-x",
		"--exclude", "/var/cache/pacman/pkg/*",
		base.Root+"/", c.Root+"/",
	)...))
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", base.Name, c.Name, err)
	}

	err = c.WritePacmanConf(ctx, true, "")
	if err != nil {
		return err
	}

	c.initialized = true

	return nil
}
