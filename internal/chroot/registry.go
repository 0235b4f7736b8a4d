// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chroot

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// Chroot name prefixes.
const (
	BasePrefix   = "base_"
	BuildPrefix  = "build_"
	DevicePrefix = "rootfs_"
)

// Locations of the shared host directories inside chroots.
const (
	ChrootPkgbuildsDir = "/pkgbuilds"
	ChrootPackagesDir  = distro.ChrootPackagesDir
	ChrootChrootsDir   = "/chroots"
)

// DefaultBasePackages are pacstrapped into base and build chroots.
var DefaultBasePackages = []string{"base", "base-devel", "git"}

// DevicePackages are the packages every device rootfs gets.
var DevicePackages = []string{"base-kupfer", "base", "nano", "vim"}

// BaseName returns the name of the base chroot for arch.
func BaseName(arch sys.Arch) string {
	return BasePrefix + string(arch)
}

// BuildName returns the name of the build chroot for arch.
func BuildName(arch sys.Arch) string {
	return BuildPrefix + string(arch)
}

// DeviceName returns the name of the rootfs chroot for device and flavour.
func DeviceName(device, flavour string) string {
	return DevicePrefix + device + "-" + flavour
}

// Paths are the host directories chroots use.
type Paths struct {
	Chroots   string
	Pacman    string
	Packages  string
	Pkgbuilds string
	CCache    string
	Rust      string
}

// Settings are shared by all chroots of a [Registry].
type Settings struct {
	Paths  Paths
	Native sys.Arch
	Pacman distro.PacmanOptions
}

// Registry creates chroots and keeps one instance per name.
type Registry struct {
	Settings Settings
	Runner   shell.Runner
	Mounter  mount.Mounter

	// IsMounted reports whether something is mounted at the absolute path.
	IsMounted func(path string) (bool, error)

	mu      sync.Mutex
	chroots map[string]*Chroot
}

// NewRegistry creates a [Registry] that mounts with [mount.New].
func NewRegistry(settings Settings, runner shell.Runner) *Registry {
	return &Registry{
		Settings:  settings,
		Runner:    runner,
		Mounter:   mount.New(runner),
		IsMounted: mount.IsMounted,
		chroots:   make(map[string]*Chroot),
	}
}

func (r *Registry) files() shell.Files {
	return shell.Files{Runner: r.Runner}
}

// Get returns the chroot with the given name. If it does not exist yet,
// create is called to construct it.
func (r *Registry) Get(name string, create func() *Chroot, failIfExists bool) (*Chroot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chroots == nil {
		r.chroots = make(map[string]*Chroot)
	}

	if existing, exists := r.chroots[name]; exists {
		if failIfExists {
			return nil, fmt.Errorf("%w: %s (%s)", ErrAlreadyExists, name, existing.UUID)
		}

		slog.Debug("Returning existing chroot", slog.String("name", name), slog.Any("uuid", existing.UUID))

		return existing, nil
	}

	chroot := create()
	chroot.Name = name
	chroot.UUID = uuid.New()
	chroot.reg = r

	if chroot.Root == "" {
		chroot.Root = filepath.Join(r.Settings.Paths.Chroots, name)
	}

	if chroot.Kind == KindBase && len(chroot.ExtraRepos) > 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrLocalRepos)
	}

	slog.Debug("Adding chroot to chroot map", slog.String("name", name), slog.Any("uuid", chroot.UUID))
	r.chroots[name] = chroot

	return chroot, nil
}

// All returns all known chroots.
func (r *Registry) All() []*Chroot {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := make([]*Chroot, 0, len(r.chroots))
	for _, chroot := range r.chroots {
		list = append(list, chroot)
	}

	slices.SortFunc(list, func(a, b *Chroot) int {
		return strings.Compare(a.Name, b.Name)
	})

	return list
}

// Base returns the base chroot for arch.
func (r *Registry) Base(arch sys.Arch) *Chroot {
	chroot, _ := r.Get(BaseName(arch), func() *Chroot {
		return &Chroot{
			Arch:         arch,
			Kind:         KindBase,
			BasePackages: slices.Clone(DefaultBasePackages),
		}
	}, false)

	return chroot
}

// Build returns the build chroot for arch. With kupferRepos, the local
// package repos are enabled.
func (r *Registry) Build(arch sys.Arch, kupferRepos bool) *Chroot {
	chroot, _ := r.Get(BuildName(arch), func() *Chroot {
		return &Chroot{
			Arch:         arch,
			Kind:         KindBuild,
			CopyBase:     true,
			BasePackages: slices.Clone(DefaultBasePackages),
		}
	}, false)

	chroot.ExtraRepos = nil
	if kupferRepos {
		chroot.ExtraRepos = distro.KupferLocal(arch, distro.ChrootPackagesDir).Repos
	}

	return chroot
}

// DeviceOptions configure a device chroot.
type DeviceOptions struct {
	Device   string
	Flavour  string
	Arch     sys.Arch
	Packages []string
	// Remote uses the HTTPS repos on Branch instead of the local ones.
	Remote     bool
	Branch     string
	ExtraRepos []*distro.Repo
}

// Device returns the rootfs chroot for the device and flavour.
func (r *Registry) Device(opts DeviceOptions) *Chroot {
	packages := opts.Packages
	if packages == nil {
		packages = DevicePackages
	}

	kupfer := distro.KupferLocal(opts.Arch, distro.ChrootPackagesDir)
	if opts.Remote {
		kupfer = distro.KupferHTTPS(opts.Arch, opts.Branch)
	}

	repos := slices.Concat(opts.ExtraRepos, kupfer.Repos)

	chroot, _ := r.Get(DeviceName(opts.Device, opts.Flavour), func() *Chroot {
		return &Chroot{
			Arch:         opts.Arch,
			Kind:         KindDevice,
			BasePackages: slices.Clone(packages),
		}
	}, false)

	chroot.ExtraRepos = repos

	return chroot
}
