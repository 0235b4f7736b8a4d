// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chroot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// HostRepos returns copies of repos with local repo URLs pointing to the
// packages dir on the host instead of its mount point inside chroots.
func HostRepos(repos []*distro.Repo, packagesDir string) []*distro.Repo {
	chrootPrefix := "file://" + ChrootPackagesDir
	hostPrefix := "file://" + strings.TrimSuffix(packagesDir, "/")

	result := make([]*distro.Repo, len(repos))
	for idx, repo := range repos {
		clone := *repo
		if rest, found := strings.CutPrefix(clone.URLTemplate, chrootPrefix); found {
			clone.URLTemplate = hostPrefix + rest
		}

		result[idx] = &clone
	}

	return result
}

// PacmanConf renders the pacman.conf of the chroot. With inChroot false,
// local repos point to the host packages dir.
func (c *Chroot) PacmanConf(inChroot bool) (string, error) {
	repos := c.ExtraRepos
	if !inChroot {
		repos = HostRepos(repos, c.reg.Settings.Paths.Packages)
	}

	opts := c.reg.Settings.Pacman
	opts.Arch = string(c.Arch)

	return distro.BaseDistro(c.Arch).PacmanConf(opts, repos) //nolint:wrapcheck
}

// WritePacmanConf writes the pacman.conf to path, or to /etc/pacman.conf
// inside the chroot if path is empty.
func (c *Chroot) WritePacmanConf(ctx context.Context, inChroot bool, path string) error {
	conf, err := c.PacmanConf(inChroot)
	if err != nil {
		return err
	}

	var opts shell.FileOptions

	if path == "" {
		err := c.files().MakeDir(ctx, c.Path("etc"), shell.FileOptions{})
		if err != nil {
			return err //nolint:wrapcheck
		}

		path = c.Path("etc", "pacman.conf")
		opts = shell.FileOptions{User: "root", Group: "root"}
	}

	return c.files().WriteFile(ctx, path, []byte(conf), opts) //nolint:wrapcheck
}

var makepkgConfTemplate = template.Must(template.New("makepkg.conf").Parse(`#!/hint/bash
#
# /etc/{{ .FileName }}
#
# Generated by kupferbootstrap.
#

DLAGENTS=('file::/usr/bin/curl -qgC - -o %o %u'
          'ftp::/usr/bin/curl -qgfC - --ftp-pasv --retry 3 --retry-delay 3 -o %o %u'
          'http::/usr/bin/curl -qgb "" -fLC - --retry 3 --retry-delay 3 -o %o %u'
          'https::/usr/bin/curl -qgb "" -fLC - --retry 3 --retry-delay 3 -o %o %u'
          'rsync::/usr/bin/rsync --no-motd -z %u %o'
          'scp::/usr/bin/scp -C %u %o')

VCSCLIENTS=('bzr::bzr'
            'fossil::fossil'
            'git::git'
            'hg::mercurial'
            'svn::subversion')

CARCH="{{ .Arch }}"
CHOST="{{ .CHost }}"

CPPFLAGS=""
CFLAGS="{{ .CFlags }}"
CXXFLAGS="$CFLAGS -Wp,-D_GLIBCXX_ASSERTIONS"
LDFLAGS="-Wl,-O1,--sort-common,--as-needed,-z,relro,-z,now"
RUSTFLAGS="-C opt-level=2"
DEBUG_CFLAGS="-g -fvar-tracking-assignments"
DEBUG_CXXFLAGS="-g -fvar-tracking-assignments"

BUILDENV=(!distcc color !ccache check !sign)
OPTIONS=(strip docs !libtool !staticlibs emptydirs zipman purge !debug !lto)
INTEGRITY_CHECK=(sha256)
STRIP_BINARIES="--strip-all"
STRIP_SHARED="--strip-unneeded"
STRIP_STATIC="--strip-debug"
MAN_DIRS=({usr{,/local}{,/share},opt/*}/{man,info})
DOC_DIRS=({usr,usr/local,opt/*}/{doc,gtk-doc})
PURGE_TARGETS=(usr/{,share}/info/dir .packlist *.pod)
DBGSRCDIR="/usr/src/debug"

COMPRESSGZ=(gzip -c -f -n)
COMPRESSBZ2=(bzip2 -c -f)
COMPRESSXZ=(xz -c -z -)
COMPRESSZST=(zstd -c -z -q -)
COMPRESSLRZ=(lrzip -q)
COMPRESSLZO=(lzop -q)
COMPRESSZ=(compress -c -f)
COMPRESSLZ4=(lz4 -q)
COMPRESSLZ=(lzip -c -f)

PKGEXT='.pkg.tar.zst'
SRCEXT='.src.tar.gz'
{{- with .Cross }}

export ARCH="{{ .CompileArch }}"
export CROSS_COMPILE="{{ .HostSpec }}-"
export CC="{{ .HostSpec }}-gcc -L{{ .Chroot }}/usr/lib -I{{ .Chroot }}/usr/include"
export CXX="{{ .HostSpec }}-g++ -L{{ .Chroot }}/usr/lib -I{{ .Chroot }}/usr/include"
export CFLAGS="$CFLAGS -I{{ .Chroot }}/usr/include"
export CXXFLAGS="$CXXFLAGS -I{{ .Chroot }}/usr/include"
export CPPFLAGS="$CPPFLAGS -I{{ .Chroot }}/usr/include"
export LDFLAGS="$LDFLAGS,-L{{ .Chroot }}/usr/lib,-rpath-link,{{ .Chroot }}/usr/lib"
export PKG_CONFIG_SYSROOT_DIR="{{ .Chroot }}"
export PKG_CONFIG_PATH="{{ .Chroot }}/usr/lib/pkgconfig:{{ .Chroot }}/usr/share/pkgconfig"
export RUST_TARGET="{{ .RustTarget }}"
{{- end }}
`))

type makepkgCross struct {
	CompileArch string
	HostSpec    string
	Chroot      string
	RustTarget  string
}

type makepkgConf struct {
	FileName string
	Arch     sys.Arch
	CHost    string
	CFlags   string
	Cross    *makepkgCross
}

// MakepkgConfName returns the file name of the makepkg.conf for target.
func MakepkgConfName(target sys.Arch, cross bool) string {
	if cross {
		return "makepkg_cross_" + string(target) + ".conf"
	}

	return "makepkg.conf"
}

// MakepkgConf renders a makepkg.conf for target. With cross, the toolchain
// of native is used to build against the foreign chroot mounted at
// crossChroot.
func MakepkgConf(native, target sys.Arch, cross bool, crossChroot string) (string, error) {
	chost, err := sys.GCCHostSpec(target, target)
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	conf := makepkgConf{
		FileName: MakepkgConfName(target, cross),
		Arch:     target,
		CHost:    chost,
		CFlags:   target.CFlags(),
	}

	if cross {
		spec, err := sys.GCCHostSpec(native, target)
		if err != nil {
			return "", err //nolint:wrapcheck
		}

		if crossChroot == "" {
			crossChroot = filepath.Join(ChrootChrootsDir, BaseName(target))
		}

		conf.Cross = &makepkgCross{
			CompileArch: target.CompileArch(),
			HostSpec:    spec,
			Chroot:      crossChroot,
			RustTarget:  chost,
		}
	}

	var builder strings.Builder

	err = makepkgConfTemplate.Execute(&builder, conf)
	if err != nil {
		return "", fmt.Errorf("render makepkg.conf: %w", err)
	}

	return builder.String(), nil
}

// WriteMakepkgConf writes the makepkg.conf for target into /etc and returns
// its path relative to the chroot root, like "etc/makepkg_cross_aarch64.conf".
func (c *Chroot) WriteMakepkgConf(ctx context.Context, target sys.Arch, crossChroot string, cross bool) (string, error) {
	conf, err := MakepkgConf(c.reg.Settings.Native, target, cross, crossChroot)
	if err != nil {
		return "", err
	}

	rel := filepath.Join("etc", MakepkgConfName(target, cross))

	err = c.files().MakeDir(ctx, c.Path("etc"), shell.FileOptions{})
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	err = c.files().WriteFile(ctx, c.Path(rel), []byte(conf), shell.FileOptions{User: "root", Group: "root"})
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return rel, nil
}
