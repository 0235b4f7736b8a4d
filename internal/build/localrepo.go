// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"gitlab.com/kupfer/kupferbootstrap/internal/archive"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/pkgbuild"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// DBExtension is the extension of the repo database archives repo-add
// maintains next to the plain .db and .files copies pacman reads.
const DBExtension = ".tar.zst"

var packageExtensions = []string{"zst", "xz", "gz", "bz2"}

// stripCompressionExtension removes the compression extension of a package
// file name, so "a-1-1-any.pkg.tar.zst" becomes "a-1-1-any.pkg.tar".
func stripCompressionExtension(name string) string {
	for _, ext := range packageExtensions {
		if stripped, found := strings.CutSuffix(name, ".pkg.tar."+ext); found {
			return stripped + ".pkg.tar"
		}
	}

	return name
}

// LocalRepo manages the local package repos in Dir/<arch>/<repo>.
type LocalRepo struct {
	Dir string
	// PacmanCache is the shared pacman package cache, with one directory
	// per arch.
	PacmanCache string
	Repos       []string
	Arches      []sys.Arch
	Runner      shell.Runner

	// Remote returns the prebuilt HTTPS repos for arch. Downloads are
	// disabled if nil.
	Remote func(arch sys.Arch) *distro.Distro

	mu      sync.Mutex
	remotes map[sys.Arch]*distro.Distro
}

func (r *LocalRepo) files() shell.Files {
	return shell.Files{Runner: r.Runner}
}

// ArchDir returns the directory holding all repos of arch.
func (r *LocalRepo) ArchDir(arch sys.Arch) string {
	return filepath.Join(r.Dir, string(arch))
}

// RepoDir returns the directory of the repo for arch.
func (r *LocalRepo) RepoDir(arch sys.Arch, repo string) string {
	return filepath.Join(r.Dir, string(arch), repo)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Init creates all repos for arch with empty databases if missing.
func (r *LocalRepo) Init(ctx context.Context, arch sys.Arch) error {
	empty, err := archive.EmptyTar(archive.Zstd)
	if err != nil {
		return err //nolint:wrapcheck
	}

	for _, repo := range r.Repos {
		dir := r.RepoDir(arch, repo)
		if !exists(dir) {
			slog.Info("Creating local repo", slog.String("repo", repo), slog.String("arch", string(arch)))

			err := r.files().MakeDir(ctx, dir, shell.FileOptions{})
			if err != nil {
				return err //nolint:wrapcheck
			}
		}

		for _, kind := range []string{"db", "files"} {
			for _, ext := range []string{"", DBExtension} {
				path := filepath.Join(dir, repo+"."+kind+ext)
				if exists(path) {
					continue
				}

				err := renameio.WriteFile(path, empty, 0o644)
				if err != nil {
					return fmt.Errorf("failed to create local repo %s: %w", repo, err)
				}
			}
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	pending, err := renameio.TempFile("", dst)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	defer pending.Cleanup()

	_, err = io.Copy(pending, source)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}

	err = pending.Chmod(info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	err = pending.CloseAtomicallyReplace()
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	return nil
}

// AddFile moves the package file at path into the repo and updates the
// repo database. A stale copy in the pacman cache is removed so pacman does
// not install it instead of the new file.
func (r *LocalRepo) AddFile(ctx context.Context, path, repo string, arch sys.Arch) error {
	dir := r.RepoDir(arch, repo)
	name := filepath.Base(path)
	target := filepath.Join(dir, name)

	err := r.files().MakeDir(ctx, dir, shell.FileOptions{})
	if err != nil {
		return err //nolint:wrapcheck
	}

	if path != target {
		slog.Debug("Moving package file", slog.String("from", path), slog.String("to", target))

		err := copyFile(path, target)
		if err != nil {
			return err
		}

		err = r.files().Remove(ctx, path, false)
		if err != nil {
			return err //nolint:wrapcheck
		}
	}

	if r.PacmanCache != "" {
		cached := filepath.Join(r.PacmanCache, string(arch), name)
		if exists(cached) {
			slog.Debug("Removing cached package file", slog.String("path", cached))

			err := r.files().Remove(ctx, cached, false)
			if err != nil {
				return err //nolint:wrapcheck
			}
		}
	}

	err = r.Runner.Run(ctx, shell.Command(
		"repo-add", "--remove", filepath.Join(dir, repo+".db"+DBExtension), target,
	))
	if err != nil {
		return fmt.Errorf("%w: %s to %s: %w", ErrRepoAdd, target, repo, err)
	}

	for _, kind := range []string{"db", "files"} {
		file := filepath.Join(dir, repo+"."+kind)

		if exists(file + DBExtension) {
			err := copyFile(file+DBExtension, file)
			if err != nil {
				return err
			}
		}

		err := os.Remove(file + DBExtension + ".old")
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove old database: %w", err)
		}
	}

	return nil
}

// AddPackage adds all package files makepkg left in dir to the repo of pkg.
// Files of architecture independent packages are added to the repos of all
// arches. It returns the paths of the files in the repo of arch.
func (r *LocalRepo) AddPackage(ctx context.Context, dir string, pkg *pkgbuild.Pkgbuild, arch sys.Arch) ([]string, error) {
	slog.Info("Adding package to repo", slog.String("path", pkg.Path), slog.String("repo", pkg.Repo))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pkgbuild dir: %w", err)
	}

	var added []string

	for _, entry := range entries {
		stripped := stripCompressionExtension(entry.Name())
		if entry.IsDir() || !strings.HasSuffix(stripped, ".pkg.tar") {
			continue
		}

		repoFile := filepath.Join(r.RepoDir(arch, pkg.Repo), entry.Name())

		err := r.AddFile(ctx, filepath.Join(dir, entry.Name()), pkg.Repo, arch)
		if err != nil {
			return nil, err
		}

		added = append(added, repoFile)

		if strings.HasSuffix(stripped, "any.pkg.tar") {
			err := r.fanOut(ctx, repoFile, pkg.Repo, arch, true)
			if err != nil {
				return nil, err
			}
		}
	}

	return added, nil
}

// fanOut copies the architecture independent package file of arch into the
// same repo of all other arches. Without overwrite, arches that already
// have the file are skipped.
func (r *LocalRepo) fanOut(ctx context.Context, file, repo string, arch sys.Arch, overwrite bool) error {
	group, ctx := errgroup.WithContext(ctx)

	for _, other := range r.Arches {
		if other == arch {
			continue
		}

		target := filepath.Join(r.RepoDir(other, repo), filepath.Base(file))
		if !overwrite && exists(target) {
			continue
		}

		group.Go(func() error {
			slog.Info("Copying any-arch package", slog.String("to", target))

			err := r.files().MakeDir(ctx, filepath.Dir(target), shell.FileOptions{})
			if err != nil {
				return err //nolint:wrapcheck
			}

			err = copyFile(file, target)
			if err != nil {
				return err
			}

			return r.AddFile(ctx, target, repo, other)
		})
	}

	return group.Wait() //nolint:wrapcheck
}

// IsBuilt reports whether the current version of pkg is in the local repo
// of arch. With tryDownload, a missing package is fetched from the HTTPS
// repos if the versions match. Architecture independent packages found in
// the repos of other arches are copied over.
func (r *LocalRepo) IsBuilt(ctx context.Context, pkg *pkgbuild.Pkgbuild, arch sys.Arch, tryDownload bool) (bool, error) {
	filename := pkg.PackageFile(string(arch))
	stripped := stripCompressionExtension(filename)
	dir := r.RepoDir(arch, pkg.Repo)

	slog.Debug("Checking if package is built", slog.String("file", stripped))

	for _, ext := range []string{"xz", "zst"} {
		file := filepath.Join(dir, stripped+"."+ext)
		found := exists(file)

		if !found && tryDownload {
			downloaded, err := r.TryDownload(ctx, file, pkg, arch)
			if err != nil {
				return false, err
			}

			found = downloaded
		}

		if found {
			err := r.AddFile(ctx, file, pkg.Repo, arch)
			if err != nil {
				return false, err
			}
		}

		if strings.HasSuffix(stripped, "any.pkg.tar") {
			anyFound, err := r.syncAnyArch(ctx, filepath.Join(dir, filename), pkg.Repo, arch)
			if err != nil {
				return false, err
			}

			found = found || anyFound
		}

		if found {
			return true, nil
		}
	}

	return false, nil
}

// syncAnyArch makes sure the any-arch package file target in the repo of
// arch exists if any other arch has it, and distributes it to the arches
// that lack it.
func (r *LocalRepo) syncAnyArch(ctx context.Context, target, repo string, arch sys.Arch) (bool, error) {
	if !exists(target) {
		for _, other := range r.Arches {
			if other == arch {
				continue
			}

			otherFile := filepath.Join(r.RepoDir(other, repo), filepath.Base(target))
			if !exists(otherFile) {
				continue
			}

			slog.Info("Package found in other arch repos, copying",
				slog.String("file", filepath.Base(target)),
				slog.String("from", string(other)),
				slog.String("to", string(arch)),
			)

			err := copyFile(otherFile, target)
			if err != nil {
				return false, err
			}

			err = r.AddFile(ctx, target, repo, arch)
			if err != nil {
				return false, err
			}

			break
		}
	}

	if !exists(target) {
		return false, nil
	}

	return true, r.fanOut(ctx, target, repo, arch, false)
}

func (r *LocalRepo) remote(ctx context.Context, arch sys.Arch) (*distro.Distro, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, found := r.remotes[arch]; found {
		return d, nil
	}

	d := r.Remote(arch)

	err := d.Scan(ctx, false)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	if r.remotes == nil {
		r.remotes = make(map[sys.Arch]*distro.Distro)
	}

	r.remotes[arch] = d

	return d, nil
}

// TryDownload downloads pkg from the HTTPS repos to dest if the remote
// package has the same version and file name. It reports whether the file
// has been downloaded.
func (r *LocalRepo) TryDownload(ctx context.Context, dest string, pkg *pkgbuild.Pkgbuild, arch sys.Arch) (bool, error) {
	if r.Remote == nil {
		return false, nil
	}

	slog.Debug("Checking if package can be downloaded", slog.String("package", pkg.Name))

	remote, err := r.remote(ctx, arch)
	if err != nil {
		return false, err
	}

	repo, err := remote.Repo(pkg.Repo)
	if err != nil {
		slog.Warn("Repository is not a known HTTPS repo", slog.String("repo", pkg.Repo))
		return false, nil
	}

	packages, err := repo.Packages()
	if err != nil {
		return false, err //nolint:wrapcheck
	}

	remotePkg, found := packages[pkg.Name]
	if !found {
		slog.Warn("Package not found in remote repos, building instead", slog.String("package", pkg.Name))
		return false, nil
	}

	if remotePkg.Version != pkg.Version() {
		slog.Debug("Package versions differ, building instead",
			slog.String("package", pkg.Name),
			slog.String("local", pkg.Version()),
			slog.String("remote", remotePkg.Version),
		)

		return false, nil
	}

	filename := filepath.Base(dest)
	if remotePkg.Filename != filename {
		slog.Debug("Package file names don't match",
			slog.String("local", filename),
			slog.String("remote", remotePkg.Filename),
		)

		return false, nil
	}

	url := repo.URL() + "/" + filename
	slog.Info("Trying to download package", slog.String("url", url))

	_, err = distro.Download(ctx, url, dest, false)
	switch {
	case errors.Is(err, distro.ErrNotFound):
		slog.Debug("Remote package does not exist on server", slog.String("url", url))
		return false, nil
	case err != nil:
		slog.Error("Remote package failed to download", slog.String("url", url), slog.Any("error", err))
		return false, nil
	}

	slog.Info("Package downloaded from repos", slog.String("file", filename))

	return true, nil
}
