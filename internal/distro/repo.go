// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/archive"
)

const fileURLPrefix = "file://"

// RepoInfo describes a repo independent of the architecture.
type RepoInfo struct {
	// URLTemplate may contain $repo and $arch.
	URLTemplate string

	// Options are additional pacman.conf lines of the repo section, like
	// "SigLevel".
	Options map[string]string
}

// Repo is a pacman repository for one architecture.
type Repo struct {
	Name        string
	Arch        string
	URLTemplate string
	Options     map[string]string

	// CacheDir stores downloaded databases of remote repos. If empty, a
	// temporary directory is used.
	CacheDir string

	packages map[string]*Package
	scanned  bool
}

// NewRepo creates a new unscanned repo.
func NewRepo(name, arch string, info RepoInfo) *Repo {
	return &Repo{
		Name:        name,
		Arch:        arch,
		URLTemplate: info.URLTemplate,
		Options:     info.Options,
	}
}

// ResolveURL substitutes $repo and $arch in template.
func ResolveURL(template, repo, arch string) string {
	replacer := strings.NewReplacer("$repo", repo, "$arch", arch)
	return replacer.Replace(template)
}

// URL returns the resolved URL of the repo.
func (r *Repo) URL() string {
	return ResolveURL(r.URLTemplate, r.Name, r.Arch)
}

// IsRemote reports whether the repo is not a local file:// repo.
func (r *Repo) IsRemote() bool {
	return !strings.HasPrefix(r.URL(), fileURLPrefix)
}

// ConfigSnippet renders the pacman.conf section of the repo.
func (r *Repo) ConfigSnippet() string {
	var builder strings.Builder

	fmt.Fprintf(&builder, "[%s]\nServer = %s\n", r.Name, r.URLTemplate)

	for _, key := range slices.Sorted(maps.Keys(r.Options)) {
		fmt.Fprintf(&builder, "%s = %s\n", key, r.Options[key])
	}

	return builder.String()
}

func (r *Repo) dbPath(ctx context.Context) (string, error) {
	url := r.URL()
	fileName := r.Name + ".db"

	if !r.IsRemote() {
		return filepath.Join(strings.TrimPrefix(url, fileURLPrefix), fileName), nil
	}

	cacheDir := r.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "kupferbootstrap-repos")
	}

	local := filepath.Join(cacheDir, r.Arch, fileName)

	_, err := Download(ctx, url+"/"+fileName, local, true)
	if err != nil {
		return "", err
	}

	return local, nil
}

// Scan reads the repo database and indexes its packages.
func (r *Repo) Scan(ctx context.Context) error {
	dbPath, err := r.dbPath(ctx)
	if err != nil {
		return fmt.Errorf("repo %s: %w", r.Name, err)
	}

	file, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("repo %s: open database: %w", r.Name, err)
	}
	defer file.Close()

	packages, err := r.parseDatabase(file)
	if err != nil {
		return fmt.Errorf("repo %s: %w", r.Name, err)
	}

	r.packages = packages
	r.scanned = true

	slog.Debug("Scanned repo",
		slog.String("repo", r.Name),
		slog.String("arch", r.Arch),
		slog.Int("packages", len(packages)),
	)

	return nil
}

func (r *Repo) parseDatabase(reader io.Reader) (map[string]*Package, error) {
	packages := map[string]*Package{}
	url := r.URL()

	err := archive.WalkTar(reader, func(header *tar.Header, content io.Reader) error {
		if path.Base(header.Name) != "desc" {
			return nil
		}

		pkg, err := ParseDesc(content)
		if err != nil {
			return fmt.Errorf("%s: %w", header.Name, err)
		}

		pkg.RepoName = r.Name
		pkg.ResolvedURL = url
		packages[pkg.Name] = pkg

		return nil
	})
	if err != nil {
		return nil, err
	}

	return packages, nil
}

// Packages returns the packages indexed by name.
func (r *Repo) Packages() (map[string]*Package, error) {
	if !r.scanned {
		return nil, fmt.Errorf("%s: %w", r.Name, ErrNotScanned)
	}

	return r.packages, nil
}

// Scanned reports whether the repo has been scanned.
func (r *Repo) Scanned() bool {
	return r.scanned
}
