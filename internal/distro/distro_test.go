// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro_test

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func desc(name, version string, extra ...string) string {
	lines := []string{
		"%FILENAME%", name + "-" + version + "-aarch64.pkg.tar.zst", "",
		"%NAME%", name, "",
		"%VERSION%", version, "",
		"%ARCH%", "aarch64", "",
	}

	return strings.Join(append(lines, extra...), "\n") + "\n"
}

// writeRepoDB writes a zstd compressed repo database to
// dir/aarch64/<repo>/<repo>.db.
func writeRepoDB(t *testing.T, dir, repo string, descs map[string]string) {
	t.Helper()

	var buf bytes.Buffer

	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)

	tw := tar.NewWriter(zw)

	for entry, content := range descs {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     entry + "/",
			Typeflag: tar.TypeDir,
			Mode:     0o755,
		}))
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     entry + "/desc",
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))

		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	repoDir := filepath.Join(dir, "aarch64", repo)
	require.NoError(t, os.MkdirAll(repoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, repo+".db"), buf.Bytes(), 0o644))
}

func TestParseDesc(t *testing.T) {
	content := desc("linux-sdm845", "6.1.0-1",
		"%DEPENDS%", "coreutils", "kmod>=29", "",
		"%PROVIDES%", "linux=6.1.0", "WIREGUARD-MODULE", "",
		"%REPLACES%", "linux-sdm845-old", "",
	)

	pkg, err := distro.ParseDesc(strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, "linux-sdm845", pkg.Name)
	assert.Equal(t, "6.1.0-1", pkg.Version)
	assert.Equal(t, "aarch64", pkg.Arch)
	assert.Equal(t, "linux-sdm845-6.1.0-1-aarch64.pkg.tar.zst", pkg.Filename)
	assert.Equal(t, []string{"coreutils", "kmod>=29"}, pkg.Depends)
	assert.Equal(t, []string{"linux=6.1.0", "WIREGUARD-MODULE"}, pkg.Provides)
	assert.Equal(t, []string{"linux-sdm845-old"}, pkg.Replaces)

	t.Run("missing filename", func(t *testing.T) {
		pkg, err := distro.ParseDesc(strings.NewReader("%NAME%\nfoo\n\n%VERSION%\n1-1\n\n%ARCH%\nany\n"))
		require.NoError(t, err)
		assert.Equal(t, "foo-1-1-any.pkg.tar.zst", pkg.Filename)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := distro.ParseDesc(strings.NewReader("%ARCH%\nany\n"))
		require.ErrorIs(t, err, distro.ErrInvalidDesc)
	})
}

func TestLocalDistroScan(t *testing.T) {
	dir := t.TempDir()

	writeRepoDB(t, dir, "main", map[string]string{
		"kupfer-config-0.1-1": desc("kupfer-config", "0.1-1"),
		"shared-1.0-1":        desc("shared", "1.0-1"),
	})
	writeRepoDB(t, dir, "device", map[string]string{
		"device-bq-paella-1-1": desc("device-bq-paella", "1-1",
			"%PROVIDES%", "kupfer-device", "",
		),
		"shared-2.0-1": desc("shared", "2.0-1"),
	})

	local := distro.New("aarch64", []string{"device", "main"}, map[string]distro.RepoInfo{
		"device": {URLTemplate: "file://" + dir + "/$arch/$repo"},
		"main":   {URLTemplate: "file://" + dir + "/$arch/$repo"},
	})

	_, err := local.Packages()
	require.ErrorIs(t, err, distro.ErrNotScanned)

	require.NoError(t, local.Scan(t.Context(), false))

	packages, err := local.Packages()
	require.NoError(t, err)
	assert.Len(t, packages, 3)
	assert.Equal(t, "2.0-1", packages["shared"].Version, "earlier repo must win")
	assert.Equal(t, "device", packages["shared"].RepoName)
	assert.Equal(t, "file://"+dir+"/aarch64/main", packages["kupfer-config"].ResolvedURL)

	providers, err := local.Providers("kupfer-device")
	require.NoError(t, err)
	assert.Nil(t, providers.Exact)
	require.Len(t, providers.Provides, 1)
	assert.Equal(t, "device-bq-paella", providers.Provides[0].Name)

	providers, err = local.Providers("missing>=1")
	require.NoError(t, err)
	assert.True(t, providers.Empty())
}

func TestConfigSnippets(t *testing.T) {
	https := distro.KupferHTTPS(sys.AArch64, "main")

	repo, err := https.Repo("main")
	require.NoError(t, err)
	assert.Equal(t,
		"[main]\nServer = https://gitlab.com/kupfer/packages/prebuilts/-/raw/main/$arch/$repo\nSigLevel = Never\n",
		repo.ConfigSnippet(),
	)
	assert.Equal(t,
		"https://gitlab.com/kupfer/packages/prebuilts/-/raw/main/aarch64/main",
		repo.URL(),
	)
	assert.True(t, repo.IsRemote())

	_, err = https.Repo("nope")
	require.ErrorIs(t, err, distro.ErrUnknownRepo)

	local := distro.KupferLocal(sys.AArch64, "/packages/")
	localRepo, err := local.Repo("boot")
	require.NoError(t, err)
	assert.Equal(t, "file:///packages/aarch64/boot", localRepo.URL())
	assert.False(t, localRepo.IsRemote())

	base := distro.BaseDistro(sys.AArch64)
	conf, err := base.PacmanConf(distro.PacmanOptions{ParallelDownloads: 4}, local.Repos)
	require.NoError(t, err)

	assert.Contains(t, conf, "Architecture = aarch64\n")
	assert.Contains(t, conf, "ParallelDownloads = 4\n")
	assert.Contains(t, conf, "#CheckSpace\n")
	assert.Less(t,
		strings.Index(conf, "[boot]"),
		strings.Index(conf, "[core]"),
		"extra repos must come first",
	)
	assert.Contains(t, conf, "[alarm]\nServer = http://mirror.archlinuxarm.org/$arch/$repo\n")
}

func TestBaseDistroX8664(t *testing.T) {
	base := distro.BaseDistro(sys.X8664)

	names := make([]string, len(base.Repos))
	for idx, repo := range base.Repos {
		names[idx] = repo.Name
	}

	assert.Equal(t, []string{"core", "extra", "community"}, names)
	assert.Equal(t,
		"http://ftp.halifax.rwth-aachen.de/archlinux/core/os/x86_64",
		base.Repos[0].URL(),
	)
}
