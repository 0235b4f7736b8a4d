// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package remote_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"gitlab.com/kupfer/kupferbootstrap/internal/remote"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

func TestFindKeys(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"id_rsa":          "rsa",
		"id_rsa.pub":      "ssh-rsa AAA",
		"id_ed25519":      "ed",
		"known_hosts":     "",
		"config":          "",
		"id_dir/whatever": "",
	})

	keys, err := remote.FindKeys(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "id_ed25519"),
		filepath.Join(dir, "id_rsa"),
	}, keys)

	keys, err = remote.FindKeys(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestGenerateKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".ssh")

	key, err := remote.GenerateKey(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, remote.DefaultKeyName), key)

	info, err := os.Stat(key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	private, err := os.ReadFile(key)
	require.NoError(t, err)

	signer, err := ssh.ParsePrivateKey(private)
	require.NoError(t, err)

	public, err := os.ReadFile(key + ".pub")
	require.NoError(t, err)

	parsed, comment, _, _, err := ssh.ParseAuthorizedKey(public)
	require.NoError(t, err)
	assert.Equal(t, "kupfer", comment)
	assert.Equal(t, ssh.KeyAlgoED25519, parsed.Type())
	assert.Equal(t, signer.PublicKey().Marshal(), parsed.Marshal())
}

func TestCopyKeys(t *testing.T) {
	tests := []struct {
		name     string
		keys     map[string]string
		confirm  func(string) (bool, error)
		expected func(t *testing.T, authorized string)
	}{
		{
			name: "existing keys",
			keys: map[string]string{
				"id_rsa":         "rsa",
				"id_rsa.pub":     "ssh-rsa AAAA user@host",
				"id_ed25519":     "ed",
				"id_ed25519.pub": "ssh-ed25519 AAAA user@host\n",
				"id_nopub":       "key",
			},
			expected: func(t *testing.T, authorized string) {
				assert.Equal(t, "ssh-ed25519 AAAA user@host\nssh-rsa AAAA user@host\n", authorized)
			},
		},
		{
			name: "generated",
			confirm: func(string) (bool, error) {
				return true, nil
			},
			expected: func(t *testing.T, authorized string) {
				assert.Contains(t, authorized, "ssh-ed25519 ")
				assert.Contains(t, authorized, " kupfer\n")
			},
		},
		{
			name: "declined",
			confirm: func(string) (bool, error) {
				return false, nil
			},
		},
		{
			name: "no confirm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keyDir := filepath.Join(t.TempDir(), ".ssh")
			writeFiles(t, keyDir, tt.keys)

			root := t.TempDir()
			authorizedKeys := filepath.Join(root, "home", "kupfer", ".ssh", "authorized_keys")
			writeFiles(t, root, map[string]string{
				"home/kupfer/.ssh/authorized_keys": "stale\n",
			})

			runner := &shell.FakeRunner{}
			installer := remote.KeyInstaller{
				Dir:     keyDir,
				Files:   shell.Files{Runner: runner},
				Confirm: tt.confirm,
			}

			require.NoError(t, installer.CopyKeys(context.Background(), root, "kupfer"))
			assert.Empty(t, runner.Commands())

			if tt.expected == nil {
				assert.NoFileExists(t, authorizedKeys)
				return
			}

			content, err := os.ReadFile(authorizedKeys)
			require.NoError(t, err)
			tt.expected(t, string(content))
		})
	}
}
