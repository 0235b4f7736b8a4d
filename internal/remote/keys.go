// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio/v2"
	"golang.org/x/crypto/ssh"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// DefaultKeyName is the file name of generated keys.
const DefaultKeyName = "id_ed25519_kupfer"

const keyComment = "kupfer"

// KeyDir returns the ssh directory of the current user.
func KeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}

	return filepath.Join(home, ".ssh")
}

// FindKeys returns the private key files "id_*" in dir, sorted by name. A
// missing dir yields no keys.
func FindKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read ssh dir: %w", err)
	}

	var keys []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "id_") || strings.HasSuffix(name, ".pub") {
			continue
		}

		keys = append(keys, filepath.Join(dir, name))
	}

	slices.Sort(keys)

	return keys, nil
}

// GenerateKey creates an ed25519 key pair named [DefaultKeyName] in dir and
// returns the path of the private key.
func GenerateKey(dir string) (string, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(private, keyComment)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}

	sshPublic, err := ssh.NewPublicKey(public)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}

	err = os.MkdirAll(dir, 0o700)
	if err != nil {
		return "", fmt.Errorf("create ssh dir: %w", err)
	}

	path := filepath.Join(dir, DefaultKeyName)

	err = renameio.WriteFile(path, pem.EncodeToMemory(block), 0o600)
	if err != nil {
		return "", fmt.Errorf("write private key: %w", err)
	}

	authorized := bytes.TrimSuffix(ssh.MarshalAuthorizedKey(sshPublic), []byte("\n"))
	authorized = append(authorized, " "+keyComment+"\n"...)

	err = renameio.WriteFile(path+".pub", authorized, 0o644)
	if err != nil {
		return "", fmt.Errorf("write public key: %w", err)
	}

	slog.Info("Generated ssh key", slog.String("path", path))

	return path, nil
}

// KeyInstaller installs the public keys of the current user into root file
// systems.
type KeyInstaller struct {
	// Dir holds the keys. Defaults to [KeyDir].
	Dir   string
	Files shell.Files

	// Confirm is asked whether a key should be generated if there is none.
	// If nil, no key is generated.
	Confirm func(question string) (bool, error)
}

func (k KeyInstaller) dir() string {
	if k.Dir == "" {
		return KeyDir()
	}

	return k.Dir
}

func (k KeyInstaller) keys() ([]string, error) {
	keys, err := FindKeys(k.dir())
	if err != nil || len(keys) > 0 || k.Confirm == nil {
		return keys, err
	}

	slog.Info("Could not find any ssh key to copy")

	generate, err := k.Confirm("Do you want me to generate an ssh key for you?")
	if err != nil || !generate {
		return nil, err
	}

	key, err := GenerateKey(k.dir())
	if err != nil {
		return nil, err
	}

	return []string{key}, nil
}

// CopyKeys replaces the authorized_keys of user in the root file system at
// root with the public keys found. Keys without a .pub file are skipped.
func (k KeyInstaller) CopyKeys(ctx context.Context, root, user string) error {
	sshDir := filepath.Join(root, "home", user, ".ssh")
	authorizedKeys := filepath.Join(sshDir, "authorized_keys")

	err := k.Files.Remove(ctx, authorizedKeys, false)
	if err != nil {
		return err //nolint:wrapcheck
	}

	keys, err := k.keys()
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		slog.Info("No ssh keys to copy")
		return nil
	}

	var content bytes.Buffer

	for _, key := range keys {
		pub, err := os.ReadFile(key + ".pub")
		if err != nil {
			slog.Debug("Skipping key without public key",
				slog.String("key", key),
				slog.Any("error", err),
			)

			continue
		}

		content.Write(pub)

		if !bytes.HasSuffix(pub, []byte("\n")) {
			content.WriteByte('\n')
		}
	}

	err = k.Files.MakeDir(ctx, sshDir, shell.FileOptions{Mode: 0o700})
	if err != nil {
		return err //nolint:wrapcheck
	}

	return k.Files.WriteFile(ctx, authorizedKeys, content.Bytes(), shell.FileOptions{Mode: 0o600}) //nolint:wrapcheck
}
