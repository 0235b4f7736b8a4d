// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binfmt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/kupfer/kupferbootstrap/internal/mount"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
	"gitlab.com/kupfer/kupferbootstrap/internal/sys"
)

// Well known paths.
const (
	ConfPath = "/usr/lib/binfmt.d/qemu-static.conf"
	MiscDir  = "/proc/sys/fs/binfmt_misc"
)

const handlerPrefix = "qemu-"

// Handler is a binfmt_misc registration line
// ":name:type:offset:magic:mask:interpreter:flags".
type Handler struct {
	Name        string
	Type        string
	Offset      string
	Magic       string
	Mask        string
	Interpreter string
	Flags       string

	// Line is the complete registration string.
	Line string
}

// ParseConf parses a binfmt.d configuration. The returned handlers are
// keyed by qemu arch, so "qemu-aarch64" is found as "aarch64". Handlers not
// provided by qemu are skipped.
func ParseConf(reader io.Reader) (map[string]Handler, error) {
	handlers := make(map[string]Handler)
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") || !strings.Contains(line, ":") {
			continue
		}

		fields := strings.Split(line, ":")
		if len(fields) < 8 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLine, line)
		}

		handler := Handler{
			Name:        fields[1],
			Type:        fields[2],
			Offset:      fields[3],
			Magic:       fields[4],
			Mask:        fields[5],
			Interpreter: fields[6],
			Flags:       fields[7],
			Line:        line,
		}

		if !strings.HasPrefix(handler.Name, handlerPrefix) {
			slog.Warn("Skipping unknown binfmt handler", slog.String("name", handler.Name))
			continue
		}

		arch := strings.ReplaceAll(strings.TrimPrefix(handler.Name, handlerPrefix), "-", "")
		handlers[arch] = handler
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read binfmt config: %w", err)
	}

	return handlers, nil
}

// Registrar manages binfmt_misc handlers.
type Registrar struct {
	Runner  shell.Runner
	Mounter mount.Mounter

	// Root is prepended to all paths. Empty for the host.
	Root string

	// Write writes content to a binfmt_misc control file. The kernel
	// applies writes synchronously. Defaults to writing the file, with sudo
	// as fallback.
	Write func(ctx context.Context, path, content string) error
}

// New returns a [Registrar] for the host.
func New(runner shell.Runner) *Registrar {
	return &Registrar{Runner: runner, Mounter: mount.New(runner)}
}

func (r *Registrar) path(elems ...string) string {
	return filepath.Join(append([]string{r.Root, "/"}, elems...)...)
}

func handlerName(arch sys.Arch) (string, error) {
	_, err := sys.ParseArch(string(arch))
	if err != nil {
		return "", err //nolint:wrapcheck
	}

	return handlerPrefix + arch.QemuArch(), nil
}

// Handlers returns the qemu handlers from the configuration file.
func (r *Registrar) Handlers() (map[string]Handler, error) {
	file, err := os.Open(r.path(ConfPath))
	if err != nil {
		return nil, fmt.Errorf("open binfmt config: %w", err)
	}
	defer file.Close()

	return ParseConf(file)
}

// EnsureMounted mounts binfmt_misc if it is not mounted yet.
func (r *Registrar) EnsureMounted(ctx context.Context) error {
	_, err := os.Stat(r.path(MiscDir, "register"))
	if err == nil {
		return nil
	}

	slog.Info("Mounting binfmt_misc")

	err = r.Mounter.Mount(ctx, r.path(MiscDir), mount.Options{FSType: mount.FSTypeBinfmt})
	if err != nil {
		return fmt.Errorf("mount binfmt_misc: %w", err)
	}

	return nil
}

// IsRegistered reports whether a handler for arch is registered.
func (r *Registrar) IsRegistered(ctx context.Context, arch sys.Arch) (bool, error) {
	name, err := handlerName(arch)
	if err != nil {
		return false, err
	}

	err = r.EnsureMounted(ctx)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(r.path(MiscDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat binfmt handler: %w", err)
	}

	return true, nil
}

// Register registers the handler for arch from the configuration file, if
// it is not registered yet.
func (r *Registrar) Register(ctx context.Context, arch sys.Arch) error {
	registered, err := r.IsRegistered(ctx, arch)
	if err != nil || registered {
		return err
	}

	handlers, err := r.Handlers()
	if err != nil {
		return err
	}

	handler, exists := handlers[arch.QemuArch()]
	if !exists {
		return fmt.Errorf("%w for %s in %s", ErrNoHandler, arch, ConfPath)
	}

	slog.Info("Registering qemu binfmt", slog.String("arch", string(arch)))

	err = r.control(ctx, r.path(MiscDir, "register"), handler.Line)
	if err != nil {
		return err
	}

	registered, err = r.IsRegistered(ctx, arch)
	if err != nil {
		return err
	}

	if !registered {
		slog.Debug("Registration line", slog.String("line", handler.Line))
		return fmt.Errorf("%w: %s", ErrNotRegistered, r.path(MiscDir, handler.Name))
	}

	return nil
}

// Unregister removes the handler for arch, if registered.
func (r *Registrar) Unregister(ctx context.Context, arch sys.Arch) error {
	registered, err := r.IsRegistered(ctx, arch)
	if err != nil || !registered {
		return err
	}

	name, _ := handlerName(arch)

	slog.Info("Unregistering qemu binfmt", slog.String("arch", string(arch)))

	return r.control(ctx, r.path(MiscDir, name), "-1")
}

func (r *Registrar) control(ctx context.Context, path, content string) error {
	if r.Write != nil {
		return r.Write(ctx, path, content)
	}

	return r.write(ctx, path, content)
}

// write writes to an existing control file, elevated if necessary.
func (r *Registrar) write(ctx context.Context, path, content string) error {
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err == nil {
		_, err = io.WriteString(file, content)
		err = errors.Join(err, file.Close())

		if err == nil {
			return nil
		}
	}

	if !errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("write %s: %w", path, err)
	}

	cmd := shell.Command(shell.Sudo("tee", path)...)
	cmd.Stdin = bytes.NewReader([]byte(content))
	cmd.Stdout = io.Discard

	err = r.Runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}
