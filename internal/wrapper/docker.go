// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wrapper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/term"

	"gitlab.com/kupfer/kupferbootstrap/internal/config"
	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// ImageRepository is the registry path of the kupferbootstrap images.
const ImageRepository = "registry.gitlab.com/kupfer/kupferbootstrap"

// DevVersion is the version of unreleased builds. Its image is built
// locally if a source dir is known.
const DevVersion = "dev"

// ContainerUser runs the wrapped process for non-root invocations.
const ContainerUser = "kupfer"

// ContainerPaths are the locations of the config paths inside the
// container.
var ContainerPaths = map[string]string{
	config.PathCacheDir:  "/var/cache/kupfer",
	config.PathChroots:   config.ChrootPaths[config.PathChroots],
	config.PathPacman:    config.ChrootPaths[config.PathPacman],
	config.PathPackages:  config.ChrootPaths[config.PathPackages],
	config.PathPkgbuilds: config.ChrootPaths[config.PathPkgbuilds],
	config.PathJumpdrive: config.ChrootPaths[config.PathJumpdrive],
	config.PathImages:    config.ChrootPaths[config.PathImages],
	config.PathCCache:    "/ccache",
	config.PathRust:      "/rust",
}

// Volume is a bind mount into the container.
type Volume struct {
	Source      string
	Destination string
}

func (v Volume) String() string {
	return v.Source + ":" + v.Destination + ":z"
}

// Docker runs kupferbootstrap in a privileged docker container.
type Docker struct {
	Runner  shell.Runner
	State   *config.State
	Version string

	// SourceDir holds the Dockerfile used to build the dev image.
	SourceDir string

	// HomeDir is the invoking user's home. Defaults to
	// [os.UserHomeDir].
	HomeDir string

	ID uuid.UUID

	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer
}

var _ Wrapper = (*Docker)(nil)

// NewDocker returns a [Docker] wrapper with a new unique id and the
// standard streams attached.
func NewDocker(runner shell.Runner, state *config.State, version string) *Docker {
	return &Docker{
		Runner:  runner,
		State:   state,
		Version: version,
		ID:      uuid.New(),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

// Type implements [Wrapper].
func (*Docker) Type() string {
	return config.WrapperDocker
}

// Name is the unique container name.
func (d *Docker) Name() string {
	return "kupferbootstrap-" + d.ID.String()
}

// Tag is the image tag matching the version.
func (d *Docker) Tag() string {
	version := d.Version
	if version == "" {
		version = DevVersion
	}

	return ImageRepository + ":" + version
}

func (d *Docker) homeDir() string {
	if d.HomeDir != "" {
		return d.HomeDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}

	return home
}

// targetHome is the home of the user running the wrapped process.
func (d *Docker) targetHome() string {
	if d.State.Runtime.UID == 0 {
		return "/root"
	}

	return path.Join("/home", ContainerUser)
}

// EnsureImage builds the dev image or pulls the release image if it is not
// present.
func (d *Docker) EnsureImage(ctx context.Context) error {
	tag := d.Tag()

	if d.Version == DevVersion || d.Version == "" {
		if d.SourceDir != "" {
			slog.Info("Building docker image", slog.String("tag", tag))

			args := []string{"docker", "build", ".", "-t", tag}
			if !d.State.Runtime.Verbose {
				args = append(args, "-q")
			}

			cmd := shell.Command(args...)
			cmd.Dir = d.SourceDir

			err := d.Runner.Run(ctx, cmd)
			if err != nil {
				return fmt.Errorf("%w: build %s: %w", ErrImage, tag, err)
			}

			return nil
		}
	}

	out, err := d.Runner.Output(ctx, shell.Command("docker", "images", "-q", tag))
	if err != nil {
		return fmt.Errorf("%w: list images: %w", ErrImage, err)
	}

	if len(bytes.TrimSpace(out)) > 0 {
		return nil
	}

	slog.Info("Pulling kupferbootstrap docker image", slog.String("tag", tag))

	err = d.Runner.Run(ctx, shell.Command("docker", "pull", tag))
	if err != nil {
		return fmt.Errorf("%w: pull %s: %w", ErrImage, tag, err)
	}

	return nil
}

// WrappedConfig returns the config with all paths replaced by their
// container locations.
func (d *Docker) WrappedConfig() config.Config {
	cfg := d.State.File
	cfg.Paths = config.Paths{
		CacheDir:  ContainerPaths[config.PathCacheDir],
		Chroots:   ContainerPaths[config.PathChroots],
		Pacman:    ContainerPaths[config.PathPacman],
		Packages:  ContainerPaths[config.PathPackages],
		Pkgbuilds: ContainerPaths[config.PathPkgbuilds],
		Jumpdrive: ContainerPaths[config.PathJumpdrive],
		Images:    ContainerPaths[config.PathImages],
		CCache:    ContainerPaths[config.PathCCache],
		Rust:      ContainerPaths[config.PathRust],
	}
	cfg.Wrapper.Type = config.WrapperNone

	return cfg
}

// configPath is the host location of the wrapped config.
func (d *Docker) configPath() string {
	return filepath.Join(d.State.Path(config.PathCacheDir), "wrapper", d.Name()+".toml")
}

// Volumes returns the bind mounts for the config at configPath. The
// container paths are created on the host if missing.
func (d *Docker) Volumes(configPath string) ([]Volume, error) {
	sshDir := filepath.Join(d.homeDir(), ".ssh")

	err := os.MkdirAll(sshDir, 0o700)
	if err != nil {
		return nil, fmt.Errorf("create ssh dir: %w", err)
	}

	volumes := []Volume{
		{Source: configPath, Destination: path.Join(d.targetHome(), ".config", "kupfer", "kupferbootstrap.toml")},
		{Source: sshDir, Destination: path.Join(d.targetHome(), ".ssh")},
	}

	for _, name := range config.PathNames {
		source := d.State.Path(name)

		err := os.MkdirAll(source, 0o755)
		if err != nil {
			return nil, fmt.Errorf("create %s dir: %w", name, err)
		}

		volumes = append(volumes, Volume{Source: source, Destination: ContainerPaths[name]})
	}

	return volumes, nil
}

// Command returns the docker invocation running kupferbootstrap with args.
func (d *Docker) Command(volumes []Volume, args []string) []string {
	cmd := []string{
		"docker", "run",
		"--name", d.Name(),
		"--rm",
		"--interactive",
	}

	if d.Stdin != nil && term.IsTerminal(int(d.Stdin.Fd())) {
		cmd = append(cmd, "--tty")
	}

	cmd = append(cmd, "--privileged", "-e", EnvWrapped+"="+config.WrapperDocker)

	for _, volume := range volumes {
		cmd = append(cmd, "-v", volume.String())
	}

	cmd = append(cmd, d.Tag())

	kupfer := slices.Concat(
		[]string{"kupferbootstrap", "--config", volumes[0].Destination},
		FilterArgs(args),
	)

	if uid := d.State.Runtime.UID; uid != 0 {
		kupfer = slices.Concat([]string{
			"kupferbootstrap", SuHelperCommand,
			"--uid", strconv.Itoa(uid),
			"--username", ContainerUser,
			"--",
		}, kupfer)
	}

	return append(cmd, kupfer...)
}

// Wrap implements [Wrapper].
func (d *Docker) Wrap(ctx context.Context, args []string) (int, error) {
	err := d.EnsureImage(ctx)
	if err != nil {
		return 1, err
	}

	configPath := d.configPath()

	err = config.Write(configPath, d.WrappedConfig())
	if err != nil {
		return 1, err //nolint:wrapcheck
	}
	defer os.Remove(configPath)

	volumes, err := d.Volumes(configPath)
	if err != nil {
		return 1, err
	}

	cmd := shell.Command(d.Command(volumes, args)...)
	cmd.Stdout = d.Stdout
	cmd.Stderr = d.Stderr

	if d.Stdin != nil {
		cmd.Stdin = d.Stdin
	}

	slog.Debug("Wrapping in docker", slog.String("cmd", cmd.String()))

	err = d.Runner.Run(ctx, cmd)
	if err != nil {
		if code := shell.ExitCode(err); code > 0 {
			return code, nil
		}

		return 1, fmt.Errorf("docker run: %w", err)
	}

	return 0, nil
}

// Stop implements [Wrapper].
func (d *Docker) Stop(ctx context.Context) error {
	cmd := shell.Command("docker", "kill", d.Name())
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	return d.Runner.Run(ctx, cmd) //nolint:wrapcheck
}
