// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"gitlab.com/kupfer/kupferbootstrap/internal/shell"
)

// Address of a device attached via USB networking.
const (
	DefaultHost = "172.16.42.1"
	DefaultPort = 22
)

const defaultTimeout = 10 * time.Second

// Client runs commands on a device over ssh. Host keys are not verified,
// since every freshly flashed device has a new one.
type Client struct {
	Host string
	Port int
	User string
	// KeyDir holds the private keys used to authenticate. Defaults to
	// [KeyDir].
	KeyDir  string
	Timeout time.Duration
}

func (c Client) address() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}

	port := c.Port
	if port == 0 {
		port = DefaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c Client) signers() ([]ssh.Signer, error) {
	dir := c.KeyDir
	if dir == "" {
		dir = KeyDir()
	}

	keys, err := FindKeys(dir)
	if err != nil {
		return nil, err
	}

	var signers []ssh.Signer

	for _, key := range keys {
		data, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			slog.Debug("Skipping unusable ssh key",
				slog.String("key", key),
				slog.Any("error", err),
			)

			continue
		}

		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoKeys, dir)
	}

	return signers, nil
}

func (c Client) config() (*ssh.ClientConfig, error) {
	if c.User == "" {
		return nil, ErrNoUser
	}

	signers, err := c.signers()
	if err != nil {
		return nil, err
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         timeout,
	}, nil
}

// Dial connects to the device.
func (c Client) Dial(ctx context.Context) (*ssh.Client, error) {
	config, err := c.config()
	if err != nil {
		return nil, err
	}

	address := c.address()

	slog.Info("Opening ssh connection",
		slog.String("user", c.User),
		slog.String("address", address),
	)

	dialer := net.Dialer{Timeout: config.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}

	return ssh.NewClient(clientConn, chans, reqs), nil
}

// session dials and opens a session. The returned function closes both.
func (c Client) session(ctx context.Context) (*ssh.Session, func(), error) {
	client, err := c.Dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("new session: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = session.Signal(ssh.SIGTERM)
		client.Close()
	})

	return session, func() {
		stop()
		session.Close()
		client.Close()
	}, nil
}

func commandError(command []string, err error) error {
	if err == nil {
		return nil
	}

	cmdErr := &shell.CommandError{Args: append([]string{"ssh"}, command...), Err: err}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitStatus()
	}

	return cmdErr
}

// Run runs command on the device.
func (c Client) Run(ctx context.Context, command []string, stdout, stderr io.Writer) error {
	session, closeSession, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer closeSession()

	session.Stdout = stdout
	session.Stderr = stderr

	slog.Debug("Running remote command", slog.String("cmd", shell.Join(command)))

	return commandError(command, session.Run(shell.Join(command)))
}

// RunInteractive runs command, or a login shell if command is empty, with
// stdin, stdout and stderr attached. If stdin is a terminal, a pty is
// requested and the terminal is put into raw mode for the duration.
func (c Client) RunInteractive(ctx context.Context, command []string, stdin *os.File, stdout, stderr io.Writer) error {
	session, closeSession, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer closeSession()

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		width, height, err := term.GetSize(fd)
		if err != nil {
			width, height = 80, 24
		}

		termType := os.Getenv("TERM")
		if termType == "" {
			termType = "xterm"
		}

		err = session.RequestPty(termType, height, width, ssh.TerminalModes{ssh.ECHO: 1})
		if err != nil {
			return fmt.Errorf("request pty: %w", err)
		}

		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set terminal raw mode: %w", err)
		}
		defer term.Restore(fd, state) //nolint:errcheck
	}

	if len(command) == 0 {
		err = session.Shell()
		if err != nil {
			return fmt.Errorf("start shell: %w", err)
		}

		return commandError(nil, session.Wait())
	}

	return commandError(command, session.Run(shell.Join(command)))
}

// Upload copies the local files into the directory dst on the device.
func (c Client) Upload(ctx context.Context, dst string, files ...string) error {
	for _, file := range files {
		remotePath := path.Join(dst, filepath.Base(file))

		slog.Info("Uploading file",
			slog.String("file", file),
			slog.String("destination", remotePath),
		)

		err := c.upload(ctx, file, remotePath)
		if err != nil {
			return err
		}
	}

	return nil
}

func (c Client) upload(ctx context.Context, file, remotePath string) error {
	source, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer source.Close()

	session, closeSession, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer closeSession()

	session.Stdin = source

	command := []string{"cat", ">", remotePath}

	return commandError(command, session.Run("cat > "+shell.Quote(remotePath)))
}
