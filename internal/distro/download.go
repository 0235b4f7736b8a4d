// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// HTTPClient is used for all downloads.
var HTTPClient = &http.Client{Timeout: 30 * time.Minute}

// Download fetches url to path. If the file exists and update is false, it
// is kept. Otherwise it is only downloaded again if the Last-Modified header
// differs from the file's modification time. The modification time is set to
// the header value after download.
//
// It reports whether the file has been downloaded.
func Download(ctx context.Context, url, path string, update bool) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !update {
			return false, nil
		}

		remote, err := lastModified(ctx, url)
		if err == nil && !remote.IsZero() && remote.Equal(info.ModTime().Truncate(time.Second)) {
			slog.Debug("File is up to date", slog.String("path", path))
			return false, nil
		}
	}

	err = os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return false, fmt.Errorf("create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("new request: %w", err)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	err = checkStatus(url, resp.StatusCode)
	if err != nil {
		return false, err
	}

	pending, err := renameio.TempFile("", path)
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer pending.Cleanup()

	_, err = io.Copy(pending, resp.Body)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", url, err)
	}

	err = pending.CloseAtomicallyReplace()
	if err != nil {
		return false, fmt.Errorf("save download: %w", err)
	}

	modified, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err == nil {
		_ = os.Chtimes(path, modified, modified)
	}

	slog.Debug("Downloaded file",
		slog.String("url", url),
		slog.String("path", path),
	)

	return true, nil
}

func lastModified(ctx context.Context, url string) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("new request: %w", err)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("head %s: %w", url, err)
	}

	resp.Body.Close()

	header := resp.Header.Get("Last-Modified")
	if header == "" {
		return time.Time{}, nil
	}

	modified, err := http.ParseTime(header)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last-modified: %w", err)
	}

	return modified, nil
}

func checkStatus(url string, status int) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", url, ErrNotFound)
	case status < 200 || status > 299:
		return &HTTPError{URL: url, StatusCode: status}
	default:
		return nil
	}
}
