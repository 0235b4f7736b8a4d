// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// WalkFunc is called for every regular file in a tar archive.
type WalkFunc func(header *tar.Header, content io.Reader) error

// ErrStop can be returned by a [WalkFunc] to stop walking without error.
var ErrStop = errors.New("stop walking")

// WalkTar decompresses the archive and calls fn for every regular file.
func WalkTar(reader io.Reader, fn WalkFunc) error {
	decompressed, _, err := Decompress(reader)
	if err != nil {
		return err
	}
	defer decompressed.Close()

	tarReader := tar.NewReader(decompressed)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		err = fn(header, tarReader)
		if errors.Is(err, ErrStop) {
			return nil
		}

		if err != nil {
			return err
		}
	}
}

// ReadFiles reads the named files from the archive. Leading "./" and "/"
// are ignored when matching names. An error wrapping [ErrFileNotFound] is
// returned if any file is missing.
func ReadFiles(reader io.Reader, names ...string) (map[string][]byte, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[normalize(name)] = true
	}

	files := make(map[string][]byte, len(names))

	err := WalkTar(reader, func(header *tar.Header, content io.Reader) error {
		name := normalize(header.Name)
		if !wanted[name] {
			return nil
		}

		data, err := io.ReadAll(content)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}

		files[name] = data

		if len(files) == len(wanted) {
			return ErrStop
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for name := range wanted {
		if _, found := files[name]; !found {
			return nil, fmt.Errorf("%s: %w", name, ErrFileNotFound)
		}
	}

	return files, nil
}

// ReadFilesFromPath is like [ReadFiles] but opens the archive at path.
func ReadFilesFromPath(path string, names ...string) (map[string][]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	return ReadFiles(file, names...)
}

func normalize(name string) string {
	return strings.TrimLeft(strings.TrimPrefix(name, "./"), "/")
}
