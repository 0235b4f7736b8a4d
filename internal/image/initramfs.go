// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/cavaliergopher/cpio"

	"gitlab.com/kupfer/kupferbootstrap/internal/archive"
)

var cpioMagics = []string{"070701", "070702"}

// InitramfsEntry is a file in an initramfs.
type InitramfsEntry struct {
	Name     string
	Mode     fs.FileMode
	Size     int64
	Linkname string
}

func (e InitramfsEntry) String() string {
	s := e.Mode.String() + " " + e.Name
	if e.Linkname != "" {
		s += " -> " + e.Linkname
	}

	return s
}

// InspectInitramfs lists the files of an initramfs. Uncompressed cpio
// archives, like early microcode updates, may precede a gzip, zstd or lz4
// compressed one.
func InspectInitramfs(reader io.Reader) ([]InitramfsEntry, error) {
	buffered := bufio.NewReader(reader)

	var entries []InitramfsEntry

	for first := true; ; first = false {
		err := skipPadding(buffered)
		if errors.Is(err, io.EOF) {
			if first {
				return nil, fmt.Errorf("%w: empty", ErrNotInitramfs)
			}

			return entries, nil
		} else if err != nil {
			return nil, fmt.Errorf("read initramfs: %w", err)
		}

		if isCPIO(buffered) {
			archiveEntries, err := readCPIO(buffered)
			if err != nil {
				return nil, err
			}

			entries = append(entries, archiveEntries...)

			continue
		}

		decompressed, compression, err := archive.Decompress(buffered)
		if err != nil {
			return nil, fmt.Errorf("decompress initramfs: %w", err)
		}

		if compression == archive.None {
			return nil, ErrNotInitramfs
		}

		inner, err := InspectInitramfs(decompressed)
		_ = decompressed.Close()

		if err != nil {
			return nil, fmt.Errorf("%s segment: %w", compression, err)
		}

		return append(entries, inner...), nil
	}
}

// skipPadding discards zero bytes between concatenated archives.
func skipPadding(reader *bufio.Reader) error {
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return err //nolint:wrapcheck
		}

		if b != 0 {
			return reader.UnreadByte() //nolint:wrapcheck
		}
	}
}

func isCPIO(reader *bufio.Reader) bool {
	header, _ := reader.Peek(len(cpioMagics[0]))
	for _, magic := range cpioMagics {
		if string(header) == magic {
			return true
		}
	}

	return false
}

func readCPIO(reader io.Reader) ([]InitramfsEntry, error) {
	var entries []InitramfsEntry

	cpioReader := cpio.NewReader(reader)

	for {
		hdr, err := cpioReader.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		} else if err != nil {
			return nil, fmt.Errorf("read cpio: %w", err)
		}

		entries = append(entries, InitramfsEntry{
			Name:     hdr.Name,
			Mode:     hdr.FileInfo().Mode(),
			Size:     hdr.Size,
			Linkname: hdr.Linkname,
		})
	}
}
