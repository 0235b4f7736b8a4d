// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image_test

import (
	"bytes"
	"testing"

	"github.com/cavaliergopher/cpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/kupfer/kupferbootstrap/internal/archive"
	"gitlab.com/kupfer/kupferbootstrap/internal/image"
)

type cpioFile struct {
	name string
	body string
	link string
	dir  bool
}

func cpioArchive(t *testing.T, files ...cpioFile) []byte {
	t.Helper()

	var buf bytes.Buffer

	writer := cpio.NewWriter(&buf)

	for _, file := range files {
		hdr := &cpio.Header{Name: file.name, Mode: cpio.TypeReg | 0o644, Size: int64(len(file.body))}
		body := file.body

		switch {
		case file.dir:
			hdr.Mode = cpio.TypeDir | 0o755
			hdr.Size = 0
		case file.link != "":
			hdr.Mode = cpio.TypeSymlink | 0o777
			hdr.Size = int64(len(file.link))
			body = file.link
		}

		require.NoError(t, writer.WriteHeader(hdr))
		_, err := writer.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func compressed(t *testing.T, compression archive.Compression, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer

	writer, err := archive.Compress(&buf, compression)
	require.NoError(t, err)
	_, err = writer.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func TestInspectInitramfs(t *testing.T) {
	main := cpioArchive(t,
		cpioFile{name: "usr", dir: true},
		cpioFile{name: "init", body: "#!/bin/sh\n"},
		cpioFile{name: "bin", link: "usr/bin"},
	)
	microcode := cpioArchive(t,
		cpioFile{name: "kernel/x86/microcode/GenuineIntel.bin", body: "ucode"},
	)
	padding := make([]byte, 512-len(microcode)%512)

	tests := []struct {
		name     string
		data     []byte
		expected []string
	}{
		{
			name:     "raw",
			data:     main,
			expected: []string{"usr", "init", "bin"},
		},
		{
			name:     "gzip",
			data:     compressed(t, archive.Gzip, main),
			expected: []string{"usr", "init", "bin"},
		},
		{
			name:     "zstd",
			data:     compressed(t, archive.Zstd, main),
			expected: []string{"usr", "init", "bin"},
		},
		{
			name:     "lz4",
			data:     compressed(t, archive.LZ4, main),
			expected: []string{"usr", "init", "bin"},
		},
		{
			name: "early microcode",
			data: bytes.Join([][]byte{
				microcode,
				padding,
				compressed(t, archive.Zstd, main),
			}, nil),
			expected: []string{"kernel/x86/microcode/GenuineIntel.bin", "usr", "init", "bin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := image.InspectInitramfs(bytes.NewReader(tt.data))
			require.NoError(t, err)

			names := make([]string, len(entries))
			for idx, entry := range entries {
				names[idx] = entry.Name
			}

			assert.Equal(t, tt.expected, names)
		})
	}
}

func TestInspectInitramfsEntries(t *testing.T) {
	data := cpioArchive(t,
		cpioFile{name: "init", body: "#!/bin/sh\n"},
		cpioFile{name: "bin", link: "usr/bin"},
	)

	entries, err := image.InspectInitramfs(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.True(t, entries[0].Mode.IsRegular())
	assert.EqualValues(t, 10, entries[0].Size)
	assert.Equal(t, "usr/bin", entries[1].Linkname)
	assert.Contains(t, entries[1].String(), "bin -> usr/bin")
}

func TestInspectInitramfsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty"},
		{name: "zeros", data: make([]byte, 64)},
		{name: "text", data: []byte("hello world")},
		{name: "compressed text", data: compressed(t, archive.Gzip, []byte("hello world"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := image.InspectInitramfs(bytes.NewReader(tt.data))
			require.ErrorIs(t, err, image.ErrNotInitramfs)
		})
	}
}
