// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression is a compression format.
type Compression string

// Known compression formats.
const (
	None  Compression = "none"
	Gzip  Compression = "gzip"
	Zstd  Compression = "zstd"
	LZ4   Compression = "lz4"
	XZ    Compression = "xz"
	Bzip2 Compression = "bzip2"
)

var magics = []struct {
	compression Compression
	magic       []byte
}{
	{Zstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{Gzip, []byte{0x1f, 0x8b}},
	{LZ4, []byte{0x04, 0x22, 0x4d, 0x18}},
	// Legacy lz4 frames as written by the kernel's lz4 -l.
	{LZ4, []byte{0x02, 0x21, 0x4c, 0x18}},
	{XZ, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{Bzip2, []byte{'B', 'Z', 'h'}},
}

// Detect returns the compression of the data starting with header.
func Detect(header []byte) Compression {
	for _, m := range magics {
		if bytes.HasPrefix(header, m.magic) {
			return m.compression
		}
	}

	return None
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error {
	if r.close == nil {
		return nil
	}

	return r.close()
}

// Decompress returns a reader that decompresses reader according to its
// detected compression. Uncompressed data is passed through.
func Decompress(reader io.Reader) (io.ReadCloser, Compression, error) {
	buffered := bufio.NewReader(reader)

	header, err := buffered.Peek(6)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, None, fmt.Errorf("peek header: %w", err)
	}

	compression := Detect(header)

	switch compression {
	case None:
		return readCloser{Reader: buffered}, compression, nil
	case Gzip:
		gz, err := gzip.NewReader(buffered)
		if err != nil {
			return nil, compression, fmt.Errorf("gzip: %w", err)
		}

		return gz, compression, nil
	case Zstd:
		zr, err := zstd.NewReader(buffered)
		if err != nil {
			return nil, compression, fmt.Errorf("zstd: %w", err)
		}

		return readCloser{
			Reader: zr,
			close: func() error {
				zr.Close()
				return nil
			},
		}, compression, nil
	case LZ4:
		return readCloser{Reader: lz4.NewReader(buffered)}, compression, nil
	default:
		return nil, compression, fmt.Errorf("%w: %s", ErrUnsupportedCompression, compression)
	}
}
