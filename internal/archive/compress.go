// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// Compress returns a writer that compresses into writer. Closing it
// flushes the compressed stream but does not close writer.
func Compress(writer io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case None:
		return nopWriteCloser{writer}, nil
	case Gzip:
		return gzip.NewWriter(writer), nil
	case Zstd:
		zw, err := zstd.NewWriter(writer)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}

		return zw, nil
	case LZ4:
		return lz4.NewWriter(writer), nil
	default:
		return nil, fmt.Errorf("%w for writing: %s", ErrUnsupportedCompression, compression)
	}
}

// EmptyTar returns a compressed tar archive without entries, as used for
// freshly initialized repo databases.
func EmptyTar(compression Compression) ([]byte, error) {
	var buf bytes.Buffer

	compressed, err := Compress(&buf, compression)
	if err != nil {
		return nil, err
	}

	err = tar.NewWriter(compressed).Close()
	if err != nil {
		return nil, fmt.Errorf("write tar: %w", err)
	}

	err = compressed.Close()
	if err != nil {
		return nil, fmt.Errorf("close %s stream: %w", compression, err)
	}

	return buf.Bytes(), nil
}
