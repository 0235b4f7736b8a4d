// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package image_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/kupfer/kupferbootstrap/internal/image"
)

func TestPath(t *testing.T) {
	assert.Equal(t, "bq-paella-phosh-full.img", image.Name("bq-paella", "phosh", image.TypeFull))
	assert.Equal(t, "/images/bq-paella-phosh-boot.img",
		image.Path("/images", "bq-paella", "phosh", image.TypeBoot))
}

func TestRootfsSize(t *testing.T) {
	size := image.RootfsSizeMB(4, 500)
	assert.Equal(t, 4500, size)
	assert.Equal(t, "4300M", image.RootPartitionSize(size))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input       string
		expected    int64
		expectedErr error
	}{
		{input: "512", expected: 512},
		{input: "4K", expected: 4096},
		{input: "90M", expected: 90 << 20},
		{input: "100MiB", expected: 100 << 20},
		{input: " 2g ", expected: 2 << 30},
		{input: "M", expectedErr: image.ErrInvalidSize},
		{input: "10T", expectedErr: image.ErrInvalidSize},
		{input: "", expectedErr: image.ErrInvalidSize},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			size, err := image.ParseSize(tt.input)
			require.ErrorIs(t, err, tt.expectedErr)
			assert.Equal(t, tt.expected, size)
		})
	}
}
