// SPDX-FileCopyrightText: 2024 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package distro_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/kupfer/kupferbootstrap/internal/distro"
)

func TestDownload(t *testing.T) {
	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var gets atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))

		if r.Method == http.MethodGet {
			gets.Add(1)

			_, _ = w.Write([]byte("database"))
		}
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "cache", "main.db")

	downloaded, err := distro.Download(t.Context(), server.URL+"/main.db", path, true)
	require.NoError(t, err)
	assert.True(t, downloaded)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "database", string(content))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, modified.Equal(info.ModTime()))

	downloaded, err = distro.Download(t.Context(), server.URL+"/main.db", path, true)
	require.NoError(t, err)
	assert.False(t, downloaded, "unchanged file must not be downloaded again")
	assert.Equal(t, int32(1), gets.Load())

	downloaded, err = distro.Download(t.Context(), server.URL+"/main.db", path, false)
	require.NoError(t, err)
	assert.False(t, downloaded)

	_, err = distro.Download(t.Context(), server.URL+"/missing", path+".2", true)
	require.ErrorIs(t, err, distro.ErrNotFound)

	server.CloseClientConnections()
	distro.HTTPClient.CloseIdleConnections()
}
