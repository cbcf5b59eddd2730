// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadIfMissing(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = fmt.Fprint(w, "abc")
	}))
	defer server.Close()

	filePath := path.Join(t.TempDir(), "sub", "abc.txt")
	const abcHash = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	require.NoError(t, DownloadIfMissing(server.URL, filePath, abcHash))
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(contents))

	// Second time the file is there: no new request.
	require.NoError(t, DownloadIfMissing(server.URL, filePath, abcHash))
	assert.Equal(t, 1, hits)

	require.Error(t, DownloadIfMissing(server.URL, filePath, "0123"))
}

func TestDownloadHTTPError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	_, err := Download(server.URL, path.Join(t.TempDir(), "x"), false)
	require.Error(t, err)
}
