// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ReplaceTildeInDir("~/work/cifar")
	require.NoError(t, err)
	assert.Equal(t, path.Join(usr.HomeDir, "work/cifar"), got)

	got, err = ReplaceTildeInDir("/tmp/runs")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/runs", got)

	_, err = ReplaceTildeInDir("~no_such_user_for_sure/x")
	require.Error(t, err)
}

func TestExistence(t *testing.T) {
	dir := t.TempDir()
	filePath := path.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("abc"), 0o644))

	exists, err := FileExists(filePath)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(path.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, isDir, err := IsDir(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, isDir)

	exists, isDir, err = IsDir(filePath)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, isDir)

	exists, _, err = IsDir(path.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestValidateChecksum(t *testing.T) {
	filePath := path.Join(t.TempDir(), "abc.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("abc"), 0o644))
	require.NoError(t, ValidateChecksum(filePath, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"))
	require.Error(t, ValidateChecksum(filePath, "0000"))
	require.Error(t, ValidateChecksum(path.Join(t.TempDir(), "missing"), "0000"))
}
