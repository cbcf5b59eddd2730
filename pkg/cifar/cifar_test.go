// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cifar

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRecords writes numRecords records with the given label bytes, and all pixels set to pixel.
func writeRecords(t *testing.T, filePath string, labels [][]byte, pixel byte) {
	require.NoError(t, os.MkdirAll(path.Dir(filePath), 0o777))
	var contents []byte
	for _, label := range labels {
		contents = append(contents, label...)
		for range imageSizeBytes {
			contents = append(contents, pixel)
		}
	}
	require.NoError(t, os.WriteFile(filePath, contents, 0o644))
}

func TestParseSource(t *testing.T) {
	s, err := ParseSource("cifar100")
	require.NoError(t, err)
	assert.Equal(t, C100, s)
	assert.Equal(t, "cifar100", s.String())
	assert.Equal(t, "CIFAR100", s.DisplayName())
	assert.Equal(t, 100, s.NumClasses())
	assert.Equal(t, 10, C10.NumClasses())
	_, err = ParseSource("mnist")
	require.Error(t, err)
}

func TestLoadC10(t *testing.T) {
	dataDir := t.TempDir()
	for ii := range 5 {
		writeRecords(t, path.Join(dataDir, C10SubDir, fmt.Sprintf("data_batch_%d.bin", ii+1)),
			[][]byte{{byte(ii)}, {byte(ii + 1)}}, 255)
	}
	writeRecords(t, path.Join(dataDir, C10SubDir, "test_batch.bin"), [][]byte{{9}}, 51)

	trainDS, testDS, err := Load(dataDir, C10)
	require.NoError(t, err)
	assert.Equal(t, 10, trainDS.Len())
	assert.Equal(t, 1, testDS.Len())
	assert.Equal(t, []int{0, 1, 1, 2, 2, 3, 3, 4, 4, 5}, trainDS.Labels)
	assert.Equal(t, []int{3, 32, 32}, trainDS.SampleShape())

	sample := testDS.Sample(0)
	assert.Equal(t, 9, sample.Label)
	assert.Equal(t, []int{3, 32, 32}, sample.Image.Shape())
	assert.InDelta(t, 0.2, sample.Image.At(2, 31, 31), 1e-6)
	assert.InDelta(t, 1.0, trainDS.Sample(3).Image.At(0, 0, 0), 1e-6)
}

func TestLoadC100UsesFineLabel(t *testing.T) {
	dataDir := t.TempDir()
	writeRecords(t, path.Join(dataDir, C100SubDir, "train.bin"), [][]byte{{1, 77}, {2, 88}}, 0)
	writeRecords(t, path.Join(dataDir, C100SubDir, "test.bin"), [][]byte{{3, 99}}, 0)
	trainDS, testDS, err := Load(dataDir, C100)
	require.NoError(t, err)
	assert.Equal(t, []int{77, 88}, trainDS.Labels)
	assert.Equal(t, []int{99}, testDS.Labels)
}

func TestLoadErrors(t *testing.T) {
	_, _, err := Load(t.TempDir(), C10)
	require.Error(t, err)

	// Truncated record.
	dataDir := t.TempDir()
	filePath := path.Join(dataDir, C100SubDir, "train.bin")
	require.NoError(t, os.MkdirAll(path.Dir(filePath), 0o777))
	require.NoError(t, os.WriteFile(filePath, []byte{1, 2, 3}, 0o644))
	_, _, err = Load(dataDir, C100)
	require.Error(t, err)
}
