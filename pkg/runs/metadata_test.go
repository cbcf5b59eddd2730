// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() RunConfig {
	return RunConfig{
		BatchSize:        128,
		Epoch:            3,
		GPU:              -1,
		Out:              "result",
		OutSuffix:        "exp1",
		SnapshotInterval: 2000,
		DisplayInterval:  1000,
		Dataset:          "cifar10",
		NLayers:          20,
		DataDir:          "~/work/cifar",
		Seed:             42,
		LRShiftEpochs:    []int{100, 150},
		LRShiftRate:      0.1,
		PlotFormat:       "png",
	}
}

func testSummary() Summary {
	return Summary{
		Versions: map[string]string{"gomlx": "v0.25.0", "go": "go1.24.5"},
		Model:    map[string]string{"/model/conv": "Convolution", "/model/dense": "Dense"},
		Optimizer: OptimizerInfo{
			Name:      "MomentumSGD",
			InitParam: map[string]any{"lr": 0.01, "momentum": 0.9},
		},
		Dataset:   DatasetInfo{TrainLength: 50000, TestLength: 10000, HasTest: true, Shape: []int{3, 32, 32}},
		RunID:     "00000000-0000-0000-0000-000000000000",
		StartTime: time.Date(2024, 3, 7, 9, 5, 2, 0, time.UTC),
		Host:      HostInfo{Hostname: "box", OS: "linux", Arch: "amd64"},
	}
}

func TestSaveInfo(t *testing.T) {
	outDir := t.TempDir()
	cfg := testConfig()
	env := map[string]string{"HOME": "/home/x", "A": "1"}
	argv := []string{"train_cifar", "-d", "cifar10", "--epoch", "3"}
	require.NoError(t, SaveInfo(outDir, cfg, env, argv, testSummary()))

	for _, name := range []string{ArgsFileName, EnvironFileName, CommandFileName, InfoFileName} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	// args.json round-trips.
	loaded, err := LoadRunConfig(outDir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	// Keys are sorted and indented with 4 spaces.
	contents, err := os.ReadFile(filepath.Join(outDir, ArgsFileName))
	require.NoError(t, err)
	text := string(contents)
	assert.Contains(t, text, "\n    \"batchsize\": 128,")
	assert.Less(t, strings.Index(text, `"batchsize"`), strings.Index(text, `"epoch"`))
	assert.Less(t, strings.Index(text, `"epoch"`), strings.Index(text, `"gpu"`))

	gotEnv, err := LoadJSON(outDir, EnvironFileName)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"HOME": "/home/x", "A": "1"}, gotEnv)

	command, err := os.ReadFile(filepath.Join(outDir, CommandFileName))
	require.NoError(t, err)
	assert.Equal(t, "train_cifar -d cifar10 --epoch 3", string(command))

	info, err := LoadJSON(outDir, InfoFileName)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"gomlx": "v0.25.0", "go": "go1.24.5"}, info["version"])
	assert.Equal(t, "Convolution", info["model"].(map[string]any)["/model/conv"])
	optimizer := info["optimizer"].(map[string]any)
	assert.Equal(t, "MomentumSGD", optimizer["name"])
	assert.Equal(t, 0.9, optimizer["init_param"].(map[string]any)["momentum"])
	dataset := info["dataset"].(map[string]any)
	assert.Equal(t, map[string]any{"train": 50000.0, "test": 10000.0}, dataset["length"])
	assert.Equal(t, []any{3.0, 32.0, 32.0}, dataset["shape"])
}

func TestSaveInfoWithoutTestSet(t *testing.T) {
	outDir := t.TempDir()
	summary := testSummary()
	summary.Dataset.HasTest = false
	require.NoError(t, SaveInfo(outDir, testConfig(), nil, nil, summary))

	contents, err := os.ReadFile(filepath.Join(outDir, InfoFileName))
	require.NoError(t, err)
	var info struct {
		Dataset struct {
			Length map[string]int `json:"length"`
		} `json:"dataset"`
	}
	require.NoError(t, json.Unmarshal(contents, &info))
	assert.Equal(t, map[string]int{"train": 50000}, info.Dataset.Length)

	command, err := os.ReadFile(filepath.Join(outDir, CommandFileName))
	require.NoError(t, err)
	assert.Empty(t, command)
}

func TestSaveInfoFailsOnMissingDir(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "missing")
	err := SaveInfo(outDir, testConfig(), nil, nil, testSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ArgsFileName)
}

func TestEnviron(t *testing.T) {
	env := Environ([]string{"A=1", "B=x=y", "C=", "=bad", "D"})
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": "", "D": ""}, env)
}

func TestVersionsAndHost(t *testing.T) {
	versions := Versions()
	assert.NotEmpty(t, versions["go"])
	assert.Contains(t, versions, "gomlx")
	host := CurrentHost()
	assert.NotEmpty(t, host.OS)
	assert.NotEmpty(t, host.Arch)
}
