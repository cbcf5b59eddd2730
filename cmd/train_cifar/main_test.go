// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cifartrain/cifartrain/pkg/extensions"
	"github.com/cifartrain/cifartrain/pkg/runs"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseConfig(t *testing.T, args ...string) (runs.RunConfig, error) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(args))
	v := viper.New()
	require.NoError(t, initConfig(v, cmd))
	return runConfigFromViper(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := parseConfig(t)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, 100, cfg.Epoch)
	assert.Equal(t, -1, cfg.GPU)
	assert.Equal(t, "result", cfg.Out)
	assert.Equal(t, 2000, cfg.SnapshotInterval)
	assert.Equal(t, 1000, cfg.DisplayInterval)
	assert.Equal(t, "resnet", cfg.Arch)
	assert.Equal(t, "cifar10", cfg.Dataset)
	assert.Equal(t, 20, cfg.NLayers)
	assert.Equal(t, "png", cfg.PlotFormat)
	assert.Equal(t, 0.1, cfg.LRShiftRate)
	assert.Equal(t, filepath.Join("~", "work", "cifar"), cfg.DataDir)
	assert.Empty(t, cfg.LRShiftEpochs)
	assert.False(t, cfg.MLflow.Enabled())
}

func TestFlags(t *testing.T) {
	cfg, err := parseConfig(t, "-b", "64", "--dataset=cifar100", "-l", "56", "--lr_shift_epochs=100,150",
		"-s", "exp", "--data_dir=/data/cifar")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, "cifar100", cfg.Dataset)
	assert.Equal(t, 56, cfg.NLayers)
	assert.Equal(t, []int{100, 150}, cfg.LRShiftEpochs)
	assert.Equal(t, "exp", cfg.OutSuffix)
	assert.Equal(t, "/data/cifar", cfg.DataDir)

	cmd := newRootCmd()
	assert.Error(t, cmd.ParseFlags([]string{"--n_layers=18"}))
	cmd = newRootCmd()
	assert.Error(t, cmd.ParseFlags([]string{"--dataset=mnist"}))

	_, err = parseConfig(t, "--lr_shift_epochs=10,x")
	assert.Error(t, err)
}

func TestEnvironmentAndConfigFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "train.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("epoch: 300\nbatchsize: 16\nout_suffix: from_file\n"), 0o644))
	t.Setenv("CIFARTRAIN_EPOCH", "7")

	cfg, err := parseConfig(t, "--config", configFile, "--batchsize=8")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Epoch, "environment takes precedence over the config file")
	assert.Equal(t, 8, cfg.BatchSize, "flags take precedence over the config file")
	assert.Equal(t, "from_file", cfg.OutSuffix)
}

func TestShow(t *testing.T) {
	outDir := t.TempDir()
	cfg, err := parseConfig(t, "--epoch=3")
	require.NoError(t, err)
	require.NoError(t, runs.SaveInfo(outDir, cfg, map[string]string{"HOME": "/home/test"},
		[]string{"train_cifar", "--epoch=3"}, runs.Summary{Model: map[string]string{"conv0": "Convolution"}}))

	var buf bytes.Buffer
	require.NoError(t, show(&buf, outDir))
	assert.Contains(t, buf.String(), "# args.json")
	assert.Contains(t, buf.String(), "epoch: 3")
	assert.Contains(t, buf.String(), "No log entries yet.")

	require.NoError(t, extensions.NewLogReport(outDir).WriteEntry(extensions.Entry{
		Epoch: 1, Iteration: 1000, ElapsedTime: 12.5, Values: map[string]float64{"main/loss": 1.25},
	}))
	buf.Reset()
	require.NoError(t, show(&buf, outDir))
	assert.Contains(t, buf.String(), "Last log entry (1 entries)")
	assert.Contains(t, buf.String(), "main/loss")

	assert.Error(t, show(&buf, filepath.Join(outDir, "missing")))
}
