// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package harness

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cifartrain/cifartrain/pkg/cifar"
	"github.com/cifartrain/cifartrain/pkg/extensions"
	"github.com/cifartrain/cifartrain/pkg/models"
	"github.com/cifartrain/cifartrain/pkg/runs"
	"github.com/pkg/errors"
)

// ErrInvalidConfig is returned (wrapped) by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the values of a run configuration before anything is created on disk.
func Validate(cfg runs.RunConfig) error {
	positive := []struct {
		name  string
		value int
	}{
		{"batchsize", cfg.BatchSize},
		{"epoch", cfg.Epoch},
		{"snapshot_interval", cfg.SnapshotInterval},
		{"display_interval", cfg.DisplayInterval},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "--%s must be > 0, got %d", p.name, p.value)
		}
	}
	if cfg.Out == "" {
		return errors.Wrap(ErrInvalidConfig, "--out must be set")
	}
	if cfg.Prefetch < 0 || cfg.PreviewAugment < 0 {
		return errors.Wrap(ErrInvalidConfig, "--prefetch and --preview_augment must be >= 0")
	}
	if _, err := cifar.ParseSource(cfg.Dataset); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "--dataset: %v", err)
	}
	if cfg.Arch != "" && !slices.Contains(models.Architectures, cfg.Arch) {
		return errors.Wrapf(ErrInvalidConfig, "--arch must be one of %v, got %q", models.Architectures, cfg.Arch)
	}
	if (cfg.Arch == "" || cfg.Arch == "resnet") && !slices.Contains(models.ResNetDepths, cfg.NLayers) {
		return errors.Wrapf(ErrInvalidConfig, "--n_layers must be one of %v, got %d", models.ResNetDepths, cfg.NLayers)
	}
	if _, err := extensions.ParsePlotFormat(cfg.PlotFormat); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "--plot_format: %v", err)
	}
	for _, epoch := range cfg.LRShiftEpochs {
		if epoch <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "--lr_shift_epochs must be > 0, got %d", epoch)
		}
	}
	if len(cfg.LRShiftEpochs) > 0 && cfg.LRShiftRate <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "--lr_shift_rate must be > 0, got %g", cfg.LRShiftRate)
	}
	if (cfg.MLflow.TrackingURI == "") != (cfg.MLflow.ExperimentID == "") {
		return errors.Wrap(ErrInvalidConfig, "MLflow needs both the tracking URI and the experiment id")
	}
	return nil
}

// BackendConfig returns the backend configuration to use for the given GPU id, and the
// environment variables to set before creating it. A negative id selects the default backend
// ("" configuration), which runs on the CPU unless configured otherwise with GOMLX_BACKEND.
func BackendConfig(gpu int) (config string, env map[string]string) {
	if gpu < 0 {
		return "", nil
	}
	return "xla:cuda", map[string]string{"CUDA_VISIBLE_DEVICES": strconv.Itoa(gpu)}
}

// ParseIntList parses a comma-separated list of integers, e.g. "100,150". Empty items are skipped.
func ParseIntList(s string) ([]int, error) {
	var values []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid integer %q in list %q", part, s)
		}
		values = append(values, value)
	}
	return values, nil
}
