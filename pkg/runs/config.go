// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package runs manages the on-disk record of a training run: it allocates the run's output
// directory and writes the metadata files (args.json, environ.json, command.txt and info.json)
// describing how the run was started.
package runs

import (
	"os"
	"strings"
)

// RunConfig holds the parsed command-line options of a training run.
// It is built once, before training starts, and never changed afterwards.
//
// Field tags use the command-line flag names, so args.json keys match the flags.
type RunConfig struct {
	BatchSize        int    `json:"batchsize" yaml:"batchsize"`
	Epoch            int    `json:"epoch" yaml:"epoch"`
	GPU              int    `json:"gpu" yaml:"gpu"`
	Out              string `json:"out" yaml:"out"`
	OutSuffix        string `json:"out_suffix" yaml:"out_suffix"`
	SnapshotInterval int    `json:"snapshot_interval" yaml:"snapshot_interval"`
	DisplayInterval  int    `json:"display_interval" yaml:"display_interval"`
	Resume           string `json:"resume" yaml:"resume"`
	Arch             string `json:"arch,omitempty" yaml:"arch,omitempty"`

	Dataset string `json:"dataset" yaml:"dataset"`
	NLayers int    `json:"n_layers" yaml:"n_layers"`

	DataDir        string    `json:"data_dir" yaml:"data_dir"`
	Seed           int64     `json:"seed" yaml:"seed"`
	Prefetch       int       `json:"prefetch" yaml:"prefetch"`
	LRShiftEpochs  []int     `json:"lr_shift_epochs" yaml:"lr_shift_epochs"`
	LRShiftRate    float64   `json:"lr_shift_rate" yaml:"lr_shift_rate"`
	PlotFormat     string    `json:"plot_format" yaml:"plot_format"`
	PreviewAugment int       `json:"preview_augment" yaml:"preview_augment"`
	Settings       string    `json:"set" yaml:"set"`
	MLflow         MLflowRef `json:"mlflow" yaml:"mlflow"`
}

// MLflowRef points to an optional MLflow tracking server where the run is mirrored.
type MLflowRef struct {
	TrackingURI  string `json:"tracking_uri" yaml:"tracking_uri"`
	ExperimentID string `json:"experiment_id" yaml:"experiment_id"`
}

// Enabled reports whether mirroring to MLflow was requested.
func (m MLflowRef) Enabled() bool {
	return m.TrackingURI != "" && m.ExperimentID != ""
}

// Environ converts entries in the "key=value" form returned by os.Environ to a map.
// Entries without "=" are kept with an empty value.
func Environ(entries []string) map[string]string {
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, _ := strings.Cut(entry, "=")
		if key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

// CurrentEnviron is Environ(os.Environ()).
func CurrentEnviron() map[string]string {
	return Environ(os.Environ())
}
