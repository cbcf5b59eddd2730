// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runs

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the metadata files written by SaveInfo into the output directory.
const (
	ArgsFileName    = "args.json"
	EnvironFileName = "environ.json"
	CommandFileName = "command.txt"
	InfoFileName    = "info.json"
)

// OptimizerInfo describes the optimizer and the hyperparameters it was created with.
type OptimizerInfo struct {
	Name      string
	InitParam map[string]any
}

// DatasetInfo describes the training data: number of examples and shape of one example.
// TestLength is only recorded if HasTest is set.
type DatasetInfo struct {
	TrainLength int
	TestLength  int
	HasTest     bool
	Shape       []int
}

// HostInfo identifies the machine the run was started on.
type HostInfo struct {
	Hostname      string
	OS, Arch      string
	CPU           string
	PhysicalCores int
	LogicalCores  int
	Features      []string
}

// Summary is the content of info.json.
type Summary struct {
	// Versions of the software used, e.g.: {"gomlx": "v0.25.0", "go": "go1.24.5"}.
	Versions map[string]string

	// Model maps each named submodule (its scope in the model) to its layer type.
	Model map[string]string

	Optimizer OptimizerInfo
	Dataset   DatasetInfo

	RunID     string
	StartTime time.Time
	Host      HostInfo
}

func (s Summary) asMap() map[string]any {
	length := map[string]any{"train": s.Dataset.TrainLength}
	if s.Dataset.HasTest {
		length["test"] = s.Dataset.TestLength
	}
	initParam := s.Optimizer.InitParam
	if initParam == nil {
		initParam = map[string]any{}
	}
	shape := s.Dataset.Shape
	if shape == nil {
		shape = []int{}
	}
	features := s.Host.Features
	if features == nil {
		features = []string{}
	}
	return map[string]any{
		"version":   s.Versions,
		"model":     s.Model,
		"optimizer": map[string]any{"name": s.Optimizer.Name, "init_param": initParam},
		"dataset":   map[string]any{"length": length, "shape": shape},
		"run": map[string]any{
			"id":         s.RunID,
			"start_time": s.StartTime.Format(time.RFC3339),
		},
		"host": map[string]any{
			"hostname":       s.Host.Hostname,
			"os":             s.Host.OS,
			"arch":           s.Host.Arch,
			"cpu":            s.Host.CPU,
			"physical_cores": s.Host.PhysicalCores,
			"logical_cores":  s.Host.LogicalCores,
			"features":       features,
		},
	}
}

// marshalSorted encodes v as JSON indented by 4 spaces, with object keys sorted.
// Structs are first re-decoded into generic maps, since encoding/json only sorts map keys.
func marshalSorted(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err = dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.MarshalIndent(generic, "", "    ")
}

func writeJSON(dir, name string, v any) error {
	filePath := filepath.Join(dir, name)
	contents, err := marshalSorted(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", name)
	}
	if err = os.WriteFile(filePath, contents, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %q", filePath)
	}
	return nil
}

// SaveInfo writes the run metadata files into outDir:
//
//   - args.json: the run configuration.
//   - environ.json: the environment variables given.
//   - command.txt: argv joined by single spaces.
//   - info.json: the summary.
//
// The files are written in that order, and the first failure is returned. Files already
// written are not removed.
func SaveInfo(outDir string, cfg RunConfig, environ map[string]string, argv []string, summary Summary) error {
	if environ == nil {
		environ = map[string]string{}
	}
	if err := writeJSON(outDir, ArgsFileName, cfg); err != nil {
		return err
	}
	if err := writeJSON(outDir, EnvironFileName, environ); err != nil {
		return err
	}
	commandPath := filepath.Join(outDir, CommandFileName)
	if err := os.WriteFile(commandPath, []byte(strings.Join(argv, " ")), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %q", commandPath)
	}
	if err := writeJSON(outDir, InfoFileName, summary.asMap()); err != nil {
		return err
	}
	klog.V(1).Infof("run metadata saved in %q", outDir)
	return nil
}

// LoadRunConfig reads back the args.json written by SaveInfo.
func LoadRunConfig(outDir string) (RunConfig, error) {
	var cfg RunConfig
	filePath := filepath.Join(outDir, ArgsFileName)
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read run configuration")
	}
	if err = json.Unmarshal(contents, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse %q", filePath)
	}
	return cfg, nil
}

// LoadJSON reads one of the JSON metadata files of outDir into a generic map.
func LoadJSON(outDir, name string) (map[string]any, error) {
	filePath := filepath.Join(outDir, name)
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", name)
	}
	var values map[string]any
	if err = json.Unmarshal(contents, &values); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %q", filePath)
	}
	return values, nil
}
