// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package argspec registers the command-line options shared by the training scripts:
// batch size, epochs, device, output location, snapshot/display intervals, resume and,
// optionally, the model architecture.
//
// Each script may override the defaults of these options, and add its own flags
// (see StringChoice and IntChoice) to the same pflag.FlagSet.
package argspec

import (
	"fmt"
	"maps"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Flag names registered by Generate.
const (
	FlagBatchSize        = "batchsize"
	FlagEpoch            = "epoch"
	FlagGPU              = "gpu"
	FlagOut              = "out"
	FlagOutSuffix        = "out_suffix"
	FlagSnapshotInterval = "snapshot_interval"
	FlagDisplayInterval  = "display_interval"
	FlagResume           = "resume"
	FlagArch             = "arch"
)

// Defaults overrides the default value of flags registered by Generate, indexed by flag name.
// Values must have the flag's type: int or string.
type Defaults map[string]any

type commonFlag struct {
	name, shorthand, usage string
	value                  any
}

// commonFlags in registration order, with their base defaults.
var commonFlags = []commonFlag{
	{FlagBatchSize, "b", "Number of images in each mini-batch", 32},
	{FlagEpoch, "e", "Number of sweeps over the dataset to train", 100},
	{FlagGPU, "g", "GPU ID (negative value indicates CPU)", -1},
	{FlagOut, "o", "Directory to output the result", "result"},
	{FlagOutSuffix, "s", "Suffix appended to the output directory name", ""},
	{FlagSnapshotInterval, "", "Interval (in iterations) of snapshots", 10000},
	{FlagDisplayInterval, "", "Interval (in iterations) of displaying log to console", 1000},
	{FlagResume, "r", "Resume the training from a snapshot directory", ""},
}

// BaseDefaults returns the default values used when not overridden.
func BaseDefaults() Defaults {
	defaults := make(Defaults, len(commonFlags))
	for _, f := range commonFlags {
		defaults[f.name] = f.value
	}
	return defaults
}

// Generate registers the common training flags in fs.
//
// defaults overrides base defaults (see BaseDefaults); unknown names or values of the wrong
// type are an error. The --arch/-a flag is only registered if archs is not empty: its value must
// be one of archs, and it defaults to defaults["arch"] if given, or the first element of archs.
//
// It returns the architecture Choice, or nil if archs is empty.
func Generate(fs *pflag.FlagSet, defaults Defaults, archs []string) (*Choice[string], error) {
	known := BaseDefaults()
	for _, name := range slices.Sorted(maps.Keys(defaults)) {
		if name == FlagArch {
			continue
		}
		base, found := known[name]
		if !found {
			return nil, errors.Errorf("default given for unknown flag %q", name)
		}
		if fmt.Sprintf("%T", base) != fmt.Sprintf("%T", defaults[name]) {
			return nil, errors.Errorf("default for flag %q must be of type %T, got %T", name, base, defaults[name])
		}
	}

	for _, f := range commonFlags {
		value := f.value
		if override, found := defaults[f.name]; found {
			value = override
		}
		switch v := value.(type) {
		case int:
			fs.IntP(f.name, f.shorthand, v, f.usage)
		case string:
			fs.StringP(f.name, f.shorthand, v, f.usage)
		}
	}

	if len(archs) == 0 {
		if _, found := defaults[FlagArch]; found {
			return nil, errors.New("default for flag \"arch\" given, but no architectures to choose from")
		}
		return nil, nil
	}
	archDefault := archs[0]
	if v, found := defaults[FlagArch]; found {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("default for flag %q must be of type string, got %T", FlagArch, v)
		}
		archDefault = s
	}
	return StringChoice(fs, FlagArch, "a", archs, archDefault, "Model architecture")
}

// Parse parses args into fs, and also fails on positional (non-flag) arguments.
// Unknown flags are already an error for pflag.
func Parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return errors.Errorf("unrecognized arguments: %v", fs.Args())
	}
	return nil
}
