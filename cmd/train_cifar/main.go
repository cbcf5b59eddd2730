// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// train_cifar trains a ResNet (or a small CNN) on CIFAR-10 or CIFAR-100.
//
// Every flag can also be given as an environment variable prefixed with CIFARTRAIN_
// (e.g. CIFARTRAIN_BATCHSIZE=64), or in a YAML file passed with --config.
// Command-line flags take precedence over the environment, which takes precedence over the file.
//
// Example:
//
//	train_cifar --dataset=cifar100 --n_layers=56 --epoch=200 --lr_shift_epochs=100,150 --gpu=0
//
// Use "train_cifar show <output_dir>" to inspect a finished (or running) training.
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/cifartrain/cifartrain/pkg/argspec"
	"github.com/cifartrain/cifartrain/pkg/cifar"
	"github.com/cifartrain/cifartrain/pkg/extensions"
	"github.com/cifartrain/cifartrain/pkg/harness"
	"github.com/cifartrain/cifartrain/pkg/models"
	"github.com/cifartrain/cifartrain/pkg/runs"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

// Flags added on top of the common ones registered by argspec.Generate.
const (
	flagDataset        = "dataset"
	flagNLayers        = "n_layers"
	flagDataDir        = "data_dir"
	flagSeed           = "seed"
	flagPrefetch       = "prefetch"
	flagLRShiftEpochs  = "lr_shift_epochs"
	flagLRShiftRate    = "lr_shift_rate"
	flagPlotFormat     = "plot_format"
	flagPreviewAugment = "preview_augment"
	flagSet            = "set"
	flagMLflowURI      = "mlflow_tracking_uri"
	flagMLflowExpID    = "mlflow_experiment_id"
	flagConfig         = "config"
	flagNoProgressBar  = "no_progress_bar"

	envPrefix = "CIFARTRAIN"
)

// trainingDefaults are the overrides of the common flag defaults used by this program.
var trainingDefaults = argspec.Defaults{argspec.FlagSnapshotInterval: 2000}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

// registerFlags adds all training flags to fs.
func registerFlags(fs *pflag.FlagSet) {
	must.M1(argspec.Generate(fs, trainingDefaults, models.Architectures))
	must.M1(argspec.StringChoice(fs, flagDataset, "d", cifar.Sources, cifar.Sources[0],
		"The dataset to use"))
	must.M1(argspec.IntChoice(fs, flagNLayers, "l", models.ResNetDepths, models.ResNetDepths[0],
		"Number of layers of the ResNet"))
	must.M1(argspec.StringChoice(fs, flagPlotFormat, "", extensions.PlotFormats, string(extensions.PNG),
		"Image format of the plots of the training curves"))

	fs.String(flagDataDir, filepath.Join("~", "work", "cifar"), "Directory where the dataset is downloaded to and read from")
	fs.Int64(flagSeed, 0, "Random seed for shuffling and augmentation. If <= 0, one is derived from the clock and recorded in args.json")
	fs.Int(flagPrefetch, 0, "Number of batches prepared in parallel ahead of the training. 0 disables it")
	fs.String(flagLRShiftEpochs, "", "Comma-separated epochs at the end of which the learning rate is multiplied by --lr_shift_rate")
	fs.Float64(flagLRShiftRate, 0.1, "Factor applied to the learning rate at each of --lr_shift_epochs")
	fs.Int(flagPreviewAugment, 0, "If > 0, save an image with this many augmented training samples before training")
	fs.String(flagSet, "", "Hyperparameters to set, e.g. \"learning_rate=0.1;momentum=0.9\"")
	fs.String(flagMLflowURI, "", "MLflow tracking URI where the run is mirrored. Requires --mlflow_experiment_id")
	fs.String(flagMLflowExpID, "", "MLflow experiment id where the run is created")
	fs.Bool(flagNoProgressBar, false, "Disable the progress bar")
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "train_cifar",
		Short: "Train a ResNet on CIFAR-10/100",
		Long: `Train a ResNet on CIFAR-10/100 with momentum SGD.

Each run writes to a new directory under --out, named after the start time and --out_suffix.
It holds the arguments, environment and command line of the run, the training log and plots,
periodic snapshots and the final model.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := runConfigFromViper(v)
			if err != nil {
				return err
			}
			_, err = harness.Run(cfg, harness.Options{
				Argv:          os.Args,
				Environ:       runs.CurrentEnviron(),
				Stdout:        cmd.OutOrStdout(),
				NoProgressBar: v.GetBool(flagNoProgressBar),
			})
			return err
		},
	}

	registerFlags(cmd.Flags())
	cmd.PersistentFlags().String(flagConfig, "", "YAML file with default values for the flags")

	// klog flags (-v, --logtostderr, ...) are shared by all subcommands.
	goFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(goFlags)
	cmd.PersistentFlags().AddGoFlagSet(goFlags)

	cmd.AddCommand(newShowCmd())
	return cmd
}

// initConfig binds the flags of cmd to v, along with the environment and the optional --config file.
func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "binding flags")
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	configFile, err := cmd.Flags().GetString(flagConfig)
	if err != nil || configFile == "" {
		return nil
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading --config=%q", configFile)
	}
	klog.V(1).Infof("Flag defaults read from %q", v.ConfigFileUsed())
	return nil
}

// runConfigFromViper builds the RunConfig of the run from the bound values.
// Values that came from the environment or the config file are validated later by harness.Run.
func runConfigFromViper(v *viper.Viper) (runs.RunConfig, error) {
	lrShiftEpochs, err := harness.ParseIntList(v.GetString(flagLRShiftEpochs))
	if err != nil {
		return runs.RunConfig{}, errors.WithMessage(err, "--"+flagLRShiftEpochs)
	}
	return runs.RunConfig{
		BatchSize:        v.GetInt(argspec.FlagBatchSize),
		Epoch:            v.GetInt(argspec.FlagEpoch),
		GPU:              v.GetInt(argspec.FlagGPU),
		Out:              v.GetString(argspec.FlagOut),
		OutSuffix:        v.GetString(argspec.FlagOutSuffix),
		SnapshotInterval: v.GetInt(argspec.FlagSnapshotInterval),
		DisplayInterval:  v.GetInt(argspec.FlagDisplayInterval),
		Resume:           v.GetString(argspec.FlagResume),
		Arch:             v.GetString(argspec.FlagArch),
		Dataset:          v.GetString(flagDataset),
		NLayers:          v.GetInt(flagNLayers),
		DataDir:          v.GetString(flagDataDir),
		Seed:             v.GetInt64(flagSeed),
		Prefetch:         v.GetInt(flagPrefetch),
		LRShiftEpochs:    lrShiftEpochs,
		LRShiftRate:      v.GetFloat64(flagLRShiftRate),
		PlotFormat:       v.GetString(flagPlotFormat),
		PreviewAugment:   v.GetInt(flagPreviewAugment),
		Settings:         v.GetString(flagSet),
		MLflow: runs.MLflowRef{
			TrackingURI:  v.GetString(flagMLflowURI),
			ExperimentID: v.GetString(flagMLflowExpID),
		},
	}, nil
}
