// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package harness runs one CIFAR training session end to end: it allocates the output directory,
// loads the dataset, builds the model and optimizer, attaches the report, snapshot and
// learning-rate hooks, records the run metadata and trains for the configured number of epochs.
package harness

import (
	stdcontext "context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/cifartrain/cifartrain/pkg/augment"
	"github.com/cifartrain/cifartrain/pkg/cifar"
	"github.com/cifartrain/cifartrain/pkg/extensions"
	"github.com/cifartrain/cifartrain/pkg/models"
	"github.com/cifartrain/cifartrain/pkg/optimizers/momentum"
	"github.com/cifartrain/cifartrain/pkg/runs"
	"github.com/cifartrain/cifartrain/pkg/tracking/mlflow"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

const (
	// ModelDirName is the directory, inside the output directory, where the final model is saved.
	ModelDirName = "model"

	// PreviewFileName is the augmentation preview image written with --preview_augment.
	PreviewFileName = "augment_preview.png"
)

// Options are the inputs of a run that don't come from the command line.
type Options struct {
	// Argv is the full command line, recorded in command.txt.
	Argv []string

	// Environ is the process environment, recorded in environ.json.
	Environ map[string]string

	// Stdout receives the status lines and the printed report. Defaults to os.Stdout.
	Stdout io.Writer

	// Now is the clock used to name the output directory. Defaults to time.Now.
	Now func() time.Time

	// Backend to train on. If nil, one is created from RunConfig.GPU.
	Backend backends.Backend

	// NoProgressBar disables the progress bar.
	NoProgressBar bool

	// NewTracker connects to MLflow. Defaults to mlflow.New.
	NewTracker func(cfg mlflow.Config) (*mlflow.Tracker, error)
}

func (o *Options) setDefaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Environ == nil {
		o.Environ = runs.CurrentEnviron()
	}
	if o.NewTracker == nil {
		o.NewTracker = mlflow.New
	}
}

// NewBackend creates the backend for the given GPU id, see BackendConfig.
func NewBackend(gpu int) (backends.Backend, error) {
	config, env := BackendConfig(gpu)
	for key, value := range env {
		if err := os.Setenv(key, value); err != nil {
			return nil, errors.Wrapf(err, "failed to set %s", key)
		}
	}
	if config == "" {
		return backends.New()
	}
	return backends.NewWithConfig(config)
}

// NewContext creates the context with the default hyperparameters, overwritten by settings
// (see commandline.ParseContextSettings). It returns the names of the parameters set.
func NewContext(settings string) (*context.Context, []string, error) {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		optimizers.ParamLearningRate:    momentum.DefaultLearningRate,
		momentum.ParamMomentum:          momentum.DefaultMomentum,
		optimizers.ParamClipStepByValue: 0.0,
		models.ParamCNNNormalization:    "batch",
		models.ParamCNNDropout:          0.3,
		context.ParamInitialSeed:        int64(0),
	})
	paramsSet, err := commandline.ParseContextSettings(ctx, settings)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "parsing --set=%q", settings)
	}
	return ctx, paramsSet, nil
}

// session holds the state shared by the steps of Run.
type session struct {
	cfg  runs.RunConfig
	opts Options

	outDir          string
	source          cifar.Source
	trainDS, testDS *cifar.Dataset
	trainIt, testIt *cifar.Iterator
	rng             *rand.Rand

	ctx     *context.Context
	model   *models.Model
	opt     *momentum.Optimizer
	trainer *train.Trainer
	loop    *train.Loop
	tracker *mlflow.Tracker
}

// Run trains with the given configuration, and returns the output directory created.
func Run(cfg runs.RunConfig, opts Options) (outDir string, err error) {
	if err = Validate(cfg); err != nil {
		return "", err
	}
	opts.setDefaults()
	s := &session{cfg: cfg, opts: opts}
	if s.cfg.Seed <= 0 {
		s.cfg.Seed = opts.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(s.cfg.Seed))

	s.outDir, err = runs.PrepareOutDir(cfg.Out, cfg.OutSuffix, runs.WithClock(opts.Now))
	if err != nil {
		return "", err
	}
	err = s.run()
	if s.tracker != nil {
		if endErr := s.tracker.End(stdcontext.Background(), err); endErr != nil {
			klog.Warningf("MLflow: %+v", endErr)
		}
	}
	return s.outDir, err
}

func (s *session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.opts.Stdout, format, args...)
}

func (s *session) run() error {
	if err := s.loadData(); err != nil {
		return err
	}
	if err := s.buildTrainer(); err != nil {
		return err
	}
	if s.cfg.Resume != "" {
		if err := s.resume(); err != nil {
			return err
		}
	}
	reporter, err := s.attachExtensions()
	if err != nil {
		return err
	}
	if err = s.saveInfo(); err != nil {
		return err
	}
	if s.cfg.PreviewAugment > 0 {
		if err = s.preview(); err != nil {
			return err
		}
	}
	s.printSummary()

	var trainDS train.Dataset = s.trainIt
	if s.cfg.Prefetch > 0 {
		// A single producer keeps the random draws in the same order as without prefetching.
		trainDS = datasets.CustomParallel(s.trainIt).Parallelism(1).Buffer(s.cfg.Prefetch).Start()
	}
	epochs := s.remainingEpochs()
	if epochs > 0 {
		if _, err = s.loop.RunEpochs(trainDS, epochs); err != nil {
			return errors.WithMessagef(err, "training failed after %d iterations", s.loop.LoopStep)
		}
	}
	klog.V(1).Infof("median train step: %s", s.loop.MedianTrainStepDuration())
	if err = reporter.Err(); err != nil {
		return err
	}
	if err = s.saveModel(); err != nil {
		return err
	}
	s.printf("Finished!\n")
	return nil
}

func (s *session) loadData() error {
	var err error
	s.source, err = cifar.ParseSource(s.cfg.Dataset)
	if err != nil {
		return err
	}
	s.printf("Using %s dataset.\n", s.source.DisplayName())
	s.trainDS, s.testDS, err = cifar.DownloadAndLoad(s.cfg.DataDir, s.source)
	if err != nil {
		return err
	}
	if s.trainDS.Len() < s.cfg.BatchSize {
		return errors.Wrapf(ErrInvalidConfig, "batch size %d is larger than the training set (%d)",
			s.cfg.BatchSize, s.trainDS.Len())
	}
	s.trainIt = cifar.NewIterator("Training", s.trainDS, s.cfg.BatchSize).
		WithRand(s.rng).
		Shuffle().
		Augment(augment.New()).
		DropIncompleteBatch(true)
	s.testIt = cifar.NewIterator("Validation", s.testDS, s.cfg.BatchSize)
	return nil
}

func (s *session) buildTrainer() error {
	var paramsSet []string
	var err error
	s.ctx, paramsSet, err = NewContext(s.cfg.Settings)
	if err != nil {
		return err
	}
	// Variable initialization and dropout follow the run seed, unless set explicitly.
	if !slices.Contains(paramsSet, context.ParamInitialSeed) {
		s.ctx.SetParam(context.ParamInitialSeed, s.cfg.Seed)
	}
	s.model, err = models.New(s.cfg.Arch, s.cfg.NLayers, s.source.NumClasses())
	if err != nil {
		return err
	}
	s.opt = momentum.New().FromContext(s.ctx).Done()

	backend := s.opts.Backend
	if backend == nil {
		backend, err = NewBackend(s.cfg.GPU)
		if err != nil {
			return err
		}
	}
	klog.V(1).Infof("backend %q: %s", backend.Name(), backend.Description())

	movingAccuracy := metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)
	meanAccuracy := metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")
	s.trainer = train.NewTrainer(backend, s.ctx.In(models.Scope), s.model.ModelFn,
		losses.SparseCategoricalCrossEntropyLogits,
		s.opt,
		[]metrics.Interface{movingAccuracy},
		[]metrics.Interface{meanAccuracy})
	s.loop = train.NewLoop(s.trainer)
	if !s.opts.NoProgressBar {
		commandline.AttachProgressBar(s.loop)
	}
	return nil
}

// resume loads the variables of the last snapshot of a previous run. Hyperparameters are not
// loaded: the ones of this run's command line are used.
func (s *session) resume() error {
	dir := s.cfg.Resume
	if _, err := os.Stat(filepath.Join(dir, extensions.SnapshotDirName)); err == nil {
		dir = filepath.Join(dir, extensions.SnapshotDirName)
	}
	handler, err := checkpoints.Load(s.ctx).Dir(dir).ExcludeAllParams().Immediate().Done()
	if err != nil {
		return errors.WithMessagef(err, "resuming from %q", s.cfg.Resume)
	}
	globalStep := optimizers.GetGlobalStep(s.ctx)
	s.trainer.SetContext(s.ctx.In(models.Scope).Reuse())
	s.loop.LoopStep = int(globalStep)
	klog.Infof("resumed from %s at iteration %d", handler.Dir(), globalStep)
	return nil
}

// remainingEpochs discounts the epochs already done by a resumed run.
func (s *session) remainingEpochs() int {
	done := s.loop.LoopStep / s.trainIt.BatchesPerEpoch()
	return max(s.cfg.Epoch-done, 0)
}

func (s *session) attachExtensions() (*extensions.Reporter, error) {
	itersPerEpoch := s.trainIt.BatchesPerEpoch()
	plotFormat, err := extensions.ParsePlotFormat(s.cfg.PlotFormat)
	if err != nil {
		return nil, err
	}
	reporter := extensions.NewReporter(
		extensions.NewLogReport(s.outDir),
		extensions.NewPrintReport(s.opts.Stdout),
		extensions.NewPlotReport(s.outDir, plotFormat),
	).IterationsPerEpoch(itersPerEpoch)
	reporter.Attach(s.loop, s.cfg.DisplayInterval, s.testIt)

	snapshots, err := checkpoints.Build(s.ctx).
		Dir(filepath.Join(s.outDir, extensions.SnapshotDirName)).
		Keep(-1).
		Done()
	if err != nil {
		return nil, err
	}
	extensions.AttachSnapshot(s.loop, snapshots, s.cfg.SnapshotInterval)

	shift := &extensions.LRShift{
		Epochs:             s.cfg.LRShiftEpochs,
		Rate:               s.cfg.LRShiftRate,
		IterationsPerEpoch: itersPerEpoch,
	}
	shift.Attach(s.loop, s.ctx)

	if s.cfg.MLflow.Enabled() {
		if err = s.startTracker(); err != nil {
			return nil, err
		}
		tracker := s.tracker
		reporter.AddSink(extensions.SinkFunc(func(entry extensions.Entry) error {
			// The mirror is best effort: a tracking server hiccup doesn't stop training.
			if err := tracker.WriteEntry(entry); err != nil {
				klog.Warningf("MLflow: %+v", err)
			}
			return nil
		}))
	}
	return reporter, nil
}

func (s *session) startTracker() error {
	tracker, err := s.opts.NewTracker(mlflow.Config{
		TrackingURI:     s.cfg.MLflow.TrackingURI,
		ExperimentID:    s.cfg.MLflow.ExperimentID,
		DatabricksHost:  s.opts.Environ["DATABRICKS_HOST"],
		DatabricksToken: s.opts.Environ["DATABRICKS_TOKEN"],
	})
	if err != nil {
		return err
	}
	s.tracker = tracker
	return nil
}

func (s *session) saveInfo() error {
	runID := uuid.NewString()
	summary := runs.Summary{
		Versions:  runs.Versions(),
		Model:     s.model.Links,
		Optimizer: runs.OptimizerInfo{Name: s.opt.Name(), InitParam: s.opt.Hyperparams()},
		Dataset: runs.DatasetInfo{
			TrainLength: s.trainDS.Len(),
			TestLength:  s.testDS.Len(),
			HasTest:     true,
			Shape:       s.trainDS.SampleShape(),
		},
		RunID:     runID,
		StartTime: s.opts.Now(),
		Host:      runs.CurrentHost(),
	}
	if err := runs.SaveInfo(s.outDir, s.cfg, s.opts.Environ, s.opts.Argv, summary); err != nil {
		return err
	}
	if s.tracker == nil {
		return nil
	}
	ctx := stdcontext.Background()
	err := s.tracker.Start(ctx, filepath.Base(s.outDir), map[string]string{
		mlflow.TagRunID:  runID,
		mlflow.TagOutDir: s.outDir,
	})
	if err != nil {
		return err
	}
	params, err := mlflow.ParamsFromConfig(s.cfg)
	if err != nil {
		return err
	}
	return s.tracker.LogParams(ctx, params)
}

// preview draws the augmentation of the first training images, with its own random source
// so the training draws are not affected.
func (s *session) preview() error {
	n := min(s.cfg.PreviewAugment, s.trainDS.Len())
	samples := make([]augment.Sample, n)
	for ii := range samples {
		samples[ii] = s.trainDS.Sample(ii)
	}
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	return augment.Preview(filepath.Join(s.outDir, PreviewFileName), rng, augment.New(), samples)
}

func (s *session) saveModel() error {
	handler, err := checkpoints.Build(s.ctx).Dir(filepath.Join(s.outDir, ModelDirName)).Keep(1).Done()
	if err != nil {
		return errors.WithMessage(err, "saving final model")
	}
	if err = handler.Save(); err != nil {
		return errors.WithMessage(err, "saving final model")
	}
	return nil
}
