// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"slices"

	"github.com/cifartrain/cifartrain/pkg/optimizers/momentum"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SnapshotDirName is the directory, inside the output directory, holding the snapshots.
const SnapshotDirName = "snapshots"

// AttachSnapshot saves a checkpoint with the handler every `every` training steps.
func AttachSnapshot(loop *train.Loop, handler *checkpoints.Handler, every int) {
	if handler == nil || every <= 0 {
		return
	}
	train.EveryNSteps(loop, every, "snapshot", Priority+1,
		func(loop *train.Loop, _ []*tensors.Tensor) error {
			if err := handler.Save(); err != nil {
				return errors.WithMessagef(err, "snapshot at iteration %d", loop.LoopStep+1)
			}
			klog.V(1).Infof("snapshot saved to %s at iteration %d", handler.Dir(), loop.LoopStep+1)
			return nil
		})
}

// LRShift multiplies the learning rate by Rate each time training completes one of the
// listed epochs.
type LRShift struct {
	Epochs             []int
	Rate               float64
	IterationsPerEpoch int

	// applied holds the epochs already shifted, so each happens at most once.
	applied []int
}

// Due returns whether a shift happens right after the given training step (1-based iteration).
func (s *LRShift) Due(iteration int) (epoch int, due bool) {
	if s.IterationsPerEpoch <= 0 || iteration%s.IterationsPerEpoch != 0 {
		return 0, false
	}
	epoch = iteration / s.IterationsPerEpoch
	if !slices.Contains(s.Epochs, epoch) || slices.Contains(s.applied, epoch) {
		return epoch, false
	}
	return epoch, true
}

// Step applies the shift to the learning rate in ctx if one is due after iteration.
func (s *LRShift) Step(ctx *context.Context, iteration int) error {
	epoch, due := s.Due(iteration)
	if !due {
		return nil
	}
	lr, err := momentum.LearningRate(ctx)
	if err != nil {
		return err
	}
	newLR := lr * s.Rate
	if err = momentum.SetLearningRate(ctx, newLR); err != nil {
		return err
	}
	s.applied = append(s.applied, epoch)
	klog.Infof("epoch %d: learning rate %g -> %g", epoch, lr, newLR)
	return nil
}

// Attach registers the shift as a loop hook. It does nothing if there are no epochs or rate is 1.
func (s *LRShift) Attach(loop *train.Loop, ctx *context.Context) {
	if len(s.Epochs) == 0 || s.Rate == 1 {
		return
	}
	loop.OnStep("lr_shift", Priority+2, func(loop *train.Loop, _ []*tensors.Tensor) error {
		return s.Step(ctx, loop.LoopStep+1)
	})
}
