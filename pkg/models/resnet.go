// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// stageChannels is the number of channels of each of the 3 stages of the CIFAR ResNet.
var stageChannels = []int{16, 32, 64}

// ResNet for CIFAR, as in "Deep Residual Learning for Image Recognition" (He et al., 2015), section 4.2:
// a 3x3 convolution with 16 channels, 3 stages of NumBlocks basic blocks each (16, 32 and 64 channels,
// the last two starting with stride 2), global average pooling and a dense layer, for a total of
// 6*NumBlocks+2 layers.
//
// Shortcuts that change shape use a 1x1 convolution projection.
type ResNet struct {
	NumBlocks  int
	NumClasses int
}

func blockScope(stage, block int) string {
	return fmt.Sprintf("stage%d_block%d", stage+1, block)
}

func conv(ctx *context.Context, x *graph.Node, channels, kernelSize, stride int) *graph.Node {
	return layers.Convolution(ctx, x).
		Channels(channels).
		KernelSize(kernelSize).
		PadSame().
		Strides(stride).
		UseBias(false).
		ChannelsAxis(images.ChannelsFirst).
		Done()
}

func batchNorm(ctx *context.Context, x *graph.Node) *graph.Node {
	return batchnorm.New(ctx, x, 1).Done()
}

// basicBlock is two 3x3 convolutions with batch normalization, added to the (possibly projected) input.
func basicBlock(ctx *context.Context, x *graph.Node, channels, stride int) *graph.Node {
	residual := conv(ctx.In("conv1"), x, channels, 3, stride)
	residual = activations.Relu(batchNorm(ctx.In("bn1"), residual))
	residual = conv(ctx.In("conv2"), residual, channels, 3, 1)
	residual = batchNorm(ctx.In("bn2"), residual)

	shortcut := x
	if stride != 1 || x.Shape().Dimensions[1] != channels {
		shortcut = conv(ctx.In("shortcut_conv"), x, channels, 1, stride)
		shortcut = batchNorm(ctx.In("shortcut_bn"), shortcut)
	}
	return activations.Relu(graph.Add(residual, shortcut))
}

// ModelGraph implements train.ModelFn.
func (r ResNet) ModelGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	_ = spec
	x := inputs[0]
	batchSize := x.Shape().Dimensions[0]

	x = conv(ctx.In("conv1"), x, stageChannels[0], 3, 1)
	x = activations.Relu(batchNorm(ctx.In("bn1"), x))
	for stage, channels := range stageChannels {
		for block := range r.NumBlocks {
			stride := 1
			if stage > 0 && block == 0 {
				stride = 2
			}
			x = basicBlock(ctx.In(blockScope(stage, block)), x, channels, stride)
		}
	}

	// Global average pooling over the spatial axes.
	x = graph.ReduceMean(x, 2, 3)
	logits := layers.Dense(ctx.In("fc"), x, true, r.NumClasses)
	logits.AssertDims(batchSize, r.NumClasses)
	return []*graph.Node{logits}
}

// Links describes the submodules created by ModelGraph, by scope.
func (r ResNet) Links() map[string]string {
	root := context.ScopeSeparator + Scope + context.ScopeSeparator
	links := map[string]string{
		root + "conv1": "Convolution",
		root + "bn1":   "BatchNormalization",
		root + "fc":    "Dense",
	}
	inChannels := stageChannels[0]
	for stage, channels := range stageChannels {
		for block := range r.NumBlocks {
			scope := root + blockScope(stage, block)
			links[scope] = "BasicBlock"
			links[scope+"/conv1"] = "Convolution"
			links[scope+"/bn1"] = "BatchNormalization"
			links[scope+"/conv2"] = "Convolution"
			links[scope+"/bn2"] = "BatchNormalization"
			if (stage > 0 && block == 0) || inChannels != channels {
				links[scope+"/shortcut_conv"] = "Convolution"
				links[scope+"/shortcut_bn"] = "BatchNormalization"
			}
			inChannels = channels
		}
	}
	return links
}
