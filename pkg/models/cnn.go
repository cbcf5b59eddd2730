// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// ParamCNNNormalization selects the normalization used by the CNN: "batch" (default), "layer" or "none".
const ParamCNNNormalization = "cnn_normalization"

// ParamCNNDropout is the dropout rate used by the CNN after each pooling. Defaults to 0.3.
const ParamCNNDropout = "cnn_dropout"

// cnnBlockChannels is the number of channels in each of the CNN convolution blocks.
var cnnBlockChannels = []int{32, 64, 128}

// CNN is a plain convolutional network: 3 blocks of 2 convolutions each (32, 64 and 128 channels),
// each block followed by max-pooling and dropout, then a hidden dense layer of 128 units.
//
// It follows the Keras example in Kaggle:
// https://www.kaggle.com/code/ektasharma/simple-cifar10-cnn-keras-code-with-88-accuracy
type CNN struct {
	NumClasses int
}

func normalizeCNN(ctx *context.Context, x *graph.Node) *graph.Node {
	normalizationType := context.GetParamOr(ctx, ParamCNNNormalization, "batch")
	switch normalizationType {
	case "batch":
		featureAxis := 1
		if x.Rank() == 2 {
			featureAxis = -1
		}
		return batchnorm.New(ctx, x, featureAxis).Done()
	case "layer":
		if x.Rank() == 4 {
			return layers.LayerNormalization(ctx, x, 2, 3).Done()
		}
		return layers.LayerNormalization(ctx, x, -1).Done()
	case "none", "":
		return x
	default:
		exceptions.Panicf("invalid normalization type %q: set it with parameter %q", normalizationType, ParamCNNNormalization)
		panic(nil)
	}
}

// ModelGraph implements train.ModelFn.
func (c CNN) ModelGraph(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
	_ = spec
	x := inputs[0]
	g := x.Graph()
	dtype := x.DType()
	batchSize := x.Shape().Dimensions[0]
	dropoutRate := graph.Scalar(g, dtype, context.GetParamOr(ctx, ParamCNNDropout, 0.3))

	for blockIdx, channels := range cnnBlockChannels {
		for convIdx := range 2 {
			name := fmt.Sprintf("block%d_conv%d", blockIdx, convIdx)
			x = layers.Convolution(ctx.In(name), x).
				Channels(channels).
				KernelSize(3).
				PadSame().
				ChannelsAxis(images.ChannelsFirst).
				Done()
			x = activations.Relu(x)
			x = normalizeCNN(ctx.Inf("block%d_norm%d", blockIdx, convIdx), x)
		}
		x = graph.MaxPool(x).ChannelsAxis(images.ChannelsFirst).Window(2).Done()
		x = layers.DropoutNormalize(ctx.Inf("block%d_dropout", blockIdx), x, dropoutRate, true)
	}

	x = graph.Reshape(x, batchSize, -1)
	x = layers.Dense(ctx.In("dense0"), x, true, 128)
	x = activations.Relu(x)
	x = normalizeCNN(ctx.In("dense0_norm"), x)
	x = layers.DropoutNormalize(ctx.In("dense0_dropout"), x, dropoutRate, true)
	logits := layers.Dense(ctx.In("dense1"), x, true, c.NumClasses)
	return []*graph.Node{logits}
}

// Links describes the submodules created by ModelGraph, by scope.
func (c CNN) Links() map[string]string {
	root := context.ScopeSeparator + Scope + context.ScopeSeparator
	links := map[string]string{
		root + "dense0":         "Dense",
		root + "dense0_norm":    "Normalization",
		root + "dense0_dropout": "Dropout",
		root + "dense1":         "Dense",
	}
	for blockIdx := range cnnBlockChannels {
		for convIdx := range 2 {
			links[root+fmt.Sprintf("block%d_conv%d", blockIdx, convIdx)] = "Convolution"
			links[root+fmt.Sprintf("block%d_norm%d", blockIdx, convIdx)] = "Normalization"
		}
		links[root+fmt.Sprintf("block%d_dropout", blockIdx)] = "Dropout"
	}
	return links
}
