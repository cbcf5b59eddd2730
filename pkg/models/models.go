// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models implements the image classifiers trained on CIFAR: the ResNet family for
// CIFAR (20, 32, 44, 56 and 110 layers) and a plain CNN.
//
// Models take batches of channels-first images ([batch, channels, height, width]) and
// return the logits ([batch, numClasses]).
package models

import (
	"fmt"
	"slices"

	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Scope is the context scope under which the trainer builds the model; Links keys start with it.
const Scope = "model"

// Architectures accepted by New.
var Architectures = []string{"resnet", "cnn"}

// ResNetDepths are the number of layers supported by the CIFAR ResNet: 6n+2 for n in {3, 5, 7, 9, 18}.
var ResNetDepths = []int{20, 32, 44, 56, 110}

// Model bundles a graph building function with a description of its structure.
type Model struct {
	// Name of the model, e.g.: "ResNet20".
	Name string

	// ModelFn builds the model graph, and can be given to train.NewTrainer.
	ModelFn train.ModelFn

	// Links maps the scope of each named submodule to its layer type, e.g.:
	// "/model/stage1_block0/conv1": "Convolution".
	Links map[string]string
}

// New creates the model for the given architecture. nLayers is only used by "resnet".
func New(arch string, nLayers, numClasses int) (*Model, error) {
	if numClasses <= 0 {
		return nil, errors.Errorf("invalid number of classes %d", numClasses)
	}
	switch arch {
	case "resnet", "":
		if !slices.Contains(ResNetDepths, nLayers) {
			return nil, errors.Errorf("ResNet for CIFAR supports %v layers, got %d", ResNetDepths, nLayers)
		}
		cfg := ResNet{NumBlocks: (nLayers - 2) / 6, NumClasses: numClasses}
		return &Model{
			Name:    fmt.Sprintf("ResNet%d", nLayers),
			ModelFn: cfg.ModelGraph,
			Links:   cfg.Links(),
		}, nil
	case "cnn":
		cfg := CNN{NumClasses: numClasses}
		return &Model{
			Name:    "CNN",
			ModelFn: cfg.ModelGraph,
			Links:   cfg.Links(),
		}, nil
	default:
		return nil, errors.Errorf("unknown architecture %q, valid values are %v", arch, Architectures)
	}
}
