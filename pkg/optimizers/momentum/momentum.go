// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package momentum implements stochastic gradient descent with (heavy-ball) momentum:
//
//	velocity = momentum * velocity - learningRate * gradient
//	weight = weight + velocity
//
// The learning rate is kept in the standard optimizers learning rate variable, so it can be
// changed during training (see SetLearningRate).
package momentum

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// DefaultLearningRate used if none is configured.
	DefaultLearningRate = 0.01

	// DefaultMomentum used if none is configured.
	DefaultMomentum = 0.9

	// ParamMomentum is the context hyperparameter with the momentum coefficient (float64).
	// The learning rate is read from optimizers.ParamLearningRate.
	ParamMomentum = "momentum"

	// DefaultScope holds the velocity variables, one per trainable variable.
	DefaultScope = "MomentumSGD"

	// Name of the optimizer, as reported by Optimizer.Name.
	Name = "MomentumSGD"
)

// Config for the momentum optimizer. Create it with New, and call Done when configured.
type Config struct {
	scopeName    string
	learningRate float64
	momentum     float64
}

// New returns a configuration with the default learning rate and momentum.
func New() *Config {
	return &Config{
		scopeName:    DefaultScope,
		learningRate: DefaultLearningRate,
		momentum:     DefaultMomentum,
	}
}

// FromContext reads the learning rate (optimizers.ParamLearningRate) and ParamMomentum from the
// context hyperparameters, keeping the current values if they are not set.
func (c *Config) FromContext(ctx *context.Context) *Config {
	c.learningRate = context.GetParamOr(ctx, optimizers.ParamLearningRate, c.learningRate)
	c.momentum = context.GetParamOr(ctx, ParamMomentum, c.momentum)
	return c
}

// LearningRate sets the initial learning rate.
func (c *Config) LearningRate(value float64) *Config {
	c.learningRate = value
	return c
}

// Momentum sets the momentum coefficient, usually in [0, 1).
func (c *Config) Momentum(value float64) *Config {
	c.momentum = value
	return c
}

// Scope sets the scope where velocities are stored. Defaults to DefaultScope.
func (c *Config) Scope(name string) *Config {
	c.scopeName = name
	return c
}

// Done returns the configured optimizer.
func (c *Config) Done() *Optimizer {
	return &Optimizer{config: *c}
}

// Optimizer implements optimizers.Interface.
type Optimizer struct {
	config Config
}

var _ optimizers.Interface = (*Optimizer)(nil)

// Name returns the name of the optimizer.
func (o *Optimizer) Name() string { return Name }

// Hyperparams returns the values the optimizer was created with.
func (o *Optimizer) Hyperparams() map[string]any {
	return map[string]any{
		"lr":       o.config.learningRate,
		"momentum": o.config.momentum,
	}
}

// UpdateGraph implements optimizers.Interface.
func (o *Optimizer) UpdateGraph(ctx *context.Context, g *graph.Graph, loss *graph.Node) {
	if !loss.Shape().IsScalar() {
		exceptions.Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	o.UpdateGraphWithGradients(ctx, grads, loss.DType())
}

// UpdateGraphWithGradients applies the update given the gradients of the trainable variables,
// in the order returned by Context.BuildTrainableVariablesGradientsGraph.
func (o *Optimizer) UpdateGraphWithGradients(ctx *context.Context, grads []*graph.Node, lossDType dtypes.DType) {
	if len(grads) == 0 {
		exceptions.Panicf("no gradients given, are there any trainable variables?")
	}
	g := grads[0].Graph()
	dtype := lossDType

	learningRate := optimizers.LearningRateVar(ctx, dtype, o.config.learningRate).ValueGraph(g)
	_ = optimizers.IncrementGlobalStepGraph(ctx, g, dtype)
	momentum := graph.Scalar(g, dtype, o.config.momentum)

	// Velocities are created below, so trainable variables are collected before.
	var trainables []*context.Variable
	for v := range ctx.IterVariables() {
		if v.Trainable && v.InUseByGraph(g) {
			trainables = append(trainables, v)
		}
	}
	if len(trainables) != len(grads) {
		exceptions.Panicf("got gradients for %d variables, but the optimizer sees %d trainable variables: "+
			"were variables created in between?", len(grads), len(trainables))
	}
	for ii, v := range trainables {
		o.applyGraph(ctx, g, v, dtype, grads[ii], learningRate, momentum)
	}
}

func (o *Optimizer) applyGraph(ctx *context.Context, g *graph.Graph, v *context.Variable, dtype dtypes.DType,
	grad, learningRate, momentum *graph.Node) {
	velocityVar := o.velocityVariable(ctx, v, dtype)
	velocity := velocityVar.ValueGraph(g)

	if grad.DType() != dtype {
		grad = graph.ConvertDType(grad, dtype)
	}
	optimizers.TraceNaNInGradients(ctx, v, grad)
	grad = optimizers.ClipNaNsInGradients(ctx, grad)

	velocity = graph.Sub(graph.Mul(momentum, velocity), graph.Mul(learningRate, grad))
	velocity = optimizers.ClipStepByValue(ctx, velocity)
	velocityVar.SetValueGraph(velocity)

	value := v.ValueGraph(g)
	if value.DType() != dtype {
		value = graph.ConvertDType(value, dtype)
	}
	updated := graph.Add(value, velocity)
	updated = optimizers.ClipNaNsInUpdates(ctx, value, updated)
	if v.DType() != dtype {
		updated = graph.ConvertDType(updated, v.DType())
	}
	v.SetValueGraph(updated)
}

// velocityVariable returns the velocity of the trainable variable, creating it zero-initialized if needed.
func (o *Optimizer) velocityVariable(ctx *context.Context, trainable *context.Variable, dtype dtypes.DType) *context.Variable {
	scopePath := fmt.Sprintf("%s%s%s", context.ScopeSeparator, o.config.scopeName, trainable.Scope())
	shape := trainable.Shape().Clone()
	shape.DType = dtype
	return ctx.Checked(false).
		InAbsPath(scopePath).
		WithInitializer(initializers.Zero).
		VariableWithShape(trainable.Name()+"_velocity", shape).
		SetTrainable(false)
}

// Clear deletes the velocity variables. It implements optimizers.Interface.
func (o *Optimizer) Clear(ctx *context.Context) error {
	return ctx.InAbsPath(context.ScopeSeparator + o.config.scopeName).DeleteVariablesInScope()
}

// learningRateVar finds the learning rate variable created by optimizers.LearningRateVar, in whatever
// scope the trainer built the optimizer.
func learningRateVar(ctx *context.Context) (*context.Variable, error) {
	suffix := context.ScopeSeparator + optimizers.Scope
	for v := range ctx.IterVariables() {
		if v.Name() == optimizers.ParamLearningRate && strings.HasSuffix(v.Scope(), suffix) {
			return v, nil
		}
	}
	return nil, errors.New("learning rate variable not found: was the training graph built?")
}

// SetLearningRate changes the value of the learning rate variable, used by the next training steps.
// The variable must have been created already, which happens when the training graph is first built.
func SetLearningRate(ctx *context.Context, value float64) error {
	lrVar, err := learningRateVar(ctx)
	if err != nil {
		return err
	}
	var t *tensors.Tensor
	switch lrVar.DType() {
	case dtypes.Float32:
		t = tensors.FromScalar(float32(value))
	case dtypes.Float64:
		t = tensors.FromScalar(value)
	default:
		return errors.Errorf("learning rate variable has unsupported dtype %s", lrVar.DType())
	}
	return lrVar.SetValue(t)
}

// LearningRate returns the current value of the learning rate variable.
func LearningRate(ctx *context.Context) (float64, error) {
	lrVar, err := learningRateVar(ctx)
	if err != nil {
		return 0, err
	}
	value, err := lrVar.Value()
	if err != nil {
		return 0, err
	}
	switch v := value.Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, errors.Errorf("learning rate variable holds unexpected %T", v)
	}
}
