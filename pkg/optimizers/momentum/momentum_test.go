// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package momentum

import (
	"strings"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperparams(t *testing.T) {
	opt := New().Done()
	assert.Equal(t, "MomentumSGD", opt.Name())
	assert.Equal(t, map[string]any{"lr": 0.01, "momentum": 0.9}, opt.Hyperparams())

	ctx := context.New()
	ctx.SetParams(map[string]any{optimizers.ParamLearningRate: 0.1, ParamMomentum: 0.5})
	opt = New().FromContext(ctx).Done()
	assert.Equal(t, map[string]any{"lr": 0.1, "momentum": 0.5}, opt.Hyperparams())

	opt = New().LearningRate(0.2).Momentum(0.0).Done()
	assert.Equal(t, map[string]any{"lr": 0.2, "momentum": 0.0}, opt.Hyperparams())
}

func TestUpdateGraph(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping optimizer graph test in short mode.")
	}
	backend, err := backends.New()
	require.NoError(t, err)
	ctx := context.New()
	opt := New().LearningRate(0.1).Momentum(0.9).Done()

	// Minimizes loss = x^2, starting from x = 1.
	step := context.MustNewExec(backend, ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		x := ctx.In("model").VariableWithValue("x", float32(1)).ValueGraph(g)
		loss := graph.Mul(x, x)
		opt.UpdateGraph(ctx, g, loss)
		return x
	})
	// Values are read before the update: x_0 = 1; v_1 = -0.2, x_1 = 0.8; v_2 = -0.34, x_2 = 0.46.
	_ = step.MustExec1()
	x1 := step.MustExec1().Value().(float32)
	x2 := step.MustExec1().Value().(float32)
	assert.InDelta(t, 0.8, x1, 1e-5)
	assert.InDelta(t, 0.46, x2, 1e-5)
	assert.Equal(t, int64(3), optimizers.GetGlobalStep(ctx))

	lr, err := LearningRate(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, lr, 1e-7)
	require.NoError(t, SetLearningRate(ctx, 0.01))
	lr, err = LearningRate(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, lr, 1e-7)

	countVelocities := func() (count int) {
		for v := range ctx.IterVariables() {
			if strings.HasSuffix(v.Name(), "_velocity") {
				count++
			}
		}
		return
	}
	assert.Equal(t, 1, countVelocities())
	require.NoError(t, opt.Clear(ctx))
	assert.Equal(t, 0, countVelocities())
}

func TestSetLearningRateWithoutGraph(t *testing.T) {
	require.Error(t, SetLearningRate(context.New(), 0.1))
	_, err := LearningRate(context.New())
	require.Error(t, err)
}
