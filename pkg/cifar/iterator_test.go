// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cifar

import (
	"io"
	"math/rand"
	"slices"
	"testing"

	"github.com/cifartrain/cifartrain/pkg/augment"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticDataset has n examples, where example i has label i and all pixels set to i/n.
func syntheticDataset(n int) *Dataset {
	ds := &Dataset{Name: "synthetic"}
	for ii := range n {
		ds.Labels = append(ds.Labels, ii)
		for range imageSizeBytes {
			ds.Pixels = append(ds.Pixels, float32(ii)/float32(n))
		}
	}
	return ds
}

func yieldLabels(t *testing.T, it *Iterator) ([]int64, error) {
	_, inputs, labels, err := it.Yield()
	if err != nil {
		return nil, err
	}
	require.Len(t, inputs, 1)
	require.Len(t, labels, 1)
	batchSize := labels[0].Shape().Dimensions[0]
	assert.Equal(t, []int{batchSize, Depth, Height, Width}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{batchSize, 1}, labels[0].Shape().Dimensions)
	var got []int64
	tensors.MustConstFlatData[int64](labels[0], func(flat []int64) {
		got = slices.Clone(flat)
	})
	return got, nil
}

func TestIteratorInOrder(t *testing.T) {
	it := NewIterator("Validation", syntheticDataset(5), 2)
	assert.Equal(t, "Val", it.ShortName())
	assert.Equal(t, 3, it.BatchesPerEpoch())

	var all []int64
	for {
		labels, err := yieldLabels(t, it)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		all = append(all, labels...)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, all)

	// Reset restarts the pass.
	it.Reset()
	assert.Equal(t, 1, it.Epoch())
	labels, err := yieldLabels(t, it)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, labels)
}

func TestIteratorDropIncomplete(t *testing.T) {
	it := NewIterator("Training", syntheticDataset(5), 2).DropIncompleteBatch(true)
	assert.Equal(t, 2, it.BatchesPerEpoch())
	for range 2 {
		_, err := yieldLabels(t, it)
		require.NoError(t, err)
	}
	_, err := yieldLabels(t, it)
	assert.Equal(t, io.EOF, err)
}

func TestIteratorShuffleAndRepeat(t *testing.T) {
	it := NewIterator("Training", syntheticDataset(6), 3).
		WithRand(rand.New(rand.NewSource(1))).
		Shuffle().
		Repeat(true)

	var epochs [][]int64
	for range 4 {
		epoch := []int64{}
		for range 2 {
			labels, err := yieldLabels(t, it)
			require.NoError(t, err)
			epoch = append(epoch, labels...)
		}
		sorted := slices.Sorted(slices.Values(epoch))
		assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, sorted, "each epoch is a permutation")
		epochs = append(epochs, epoch)
	}
	assert.Equal(t, 3, it.Epoch())
	differs := false
	for _, epoch := range epochs[1:] {
		differs = differs || !slices.Equal(epoch, epochs[0])
	}
	assert.True(t, differs, "order should change between epochs")
}

func TestIteratorAugmentDeterministic(t *testing.T) {
	ds := syntheticDataset(4)
	build := func() *Iterator {
		return NewIterator("Training", ds, 4).
			WithRand(rand.New(rand.NewSource(3))).
			Shuffle().
			Augment(augment.New())
	}
	it1, it2 := build(), build()
	_, inputs1, _, err := it1.Yield()
	require.NoError(t, err)
	_, inputs2, _, err := it2.Yield()
	require.NoError(t, err)
	var pix1, pix2 []float32
	tensors.MustConstFlatData[float32](inputs1[0], func(flat []float32) { pix1 = slices.Clone(flat) })
	tensors.MustConstFlatData[float32](inputs2[0], func(flat []float32) { pix2 = slices.Clone(flat) })
	assert.Equal(t, pix1, pix2)
}

func TestIteratorRequiresRand(t *testing.T) {
	_, _, _, err := NewIterator("Training", syntheticDataset(2), 1).Shuffle().Yield()
	require.Error(t, err)
	_, _, _, err = NewIterator("Training", syntheticDataset(2), 0).Yield()
	require.Error(t, err)
}
