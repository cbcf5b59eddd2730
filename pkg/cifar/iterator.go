// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cifar

import (
	"io"
	"math/rand"

	"github.com/cifartrain/cifartrain/pkg/augment"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Iterator yields batches of a Dataset in order (or shuffled each epoch), optionally
// augmenting each sample. It implements train.Dataset.
//
// Each yield returns one input tensor shaped [batchSize, Depth, Height, Width] (float32) and
// one label tensor shaped [batchSize, 1] (int64).
//
// It is not safe for concurrent use: wrap it with datasets.CustomParallel(...).Parallelism(1)
// to prefetch batches from a single producer.
type Iterator struct {
	name, shortName string
	ds              *Dataset
	batchSize       int
	dropIncomplete  bool
	repeat          bool

	rng       *rand.Rand
	shuffle   bool
	augmenter *augment.Transformer

	order    []int
	pos      int
	epoch    int
	shuffled bool // Whether order was shuffled for the current epoch.
}

var (
	_ train.Dataset      = (*Iterator)(nil)
	_ train.HasShortName = (*Iterator)(nil)
)

// NewIterator creates an Iterator over ds, yielding examples in order, one pass only,
// keeping the last incomplete batch. Use the configuration methods to change that.
func NewIterator(name string, ds *Dataset, batchSize int) *Iterator {
	it := &Iterator{
		name:      name,
		shortName: name,
		ds:        ds,
		batchSize: batchSize,
		order:     make([]int, ds.Len()),
	}
	if len(name) > 3 {
		it.shortName = name[:3]
	}
	for ii := range it.order {
		it.order[ii] = ii
	}
	return it
}

// WithRand sets the random number generator used for shuffling and augmentation.
// It is required by Shuffle and Augment.
func (it *Iterator) WithRand(rng *rand.Rand) *Iterator {
	it.rng = rng
	return it
}

// Shuffle the order of the examples at the start of each epoch.
func (it *Iterator) Shuffle() *Iterator {
	it.shuffle = true
	return it
}

// Augment every sample yielded with the given transformer.
func (it *Iterator) Augment(t augment.Transformer) *Iterator {
	it.augmenter = &t
	return it
}

// DropIncompleteBatch makes the iterator skip the last batch of an epoch if it has fewer than batchSize examples.
// Useful for training, so the model always sees the same shapes.
func (it *Iterator) DropIncompleteBatch(drop bool) *Iterator {
	it.dropIncomplete = drop
	return it
}

// Repeat makes the iterator loop over the data indefinitely, starting a new epoch instead of returning io.EOF.
// Don't use a repeating iterator with train.Loop.RunEpochs.
func (it *Iterator) Repeat(repeat bool) *Iterator {
	it.repeat = repeat
	return it
}

// WithShortName sets the short name used in metric names. It defaults to the first 3 letters of the name.
func (it *Iterator) WithShortName(shortName string) *Iterator {
	it.shortName = shortName
	return it
}

// Name implements train.Dataset.
func (it *Iterator) Name() string { return it.name }

// ShortName implements train.HasShortName.
func (it *Iterator) ShortName() string { return it.shortName }

// Dataset returns the underlying Dataset.
func (it *Iterator) Dataset() *Dataset { return it.ds }

// BatchSize returns the number of examples per batch.
func (it *Iterator) BatchSize() int { return it.batchSize }

// Epoch returns the number of completed passes over the data.
func (it *Iterator) Epoch() int { return it.epoch }

// BatchesPerEpoch returns the number of batches yielded in one pass over the data.
func (it *Iterator) BatchesPerEpoch() int {
	n := it.ds.Len() / it.batchSize
	if !it.dropIncomplete && it.ds.Len()%it.batchSize != 0 {
		n++
	}
	return n
}

func (it *Iterator) reshuffle() {
	if !it.shuffle || it.shuffled {
		return
	}
	it.shuffled = true
	it.rng.Shuffle(len(it.order), func(i, j int) {
		it.order[i], it.order[j] = it.order[j], it.order[i]
	})
}

// Reset implements train.Dataset. It restarts from the first example; the order is reshuffled, if
// configured to, when the next epoch starts.
func (it *Iterator) Reset() {
	if it.pos > 0 {
		it.epoch++
	}
	it.pos = 0
	it.shuffled = false
}

func (it *Iterator) remaining() int {
	return len(it.order) - it.pos
}

// Yield implements train.Dataset.
func (it *Iterator) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if it.batchSize <= 0 {
		return nil, nil, nil, errors.Errorf("cifar.Iterator %q: invalid batch size %d", it.name, it.batchSize)
	}
	if (it.shuffle || it.augmenter != nil) && it.rng == nil {
		return nil, nil, nil, errors.Errorf("cifar.Iterator %q: shuffle or augmentation requires WithRand", it.name)
	}
	if it.ds.Len() == 0 || (it.dropIncomplete && it.ds.Len() < it.batchSize) {
		return nil, nil, nil, io.EOF
	}
	endOfEpoch := it.remaining() == 0 || (it.dropIncomplete && it.remaining() < it.batchSize)
	if endOfEpoch {
		if !it.repeat {
			return nil, nil, nil, io.EOF
		}
		it.Reset()
	}

	if it.pos == 0 {
		it.reshuffle()
	}
	n := min(it.batchSize, it.remaining())
	sampleSize := Depth * Height * Width
	pixels := make([]float32, n*sampleSize)
	batchLabels := make([]int64, n)
	for ii := range n {
		sample := it.ds.Sample(it.order[it.pos+ii])
		if it.augmenter != nil {
			sample = it.augmenter.Apply(it.rng, sample)
		}
		copy(pixels[ii*sampleSize:(ii+1)*sampleSize], sample.Image.Pix)
		batchLabels[ii] = int64(sample.Label)
	}
	it.pos += n
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(pixels, n, Depth, Height, Width)}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(batchLabels, n, 1)}
	return nil, inputs, labels, nil
}
