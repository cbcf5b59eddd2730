// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment implements the training-time data augmentation for CIFAR images:
// zero padding, random horizontal flip and random crop back to the original size.
//
// All randomness comes from the *rand.Rand passed by the caller, so the sequence of
// augmented samples is reproducible given the seed.
package augment

import (
	"math/rand"

	"github.com/gomlx/exceptions"
)

// DefaultPad is the number of zero pixels added to each side of the image before cropping.
const DefaultPad = 4

// Image holds pixel values in channels-first (CHW) layout: Pix[(c*Height+y)*Width+x].
type Image struct {
	Channels, Height, Width int
	Pix                     []float32
}

// NewImage returns a zero-filled image.
func NewImage(channels, height, width int) Image {
	return Image{Channels: channels, Height: height, Width: width, Pix: make([]float32, channels*height*width)}
}

// Shape returns [Channels, Height, Width].
func (img Image) Shape() []int { return []int{img.Channels, img.Height, img.Width} }

// At returns the value at channel c, row y and column x.
func (img Image) At(c, y, x int) float32 {
	return img.Pix[(c*img.Height+y)*img.Width+x]
}

// Set the value at channel c, row y and column x.
func (img Image) Set(c, y, x int, v float32) {
	img.Pix[(c*img.Height+y)*img.Width+x] = v
}

// Sample is one labeled example.
type Sample struct {
	Image Image
	Label int
}

// Pad returns a copy of img with pad zero pixels added on each side of both spatial axes.
func Pad(img Image, pad int) Image {
	padded := NewImage(img.Channels, img.Height+2*pad, img.Width+2*pad)
	for c := range img.Channels {
		for y := range img.Height {
			src := img.Pix[(c*img.Height+y)*img.Width : (c*img.Height+y+1)*img.Width]
			dstStart := (c*padded.Height+y+pad)*padded.Width + pad
			copy(padded.Pix[dstStart:dstStart+img.Width], src)
		}
	}
	return padded
}

// FlipHorizontal returns a copy of img mirrored along the width axis.
func FlipHorizontal(img Image) Image {
	flipped := NewImage(img.Channels, img.Height, img.Width)
	for c := range img.Channels {
		for y := range img.Height {
			for x := range img.Width {
				flipped.Set(c, y, img.Width-1-x, img.At(c, y, x))
			}
		}
	}
	return flipped
}

// Crop returns the height×width window of img whose top-left corner is at (top, left).
// It panics if the window doesn't fit in img.
func Crop(img Image, top, left, height, width int) Image {
	if top < 0 || left < 0 || top+height > img.Height || left+width > img.Width {
		exceptions.Panicf("augment.Crop: window %dx%d at (%d, %d) doesn't fit image of %dx%d",
			height, width, top, left, img.Height, img.Width)
	}
	cropped := NewImage(img.Channels, height, width)
	for c := range img.Channels {
		for y := range height {
			srcStart := (c*img.Height+top+y)*img.Width + left
			dstStart := (c*height + y) * width
			copy(cropped.Pix[dstStart:dstStart+width], img.Pix[srcStart:srcStart+width])
		}
	}
	return cropped
}

// Transformer configures the augmentation. The zero value is not valid, use New.
type Transformer struct {
	// Pad is the number of zeros added on each side before cropping.
	Pad int

	// CropHeight and CropWidth of the output. If 0, the input's height and width are used,
	// so the output has the same shape as the input.
	CropHeight, CropWidth int
}

// New returns the default Transformer: pad by DefaultPad and crop back to the input size.
func New() Transformer {
	return Transformer{Pad: DefaultPad}
}

// Apply augments the sample: it pads the image, flips it horizontally with probability 1/2
// and crops a random window. The label is kept and the input is not modified.
//
// Exactly three values are drawn from rng, in this order:
//
//  1. rng.Intn(2): flip if 1;
//  2. rng.Intn(paddedHeight-cropHeight+1): top of the crop window;
//  3. rng.Intn(paddedWidth-cropWidth+1): left of the crop window.
//
// The flip is applied to the whole padded image before the window is cropped.
func (t Transformer) Apply(rng *rand.Rand, s Sample) Sample {
	cropH, cropW := t.CropHeight, t.CropWidth
	if cropH == 0 {
		cropH = s.Image.Height
	}
	if cropW == 0 {
		cropW = s.Image.Width
	}
	padded := Pad(s.Image, t.Pad)
	if cropH > padded.Height || cropW > padded.Width {
		exceptions.Panicf("augment: crop %dx%d larger than padded image %dx%d",
			cropH, cropW, padded.Height, padded.Width)
	}

	flip := rng.Intn(2) == 1
	top := rng.Intn(padded.Height - cropH + 1)
	left := rng.Intn(padded.Width - cropW + 1)

	if flip {
		padded = FlipHorizontal(padded)
	}
	return Sample{Image: Crop(padded, top, left, cropH, cropW), Label: s.Label}
}

// Transform applies the default augmentation (see Transformer.Apply) to s.
func Transform(rng *rand.Rand, s Sample) Sample {
	return New().Apply(rng, s)
}
