// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ToNRGBA converts an image with 1 (gray) or 3 (RGB) channels and values in [0, 1] to a Go image.
func ToNRGBA(img Image) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	toByte := func(v float32) uint8 {
		return uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
	}
	for y := range img.Height {
		for x := range img.Width {
			pos := y*out.Stride + x*4
			for c := range 3 {
				out.Pix[pos+c] = toByte(img.At(min(c, img.Channels-1), y, x))
			}
			out.Pix[pos+3] = 255
		}
	}
	return out
}

// PreviewScale is how much each image is enlarged in the preview grid.
const PreviewScale = 4

// Preview renders a grid with the given samples in the top row and one augmented version
// of each in the bottom row, and saves it to filePath (the format is taken from the extension).
func Preview(filePath string, rng *rand.Rand, t Transformer, samples []Sample) error {
	if len(samples) == 0 {
		return errors.New("no samples to preview")
	}
	const gap = 2
	cellW, cellH := samples[0].Image.Width*PreviewScale, samples[0].Image.Height*PreviewScale
	grid := imaging.New(len(samples)*(cellW+gap)-gap, 2*cellH+gap, color.White)
	for ii, sample := range samples {
		augmented := t.Apply(rng, sample)
		x := ii * (cellW + gap)
		original := imaging.Resize(ToNRGBA(sample.Image), cellW, cellH, imaging.NearestNeighbor)
		grid = imaging.Paste(grid, original, image.Pt(x, 0))
		changed := imaging.Resize(ToNRGBA(augmented.Image), cellW, cellH, imaging.NearestNeighbor)
		grid = imaging.Paste(grid, changed, image.Pt(x, cellH+gap))
	}
	if err := imaging.Save(grid, filePath); err != nil {
		return errors.Wrapf(err, "failed to save augmentation preview to %q", filePath)
	}
	return nil
}
