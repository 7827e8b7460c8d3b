// Package preprocess converts blood-smear images into the planar CHW
// float32 layout the classifier consumes, and provides the contrast
// enhancement and augmentation used by the training pipeline.
package preprocess

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Channels is the number of color channels the model expects.
const Channels = 3

// FromImage resizes img to size x size and returns normalized [0,1]
// float32 values in planar CHW order (all R, then all G, then all B).
func FromImage(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	data := make([]float32, Channels*width*height)
	plane := width * height

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			idx := y*width + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(b) / 65535.0
		}
	}

	return data
}

// FromFile decodes a PNG or JPEG file and preprocesses it for inference.
func FromFile(path string, size int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}

	return FromImage(img, size), nil
}

// Augment applies random horizontal and vertical flips, each with
// probability 0.5. Used only at training time.
func Augment(img image.Image, rng *rand.Rand) image.Image {
	if rng.Float64() < 0.5 {
		img = imaging.FlipH(img)
	}
	if rng.Float64() < 0.5 {
		img = imaging.FlipV(img)
	}
	return img
}
