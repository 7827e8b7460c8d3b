package preprocess

import (
	"image"
	"image/color"
)

// CLAHE applies Contrast Limited Adaptive Histogram Equalization to the
// luminance channel, preserving hue. Microscopic smear images often have
// weak, uneven contrast; clipLimit 2.0 with an 8x8 tile grid works well.
func CLAHE(img image.Image, clipLimit float64, tiles int) image.Image {
	if tiles < 1 {
		tiles = 1
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return img
	}

	// Luminance plane, 8-bit.
	luma := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			yv := (299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000
			luma[y*w+x] = uint8(yv)
		}
	}

	maps := tileMappings(luma, w, h, tiles, clipLimit)

	tileW := float64(w) / float64(tiles)
	tileH := float64(h) / float64(tiles)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := luma[y*w+x]

			// Position relative to tile centers, for bilinear blending
			// of the four surrounding tile mappings.
			fx := (float64(x) - tileW/2) / tileW
			fy := (float64(y) - tileH/2) / tileH
			tx0, ty0 := int(fx), int(fy)
			if fx < 0 {
				tx0 = -1
			}
			if fy < 0 {
				ty0 = -1
			}
			wx := fx - float64(tx0)
			wy := fy - float64(ty0)

			m00 := float64(mapAt(maps, tiles, tx0, ty0, v))
			m10 := float64(mapAt(maps, tiles, tx0+1, ty0, v))
			m01 := float64(mapAt(maps, tiles, tx0, ty0+1, v))
			m11 := float64(mapAt(maps, tiles, tx0+1, ty0+1, v))

			newY := (1-wy)*((1-wx)*m00+wx*m10) + wy*((1-wx)*m01+wx*m11)

			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			scale := 1.0
			if v > 0 {
				scale = newY / float64(v)
			}
			out.SetRGBA(x, y, color.RGBA{
				R: clamp8(float64(r>>8) * scale),
				G: clamp8(float64(g>>8) * scale),
				B: clamp8(float64(b>>8) * scale),
				A: uint8(a >> 8),
			})
		}
	}
	return out
}

// tileMappings builds one clipped-histogram equalization lookup table per
// tile in the grid.
func tileMappings(luma []uint8, w, h, tiles int, clipLimit float64) [][256]uint8 {
	maps := make([][256]uint8, tiles*tiles)

	for ty := 0; ty < tiles; ty++ {
		for tx := 0; tx < tiles; tx++ {
			x0 := tx * w / tiles
			x1 := (tx + 1) * w / tiles
			y0 := ty * h / tiles
			y1 := (ty + 1) * h / tiles
			n := (x1 - x0) * (y1 - y0)
			if n == 0 {
				continue
			}

			var hist [256]int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[luma[y*w+x]]++
				}
			}

			// Clip the histogram and redistribute the excess evenly.
			limit := int(clipLimit * float64(n) / 256.0)
			if limit < 1 {
				limit = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > limit {
					excess += hist[i] - limit
					hist[i] = limit
				}
			}
			bonus := excess / 256
			for i := range hist {
				hist[i] += bonus
			}

			cdf := 0
			m := &maps[ty*tiles+tx]
			for i := 0; i < 256; i++ {
				cdf += hist[i]
				m[i] = uint8(255 * cdf / n)
			}
		}
	}
	return maps
}

func mapAt(maps [][256]uint8, tiles, tx, ty int, v uint8) uint8 {
	if tx < 0 {
		tx = 0
	}
	if tx >= tiles {
		tx = tiles - 1
	}
	if ty < 0 {
		ty = 0
	}
	if ty >= tiles {
		ty = tiles - 1
	}
	return maps[ty*tiles+tx][v]
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
