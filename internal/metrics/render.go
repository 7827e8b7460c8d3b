package metrics

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	cellSize   = 96
	marginLeft = 110
	marginTop  = 60
)

// RenderConfusionPNG draws the confusion matrix as a blue heatmap with
// counts and class labels, and writes it as a PNG.
func RenderConfusionPNG(cm [][]int, classes []string, path string) error {
	n := len(cm)
	if n == 0 || n != len(classes) {
		return fmt.Errorf("confusion matrix and class list sizes disagree")
	}

	maxCount := 1
	for _, row := range cm {
		for _, v := range row {
			if v > maxCount {
				maxCount = v
			}
		}
	}

	w := marginLeft + n*cellSize + 20
	h := marginTop + n*cellSize + 40
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x0 := marginLeft + j*cellSize
			y0 := marginTop + i*cellSize
			cell := image.Rect(x0, y0, x0+cellSize-2, y0+cellSize-2)

			// Deeper blue for higher counts.
			t := float64(cm[i][j]) / float64(maxCount)
			fill := color.RGBA{
				R: uint8(247 - t*239),
				G: uint8(251 - t*170),
				B: 255,
				A: 255,
			}
			draw.Draw(img, cell, &image.Uniform{fill}, image.Point{}, draw.Src)

			textColor := color.RGBA{A: 255}
			if t > 0.6 {
				textColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			label := fmt.Sprintf("%d", cm[i][j])
			drawText(img, label,
				x0+cellSize/2-len(label)*basicfont.Face7x13.Advance/2,
				y0+cellSize/2+4, textColor)
		}
	}

	black := color.RGBA{A: 255}
	for j, class := range classes {
		drawText(img, class, marginLeft+j*cellSize+8, marginTop-12, black)
	}
	for i, class := range classes {
		drawText(img, class, 6, marginTop+i*cellSize+cellSize/2+4, black)
	}
	drawText(img, "predicted", marginLeft+(n*cellSize)/2-30, 18, black)
	drawText(img, "true", 6, marginTop-36, black)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode plot: %w", err)
	}
	return nil
}

func drawText(dst *image.RGBA, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
