package media

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// minSourceEdge is the size below which a fetched still is upscaled before grading.
const minSourceEdge = 1280

// Polish upscales small sources so the shorter edge reaches minSourceEdge,
// then sharpens and grades the image: +25% saturation, +20% contrast and
// +8% brightness.
func Polish(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if w, h := b.Dx(), b.Dy(); w > 0 && h > 0 && w < minSourceEdge && h < minSourceEdge {
		scale := math.Max(float64(minSourceEdge)/float64(w), float64(minSourceEdge)/float64(h))
		img = imaging.Resize(img, int(math.Round(float64(w)*scale)), int(math.Round(float64(h)*scale)), imaging.Lanczos)
	}
	out := imaging.Sharpen(img, 1.5)
	out = imaging.AdjustSaturation(out, 25)
	out = imaging.AdjustContrast(out, 20)
	return imaging.AdjustBrightness(out, 8)
}
