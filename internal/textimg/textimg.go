// Package textimg rasterizes short caption and label text with a bitmap font.
package textimg

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	glyphWidth  = 7
	glyphHeight = 13
	glyphAscent = 11
	lineGap     = 3
)

// Options controls color, outline and final pixel size.
type Options struct {
	Color       color.Color
	Stroke      color.Color
	StrokeWidth int // output pixels
	Height      int // target glyph height in output pixels
	MaxWidth    int // wrap width in output pixels; 0 disables wrapping
}

// Render returns text on a transparent background, scaled so each glyph is
// about opts.Height pixels tall.
func Render(text string, opts Options) *image.NRGBA {
	if opts.Color == nil {
		opts.Color = color.White
	}
	scale := opts.Height / glyphHeight
	if scale < 1 {
		scale = 1
	}
	stroke := 0
	if opts.StrokeWidth > 0 && opts.Stroke != nil {
		stroke = (opts.StrokeWidth + scale - 1) / scale
	}

	maxChars := 0
	if opts.MaxWidth > 0 {
		maxChars = opts.MaxWidth/(glyphWidth*scale) - 1
	}
	lines := Wrap(text, maxChars)
	if len(lines) == 0 {
		return image.NewNRGBA(image.Rect(0, 0, 1, 1))
	}

	longest := 0
	for _, l := range lines {
		longest = max(longest, len([]rune(l)))
	}
	w := longest*glyphWidth + 2*stroke
	h := len(lines)*(glyphHeight+lineGap) - lineGap + 2*stroke
	small := image.NewRGBA(image.Rect(0, 0, w, h))

	for i, line := range lines {
		lineW := len([]rune(line)) * glyphWidth
		x := stroke + (longest*glyphWidth-lineW)/2
		y := stroke + i*(glyphHeight+lineGap) + glyphAscent
		if stroke > 0 {
			for dx := -stroke; dx <= stroke; dx++ {
				for dy := -stroke; dy <= stroke; dy++ {
					if dx != 0 || dy != 0 {
						drawString(small, line, x+dx, y+dy, opts.Stroke)
					}
				}
			}
		}
		drawString(small, line, x, y, opts.Color)
	}
	return imaging.Resize(small, w*scale, h*scale, imaging.NearestNeighbor)
}

func drawString(dst draw.Image, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// Wrap breaks text into lines of at most maxChars runes. Zero disables wrapping.
func Wrap(text string, maxChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if maxChars <= 0 {
		return []string{strings.Join(words, " ")}
	}
	var (
		lines []string
		cur   string
	)
	for _, w := range words {
		switch {
		case cur == "":
			cur = w
		case len([]rune(cur))+1+len([]rune(w)) <= maxChars:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

// OverlayBottom draws label centered horizontally, margin pixels above the bottom edge.
func OverlayBottom(dst *image.NRGBA, label *image.NRGBA, margin int) *image.NRGBA {
	b := dst.Bounds()
	lb := label.Bounds()
	x := (b.Dx() - lb.Dx()) / 2
	y := b.Dy() - lb.Dy() - margin
	return imaging.Overlay(dst, label, image.Pt(x, y), 1.0)
}

// OverlayCenter draws label in the middle of dst.
func OverlayCenter(dst *image.NRGBA, label *image.NRGBA) *image.NRGBA {
	b := dst.Bounds()
	lb := label.Bounds()
	return imaging.Overlay(dst, label, image.Pt((b.Dx()-lb.Dx())/2, (b.Dy()-lb.Dy())/2), 1.0)
}
