package media

import (
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"

	"video-pipeline/internal/models"
	"video-pipeline/internal/textimg"
)

// palettes holds gradient endpoints per mood.
var palettes = map[models.Mood][2]color.NRGBA{
	models.MoodUpbeat:        {{0xff, 0x8a, 0x00, 0xff}, {0xe5, 0x2e, 0x71, 0xff}},
	models.MoodCalm:          {{0x2c, 0x3e, 0x50, 0xff}, {0x4c, 0xa1, 0xaf, 0xff}},
	models.MoodProfessional:  {{0x1f, 0x2a, 0x44, 0xff}, {0x3a, 0x6f, 0xa8, 0xff}},
	models.MoodInspirational: {{0x41, 0x29, 0x5a, 0xff}, {0xf8, 0xb1, 0x95, 0xff}},
	models.MoodDramatic:      {{0x0f, 0x0c, 0x29, 0xff}, {0x8e, 0x0e, 0x00, 0xff}},
	models.MoodEducational:   {{0x13, 0x4e, 0x5e, 0xff}, {0x71, 0xb2, 0x80, 0xff}},
}

// WritePlaceholder renders a gradient slide labelled with keyword. The
// gradient angle varies with index so consecutive scenes differ.
func WritePlaceholder(path string, width, height int, keyword string, mood models.Mood, index int) error {
	img := Placeholder(width, height, keyword, mood, index)
	return imaging.Save(img, path, imaging.JPEGQuality(90))
}

// Placeholder builds the slide in memory.
func Placeholder(width, height int, keyword string, mood models.Mood, index int) *image.NRGBA {
	pal, ok := palettes[mood]
	if !ok {
		pal = palettes[models.MoodProfessional]
	}
	from, to := pal[0], pal[1]
	if index%2 == 1 {
		from, to = to, from
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	span := float64(width + height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := float64(x+y) / span
			img.SetNRGBA(x, y, lerp(from, to, t))
		}
	}

	label := strings.ToUpper(strings.TrimSpace(keyword))
	if label == "" {
		return img
	}
	text := textimg.Render(label, textimg.Options{
		Color:       color.White,
		Stroke:      color.NRGBA{0, 0, 0, 0xa0},
		StrokeWidth: height / 180,
		Height:      height / 10,
		MaxWidth:    width * 8 / 10,
	})
	return textimg.OverlayCenter(img, text)
}

func lerp(a, b color.NRGBA, t float64) color.NRGBA {
	mix := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t) }
	return color.NRGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 0xff}
}
