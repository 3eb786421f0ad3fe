package captions

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"video-pipeline/internal/models"
)

// DefaultStyle is used when a request names no preset.
const DefaultStyle = "modern"

// Style is a named visual preset for burned-in captions. FontSize is in
// pixels at 1080 lines of output.
type Style struct {
	Name        string
	FontSize    int
	Font        string
	Color       color.RGBA
	Stroke      color.RGBA
	StrokeWidth int
	Transform   string // "", "upper", "lower" or "title"
}

var (
	white     = color.RGBA{0xff, 0xff, 0xff, 0xff}
	black     = color.RGBA{0x00, 0x00, 0x00, 0xff}
	yellow    = color.RGBA{0xff, 0xff, 0x00, 0xff}
	offWhite  = color.RGBA{0xf0, 0xf0, 0xf0, 0xff}
	charcoal  = color.RGBA{0x33, 0x33, 0x33, 0xff}
	cyan      = color.RGBA{0x00, 0xff, 0xff, 0xff}
	magenta   = color.RGBA{0xff, 0x00, 0xff, 0xff}
	noOutline = color.RGBA{}
)

var presets = map[string]Style{
	"modern":    {FontSize: 70, Font: "Helvetica", Color: white, Stroke: black, StrokeWidth: 3},
	"uppercase": {FontSize: 75, Font: "Impact", Color: white, Stroke: black, StrokeWidth: 4, Transform: "upper"},
	"lowercase": {FontSize: 60, Font: "Helvetica", Color: white, Stroke: black, StrokeWidth: 2, Transform: "lower"},
	"classic":   {FontSize: 60, Font: "Helvetica", Color: yellow, Stroke: black, StrokeWidth: 2},
	"minimal":   {FontSize: 65, Font: "Helvetica", Color: white, Stroke: noOutline},
	"bold":      {FontSize: 80, Font: "Helvetica", Color: white, Stroke: black, StrokeWidth: 4},
	"elegant":   {FontSize: 65, Font: "Helvetica", Color: offWhite, Stroke: charcoal, StrokeWidth: 2, Transform: "title"},
	"neon":      {FontSize: 75, Font: "Impact", Color: cyan, Stroke: magenta, StrokeWidth: 3, Transform: "upper"},
	"shadow":    {FontSize: 70, Font: "Helvetica", Color: white, Stroke: black, StrokeWidth: 5},
	"outline":   {FontSize: 75, Font: "Impact", Color: black, Stroke: white, StrokeWidth: 4, Transform: "upper"},
}

// StyleNames lists the available presets in alphabetical order.
func StyleNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupStyle returns the named preset. An empty name selects DefaultStyle;
// an unknown name is a validation error.
func LookupStyle(name string) (Style, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultStyle
	}
	s, ok := presets[name]
	if !ok {
		return Style{}, models.Invalid("caption_style", "unknown caption style %q (available: %s)", name, strings.Join(StyleNames(), ", "))
	}
	s.Name = name
	return s, nil
}

// Apply runs the preset's text transform.
func (s Style) Apply(text string) string {
	switch s.Transform {
	case "upper":
		return cases.Upper(language.English).String(text)
	case "lower":
		return cases.Lower(language.English).String(text)
	case "title":
		return cases.Title(language.English).String(text)
	default:
		return text
	}
}

// ForceStyle renders the preset as an ASS override for ffmpeg's subtitles
// filter. libass scales SRT input to 288 lines, so sizes are converted.
func (s Style) ForceStyle() string {
	size := s.FontSize * 288 / 1080
	if size < 8 {
		size = 8
	}
	outline := s.StrokeWidth * 288 / 1080
	if s.StrokeWidth > 0 && outline == 0 {
		outline = 1
	}
	return fmt.Sprintf("FontName=%s,FontSize=%d,PrimaryColour=%s,OutlineColour=%s,BorderStyle=1,Outline=%d,Shadow=0,Alignment=2,MarginV=24",
		s.Font, size, assColour(s.Color), assColour(s.Stroke), outline)
}

// assColour encodes c as &HAABBGGRR with ASS's inverted alpha.
func assColour(c color.RGBA) string {
	return fmt.Sprintf("&H%02X%02X%02X%02X", 0xff-c.A, c.B, c.G, c.R)
}
