// Package render assembles scene stills, the mixed soundtrack and captions
// into the final video file.
package render

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"video-pipeline/internal/captions"
	"video-pipeline/internal/proc"
)

// sceneFade is the fade from and to black at each scene boundary.
const sceneFade = 500 * time.Millisecond

// Scene is one still, or a looped stock clip when Video is set, shown from
// Start until End.
type Scene struct {
	Image string
	Video bool
	Start time.Duration
	End   time.Duration
}

// fadeLength shortens sceneFade so fade in and fade out never overlap.
func fadeLength(d time.Duration) time.Duration {
	return min(sceneFade, d/2)
}

// fadeLevel is the brightness, 0 to 1, at offset into a scene lasting d.
func fadeLevel(offset, d time.Duration) float64 {
	fade := fadeLength(d)
	if fade <= 0 {
		return 1
	}
	level := min(float64(offset)/float64(fade), float64(d-offset)/float64(fade), 1)
	return max(level, 0)
}

// Input is everything a renderer needs for one job.
type Input struct {
	JobID     string
	Scenes    []Scene
	Audio     string // mixed mono WAV, narration plus music
	Duration  time.Duration
	Captions  *captions.Track // nil when captions are disabled
	Subtitles string          // SRT sidecar for Captions
	OutDir    string
}

// Output describes the written artifact.
type Output struct {
	Path     string
	Format   string // "mp4" or "avi"
	Renderer string
}

// Renderer turns an Input into a playable file. Failures are *models.RenderError.
type Renderer interface {
	Name() string
	Render(ctx context.Context, in Input) (Output, error)
}

// Options configures renderer selection.
type Options struct {
	FFmpegPath string // configured binary name or path
	Runner     proc.Runner
	Width      int
	Height     int
	FPS        int
	Logger     zerolog.Logger
}

// New returns the ffmpeg renderer when the binary resolves on PATH and the
// storyboard renderer otherwise.
func New(opts Options) Renderer {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.Runner == nil {
		opts.Runner = proc.Exec{Logger: opts.Logger}
	}
	if path, ok := proc.Lookup(opts.FFmpegPath); ok {
		opts.Logger.Info().Str("ffmpeg", path).Msg("rendering with ffmpeg")
		return &FFmpeg{Path: path, Runner: opts.Runner, Width: opts.Width, Height: opts.Height, FPS: opts.FPS}
	}
	opts.Logger.Warn().Msg("ffmpeg not found; rendering motion-jpeg storyboards")
	return &Storyboard{Width: opts.Width / 2, Height: opts.Height / 2, FPS: storyboardFPS}
}

// sceneAt returns the index of the scene covering t, clamped to the last scene.
func sceneAt(scenes []Scene, t time.Duration) int {
	for i, s := range scenes {
		if t < s.End {
			return i
		}
	}
	return len(scenes) - 1
}
