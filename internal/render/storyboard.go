package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"video-pipeline/internal/audio"
	"video-pipeline/internal/captions"
	"video-pipeline/internal/models"
	"video-pipeline/internal/textimg"
)

const (
	storyboardFPS     = 2
	storyboardQuality = 80
	fadeSteps         = 10
)

// Storyboard writes a Motion-JPEG AVI with PCM audio entirely in Go. It is
// the renderer used on hosts without ffmpeg.
type Storyboard struct {
	Width  int
	Height int
	FPS    int
}

func (s *Storyboard) Name() string { return "storyboard" }

func (s *Storyboard) Render(ctx context.Context, in Input) (Output, error) {
	if len(in.Scenes) == 0 {
		return Output{}, &models.RenderError{Reason: "no scenes to render"}
	}
	fps := s.FPS
	if fps <= 0 {
		fps = storyboardFPS
	}
	clip, err := audio.Read(in.Audio)
	if err != nil {
		return Output{}, &models.RenderError{Reason: "soundtrack unreadable", Err: err}
	}
	duration := in.Duration
	if duration <= 0 {
		duration = clip.Duration()
	}
	frames := int((duration*time.Duration(fps) + time.Second - 1) / time.Second)
	if frames < 1 {
		frames = 1
	}

	out := filepath.Join(in.OutDir, "video_"+in.JobID+".avi")
	w, err := createAVI(out, aviParams{
		Width:      s.Width,
		Height:     s.Height,
		FPS:        fps,
		Frames:     frames,
		SampleRate: clip.Rate,
		Samples:    len(clip.Samples),
	})
	if err != nil {
		return Output{}, &models.RenderError{Reason: "could not create output", Err: err}
	}

	if err := s.writeFrames(ctx, w, in, clip, fps, frames); err != nil {
		w.Abort()
		if ctx.Err() != nil {
			return Output{}, &models.RenderError{Reason: "timed out", Err: ctx.Err()}
		}
		return Output{}, &models.RenderError{Reason: "storyboard encoding failed", Err: err}
	}
	if err := w.Close(); err != nil {
		return Output{}, &models.RenderError{Reason: "storyboard encoding failed", Err: err}
	}
	return Output{Path: out, Format: "avi", Renderer: s.Name()}, nil
}

func (s *Storyboard) writeFrames(ctx context.Context, w *aviWriter, in Input, clip audio.Clip, fps, frames int) error {
	pcm := clip.PCM16()
	bases := make(map[int]*image.NRGBA)

	var (
		lastKey  string
		lastJPEG []byte
	)
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := time.Duration(i) * time.Second / time.Duration(fps)
		idx := sceneAt(in.Scenes, t)
		scene := in.Scenes[idx]
		text := ""
		if in.Captions != nil {
			if cue, ok := in.Captions.At(t); ok {
				text = cue.Text
			}
		}
		// sample the fade at the middle of the frame's display interval
		mid := t + time.Second/time.Duration(2*fps)
		level := math.Round(fadeLevel(mid-scene.Start, scene.End-scene.Start)*fadeSteps) / fadeSteps

		key := fmt.Sprintf("%d\x00%.2f\x00%s", idx, level, text)
		if key != lastKey {
			base, ok := bases[idx]
			if !ok {
				var err error
				base, err = s.loadScene(scene)
				if err != nil {
					return err
				}
				bases[idx] = base
			}
			frame := dim(base, level)
			if text != "" {
				frame = s.caption(frame, text, in.Captions.Style)
			}
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(storyboardQuality)); err != nil {
				return fmt.Errorf("encode frame %d: %w", i, err)
			}
			lastKey, lastJPEG = key, buf.Bytes()
		}
		if err := w.WriteFrame(lastJPEG); err != nil {
			return err
		}

		from := i * clip.Rate / fps * 2
		to := (i + 1) * clip.Rate / fps * 2
		if i == frames-1 {
			to = len(pcm)
		}
		if from < len(pcm) {
			if err := w.WriteAudio(pcm[from:min(to, len(pcm))]); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadScene decodes a scene still. Clips cannot be decoded without ffmpeg,
// so they show as black frames.
func (s *Storyboard) loadScene(scene Scene) (*image.NRGBA, error) {
	if scene.Video {
		return imaging.New(s.Width, s.Height, color.Black), nil
	}
	img, err := imaging.Open(scene.Image)
	if err != nil {
		return nil, fmt.Errorf("open scene image: %w", err)
	}
	return imaging.Fill(img, s.Width, s.Height, imaging.Center, imaging.Linear), nil
}

// dim scales every channel toward black; level 1 returns img unchanged.
func dim(img *image.NRGBA, level float64) *image.NRGBA {
	if level >= 1 {
		return img
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: uint8(float64(c.R) * level),
			G: uint8(float64(c.G) * level),
			B: uint8(float64(c.B) * level),
			A: c.A,
		}
	})
}

func (s *Storyboard) caption(base *image.NRGBA, text string, style captions.Style) *image.NRGBA {
	stroke := style.StrokeWidth * s.Height / 1080
	if style.StrokeWidth > 0 && stroke < 1 {
		stroke = 1
	}
	label := textimg.Render(text, textimg.Options{
		Color:       style.Color,
		Stroke:      style.Stroke,
		StrokeWidth: stroke,
		Height:      style.FontSize * s.Height / 1080,
		MaxWidth:    s.Width * 9 / 10,
	})
	return textimg.OverlayBottom(base, label, s.Height/12)
}
