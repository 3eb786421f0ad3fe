// Package voice produces the narration track: a user recording when one was
// uploaded, otherwise synthesized speech with a silent track as last resort.
package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-pipeline/internal/audio"
	"video-pipeline/internal/captions"
	"video-pipeline/internal/models"
	"video-pipeline/internal/proc"
	"video-pipeline/internal/provider"
)

const (
	minSilence    = 2 * time.Second
	trackFileName = "voice.wav"
)

// NarrationPeak is the normalized peak level of every narration track, about -1 dBFS.
const NarrationPeak = 0.89

// UploadExtensions lists the recording formats accepted from clients.
var UploadExtensions = []string{".wav", ".mp3", ".m4a", ".ogg", ".webm", ".flac"}

// Track is the narration written for a job.
type Track struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Engine   string        `json:"engine"`
}

// Engine is one text-to-speech backend. Synthesize writes a WAV file to out.
type Engine interface {
	Name() string
	Synthesize(ctx context.Context, text, voice, out string) error
}

// FallbackFunc observes an engine being skipped.
type FallbackFunc func(provider, reason string, err error)

// Options configures a Synthesizer.
type Options struct {
	Engines        []Engine
	FFmpegPath     string // resolved binary; empty when ffmpeg is unavailable
	Runner         proc.Runner
	MaxUploadBytes int64
	Logger         zerolog.Logger
	OnFallback     FallbackFunc
}

type Synthesizer struct {
	engines    []Engine
	ffmpeg     string
	runner     proc.Runner
	maxUpload  int64
	logger     zerolog.Logger
	onFallback FallbackFunc
}

func NewSynthesizer(opts Options) *Synthesizer {
	if opts.Runner == nil {
		opts.Runner = proc.Exec{Logger: opts.Logger}
	}
	return &Synthesizer{
		engines:    opts.Engines,
		ffmpeg:     opts.FFmpegPath,
		runner:     opts.Runner,
		maxUpload:  opts.MaxUploadBytes,
		logger:     opts.Logger,
		onFallback: opts.OnFallback,
	}
}

// Narrate synthesizes script into dir. It only fails on context or
// filesystem errors; exhausted engines yield a silent track.
func (s *Synthesizer) Narrate(ctx context.Context, script, voice, dir string) (Track, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Track{}, fmt.Errorf("create voice dir: %w", err)
	}
	out := filepath.Join(dir, trackFileName)

	remote, cancel := provider.Budget(ctx, provider.ProviderShare)
	defer cancel()
	for i, e := range s.engines {
		track, err := s.synthesize(ctx, remote, i, e, script, voice, out)
		if err == nil {
			return track, nil
		}
		if !models.IsProvider(err) {
			return Track{}, err
		}
		s.skip(e.Name(), err)
	}
	if err := ctx.Err(); err != nil {
		return Track{}, err
	}

	d := captions.EstimateDuration(script)
	if d < minSilence {
		d = minSilence
	}
	silence := audio.Silence(audio.DefaultRate, d)
	if err := audio.Write(out, silence); err != nil {
		return Track{}, fmt.Errorf("write silent track: %w", err)
	}
	s.logger.Info().Dur("duration", silence.Duration()).Msg("narration fell back to silent track")
	return Track{Path: out, Duration: silence.Duration(), Engine: "silent"}, nil
}

// synthesize runs engine i within its share of the remote budget and checks the result.
func (s *Synthesizer) synthesize(ctx, remote context.Context, i int, e Engine, script, voice, out string) (Track, error) {
	actx, cancel := provider.Attempt(remote, i, len(s.engines))
	defer cancel()
	if err := e.Synthesize(actx, script, voice, out); err != nil {
		return Track{}, provider.Classify(ctx, actx, e.Name(), err)
	}
	clip, err := audio.Read(out)
	if err != nil || len(clip.Samples) == 0 {
		return Track{}, provider.Fail(e.Name(), "invalid_audio", err)
	}
	clip = audio.Normalize(clip, NarrationPeak)
	if err := audio.Write(out, clip); err != nil {
		return Track{}, fmt.Errorf("write narration: %w", err)
	}
	return Track{Path: out, Duration: clip.Duration(), Engine: e.Name()}, nil
}

// ValidateUpload checks a recording's name and size before it is stored.
func ValidateUpload(name string, size, maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, e := range UploadExtensions {
		if e == ext {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.Invalid("voice_recording", "unsupported audio format %q (allowed: %s)", ext, strings.Join(UploadExtensions, ", "))
	}
	if size <= 0 {
		return models.Invalid("voice_recording", "recording is empty")
	}
	if maxBytes > 0 && size > maxBytes {
		return models.Invalid("voice_recording", "recording exceeds %d bytes", maxBytes)
	}
	return nil
}

// FromUpload normalizes an uploaded recording to mono 16-bit WAV in dir.
func (s *Synthesizer) FromUpload(ctx context.Context, src, dir string) (Track, error) {
	info, err := os.Stat(src)
	if err != nil {
		return Track{}, fmt.Errorf("stat recording: %w", err)
	}
	if err := ValidateUpload(src, info.Size(), s.maxUpload); err != nil {
		return Track{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Track{}, fmt.Errorf("create voice dir: %w", err)
	}
	out := filepath.Join(dir, trackFileName)

	var clip audio.Clip
	if strings.EqualFold(filepath.Ext(src), ".wav") {
		clip, err = audio.Read(src)
		if err != nil {
			if errors.Is(err, audio.ErrNotWAV) {
				return Track{}, models.Invalid("voice_recording", "recording is not a decodable wav file")
			}
			return Track{}, fmt.Errorf("read recording: %w", err)
		}
	} else {
		if s.ffmpeg == "" {
			return Track{}, provider.Fail("ffmpeg", "not_installed", nil)
		}
		converted := filepath.Join(dir, "upload_decoded.wav")
		if _, err := s.runner.Run(ctx, s.ffmpeg, proc.ToWAVArgs(src, converted, audio.DefaultRate)...); err != nil {
			if ctx.Err() != nil {
				return Track{}, ctx.Err()
			}
			return Track{}, models.Invalid("voice_recording", "recording could not be decoded")
		}
		clip, err = audio.Read(converted)
		_ = os.Remove(converted)
		if err != nil {
			return Track{}, models.Invalid("voice_recording", "recording could not be decoded")
		}
	}
	if len(clip.Samples) == 0 {
		return Track{}, models.Invalid("voice_recording", "recording has no audio")
	}
	clip = audio.Normalize(clip, NarrationPeak)
	if err := audio.Write(out, clip); err != nil {
		return Track{}, fmt.Errorf("write narration: %w", err)
	}
	return Track{Path: out, Duration: clip.Duration(), Engine: "upload"}, nil
}

func (s *Synthesizer) skip(name string, err error) {
	var perr *models.ProviderError
	reason := "unknown"
	if errors.As(err, &perr) {
		reason = perr.Reason
	}
	s.logger.Debug().Str("provider", name).Str("reason", reason).Msg("voice fallback")
	if s.onFallback != nil {
		s.onFallback(name, reason, err)
	}
}
