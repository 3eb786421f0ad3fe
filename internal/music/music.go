// Package music picks a background bed for a mood and fits it to the video.
package music

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"video-pipeline/internal/audio"
	"video-pipeline/internal/models"
	"video-pipeline/internal/proc"
)

const (
	fadeIn      = 2 * time.Second
	fadeOut     = 3 * time.Second
	defaultGain = 0.25
	fileName    = "music.wav"
)

// Genres maps each mood to the genre tags searched for in library file names.
var Genres = map[models.Mood][]string{
	models.MoodUpbeat:        {"pop", "electronic", "happy"},
	models.MoodCalm:          {"ambient", "chill", "acoustic"},
	models.MoodProfessional:  {"corporate", "business", "tech"},
	models.MoodInspirational: {"motivational", "uplifting", "cinematic"},
	models.MoodDramatic:      {"epic", "cinematic", "intense"},
	models.MoodEducational:   {"background", "soft", "neutral"},
}

// chord frequencies in Hz for the synthesized pad.
var chords = map[models.Mood][]float64{
	models.MoodUpbeat:        {261.63, 329.63, 392.00},
	models.MoodCalm:          {174.61, 220.00, 261.63, 329.63},
	models.MoodProfessional:  {196.00, 246.94, 293.66},
	models.MoodInspirational: {220.00, 277.18, 329.63, 440.00},
	models.MoodDramatic:      {146.83, 174.61, 220.00},
	models.MoodEducational:   {164.81, 196.00, 246.94},
}

var compressed = []string{".mp3", ".ogg", ".m4a", ".flac"}

// Track is the fitted background bed.
type Track struct {
	Path     string        `json:"path"`
	Source   string        `json:"source"`
	Duration time.Duration `json:"duration"`
}

// Options configures a Selector.
type Options struct {
	LibraryDir string
	FFmpegPath string // resolved binary; empty disables compressed library files
	Runner     proc.Runner
	Gain       float64
	Logger     zerolog.Logger
}

type Selector struct {
	library string
	ffmpeg  string
	runner  proc.Runner
	gain    float64
	logger  zerolog.Logger
}

func NewSelector(opts Options) *Selector {
	if opts.Gain <= 0 {
		opts.Gain = defaultGain
	}
	if opts.Runner == nil {
		opts.Runner = proc.Exec{Logger: opts.Logger}
	}
	return &Selector{
		library: opts.LibraryDir,
		ffmpeg:  opts.FFmpegPath,
		runner:  opts.Runner,
		gain:    opts.Gain,
		logger:  opts.Logger,
	}
}

// Select writes a bed of exactly d for mood into dir. A library file whose
// name carries one of the mood's genres wins; otherwise a pad is synthesized.
func (s *Selector) Select(ctx context.Context, mood models.Mood, d time.Duration, dir string) (Track, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Track{}, fmt.Errorf("create music dir: %w", err)
	}
	if !mood.Valid() {
		mood = models.MoodProfessional
	}

	clip, source := s.fromLibrary(ctx, mood, dir)
	if len(clip.Samples) == 0 {
		if err := ctx.Err(); err != nil {
			return Track{}, err
		}
		clip = audio.Pad(audio.DefaultRate, 8*time.Second, chords[mood], 0.6)
		source = "synth"
	}

	clip = audio.Resample(clip, audio.DefaultRate)
	clip = audio.Fit(clip, d)
	clip = audio.Fade(clip, fadeIn, fadeOut)
	clip = audio.Gain(clip, s.gain)

	out := filepath.Join(dir, fileName)
	if err := audio.Write(out, clip); err != nil {
		return Track{}, fmt.Errorf("write music: %w", err)
	}
	return Track{Path: out, Source: source, Duration: clip.Duration()}, nil
}

// Candidates lists library files matching mood, best genre first.
func (s *Selector) Candidates(mood models.Mood) []string {
	if s.library == "" {
		return nil
	}
	entries, err := os.ReadDir(s.library)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("dir", s.library).Msg("music library unreadable")
		}
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && s.playable(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []string
	seen := map[string]bool{}
	for _, genre := range Genres[mood] {
		for _, n := range names {
			if !seen[n] && strings.Contains(strings.ToLower(n), genre) {
				seen[n] = true
				out = append(out, filepath.Join(s.library, n))
			}
		}
	}
	return out
}

func (s *Selector) fromLibrary(ctx context.Context, mood models.Mood, dir string) (audio.Clip, string) {
	for _, path := range s.Candidates(mood) {
		clip, err := s.decode(ctx, path, dir)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("skipping music file")
			continue
		}
		if len(clip.Samples) > 0 {
			return clip, "library:" + filepath.Base(path)
		}
	}
	return audio.Clip{}, ""
}

func (s *Selector) decode(ctx context.Context, path, dir string) (audio.Clip, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return audio.Read(path)
	}
	tmp := filepath.Join(dir, "music_decoded.wav")
	defer os.Remove(tmp)
	if _, err := s.runner.Run(ctx, s.ffmpeg, proc.ToWAVArgs(path, tmp, audio.DefaultRate)...); err != nil {
		return audio.Clip{}, err
	}
	return audio.Read(tmp)
}

func (s *Selector) playable(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".wav" {
		return true
	}
	if s.ffmpeg == "" {
		return false
	}
	for _, c := range compressed {
		if c == ext {
			return true
		}
	}
	return false
}
