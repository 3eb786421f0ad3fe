package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"video-pipeline/internal/audio"
	"video-pipeline/internal/captions"
	"video-pipeline/internal/models"
	"video-pipeline/internal/proc"
	"video-pipeline/internal/provider"
	"video-pipeline/internal/vault"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// fakeRunner writes a short WAV to the path following -w, as espeak would.
type fakeRunner struct {
	calls [][]string
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (proc.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return proc.Result{ExitCode: 1}, f.err
	}
	for i, a := range args {
		if a == "-w" && i+1 < len(args) {
			if err := audio.Write(args[i+1], audio.Silence(audio.DefaultRate, time.Second)); err != nil {
				return proc.Result{}, err
			}
		}
	}
	return proc.Result{}, nil
}

const script = "Our product helps small teams ship faster. Try it today and see the difference."

func TestNarrateFallsBackToSilence(t *testing.T) {
	var skipped []string
	s := NewSynthesizer(Options{
		Engines: []Engine{&ElevenLabs{Creds: vault.Static{}}, &Espeak{}},
		Logger:  zerolog.Nop(),
		OnFallback: func(p, reason string, _ error) {
			skipped = append(skipped, p+":"+reason)
		},
	})

	track, err := s.Narrate(context.Background(), script, "default", t.TempDir())
	if err != nil {
		t.Fatalf("Narrate() error = %v", err)
	}
	if track.Engine != "silent" {
		t.Fatalf("engine = %s, want silent", track.Engine)
	}
	if diff := captions.EstimateDuration(script) - track.Duration; diff < 0 || diff > time.Millisecond {
		t.Fatalf("duration = %v, want about %v", track.Duration, captions.EstimateDuration(script))
	}
	clip, err := audio.Read(track.Path)
	if err != nil {
		t.Fatalf("read track: %v", err)
	}
	if clip.Duration() != track.Duration {
		t.Fatalf("file duration = %v, track says %v", clip.Duration(), track.Duration)
	}
	if strings.Join(skipped, ",") != "elevenlabs:missing_api_key,espeak:not_installed" {
		t.Fatalf("skipped = %v", skipped)
	}
}

func TestNarrateSilenceHasMinimum(t *testing.T) {
	s := NewSynthesizer(Options{Logger: zerolog.Nop()})
	track, err := s.Narrate(context.Background(), "Hi.", "default", t.TempDir())
	if err != nil {
		t.Fatalf("Narrate() error = %v", err)
	}
	if track.Duration != minSilence {
		t.Fatalf("duration = %v, want %v", track.Duration, minSilence)
	}
}

func TestNarrateWithEspeak(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSynthesizer(Options{
		Engines: []Engine{&Espeak{Path: "/usr/bin/espeak-ng", Runner: runner}},
		Logger:  zerolog.Nop(),
	})
	track, err := s.Narrate(context.Background(), script, "female", t.TempDir())
	if err != nil {
		t.Fatalf("Narrate() error = %v", err)
	}
	if track.Engine != "espeak" || track.Duration != time.Second {
		t.Fatalf("track = %+v", track)
	}
	if got := strings.Join(runner.calls[0], " "); !strings.Contains(got, "-v en-us+f3") {
		t.Fatalf("espeak args = %q", got)
	}
}

func TestNarrateWithElevenLabs(t *testing.T) {
	pcm := make([]byte, 22050*2) // one second
	for i := 0; i < len(pcm)/2; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i%200-100)))
	}
	client := provider.NewClient(provider.Options{
		Attempts: 1,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("xi-api-key") != "el" {
				t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
			}
			if !strings.Contains(r.URL.Path, elevenLabsVoices["male"]) {
				t.Errorf("path = %s, want male voice id", r.URL.Path)
			}
			return &http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: io.NopCloser(strings.NewReader(string(pcm)))}, nil
		})},
	})
	s := NewSynthesizer(Options{
		Engines: []Engine{&ElevenLabs{Client: client, Creds: vault.Static{"elevenlabs": "el"}}},
		Logger:  zerolog.Nop(),
	})
	track, err := s.Narrate(context.Background(), script, "male", t.TempDir())
	if err != nil {
		t.Fatalf("Narrate() error = %v", err)
	}
	if track.Engine != "elevenlabs" || track.Duration != time.Second {
		t.Fatalf("track = %+v", track)
	}
}

func TestValidateUpload(t *testing.T) {
	cases := []struct {
		name string
		size int64
		ok   bool
	}{
		{"take.wav", 10, true},
		{"take.MP3", 10, true},
		{"take.exe", 10, false},
		{"take.wav", 0, false},
		{"take.wav", 2000, false},
	}
	for _, c := range cases {
		err := ValidateUpload(c.name, c.size, 1000)
		if (err == nil) != c.ok {
			t.Fatalf("ValidateUpload(%q, %d) error = %v", c.name, c.size, err)
		}
		if err != nil && !models.IsValidation(err) {
			t.Fatalf("ValidateUpload(%q) error = %v, want ValidationError", c.name, err)
		}
	}
}

func TestFromUploadWAV(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "take.wav")
	if err := audio.Write(src, audio.Silence(16000, 1500*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	s := NewSynthesizer(Options{Logger: zerolog.Nop(), MaxUploadBytes: 1 << 20})
	track, err := s.FromUpload(context.Background(), src, filepath.Join(dir, "job"))
	if err != nil {
		t.Fatalf("FromUpload() error = %v", err)
	}
	if track.Engine != "upload" || track.Duration != 1500*time.Millisecond {
		t.Fatalf("track = %+v", track)
	}
}

func TestFromUploadRejectsGarbageWAV(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "take.wav")
	if err := os.WriteFile(src, []byte("this is not audio at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewSynthesizer(Options{Logger: zerolog.Nop()})
	_, err := s.FromUpload(context.Background(), src, dir)
	if !models.IsValidation(err) {
		t.Fatalf("FromUpload() error = %v, want ValidationError", err)
	}
}

func TestFromUploadNeedsFFmpegForCompressedFormats(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "take.mp3")
	if err := os.WriteFile(src, []byte("ID3 fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewSynthesizer(Options{Logger: zerolog.Nop()})
	_, err := s.FromUpload(context.Background(), src, dir)
	var perr *models.ProviderError
	if !errors.As(err, &perr) || perr.Reason != "not_installed" {
		t.Fatalf("FromUpload() error = %v, want ffmpeg not_installed", err)
	}
}

// stallingEngine blocks until its context ends and reports the bare context error.
type stallingEngine struct{}

func (stallingEngine) Name() string { return "stalled" }
func (stallingEngine) Synthesize(ctx context.Context, _, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestNarrateWritesSilenceAfterEnginesTimeOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var skipped []string
	s := NewSynthesizer(Options{
		Engines: []Engine{stallingEngine{}, stallingEngine{}},
		Logger:  zerolog.Nop(),
		OnFallback: func(p, reason string, _ error) {
			skipped = append(skipped, p+":"+reason)
		},
	})
	track, err := s.Narrate(ctx, script, "default", t.TempDir())
	if err != nil {
		t.Fatalf("Narrate() error = %v", err)
	}
	if track.Engine != "silent" {
		t.Fatalf("engine = %s, want silent", track.Engine)
	}
	if strings.Join(skipped, ",") != "stalled:timeout,stalled:timeout" {
		t.Fatalf("skipped = %v", skipped)
	}
}

func TestNarrationIsPeakNormalized(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "quiet.wav")
	quiet := audio.Pad(audio.DefaultRate, time.Second, []float64{440}, 0.1)
	if err := audio.Write(src, quiet); err != nil {
		t.Fatal(err)
	}
	s := NewSynthesizer(Options{Logger: zerolog.Nop()})
	track, err := s.FromUpload(context.Background(), src, filepath.Join(dir, "job"))
	if err != nil {
		t.Fatalf("FromUpload() error = %v", err)
	}
	clip, err := audio.Read(track.Path)
	if err != nil {
		t.Fatalf("read narration: %v", err)
	}
	peak := float64(NarrationPeak)
	want := int(peak * 32767)
	if got := audio.Peak(clip); got < want-2 || got > want+2 {
		t.Fatalf("peak = %d, want about %d", got, want)
	}
}
