package music

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"video-pipeline/internal/audio"
	"video-pipeline/internal/models"
)

func TestSelectSynthesizesWithoutLibrary(t *testing.T) {
	s := NewSelector(Options{LibraryDir: filepath.Join(t.TempDir(), "missing"), Logger: zerolog.Nop()})
	track, err := s.Select(context.Background(), models.MoodCalm, 12*time.Second, t.TempDir())
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if track.Source != "synth" {
		t.Fatalf("source = %s, want synth", track.Source)
	}
	if track.Duration != 12*time.Second {
		t.Fatalf("duration = %v, want 12s", track.Duration)
	}
	clip, err := audio.Read(track.Path)
	if err != nil {
		t.Fatalf("read music: %v", err)
	}
	if clip.Samples[0] != 0 || clip.Samples[len(clip.Samples)-1] != 0 {
		t.Fatal("bed should fade in from and out to silence")
	}
}

func TestSelectPrefersLibraryGenre(t *testing.T) {
	lib := t.TempDir()
	for _, name := range []string{"epic_drums.wav", "chill_ambient_01.wav", "notes.txt", "acoustic.mp3"} {
		if err := audio.Write(filepath.Join(lib, name), audio.Pad(8000, time.Second, []float64{220}, 0.5)); err != nil {
			t.Fatal(err)
		}
	}
	s := NewSelector(Options{LibraryDir: lib, Logger: zerolog.Nop()})

	got := s.Candidates(models.MoodCalm)
	if len(got) != 1 || filepath.Base(got[0]) != "chill_ambient_01.wav" {
		t.Fatalf("Candidates() = %v, want only the wav ambient track", got)
	}

	track, err := s.Select(context.Background(), models.MoodCalm, 3*time.Second, t.TempDir())
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if track.Source != "library:chill_ambient_01.wav" {
		t.Fatalf("source = %s", track.Source)
	}
	clip, _ := audio.Read(track.Path)
	if clip.Rate != audio.DefaultRate {
		t.Fatalf("rate = %d, want resampled to %d", clip.Rate, audio.DefaultRate)
	}
}

func TestSelectSkipsUndecodableFiles(t *testing.T) {
	lib := t.TempDir()
	if err := os.WriteFile(filepath.Join(lib, "epic.wav"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewSelector(Options{LibraryDir: lib, Logger: zerolog.Nop()})
	track, err := s.Select(context.Background(), models.MoodDramatic, time.Second, t.TempDir())
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if track.Source != "synth" {
		t.Fatalf("source = %s, want synth", track.Source)
	}
}

func TestEveryMoodHasGenresAndChord(t *testing.T) {
	for _, m := range models.Moods {
		if len(Genres[m]) == 0 || len(chords[m]) == 0 {
			t.Fatalf("mood %s missing genres or chord", m)
		}
	}
}
