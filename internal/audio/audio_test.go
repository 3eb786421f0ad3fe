package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	clip := Pad(DefaultRate, 1500*time.Millisecond, []float64{220, 330}, 0.5)
	if err := Write(path, clip); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Rate != DefaultRate {
		t.Fatalf("rate = %d, want %d", got.Rate, DefaultRate)
	}
	if got.Duration() != 1500*time.Millisecond {
		t.Fatalf("duration = %s, want 1.5s", got.Duration())
	}
	if got.Samples[100] != clip.Samples[100] {
		t.Fatalf("sample mismatch: %d != %d", got.Samples[100], clip.Samples[100])
	}
}

func TestReadRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.wav")
	if err := os.WriteFile(path, []byte("ID3 definitely an mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("Read() should reject non-wav input")
	}
}

func TestFitLoopsAndTrims(t *testing.T) {
	short := Clip{Rate: 10, Samples: []int{1, 2, 3}}
	looped := Fit(short, time.Second)
	if len(looped.Samples) != 10 || looped.Samples[3] != 1 || looped.Samples[9] != 1 {
		t.Fatalf("Fit() loop = %v", looped.Samples)
	}
	trimmed := Fit(Clip{Rate: 10, Samples: make([]int, 50)}, 2*time.Second)
	if len(trimmed.Samples) != 20 {
		t.Fatalf("Fit() trim len = %d, want 20", len(trimmed.Samples))
	}
}

func TestFadeRampsEdgesToSilence(t *testing.T) {
	flat := Clip{Rate: 10, Samples: []int{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}}
	faded := Fade(flat, 200*time.Millisecond, 300*time.Millisecond)
	if faded.Samples[0] != 0 || faded.Samples[9] != 0 {
		t.Fatalf("edges not silent: %v", faded.Samples)
	}
	if faded.Samples[5] != 100 {
		t.Fatalf("middle altered: %v", faded.Samples)
	}
	if flat.Samples[0] != 100 {
		t.Fatal("Fade() mutated its input")
	}
}

func TestMixClampsAndKeepsBaseLength(t *testing.T) {
	base := Clip{Rate: 10, Samples: []int{32000, 0, -32000}}
	bed := Clip{Rate: 10, Samples: []int{5000, 5000, -5000, 5000, 5000}}
	mixed := Mix(base, bed)
	if len(mixed.Samples) != 3 {
		t.Fatalf("len = %d, want 3", len(mixed.Samples))
	}
	if mixed.Samples[0] != 32767 || mixed.Samples[2] != -32768 || mixed.Samples[1] != 5000 {
		t.Fatalf("Mix() = %v", mixed.Samples)
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	c := Clip{Rate: 8000, Samples: []int{0, 1, -1, 32767, -32768}}
	back := FromPCM16(c.PCM16(), 8000)
	for i := range c.Samples {
		if back.Samples[i] != c.Samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, back.Samples[i], c.Samples[i])
		}
	}
}

func TestNormalizeScalesToTargetPeak(t *testing.T) {
	c := Clip{Rate: 10, Samples: []int{1000, -2000, 500}}
	n := Normalize(c, 0.5)
	if Peak(n) != 16383 {
		t.Fatalf("peak = %d, want 16383", Peak(n))
	}
	if n.Samples[0] != 8191 || n.Samples[1] != -16383 {
		t.Fatalf("Normalize() = %v", n.Samples)
	}
	if c.Samples[0] != 1000 {
		t.Fatal("Normalize() mutated its input")
	}
	silent := Normalize(Silence(10, time.Second), 0.9)
	if Peak(silent) != 0 || len(silent.Samples) != 10 {
		t.Fatalf("silence changed: %v", silent.Samples)
	}
}
