package captions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// WordsPerSecond is the narration pace assumed when no voice timing is known.
const WordsPerSecond = 2.5

// maxPhraseWords bounds a caption; punctuation closes a phrase early.
const maxPhraseWords = 3

// Cue is one timed caption.
type Cue struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
	Text  string        `json:"text"`
}

// Track is an ordered list of cues with the preset used to draw them.
type Track struct {
	Cues  []Cue
	Style Style
}

// Duration is the end of the last cue.
func (t Track) Duration() time.Duration {
	if len(t.Cues) == 0 {
		return 0
	}
	return t.Cues[len(t.Cues)-1].End
}

// At returns the cue showing at offset, if any.
func (t Track) At(offset time.Duration) (Cue, bool) {
	for _, c := range t.Cues {
		if offset >= c.Start && offset < c.End {
			return c, true
		}
	}
	return Cue{}, false
}

// EstimateDuration is the narration length implied by the word count.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return time.Duration(float64(words) / WordsPerSecond * float64(time.Second))
}

// Phrases splits text into readable caption phrases.
func Phrases(text string) []string {
	var (
		phrases []string
		current []string
	)
	for _, word := range strings.Fields(text) {
		current = append(current, word)
		if len(current) >= maxPhraseWords || strings.ContainsAny(word[len(word)-1:], ",.!?;:") {
			phrases = append(phrases, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		phrases = append(phrases, strings.Join(current, " "))
	}
	return phrases
}

// Generate times the phrases of script across duration. Each cue's share is
// proportional to its length, the first cue starts at zero and the last ends
// exactly at duration. A zero duration falls back to EstimateDuration.
func Generate(script string, duration time.Duration, style Style) Track {
	phrases := Phrases(script)
	if duration <= 0 {
		duration = EstimateDuration(script)
	}
	track := Track{Style: style}
	if len(phrases) == 0 || duration <= 0 {
		return track
	}

	weights := make([]int64, len(phrases))
	var total int64
	for i, p := range phrases {
		weights[i] = int64(utf8.RuneCountInString(p)) + 1
		total += weights[i]
	}

	var cum int64
	start := time.Duration(0)
	for i, p := range phrases {
		cum += weights[i]
		end := time.Duration(int64(duration) * cum / total)
		if i == len(phrases)-1 {
			end = duration
		}
		track.Cues = append(track.Cues, Cue{Start: start, End: end, Text: style.Apply(p)})
		start = end
	}
	return track
}

// SRT renders the track in SubRip format.
func (t Track) SRT() string {
	var b strings.Builder
	for i, c := range t.Cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, FormatSRTTime(c.Start), FormatSRTTime(c.End), c.Text)
	}
	return b.String()
}

// VTT renders the track in WebVTT format.
func (t Track) VTT() string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for i, c := range t.Cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, FormatVTTTime(c.Start), FormatVTTTime(c.End), c.Text)
	}
	return b.String()
}

// WriteFiles writes base.srt and base.vtt into dir and returns their paths.
func (t Track) WriteFiles(dir, base string) (string, string, error) {
	srtPath := filepath.Join(dir, base+".srt")
	vttPath := filepath.Join(dir, base+".vtt")
	if err := os.WriteFile(srtPath, []byte(t.SRT()), 0o644); err != nil {
		return "", "", fmt.Errorf("write srt: %w", err)
	}
	if err := os.WriteFile(vttPath, []byte(t.VTT()), 0o644); err != nil {
		return "", "", fmt.Errorf("write vtt: %w", err)
	}
	return srtPath, vttPath, nil
}

// FormatSRTTime formats d as HH:MM:SS,mmm.
func FormatSRTTime(d time.Duration) string {
	h, m, s, ms := split(d)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// FormatVTTTime formats d as HH:MM:SS.mmm.
func FormatVTTTime(d time.Duration) string {
	h, m, s, ms := split(d)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func split(d time.Duration) (int64, int64, int64, int64) {
	if d < 0 {
		d = 0
	}
	total := d.Milliseconds()
	return total / 3_600_000, (total / 60_000) % 60, (total / 1000) % 60, total % 1000
}
