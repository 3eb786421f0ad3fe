package models

import (
	"time"
)

// State enumerates job lifecycle states persisted by the store.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateQueued:
		return next == StateRunning || next == StateFailed
	case StateRunning:
		return next == StateRunning || next.Terminal()
	default:
		return false
	}
}

// Stage names, in execution order.
const (
	StageQueued   = "queued"
	StageEnhance  = "enhance"
	StageMedia    = "media"
	StageVoice    = "voice"
	StageCaptions = "captions"
	StageMusic    = "music"
	StageRender   = "render"
	StageDone     = "done"
)

// Progress is the stage name plus a completion percentage.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// Mood selects the background music character.
type Mood string

const (
	MoodUpbeat        Mood = "upbeat"
	MoodCalm          Mood = "calm"
	MoodProfessional  Mood = "professional"
	MoodInspirational Mood = "inspirational"
	MoodDramatic      Mood = "dramatic"
	MoodEducational   Mood = "educational"
)

// Moods lists every accepted mood.
var Moods = []Mood{MoodUpbeat, MoodCalm, MoodProfessional, MoodInspirational, MoodDramatic, MoodEducational}

// Valid reports whether m is one of the known moods.
func (m Mood) Valid() bool {
	for _, known := range Moods {
		if m == known {
			return true
		}
	}
	return false
}

// Voices accepted for synthesized narration.
var Voices = []string{"default", "male", "female"}

// Request is the validated input of a job. It does not change once the job starts.
type Request struct {
	Script       string `json:"script"`
	UseTTS       bool   `json:"use_tts"`
	Voice        string `json:"voice"`
	AddCaptions  bool   `json:"add_captions"`
	CaptionStyle string `json:"caption_style"`
	AddMusic     bool   `json:"add_music"`
	Mood         Mood   `json:"mood"`
	VoiceUpload  string `json:"voice_upload,omitempty"`
}

// Job is one script-to-video request and its tracked lifecycle.
type Job struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	Progress      Progress  `json:"progress"`
	Request       Request   `json:"request"`
	ArtifactPath  string    `json:"artifact_path,omitempty"`
	SubtitlesPath string    `json:"subtitles_path,omitempty"`
	ArtifactURL   string    `json:"artifact_url,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Outcome is what a finished execution routine records on a job.
type Outcome struct {
	State         State
	ArtifactPath  string
	SubtitlesPath string
	ArtifactURL   string
	Error         string
}

// Succeeded builds the outcome for a rendered artifact.
func Succeeded(artifact, subtitles, url string) Outcome {
	return Outcome{State: StateSucceeded, ArtifactPath: artifact, SubtitlesPath: subtitles, ArtifactURL: url}
}

// Failed builds the outcome for a job that stopped with reason.
func Failed(reason string) Outcome {
	if reason == "" {
		reason = "job failed"
	}
	return Outcome{State: StateFailed, Error: reason}
}
