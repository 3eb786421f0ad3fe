package jobs

import (
	"strings"
	"time"
	"unicode/utf8"

	"video-pipeline/internal/captions"
	"video-pipeline/internal/models"
)

// validate normalizes defaults and rejects requests that can never succeed.
func (m *Manager) validate(req models.Request) (models.Request, error) {
	req.Script = strings.TrimSpace(req.Script)
	if req.Script == "" {
		return req, models.Invalid("script", "script must not be empty")
	}
	if n := utf8.RuneCountInString(req.Script); n > m.maxChars {
		return req, models.Invalid("script", "script is %d characters, limit is %d", n, m.maxChars)
	}
	if est := captions.EstimateDuration(req.Script); est > m.maxVideo {
		return req, models.Invalid("script", "estimated narration %s exceeds the %s limit", est.Round(time.Second), m.maxVideo)
	}

	req.Voice = strings.ToLower(strings.TrimSpace(req.Voice))
	if req.Voice == "" {
		req.Voice = "default"
	}
	if !contains(models.Voices, req.Voice) {
		return req, models.Invalid("voice", "unknown voice %q (available: %s)", req.Voice, strings.Join(models.Voices, ", "))
	}

	style, err := captions.LookupStyle(req.CaptionStyle)
	if err != nil {
		return req, err
	}
	req.CaptionStyle = style.Name

	req.Mood = models.Mood(strings.ToLower(strings.TrimSpace(string(req.Mood))))
	if req.Mood == "" {
		req.Mood = models.MoodProfessional
	}
	if !req.Mood.Valid() {
		names := make([]string, len(models.Moods))
		for i, m := range models.Moods {
			names[i] = string(m)
		}
		return req, models.Invalid("mood", "unknown mood %q (available: %s)", req.Mood, strings.Join(names, ", "))
	}

	if !req.UseTTS && req.VoiceUpload == "" {
		return req, models.Invalid("voice_recording", "a voice recording is required when use_tts is false")
	}
	return req, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
