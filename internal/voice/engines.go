package voice

import (
	"context"

	"video-pipeline/internal/audio"
	"video-pipeline/internal/proc"
	"video-pipeline/internal/provider"
	"video-pipeline/internal/vault"
)

var elevenLabsVoices = map[string]string{
	"default": "21m00Tcm4TlvDq8ikWAM",
	"female":  "EXAVITQu4vr4xCSh6gbb",
	"male":    "pNInz6obpgDQGcFmaJgB",
}

// ElevenLabs requests raw 16-bit PCM and wraps it in a WAV container.
type ElevenLabs struct {
	BaseURL string
	Model   string
	Client  *provider.Client
	Creds   vault.Credentials
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Synthesize(ctx context.Context, text, voice, out string) error {
	var key string
	if e.Creds != nil {
		key = e.Creds.Lookup("elevenlabs")
	}
	if key == "" {
		return provider.MissingKey("elevenlabs")
	}
	id, ok := elevenLabsVoices[voice]
	if !ok {
		id = elevenLabsVoices["default"]
	}
	base := e.BaseURL
	if base == "" {
		base = "https://api.elevenlabs.io/v1"
	}
	model := e.Model
	if model == "" {
		model = "eleven_multilingual_v2"
	}
	client := e.Client
	if client == nil {
		client = provider.NewClient(provider.Options{})
	}

	endpoint := base + "/text-to-speech/" + id + "?output_format=pcm_22050"
	body, _, err := client.Do(ctx, "elevenlabs", provider.PostJSON(endpoint, map[string]any{
		"text":     text,
		"model_id": model,
	}, map[string]string{"xi-api-key": key, "Accept": "audio/pcm"}))
	if err != nil {
		return err
	}
	if len(body) < 2 {
		return provider.Fail("elevenlabs", "empty_audio", nil)
	}
	return audio.Write(out, audio.FromPCM16(body, 22050))
}

var espeakVoices = map[string]string{
	"default": "en-us",
	"male":    "en-us+m3",
	"female":  "en-us+f3",
}

// Espeak drives a local espeak-ng or espeak binary.
type Espeak struct {
	Path   string // resolved binary; empty when not installed
	Runner proc.Runner
}

// NewEspeak resolves the binary from configured, then espeak-ng, then espeak.
func NewEspeak(configured string, runner proc.Runner) *Espeak {
	path, _ := proc.Lookup(configured, "espeak-ng", "espeak")
	return &Espeak{Path: path, Runner: runner}
}

func (e *Espeak) Name() string { return "espeak" }

func (e *Espeak) Synthesize(ctx context.Context, text, voice, out string) error {
	if e.Path == "" {
		return provider.Fail("espeak", "not_installed", nil)
	}
	v, ok := espeakVoices[voice]
	if !ok {
		v = espeakVoices["default"]
	}
	runner := e.Runner
	if runner == nil {
		runner = proc.Exec{}
	}
	if _, err := runner.Run(ctx, e.Path, "-v", v, "-s", "160", "-w", out, text); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return provider.Fail("espeak", "exec_failed", err)
	}
	return nil
}
