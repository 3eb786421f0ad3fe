package enhance

import (
	"context"
	"net/url"
	"strings"

	"video-pipeline/internal/provider"
	"video-pipeline/internal/vault"
)

const geminiProviderName = "gemini"

// GeminiOptions configures the Gemini enhancer.
type GeminiOptions struct {
	BaseURL     string
	Model       string
	Client      *provider.Client
	Credentials vault.Credentials
}

// Gemini calls the generateContent endpoint and expects a JSON answer.
type Gemini struct {
	baseURL string
	model   string
	client  *provider.Client
	creds   vault.Credentials
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGemini(opts GeminiOptions) *Gemini {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client := opts.Client
	if client == nil {
		client = provider.NewClient(provider.Options{})
	}
	return &Gemini{baseURL: baseURL, model: model, client: client, creds: opts.Credentials}
}

func (g *Gemini) Name() string { return geminiProviderName }

func (g *Gemini) Enhance(ctx context.Context, script string) (Result, error) {
	key := lookup(g.creds, geminiProviderName)
	if key == "" {
		return Result{}, provider.MissingKey(geminiProviderName)
	}
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: buildPrompt(script)}}}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.4,
			ResponseMimeType: "application/json",
		},
	}
	endpoint := g.baseURL + "/models/" + url.PathEscape(g.model) + ":generateContent"

	var out geminiResponse
	if err := g.client.JSON(ctx, geminiProviderName, provider.PostJSON(endpoint, payload, map[string]string{"x-goog-api-key": key}), &out); err != nil {
		return Result{}, err
	}
	var text strings.Builder
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			text.WriteString(p.Text)
		}
		if text.Len() > 0 {
			break
		}
	}
	if text.Len() == 0 {
		return Result{}, provider.Fail(geminiProviderName, "empty_response", nil)
	}
	parsed, err := parseModelPayload[modelPayload](text.String())
	if err != nil {
		return Result{}, provider.Fail(geminiProviderName, "parse_payload", err)
	}
	return toResult(parsed), nil
}

func lookup(creds vault.Credentials, name string) string {
	if creds == nil {
		return ""
	}
	return creds.Lookup(name)
}
