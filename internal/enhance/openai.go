package enhance

import (
	"context"
	"strings"

	"video-pipeline/internal/provider"
	"video-pipeline/internal/vault"
)

// ChatOptions configures an OpenAI-compatible chat completions enhancer.
type ChatOptions struct {
	Provider    string
	BaseURL     string
	Model       string
	Client      *provider.Client
	Credentials vault.Credentials
}

// Chat talks to any OpenAI-compatible /chat/completions endpoint (OpenAI, Groq).
type Chat struct {
	name    string
	baseURL string
	model   string
	client  *provider.Client
	creds   vault.Credentials
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAI returns a Chat enhancer for api.openai.com.
func NewOpenAI(client *provider.Client, creds vault.Credentials) *Chat {
	return NewChat(ChatOptions{Provider: "openai", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", Client: client, Credentials: creds})
}

// NewGroq returns a Chat enhancer for Groq's OpenAI-compatible API.
func NewGroq(client *provider.Client, creds vault.Credentials) *Chat {
	return NewChat(ChatOptions{Provider: "groq", BaseURL: "https://api.groq.com/openai/v1", Model: "llama-3.1-8b-instant", Client: client, Credentials: creds})
}

func NewChat(opts ChatOptions) *Chat {
	client := opts.Client
	if client == nil {
		client = provider.NewClient(provider.Options{})
	}
	return &Chat{
		name:    opts.Provider,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		model:   opts.Model,
		client:  client,
		creds:   opts.Credentials,
	}
}

func (c *Chat) Name() string { return c.name }

func (c *Chat) Enhance(ctx context.Context, script string) (Result, error) {
	key := lookup(c.creds, c.name)
	if key == "" {
		return Result{}, provider.MissingKey(c.name)
	}
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You respond only with JSON."},
			{Role: "user", Content: buildPrompt(script)},
		},
		Temperature:    0.4,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	var out chatResponse
	headers := map[string]string{"Authorization": "Bearer " + key}
	if err := c.client.JSON(ctx, c.name, provider.PostJSON(c.baseURL+"/chat/completions", payload, headers), &out); err != nil {
		return Result{}, err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Result{}, provider.Fail(c.name, "empty_response", nil)
	}
	parsed, err := parseModelPayload[modelPayload](out.Choices[0].Message.Content)
	if err != nil {
		return Result{}, provider.Fail(c.name, "parse_payload", err)
	}
	return toResult(parsed), nil
}
