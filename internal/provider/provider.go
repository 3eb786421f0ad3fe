package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"video-pipeline/internal/models"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 2
	defaultMaxBody  = 8 << 20
)

// Fail builds the typed failure adapters return so fallback chains can advance.
func Fail(provider, reason string, err error) error {
	return &models.ProviderError{Provider: provider, Reason: reason, Err: err}
}

// MissingKey reports an unconfigured provider.
func MissingKey(provider string) error {
	return Fail(provider, "missing_api_key", nil)
}

// ProviderShare is the part of a stage deadline remote providers may spend.
// The rest stays available for the local fallback.
const ProviderShare = 0.8

// Budget derives a context that expires after share of the time ctx has left.
// Without a deadline on ctx it only adds cancellation.
func Budget(ctx context.Context, share float64) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok || share >= 1 {
		return context.WithCancel(ctx)
	}
	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	return context.WithTimeout(ctx, time.Duration(float64(remaining)*share))
}

// Attempt derives the context for provider i of n, splitting what is left of
// ctx evenly among the providers not yet tried.
func Attempt(ctx context.Context, i, n int) (context.Context, context.CancelFunc) {
	left := n - i
	if left <= 1 {
		return context.WithCancel(ctx)
	}
	return Budget(ctx, 1/float64(left))
}

// Classify turns an error from a provider whose own budget ran out into a
// timeout ProviderError while the caller's context is still live.
func Classify(caller, attempt context.Context, name string, err error) error {
	if err == nil || models.IsProvider(err) {
		return err
	}
	if attempt.Err() != nil && caller.Err() == nil {
		return Fail(name, "timeout", err)
	}
	return err
}

// Options tune a Client. Zero values select defaults.
type Options struct {
	HTTPClient  *http.Client
	Attempts    int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxBody     int64
}

// Client performs provider HTTP calls with bounded retries on throttling and
// server errors. Every failure comes back as a *models.ProviderError.
type Client struct {
	http     *http.Client
	attempts int
	base     time.Duration
	max      time.Duration
	maxBody  int64
}

// NewClient constructs a Client.
func NewClient(opts Options) *Client {
	c := &Client{
		http:     opts.HTTPClient,
		attempts: opts.Attempts,
		base:     opts.BackoffBase,
		max:      opts.BackoffMax,
		maxBody:  opts.MaxBody,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.attempts <= 0 {
		c.attempts = defaultAttempts
	}
	if c.base <= 0 {
		c.base = 500 * time.Millisecond
	}
	if c.max <= 0 {
		c.max = 4 * time.Second
	}
	if c.maxBody <= 0 {
		c.maxBody = defaultMaxBody
	}
	return c
}

// HTTP returns the underlying client for streaming downloads.
func (c *Client) HTTP() *http.Client {
	return c.http
}

// RequestBuilder creates a fresh request for each attempt.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Do executes the request and returns the response body.
func (c *Client) Do(ctx context.Context, name string, build RequestBuilder) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, nil, Fail(name, "timeout", ctx.Err())
			case <-time.After(backoffWithJitter(c.base, c.max, attempt-1)):
			}
		}
		body, header, retry, err := c.once(ctx, name, build)
		if err == nil {
			return body, header, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, nil, lastErr
}

func (c *Client) once(ctx context.Context, name string, build RequestBuilder) ([]byte, http.Header, bool, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, nil, false, Fail(name, "build_request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, false, Fail(name, "timeout", ctx.Err())
		}
		return nil, nil, true, Fail(name, "http_request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, nil, true, Fail(name, "read_body", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, nil, false, Fail(name, "response_too_large", nil)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return nil, nil, retry, Fail(name, fmt.Sprintf("http_%d", resp.StatusCode), errors.New(snippet(body)))
	}
	return body, resp.Header, false, nil
}

// JSON executes the request and decodes the JSON response into out.
func (c *Client) JSON(ctx context.Context, name string, build RequestBuilder, out any) error {
	body, _, err := c.Do(ctx, name, build)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Fail(name, "decode_response", err)
	}
	return nil
}

// PostJSON returns a builder for a JSON POST with the given headers.
func PostJSON(url string, payload any, headers map[string]string) RequestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
}

// Get returns a builder for a GET with the given headers.
func Get(url string, headers map[string]string) RequestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	wait := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if wait > max {
		wait = max
	}
	half := int64(wait / 2)
	if half <= 0 {
		return wait
	}
	return wait/2 + time.Duration(rand.Int63n(half))
}

// snippet keeps error bodies short; provider responses can echo request data.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}
