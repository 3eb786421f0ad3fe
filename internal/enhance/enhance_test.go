package enhance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"video-pipeline/internal/provider"
	"video-pipeline/internal/vault"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonClient(t *testing.T, status int, body string, check func(*http.Request)) *provider.Client {
	t.Helper()
	return provider.NewClient(provider.Options{
		Attempts: 1,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if check != nil {
				check(r)
			}
			return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}, nil
		})},
	})
}

func TestHeuristicScenesAndKeywords(t *testing.T) {
	res, err := Heuristic{}.Enhance(context.Background(), "Mountains rise above valleys. Rivers carve canyons slowly. Forests breathe quietly.")
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	if len(res.Scenes) != 2 {
		t.Fatalf("scenes = %d, want 2", len(res.Scenes))
	}
	if res.Scenes[0].Text != "Mountains rise above valleys. Rivers carve canyons slowly." {
		t.Fatalf("scene 0 = %q", res.Scenes[0].Text)
	}
	want := []string{"mountains", "valleys", "rivers", "carve", "canyons", "slowly", "forests", "breathe", "quietly"}
	if strings.Join(res.Keywords, ",") != strings.Join(want, ",") {
		t.Fatalf("keywords = %v, want %v", res.Keywords, want)
	}
}

func TestExtractKeywordsLimit(t *testing.T) {
	text := "alpha1 bravo2 charlie delta3 echo4 foxtrot golfer hotel5 india6 juliet kilo77 limaaa mikes"
	if got := ExtractKeywords(text, 10); len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
}

func TestChainFallsBackWithoutCredentials(t *testing.T) {
	var skipped []string
	chain := NewChain(zerolog.Nop(), func(p, reason string, _ error) {
		skipped = append(skipped, p+":"+reason)
	}, Heuristic{},
		NewGemini(GeminiOptions{Credentials: vault.Static{}}),
		NewGroq(nil, vault.Static{}),
	)

	res, err := chain.Enhance(context.Background(), "Hello world. This is a test.")
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	if res.Provider != "local" {
		t.Fatalf("provider = %q, want local", res.Provider)
	}
	if strings.Join(skipped, ",") != "gemini:missing_api_key,groq:missing_api_key" {
		t.Fatalf("skipped = %v", skipped)
	}
	if len(res.Scenes) == 0 || len(res.Scenes[0].Keywords) == 0 {
		t.Fatalf("result lacks scenes or keywords: %+v", res)
	}
}

func TestGeminiParsesFencedJSON(t *testing.T) {
	body := "{\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"```json\\n{\\\"script\\\":\\\"Better script.\\\",\\\"scenes\\\":[{\\\"text\\\":\\\"Better script.\\\",\\\"keywords\\\":[\\\"Sunrise\\\",\\\"sunrise\\\"]}],\\\"keywords\\\":[\\\"sunrise\\\"]}\\n```\"}]}}]}"
	client := jsonClient(t, http.StatusOK, body, func(r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
	})
	chain := NewChain(zerolog.Nop(), nil, nil, NewGemini(GeminiOptions{Client: client, Credentials: vault.Static{"gemini": "g-key"}}))

	res, err := chain.Enhance(context.Background(), "Original script.")
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	if res.Provider != "gemini" || res.Script != "Better script." {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Scenes[0].Keywords) != 1 {
		t.Fatalf("scene keywords not deduplicated: %v", res.Scenes[0].Keywords)
	}
}

func TestChatProviderErrorAdvancesChain(t *testing.T) {
	client := jsonClient(t, http.StatusTooManyRequests, `{"error":"slow down"}`, nil)
	chain := NewChain(zerolog.Nop(), nil, nil, NewOpenAI(client, vault.Static{"openai": "sk"}))

	res, err := chain.Enhance(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	if res.Provider != "local" {
		t.Fatalf("provider = %q, want local", res.Provider)
	}
}

type brokenEnhancer struct{}

func (brokenEnhancer) Name() string { return "broken" }
func (brokenEnhancer) Enhance(context.Context, string) (Result, error) {
	return Result{}, errors.New("programming error")
}

func TestChainPropagatesNonProviderErrors(t *testing.T) {
	chain := NewChain(zerolog.Nop(), nil, nil, brokenEnhancer{})
	if _, err := chain.Enhance(context.Background(), "x"); err == nil {
		t.Fatal("expected error to propagate")
	}
}

// stallingEnhancer blocks until its context ends, like an upstream that never answers.
type stallingEnhancer struct {
	name string
	raw  bool
}

func (s stallingEnhancer) Name() string { return s.name }
func (s stallingEnhancer) Enhance(ctx context.Context, _ string) (Result, error) {
	<-ctx.Done()
	if s.raw {
		return Result{}, ctx.Err()
	}
	return Result{}, provider.Fail(s.name, "timeout", ctx.Err())
}

func TestChainKeepsTimeForLocalWhenProvidersStall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var skipped []string
	chain := NewChain(zerolog.Nop(), func(p, reason string, _ error) {
		skipped = append(skipped, p+":"+reason)
	}, nil, stallingEnhancer{name: "first"}, stallingEnhancer{name: "second", raw: true})

	res, err := chain.Enhance(ctx, "Hello there. This script still gets scenes.")
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}
	if res.Provider != "local" {
		t.Fatalf("provider = %q, want local", res.Provider)
	}
	if ctx.Err() != nil {
		t.Fatal("stalled providers used the whole deadline")
	}
	if strings.Join(skipped, ",") != "first:timeout,second:timeout" {
		t.Fatalf("skipped = %v", skipped)
	}
}

func TestChainStopsWhenCallerIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain := NewChain(zerolog.Nop(), nil, nil, stallingEnhancer{name: "first", raw: true})
	if _, err := chain.Enhance(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Enhance() error = %v, want context.Canceled", err)
	}
}
