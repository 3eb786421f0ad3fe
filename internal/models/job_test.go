package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateQueued, StateRunning, true},
		{StateQueued, StateFailed, true},
		{StateQueued, StateSucceeded, false},
		{StateRunning, StateRunning, true},
		{StateRunning, StateSucceeded, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateQueued, false},
		{StateSucceeded, StateFailed, false},
		{StateFailed, StateRunning, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPublicReasonHidesInternals(t *testing.T) {
	secret := errors.New("dial tcp 10.0.0.3:5432: password=hunter2")

	if got := PublicReason("render", fmt.Errorf("wrap: %w", secret)); strings.Contains(got, "hunter2") {
		t.Fatalf("internal detail leaked: %q", got)
	}
	got := PublicReason("render", &RenderError{Reason: "encoder exited", Err: secret})
	if got != "video rendering failed: encoder exited" {
		t.Fatalf("render reason = %q", got)
	}
	got = PublicReason("voice", &ProviderError{Provider: "elevenlabs", Reason: "http_401", Err: secret})
	if strings.Contains(got, "hunter2") || !strings.Contains(got, "elevenlabs") {
		t.Fatalf("provider reason = %q", got)
	}
	if got := PublicReason("media", context.DeadlineExceeded); got != "media stage timed out" {
		t.Fatalf("timeout reason = %q", got)
	}
}

func TestMoodValid(t *testing.T) {
	if !MoodCalm.Valid() {
		t.Fatal("calm should be valid")
	}
	if Mood("sleepy").Valid() {
		t.Fatal("sleepy should be invalid")
	}
}
