package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrNotReady is returned when a job has no artifact yet.
	ErrNotReady = errors.New("not ready")
	// ErrInvalidTransition guards the monotonic job lifecycle.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError reports bad client input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProviderError is an external service failure. Fallback chains advance on it.
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RenderError is fatal for a job and never retried.
type RenderError struct {
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return "render: " + e.Reason + ": " + e.Err.Error()
	}
	return "render: " + e.Reason
}

func (e *RenderError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsProvider reports whether err carries a *ProviderError.
func IsProvider(err error) bool {
	var p *ProviderError
	return errors.As(err, &p)
}

// PublicReason is the short, user-visible reason recorded on a failed job.
// Internal error text is never exposed.
func PublicReason(stage string, err error) string {
	var (
		v *ValidationError
		p *ProviderError
		r *RenderError
	)
	switch {
	case errors.As(err, &v):
		return v.Error()
	case errors.As(err, &r):
		return "video rendering failed: " + r.Reason
	case errors.As(err, &p):
		return fmt.Sprintf("%s stage failed: %s unavailable (%s)", stage, p.Provider, p.Reason)
	case errors.Is(err, context.DeadlineExceeded):
		return stage + " stage timed out"
	case errors.Is(err, context.Canceled):
		return "interrupted by shutdown"
	default:
		if stage == "" {
			return "internal error"
		}
		return "internal error during " + stage + " stage"
	}
}
