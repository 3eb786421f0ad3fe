// Package proc runs external media tools (ffmpeg, espeak) as subprocesses.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const maxStderrBytes = 8 * 1024

// Result describes a finished command.
type Result struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

// Runner abstracts process execution so adapters can be tested without binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec is the os/exec Runner.
type Exec struct {
	Logger zerolog.Logger
}

// Run executes name with args. A non-zero exit is returned as an error that
// carries the tail of stderr.
func (e Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	err := cmd.Run()
	res := Result{StderrTail: stderr.String(), Duration: time.Since(start)}
	if err == nil {
		e.Logger.Debug().Str("cmd", name).Dur("duration", res.Duration).Msg("command finished")
		return res, nil
	}

	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	e.Logger.Warn().
		Str("cmd", name).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Str("stderr_tail", truncate(res.StderrTail, 512)).
		Msg("command failed")
	return res, fmt.Errorf("%s exited %d: %w", name, res.ExitCode, err)
}

// Lookup returns the first of names found on PATH.
func Lookup(names ...string) (string, bool) {
	for _, n := range names {
		if n == "" {
			continue
		}
		if p, err := exec.LookPath(n); err == nil {
			return p, true
		}
	}
	return "", false
}

// ToWAVArgs builds ffmpeg arguments that decode any audio input to mono
// 16-bit PCM WAV at rate.
func ToWAVArgs(in, out string, rate int) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-c:a", "pcm_s16le",
		out,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
