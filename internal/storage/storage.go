// Package storage owns the on-disk layout of job working directories and the
// optional S3 mirror for finished artifacts.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds its byte limit.
var ErrTooLarge = errors.New("upload too large")

// Layout maps job ids to directories under a root.
type Layout struct {
	root string
}

func NewLayout(root string) (*Layout, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Layout{root: root}, nil
}

// Root is the output directory.
func (l *Layout) Root() string { return l.root }

// JobDir returns, creating if needed, the working directory for id.
func (l *Layout) JobDir(id string) (string, error) {
	dir, err := l.dir(id)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

// RemoveJob deletes everything written for id.
func (l *Layout) RemoveJob(id string) error {
	dir, err := l.dir(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove job dir: %w", err)
	}
	return nil
}

// Contains reports whether path lies inside the output directory.
func (l *Layout) Contains(path string) bool {
	rel, err := filepath.Rel(l.root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// SaveUpload copies at most maxBytes from r into uploads/<uuid><ext> and
// returns the stored path.
func (l *Layout) SaveUpload(r io.Reader, name string, maxBytes int64) (string, error) {
	dir := filepath.Join(l.root, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	path := filepath.Join(dir, uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

func (l *Layout) dir(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid job id %q", id)
	}
	return filepath.Join(l.root, id), nil
}
