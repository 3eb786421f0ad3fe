package jobs

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"video-pipeline/internal/storage"
	"video-pipeline/internal/store"
	"video-pipeline/internal/telemetry"
)

// Sweeper deletes finished jobs older than the retention window together
// with their working directories and uploaded recordings.
type Sweeper struct {
	Store     store.Store
	Layout    *storage.Layout
	Retention time.Duration
	Logger    zerolog.Logger

	now func() time.Time
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Error().Err(err).Msg("retention sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep removes every terminal job last updated before the retention cutoff
// and returns how many were deleted. File cleanup is best effort.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	cutoff := now().Add(-s.Retention)
	deleted, err := s.Store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, job := range deleted {
		if err := s.Layout.RemoveJob(job.ID); err != nil {
			s.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("remove job dir")
		}
		if up := job.Request.VoiceUpload; up != "" && s.Layout.Contains(up) {
			if err := os.Remove(up); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("remove voice upload")
			}
		}
	}
	if len(deleted) > 0 {
		telemetry.JobsSwept.Add(float64(len(deleted)))
		s.Logger.Info().Int("count", len(deleted)).Time("cutoff", cutoff).Msg("swept finished jobs")
	}
	return len(deleted), nil
}
