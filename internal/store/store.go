package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"video-pipeline/internal/models"
)

// OrphanReason is recorded on jobs found running when the process starts.
const OrphanReason = "interrupted by restart"

// Store persists job records. Every mutation is a single atomic statement
// guarded by the job's current state, so the lifecycle only moves forward.
type Store interface {
	CreateJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListRecent(ctx context.Context, limit int) ([]models.Job, error)
	ListByState(ctx context.Context, state models.State) ([]models.Job, error)
	MarkRunning(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, p models.Progress) error
	Finish(ctx context.Context, id string, out models.Outcome) error
	FailOrphaned(ctx context.Context, reason string) (int64, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]models.Job, error)
	Close() error
}

// Options selects and configures a Store implementation.
type Options struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// Open returns the configured store with migrations applied.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		return NewSQLite(ctx, opts.SQLitePath)
	case "postgres", "postgresql":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres store requires POSTGRES_DSN")
		}
		pg, err := NewPostgres(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads the column list shared by both drivers. created/updated are
// handed back to the caller since their representation differs per driver.
func scanJob(row rowScanner, created, updated any) (models.Job, error) {
	var (
		job     models.Job
		state   string
		request []byte
	)
	if err := row.Scan(&job.ID, &state, &job.Progress.Stage, &job.Progress.Percent, &request,
		&job.ArtifactPath, &job.SubtitlesPath, &job.ArtifactURL, &job.Error, created, updated); err != nil {
		return models.Job{}, err
	}
	job.State = models.State(state)
	if err := json.Unmarshal(request, &job.Request); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal request: %w", err)
	}
	return job, nil
}

const jobColumns = `id, state, stage, percent, request, artifact_path, subtitles_path, artifact_url, error, created_at, updated_at`

func terminalStates() []string {
	return []string{string(models.StateSucceeded), string(models.StateFailed)}
}

// finishParams validates a terminal outcome and returns the stage and percent
// to record (empty stage and negative percent keep the current values) plus
// the states the job may be finished from.
func finishParams(out models.Outcome) (string, int, []string, error) {
	switch out.State {
	case models.StateSucceeded:
		if out.ArtifactPath == "" || out.Error != "" {
			return "", 0, nil, fmt.Errorf("succeeded outcome needs an artifact and no error: %w", models.ErrInvalidTransition)
		}
		return models.StageDone, 100, []string{string(models.StateRunning)}, nil
	case models.StateFailed:
		if out.Error == "" || out.ArtifactPath != "" || out.SubtitlesPath != "" || out.ArtifactURL != "" {
			return "", 0, nil, fmt.Errorf("failed outcome needs an error and no artifact: %w", models.ErrInvalidTransition)
		}
		return "", -1, []string{string(models.StateQueued), string(models.StateRunning)}, nil
	default:
		return "", 0, nil, fmt.Errorf("outcome state %q is not terminal: %w", out.State, models.ErrInvalidTransition)
	}
}
