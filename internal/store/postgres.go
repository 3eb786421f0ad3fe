package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"video-pipeline/internal/models"
)

// Postgres wraps pgxpool for deployments that share a database server.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// RunMigrations executes the embedded Postgres migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	return runMigrations(ctx, "postgres", func(ctx context.Context, stmt string) error {
		_, err := s.pool.Exec(ctx, stmt)
		return err
	})
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Postgres) CreateJob(ctx context.Context, job models.Job) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, state, stage, percent, request, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.ID, string(job.State), job.Progress.Stage, job.Progress.Percent, request, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (s *Postgres) ListRecent(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectPostgresJobs(rows)
}

func (s *Postgres) ListByState(ctx context.Context, state models.State) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE state = $1 ORDER BY created_at ASC, id ASC
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", err)
	}
	return collectPostgresJobs(rows)
}

func (s *Postgres) MarkRunning(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $2, updated_at = NOW() WHERE id = $1 AND state = $3
	`, id, string(models.StateRunning), string(models.StateQueued))
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return s.checkAffected(ctx, tag, id)
}

func (s *Postgres) UpdateProgress(ctx context.Context, id string, p models.Progress) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET stage = $2, percent = GREATEST(percent, $3), updated_at = NOW()
		WHERE id = $1 AND state = $4
	`, id, p.Stage, p.Percent, string(models.StateRunning))
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return s.checkAffected(ctx, tag, id)
}

func (s *Postgres) Finish(ctx context.Context, id string, out models.Outcome) error {
	stage, percent, from, err := finishParams(out)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET state = $2,
		    stage = CASE WHEN $3 = '' THEN stage ELSE $3 END,
		    percent = CASE WHEN $4 < 0 THEN percent ELSE $4 END,
		    artifact_path = $5, subtitles_path = $6, artifact_url = $7, error = $8, updated_at = NOW()
		WHERE id = $1 AND state = ANY($9)
	`, id, string(out.State), stage, percent, out.ArtifactPath, out.SubtitlesPath, out.ArtifactURL, out.Error, from)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return s.checkAffected(ctx, tag, id)
}

func (s *Postgres) FailOrphaned(ctx context.Context, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $1, error = $2, artifact_path = '', subtitles_path = '', artifact_url = '', updated_at = NOW()
		WHERE state = $3
	`, string(models.StateFailed), reason, string(models.StateRunning))
	if err != nil {
		return 0, fmt.Errorf("fail orphaned jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM jobs WHERE state = ANY($1) AND updated_at < $2
		RETURNING `+jobColumns, terminalStates(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete expired jobs: %w", err)
	}
	return collectPostgresJobs(rows)
}

func (s *Postgres) checkAffected(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup job: %w", err)
	}
	return fmt.Errorf("job %s: %w", id, models.ErrInvalidTransition)
}

func scanPostgresJob(row rowScanner) (models.Job, error) {
	var created, updated time.Time
	job, err := scanJob(row, &created, &updated)
	if err != nil {
		return models.Job{}, err
	}
	job.CreatedAt = created.UTC()
	job.UpdatedAt = updated.UTC()
	return job, nil
}

func collectPostgresJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
