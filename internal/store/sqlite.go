package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"video-pipeline/internal/models"
)

// SQLite is the default file-backed store.
type SQLite struct {
	conn *sql.DB
}

// NewSQLite opens (creating if needed) the database file and applies migrations.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite's locking out of the job routines' way.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}

	s := &SQLite{conn: conn}
	if err := runMigrations(ctx, "sqlite", func(ctx context.Context, stmt string) error {
		_, err := conn.ExecContext(ctx, stmt)
		return err
	}); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) CreateJob(ctx context.Context, job models.Job) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO jobs (id, state, stage, percent, request, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, string(job.State), job.Progress.Stage, job.Progress.Percent, string(request),
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (s *SQLite) ListRecent(ctx context.Context, limit int) ([]models.Job, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLite) ListByState(ctx context.Context, state models.State) ([]models.Job, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at ASC, rowid ASC
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLite) MarkRunning(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?
	`, string(models.StateRunning), time.Now().UTC().UnixNano(), id, string(models.StateQueued))
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

func (s *SQLite) UpdateProgress(ctx context.Context, id string, p models.Progress) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE jobs SET stage = ?, percent = MAX(percent, ?), updated_at = ?
		WHERE id = ? AND state = ?
	`, p.Stage, p.Percent, time.Now().UTC().UnixNano(), id, string(models.StateRunning))
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

func (s *SQLite) Finish(ctx context.Context, id string, out models.Outcome) error {
	stage, percent, from, err := finishParams(out)
	if err != nil {
		return err
	}
	query := `
		UPDATE jobs
		SET state = ?, stage = CASE WHEN ? = '' THEN stage ELSE ? END,
		    percent = CASE WHEN ? < 0 THEN percent ELSE ? END,
		    artifact_path = ?, subtitles_path = ?, artifact_url = ?, error = ?, updated_at = ?
		WHERE id = ? AND state IN (` + placeholders(len(from)) + `)`
	args := []any{string(out.State), stage, stage, percent, percent, out.ArtifactPath, out.SubtitlesPath,
		out.ArtifactURL, out.Error, time.Now().UTC().UnixNano(), id}
	for _, st := range from {
		args = append(args, st)
	}
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return s.checkAffected(ctx, res, id)
}

func (s *SQLite) FailOrphaned(ctx context.Context, reason string) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE jobs SET state = ?, error = ?, artifact_path = '', subtitles_path = '', artifact_url = '', updated_at = ?
		WHERE state = ?
	`, string(models.StateFailed), reason, time.Now().UTC().UnixNano(), string(models.StateRunning))
	if err != nil {
		return 0, fmt.Errorf("fail orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	terminal := terminalStates()
	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE state IN (?, ?) AND updated_at < ?
	`, terminal[0], terminal[1], cutoff.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("select expired jobs: %w", err)
	}
	expired, err := collectSQLiteJobs(rows)
	if err != nil {
		return nil, err
	}
	for _, job := range expired {
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
			return nil, fmt.Errorf("delete job %s: %w", job.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return expired, nil
}

// checkAffected distinguishes an unknown id from a refused transition.
func (s *SQLite) checkAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.conn.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup job: %w", err)
	}
	return fmt.Errorf("job %s: %w", id, models.ErrInvalidTransition)
}

func scanSQLiteJob(row rowScanner) (models.Job, error) {
	var created, updated int64
	job, err := scanJob(row, &created, &updated)
	if err != nil {
		return models.Job{}, err
	}
	job.CreatedAt = time.Unix(0, created).UTC()
	job.UpdatedAt = time.Unix(0, updated).UTC()
	return job, nil
}

func collectSQLiteJobs(rows *sql.Rows) ([]models.Job, error) {
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
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

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',', ' ')
		}
		b = append(b, '?')
	}
	return string(b)
}
