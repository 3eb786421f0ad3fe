package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"video-pipeline/internal/models"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func queuedJob(id string, created time.Time) models.Job {
	return models.Job{
		ID:        id,
		State:     models.StateQueued,
		Progress:  models.Progress{Stage: models.StageQueued},
		Request:   models.Request{Script: "Hello world.", UseTTS: true, Mood: models.MoodCalm},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestSQLiteLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if err := s.CreateJob(ctx, queuedJob("a", time.Now())); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := s.MarkRunning(ctx, "a"); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := s.UpdateProgress(ctx, "a", models.Progress{Stage: models.StageMedia, Percent: 35}); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	// percent never moves backward
	if err := s.UpdateProgress(ctx, "a", models.Progress{Stage: models.StageVoice, Percent: 10}); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	job, err := s.GetJob(ctx, "a")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.State != models.StateRunning || job.Progress.Percent != 35 {
		t.Fatalf("job = %+v, want running at 35%%", job)
	}
	if job.Request.Script != "Hello world." || job.Request.Mood != models.MoodCalm {
		t.Fatalf("request not round-tripped: %+v", job.Request)
	}

	if err := s.Finish(ctx, "a", models.Succeeded("/out/a.mp4", "/out/a.srt", "")); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	job, _ = s.GetJob(ctx, "a")
	if job.State != models.StateSucceeded || job.ArtifactPath != "/out/a.mp4" || job.Error != "" {
		t.Fatalf("job = %+v, want succeeded with artifact", job)
	}
	if job.Progress.Percent != 100 || job.Progress.Stage != models.StageDone {
		t.Fatalf("progress = %+v, want done/100", job.Progress)
	}

	// terminal jobs are immutable
	if err := s.Finish(ctx, "a", models.Failed("late failure")); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Finish() on terminal job error = %v, want ErrInvalidTransition", err)
	}
	if err := s.MarkRunning(ctx, "a"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("MarkRunning() on terminal job error = %v, want ErrInvalidTransition", err)
	}
}

func TestSQLiteFinishRejectsInconsistentOutcome(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	_ = s.CreateJob(ctx, queuedJob("a", time.Now()))
	_ = s.MarkRunning(ctx, "a")

	bad := models.Outcome{State: models.StateSucceeded, ArtifactPath: "/x.mp4", Error: "boom"}
	if err := s.Finish(ctx, "a", bad); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Finish() error = %v, want ErrInvalidTransition", err)
	}
	if err := s.Finish(ctx, "a", models.Outcome{State: models.StateFailed}); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Finish() without reason error = %v, want ErrInvalidTransition", err)
	}
}

func TestSQLiteNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("GetJob() error = %v, want ErrNotFound", err)
	}
	if err := s.MarkRunning(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("MarkRunning() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteListRecentOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"first", "second", "third"} {
		if err := s.CreateJob(ctx, queuedJob(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}

	jobs, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "third" || jobs[1].ID != "second" {
		t.Fatalf("ListRecent() = %v, want [third second]", ids(jobs))
	}

	queued, err := s.ListByState(ctx, models.StateQueued)
	if err != nil {
		t.Fatalf("ListByState() error = %v", err)
	}
	if len(queued) != 3 || queued[0].ID != "first" {
		t.Fatalf("ListByState() = %v, want oldest first", ids(queued))
	}
}

func TestSQLiteFailOrphanedPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	_ = s.CreateJob(ctx, queuedJob("running", time.Now()))
	_ = s.CreateJob(ctx, queuedJob("waiting", time.Now()))
	_ = s.MarkRunning(ctx, "running")
	s.Close()

	s, err = NewSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	n, err := s.FailOrphaned(ctx, OrphanReason)
	if err != nil || n != 1 {
		t.Fatalf("FailOrphaned() = %d, %v; want 1, nil", n, err)
	}
	job, _ := s.GetJob(ctx, "running")
	if job.State != models.StateFailed || job.Error != OrphanReason {
		t.Fatalf("orphan = %+v, want failed with reason", job)
	}
	job, _ = s.GetJob(ctx, "waiting")
	if job.State != models.StateQueued {
		t.Fatalf("queued job state = %s, want queued", job.State)
	}
}

func TestSQLiteDeleteFinishedBefore(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	_ = s.CreateJob(ctx, queuedJob("done", time.Now()))
	_ = s.MarkRunning(ctx, "done")
	_ = s.Finish(ctx, "done", models.Failed("boom"))
	_ = s.CreateJob(ctx, queuedJob("pending", time.Now()))

	deleted, err := s.DeleteFinishedBefore(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteFinishedBefore() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != "done" {
		t.Fatalf("deleted = %v, want [done]", ids(deleted))
	}
	if _, err := s.GetJob(ctx, "pending"); err != nil {
		t.Fatalf("pending job removed: %v", err)
	}
}

func ids(jobs []models.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
