package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"video-pipeline/internal/models"
	"video-pipeline/internal/store"
)

type runnerFunc func(ctx context.Context, job models.Job, progress ProgressFunc) models.Outcome

func (f runnerFunc) Run(ctx context.Context, job models.Job, progress ProgressFunc) models.Outcome {
	return f(ctx, job, progress)
}

// blockingRunner holds every job until release is closed and records the
// highest number of jobs it saw at once.
type blockingRunner struct {
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	active int
	peak   int
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, job models.Job, progress ProgressFunc) models.Outcome {
	r.mu.Lock()
	r.active++
	r.peak = max(r.peak, r.active)
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	progress(models.StageEnhance, 15)
	select {
	case <-r.release:
	case <-ctx.Done():
		return models.Failed("cancelled")
	}
	return models.Succeeded("/out/"+job.ID+".mp4", "", "")
}

func (r *blockingRunner) Release() { r.once.Do(func() { close(r.release) }) }

func (r *blockingRunner) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

func newTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func startManager(t *testing.T, st store.Store, runner Runner, workers int) *Manager {
	t.Helper()
	m := NewManager(Options{Store: st, Runner: runner, Workers: workers, Logger: zerolog.Nop()})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func validRequest() models.Request {
	return models.Request{
		Script:       "Welcome to our channel. Today we explore the mountains.",
		UseTTS:       true,
		AddCaptions:  true,
		CaptionStyle: "modern",
		AddMusic:     true,
		Mood:         models.MoodInspirational,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitTerminal(t *testing.T, m *Manager, id string) models.Job {
	t.Helper()
	var job models.Job
	waitFor(t, "job "+id+" to finish", func() bool {
		var err error
		job, err = m.Status(context.Background(), id)
		return err == nil && job.State.Terminal()
	})
	return job
}

func TestSubmitReturnsBeforeWork(t *testing.T) {
	runner := newBlockingRunner()
	t.Cleanup(runner.Release)
	m := startManager(t, newTestStore(t), runner, 1)

	id, err := m.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id == "" {
		t.Fatal("Submit() returned empty id")
	}
	job, err := m.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if job.State != models.StateQueued && job.State != models.StateRunning {
		t.Fatalf("state = %s, want queued or running", job.State)
	}
	if job.Request.Voice != "default" {
		t.Fatalf("voice default not applied: %+v", job.Request)
	}

	runner.Release()
	job = waitTerminal(t, m, id)
	if job.State != models.StateSucceeded || job.ArtifactPath == "" || job.Error != "" {
		t.Fatalf("job = %+v, want succeeded with artifact", job)
	}
	if job.Progress.Percent != 100 {
		t.Fatalf("percent = %d, want 100", job.Progress.Percent)
	}
}

func TestSubmitValidation(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(Options{Store: st, Runner: newBlockingRunner(), MaxScriptChars: 200, MaxVideo: 10 * time.Second, Logger: zerolog.Nop()})

	long := ""
	for i := 0; i < 30; i++ {
		long += "word "
	}
	cases := map[string]func(*models.Request){
		"empty script":   func(r *models.Request) { r.Script = "   " },
		"too long":       func(r *models.Request) { r.Script = long + long + long },
		"too much video": func(r *models.Request) { r.Script = long },
		"unknown mood":   func(r *models.Request) { r.Mood = "sleepy" },
		"unknown style":  func(r *models.Request) { r.CaptionStyle = "comic-sans" },
		"unknown voice":  func(r *models.Request) { r.Voice = "robot" },
		"missing upload": func(r *models.Request) { r.UseTTS = false },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validRequest()
			mutate(&req)
			if _, err := m.Submit(context.Background(), req); !models.IsValidation(err) {
				t.Fatalf("Submit() error = %v, want ValidationError", err)
			}
		})
	}

	jobs, err := m.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected submissions created %d records", len(jobs))
	}
}

func TestConcurrencyCap(t *testing.T) {
	runner := newBlockingRunner()
	t.Cleanup(runner.Release)
	m := startManager(t, newTestStore(t), runner, 2)

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := m.Submit(context.Background(), validRequest())
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids = append(ids, id)
	}

	waitFor(t, "two running jobs", func() bool { return len(m.InFlight()) == 2 })
	if m.QueueDepth() != 2 {
		t.Fatalf("QueueDepth() = %d, want 2", m.QueueDepth())
	}
	queued := 0
	for _, id := range ids {
		job, _ := m.Status(context.Background(), id)
		if job.State == models.StateQueued {
			queued++
		}
	}
	if queued != 2 {
		t.Fatalf("queued jobs = %d, want 2", queued)
	}

	runner.Release()
	for _, id := range ids {
		if job := waitTerminal(t, m, id); job.State != models.StateSucceeded {
			t.Fatalf("job %s = %s", id, job.State)
		}
	}
	if runner.Peak() > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", runner.Peak())
	}
}

func TestStartRecoversOrphansAndRequeues(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()
	seed := []struct {
		id      string
		created time.Time
	}{
		{"was-running", now.Add(-time.Minute)},
		{"queued-late", now.Add(2 * time.Second)},
		{"queued-early", now},
		{"queued-mid", now.Add(time.Second)},
	}
	for _, s := range seed {
		if err := st.CreateJob(ctx, models.Job{
			ID: s.id, State: models.StateQueued, Progress: models.Progress{Stage: models.StageQueued},
			Request: validRequest(), CreatedAt: s.created, UpdatedAt: s.created,
		}); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}
	if err := st.MarkRunning(ctx, "was-running"); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	var ran []string
	var mu sync.Mutex
	m := startManager(t, st, runnerFunc(func(_ context.Context, job models.Job, _ ProgressFunc) models.Outcome {
		mu.Lock()
		ran = append(ran, job.ID)
		mu.Unlock()
		return models.Succeeded("/out/x.mp4", "", "")
	}), 1)

	orphan, _ := m.Status(ctx, "was-running")
	if orphan.State != models.StateFailed || orphan.Error != store.OrphanReason {
		t.Fatalf("orphan = %+v, want failed with %q", orphan, store.OrphanReason)
	}
	for _, id := range []string{"queued-early", "queued-mid", "queued-late"} {
		if job := waitTerminal(t, m, id); job.State != models.StateSucceeded {
			t.Fatalf("requeued job %s state = %s", id, job.State)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(ran, ",") != "queued-early,queued-mid,queued-late" {
		t.Fatalf("ran = %v, want queued jobs oldest first and no orphan", ran)
	}
}

func TestJobsStartInSubmissionOrder(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	started := make(chan string, 8)
	var first sync.Once
	m := startManager(t, newTestStore(t), runnerFunc(func(ctx context.Context, job models.Job, _ ProgressFunc) models.Outcome {
		started <- job.ID
		hold := false
		first.Do(func() { hold = true })
		if hold {
			select {
			case <-gate:
			case <-ctx.Done():
			}
		}
		return models.Succeeded("/out/"+job.ID+".mp4", "", "")
	}), 1)

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := m.Submit(context.Background(), validRequest())
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		ids = append(ids, id)
	}
	waitFor(t, "the rest to queue behind the first job", func() bool { return m.QueueDepth() == 4 })
	gate <- struct{}{}

	for i, want := range ids {
		select {
		case got := <-started:
			if got != want {
				t.Fatalf("job %d started = %s, want %s (submission order %v)", i, got, want, ids)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("job %d never started", i)
		}
	}
}

// flakyStore fails the first MarkRunning call with a storage error.
type flakyStore struct {
	store.Store
	once sync.Once
}

func (s *flakyStore) MarkRunning(ctx context.Context, id string) error {
	var err error
	s.once.Do(func() { err = errors.New("database is locked") })
	if err != nil {
		return err
	}
	return s.Store.MarkRunning(ctx, id)
}

func TestMarkRunningErrorFailsJob(t *testing.T) {
	var ran []string
	var mu sync.Mutex
	m := startManager(t, &flakyStore{Store: newTestStore(t)}, runnerFunc(func(_ context.Context, job models.Job, _ ProgressFunc) models.Outcome {
		mu.Lock()
		ran = append(ran, job.ID)
		mu.Unlock()
		return models.Succeeded("/out/"+job.ID+".mp4", "", "")
	}), 1)

	broken, err := m.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job := waitTerminal(t, m, broken)
	if job.State != models.StateFailed || job.Error != "internal error" || job.ArtifactPath != "" {
		t.Fatalf("job = %+v, want failed with internal error", job)
	}

	next, err := m.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job := waitTerminal(t, m, next); job.State != models.StateSucceeded {
		t.Fatalf("next job = %+v, want succeeded", job)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != next {
		t.Fatalf("ran = %v, want only %s", ran, next)
	}
}

func TestPanicBecomesFailedJob(t *testing.T) {
	m := startManager(t, newTestStore(t), runnerFunc(func(context.Context, models.Job, ProgressFunc) models.Outcome {
		panic("boom")
	}), 1)

	id, err := m.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	job := waitTerminal(t, m, id)
	if job.State != models.StateFailed || job.Error != "internal error" || job.ArtifactPath != "" {
		t.Fatalf("job = %+v, want failed with internal error", job)
	}
}

func TestListRecentDefaultsAndCap(t *testing.T) {
	runner := newBlockingRunner()
	t.Cleanup(runner.Release)
	st := newTestStore(t)
	m := NewManager(Options{Store: st, Runner: runner, ListMax: 2, Logger: zerolog.Nop()})
	for i := 0; i < 3; i++ {
		if _, err := m.Submit(context.Background(), validRequest()); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	for _, limit := range []int{0, -1, 50} {
		jobs, err := m.ListRecent(context.Background(), limit)
		if err != nil {
			t.Fatalf("ListRecent(%d) error = %v", limit, err)
		}
		if len(jobs) != 2 {
			t.Fatalf("ListRecent(%d) = %d jobs, want 2", limit, len(jobs))
		}
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	m := startManager(t, newTestStore(t), newBlockingRunner(), 1)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, err := m.Submit(context.Background(), validRequest()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Submit() error = %v, want ErrShuttingDown", err)
	}
}

func TestStatusUnknownID(t *testing.T) {
	m := NewManager(Options{Store: newTestStore(t), Runner: newBlockingRunner(), Logger: zerolog.Nop()})
	if _, err := m.Status(context.Background(), "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Status() error = %v, want ErrNotFound", err)
	}
}
