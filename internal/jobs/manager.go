// Package jobs accepts video requests, persists their lifecycle and runs them
// through the pipeline with a bounded number of workers.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"video-pipeline/internal/models"
	"video-pipeline/internal/store"
	"video-pipeline/internal/telemetry"
)

const (
	DefaultListLimit = 20
	finishTimeout    = 10 * time.Second
	progressTimeout  = 5 * time.Second
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("job manager is shutting down")

// ProgressFunc records the stage a job is in and how far along it is.
type ProgressFunc func(stage string, percent int)

// Runner executes one job and always returns a terminal outcome.
type Runner interface {
	Run(ctx context.Context, job models.Job, progress ProgressFunc) models.Outcome
}

// Options configures a Manager.
type Options struct {
	Store          store.Store
	Runner         Runner
	Workers        int
	JobTimeout     time.Duration
	ListMax        int
	MaxScriptChars int
	MaxVideo       time.Duration
	Logger         zerolog.Logger
}

// Manager owns the FIFO of pending jobs and the worker pool that drains it.
type Manager struct {
	store      store.Store
	runner     Runner
	workers    int
	jobTimeout time.Duration
	listMax    int
	maxChars   int
	maxVideo   time.Duration
	logger     zerolog.Logger

	mu      sync.Mutex
	pending []string
	queued  map[string]bool
	running map[string]bool
	closed  bool

	wake   chan struct{}
	stop   chan struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewManager(opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if opts.ListMax <= 0 {
		opts.ListMax = 100
	}
	if opts.MaxScriptChars <= 0 {
		opts.MaxScriptChars = 20000
	}
	if opts.MaxVideo <= 0 {
		opts.MaxVideo = 300 * time.Second
	}
	return &Manager{
		store:      opts.Store,
		runner:     opts.Runner,
		workers:    opts.Workers,
		jobTimeout: opts.JobTimeout,
		listMax:    opts.ListMax,
		maxChars:   opts.MaxScriptChars,
		maxVideo:   opts.MaxVideo,
		logger:     opts.Logger.With().Str("component", "jobs").Logger(),
		queued:     map[string]bool{},
		running:    map[string]bool{},
		wake:       make(chan struct{}, opts.Workers),
		stop:       make(chan struct{}),
	}
}

// Start fails jobs left running by a previous process, re-enqueues persisted
// queued jobs oldest first, and launches the workers.
func (m *Manager) Start(ctx context.Context) error {
	n, err := m.store.FailOrphaned(ctx, store.OrphanReason)
	if err != nil {
		return fmt.Errorf("orphan sweep: %w", err)
	}
	if n > 0 {
		telemetry.JobsRecovered.Add(float64(n))
		telemetry.JobsFailed.Add(float64(n))
		m.logger.Warn().Int64("count", n).Msg("failed jobs interrupted by restart")
	}

	queued, err := m.store.ListByState(ctx, models.StateQueued)
	if err != nil {
		return fmt.Errorf("load queued jobs: %w", err)
	}
	for _, job := range queued {
		m.enqueue(job.ID)
	}
	if len(queued) > 0 {
		m.logger.Info().Int("count", len(queued)).Msg("re-enqueued persisted jobs")
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.group = &errgroup.Group{}
	for i := 0; i < m.workers; i++ {
		m.group.Go(func() error {
			m.work(base)
			return nil
		})
	}
	m.logger.Info().Int("workers", m.workers).Msg("job workers started")
	return nil
}

// Submit validates req, records it as queued and schedules it. It returns
// before any pipeline work starts.
func (m *Manager) Submit(ctx context.Context, req models.Request) (string, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrShuttingDown
	}

	req, err := m.validate(req)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	job := models.Job{
		ID:        uuid.NewString(),
		State:     models.StateQueued,
		Progress:  models.Progress{Stage: models.StageQueued},
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	telemetry.JobsSubmitted.Inc()
	m.enqueue(job.ID)
	m.logger.Info().Str("job_id", job.ID).Bool("tts", req.UseTTS).Str("mood", string(req.Mood)).Msg("job queued")
	return job.ID, nil
}

// Status returns the current record for id. Reads never mutate.
func (m *Manager) Status(ctx context.Context, id string) (models.Job, error) {
	return m.store.GetJob(ctx, id)
}

// ListRecent returns the newest jobs. limit <= 0 selects DefaultListLimit and
// values above the configured maximum are capped.
func (m *Manager) ListRecent(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > m.listMax {
		limit = m.listMax
	}
	return m.store.ListRecent(ctx, limit)
}

// InFlight lists the ids of jobs currently executing.
func (m *Manager) InFlight() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// QueueDepth is the number of jobs waiting for a worker.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Shutdown stops intake and waits for running jobs. If ctx expires first the
// running jobs are cancelled and still recorded as failed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	close(m.stop)

	if m.group == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = m.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) enqueue(id string) {
	m.mu.Lock()
	if m.queued[id] || m.running[id] {
		m.mu.Unlock()
		return
	}
	m.queued[id] = true
	m.pending = append(m.pending, id)
	telemetry.QueueDepthGauge.Set(float64(len(m.pending)))
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest pending id and marks it running.
func (m *Manager) next() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.pending) == 0 {
		return "", false
	}
	id := m.pending[0]
	m.pending = m.pending[1:]
	delete(m.queued, id)
	m.running[id] = true
	telemetry.QueueDepthGauge.Set(float64(len(m.pending)))
	telemetry.InFlightGauge.Set(float64(len(m.running)))
	return id, true
}

func (m *Manager) done(id string) {
	m.mu.Lock()
	delete(m.running, id)
	telemetry.InFlightGauge.Set(float64(len(m.running)))
	m.mu.Unlock()
}

func (m *Manager) work(ctx context.Context) {
	for {
		id, ok := m.next()
		if ok {
			m.execute(ctx, id)
			m.done(id)
			continue
		}
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-m.wake:
		}
	}
}

func (m *Manager) execute(ctx context.Context, id string) {
	log := m.logger.With().Str("job_id", id).Logger()

	if err := m.store.MarkRunning(ctx, id); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
			log.Warn().Err(err).Msg("job could not be started")
			return
		}
		log.Error().Err(err).Msg("mark running")
		m.finish(ctx, id, models.Failed("internal error"))
		return
	}
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		log.Error().Err(err).Msg("load job")
		m.finish(ctx, id, models.Failed("internal error"))
		return
	}

	jctx, cancel := context.WithTimeout(ctx, m.jobTimeout)
	defer cancel()

	start := time.Now()
	log.Info().Msg("job started")
	out := m.run(jctx, job, log)
	m.finish(ctx, id, out)
	log.Info().Str("state", string(out.State)).Dur("duration", time.Since(start)).Str("error", out.Error).Msg("job finished")
}

// run shields the worker from panics inside the pipeline.
func (m *Manager) run(ctx context.Context, job models.Job, log zerolog.Logger) (out models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pipeline panic")
			out = models.Failed("internal error")
		}
	}()
	return m.runner.Run(ctx, job, func(stage string, percent int) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), progressTimeout)
		defer cancel()
		if err := m.store.UpdateProgress(pctx, job.ID, models.Progress{Stage: stage, Percent: percent}); err != nil {
			log.Warn().Err(err).Str("stage", stage).Msg("progress update failed")
		}
	})
}

// finish records the terminal state even when the job context is gone.
func (m *Manager) finish(ctx context.Context, id string, out models.Outcome) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	err := m.store.Finish(fctx, id, out)
	if err != nil && out.State == models.StateSucceeded {
		m.logger.Error().Err(err).Str("job_id", id).Msg("recording success failed")
		out = models.Failed("internal error")
		err = m.store.Finish(fctx, id, out)
	}
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", id).Msg("recording terminal state failed")
		return
	}
	if out.State == models.StateSucceeded {
		telemetry.JobsSucceeded.Inc()
	} else {
		telemetry.JobsFailed.Inc()
	}
}
