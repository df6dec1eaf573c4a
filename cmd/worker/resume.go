package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"modelgen/internal/domain"
	"modelgen/internal/generation"
	"modelgen/internal/infra"
)

const (
	defaultStaleAfter   = time.Minute
	defaultBatchSize    = 20
	defaultScanInterval = 15 * time.Second
)

var errSharedLockRequired = errors.New("worker: REDIS_URL is required so the API and the worker share task locks")

// requireSharedLock rejects configurations where the API and the worker
// would each hold an in-process lock and could follow the same task.
func requireSharedLock(cfg *infra.Config) error {
	if cfg == nil || strings.TrimSpace(cfg.RedisURL) == "" {
		return errSharedLockRequired
	}
	return nil
}

type staleLister interface {
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.GenerationJob, error)
}

type resumer interface {
	Resume(ctx context.Context, job *domain.GenerationJob, sink generation.Sink) error
}

type resumeConfig struct {
	StaleAfter   time.Duration
	BatchSize    int
	ScanInterval time.Duration
}

// resumeWorker re-attaches poll loops to jobs whose last checkpoint is older
// than StaleAfter, typically because the API process serving the stream died.
// BatchSize bounds both the scan and the number of concurrent loops.
type resumeWorker struct {
	jobs     staleLister
	resumer  resumer
	logger   infra.Logger
	cfg      resumeConfig
	now      func() time.Time
	inflight *errgroup.Group
}

func newResumeWorker(jobs staleLister, r resumer, logger infra.Logger, cfg resumeConfig) *resumeWorker {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	g := &errgroup.Group{}
	g.SetLimit(cfg.BatchSize)
	return &resumeWorker{
		jobs:     jobs,
		resumer:  r,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		inflight: g,
	}
}

// Run scans immediately and then every ScanInterval until ctx ends. It waits
// for resumed loops to unwind before returning.
func (w *resumeWorker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("stale_after", w.cfg.StaleAfter).
		Int("batch_size", w.cfg.BatchSize).
		Msg("worker: started")
	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		w.scan(ctx)
		select {
		case <-ctx.Done():
			_ = w.inflight.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// scan starts a loop for each stale job while capacity remains and reports
// how many were started.
func (w *resumeWorker) scan(ctx context.Context) int {
	jobs, err := w.jobs.ListStale(ctx, w.now().Add(-w.cfg.StaleAfter), w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("worker: list stale jobs failed")
		}
		return 0
	}
	started := 0
	for i := range jobs {
		job := jobs[i]
		if !w.inflight.TryGo(func() error {
			w.resume(ctx, &job)
			return nil
		}) {
			w.logger.Debug().Int("pending", len(jobs)-i).Msg("worker: at capacity, deferring remaining jobs")
			break
		}
		started++
	}
	return started
}

func (w *resumeWorker) resume(ctx context.Context, job *domain.GenerationJob) {
	logger := w.logger.With().Str("task_id", job.ProviderTaskID).Str("job_id", job.ID).Logger()
	err := w.resumer.Resume(ctx, job, generation.LogSink{Logger: &logger})
	switch {
	case err == nil:
	case errors.Is(err, generation.ErrTaskBusy):
		logger.Debug().Msg("worker: task already followed elsewhere")
	case ctx.Err() != nil:
	default:
		logger.Warn().Err(err).Msg("worker: resume ended with error")
	}
}
