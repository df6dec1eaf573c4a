// Package generation drives a provider task from submission to a terminal
// state: it polls on a fixed interval, checkpoints every poll into the job
// store, relocates result assets once on success and emits an ordered stream
// of events for the client.
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
	"modelgen/internal/metrics"
	"modelgen/internal/providers/tripo"
	"modelgen/internal/tasklock"
)

var (
	// ErrTaskBusy is returned when another poll loop already follows the task.
	ErrTaskBusy = errors.New("generation: task is already being followed")

	errMissingOutputs = errors.New("generation: provider reported success without outputs")
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxMissing   = 3
	defaultMaxFailures  = 5
)

// Provider is the subset of the provider client the orchestrator needs.
type Provider interface {
	SubmitTextJob(ctx context.Context, prompt string, params domain.GenerationParams) (tripo.JobHandle, error)
	SubmitImageJob(ctx context.Context, fileToken, mimeType string, params domain.GenerationParams) (tripo.JobHandle, error)
	UploadBlob(ctx context.Context, data []byte, filename, mimeType string) (string, error)
	PollStatus(ctx context.Context, taskID string) (tripo.TaskStatus, error)
}

// Relocator copies ephemeral outputs into durable storage.
type Relocator interface {
	Relocate(ctx context.Context, src domain.EphemeralURLs) (domain.DurableURLs, error)
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Provider  Provider
	Store     domain.JobRepository
	Relocator Relocator
	Locker    tasklock.Locker
	Metrics   *metrics.Collector
	Logger    *infra.Logger

	PollInterval time.Duration
	// MaxDuration bounds the whole loop; zero disables the bound.
	MaxDuration       time.Duration
	MaxMissingOutputs int
	MaxPollFailures   int
}

// Orchestrator runs poll loops. It holds no per-job state and is safe for
// concurrent use.
type Orchestrator struct {
	provider    Provider
	store       domain.JobRepository
	relocator   Relocator
	locker      tasklock.Locker
	metrics     *metrics.Collector
	logger      *infra.Logger
	interval    time.Duration
	maxDuration time.Duration
	maxMissing  int
	maxFailures int
	now         func() time.Time
}

// ImageInput is an uploaded picture for an image-to-model job.
type ImageInput struct {
	Data      []byte
	Filename  string
	MimeType  string
	SourceURL string
}

// Request describes one generation to submit.
type Request struct {
	Kind    domain.Kind
	OwnerID string
	Prompt  string
	Image   *ImageInput
	Params  domain.GenerationParams
}

// New validates opts and applies defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.Provider == nil {
		return nil, errors.New("generation: provider is required")
	}
	if opts.Store == nil {
		return nil, errors.New("generation: job store is required")
	}
	if opts.Relocator == nil {
		return nil, errors.New("generation: relocator is required")
	}
	locker := opts.Locker
	if locker == nil {
		locker = tasklock.NewLocalLocker()
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxMissing := opts.MaxMissingOutputs
	if maxMissing <= 0 {
		maxMissing = defaultMaxMissing
	}
	maxFailures := opts.MaxPollFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	return &Orchestrator{
		provider:    opts.Provider,
		store:       opts.Store,
		relocator:   opts.Relocator,
		locker:      locker,
		metrics:     opts.Metrics,
		logger:      logger,
		interval:    interval,
		maxDuration: opts.MaxDuration,
		maxMissing:  maxMissing,
		maxFailures: maxFailures,
		now:         time.Now,
	}, nil
}

// Run submits req and follows the resulting task until it reaches a terminal
// state, ctx is cancelled or the sink stops accepting events. Exactly one
// terminal event is emitted unless ctx ends first. The returned error is
// informational: failures have already been reported through sink.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) error {
	handle, seed, err := o.submit(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Warn().Err(err).Str("kind", string(req.Kind)).Msg("generation: submit failed")
		_ = sink.Emit(Event{Type: EventError, Job: domain.FailureView(""), Terminal: true})
		return err
	}

	st := &loopState{taskID: handle.TaskID, seed: seed, sink: sink, startedAt: o.now()}
	release, err := o.acquire(ctx, handle.TaskID)
	if err != nil {
		o.fail(st, nil)
		return err
	}
	defer release()

	if _, err := o.store.UpsertByTaskID(ctx, handle.TaskID, seed, applyUpdate(domain.JobUpdate{Status: domain.JobStatusQueued})); err != nil {
		o.logger.Warn().Err(err).Str("task_id", handle.TaskID).Msg("generation: initial checkpoint failed")
	}
	return o.loop(ctx, st)
}

// Resume re-attaches a poll loop to a persisted non-terminal job. It returns
// ErrTaskBusy without emitting when another loop owns the task, and the lock
// error when ownership cannot be checked. The provider is polled at least once
// before the wall-clock bound, counted from job creation, can expire the job.
func (o *Orchestrator) Resume(ctx context.Context, job *domain.GenerationJob, sink Sink) error {
	if job == nil || job.ProviderTaskID == "" {
		return domain.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	lease, ok, err := o.locker.TryAcquire(ctx, job.ProviderTaskID)
	if err != nil {
		return fmt.Errorf("generation: lock task %s: %w", job.ProviderTaskID, err)
	}
	if !ok {
		return ErrTaskBusy
	}
	defer lease.Release()

	st := &loopState{
		taskID: job.ProviderTaskID,
		seed: domain.JobSeed{
			Kind:           job.Kind,
			OwnerID:        job.OwnerID,
			SourcePrompt:   job.SourcePrompt,
			SourceImageURL: job.SourceImageURL,
		},
		sink:      sink,
		startedAt: job.CreatedAt,
	}
	if st.startedAt.IsZero() {
		st.startedAt = o.now()
	}
	o.logger.Info().Str("task_id", st.taskID).Str("job_id", job.ID).Msg("generation: resuming poll loop")
	return o.loop(ctx, st)
}

// Status returns the provider's current view of a task without persisting it.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (tripo.TaskStatus, error) {
	return o.provider.PollStatus(ctx, taskID)
}

func (o *Orchestrator) submit(ctx context.Context, req Request) (tripo.JobHandle, domain.JobSeed, error) {
	seed := domain.JobSeed{Kind: req.Kind, OwnerID: req.OwnerID, SourcePrompt: req.Prompt}
	var (
		handle tripo.JobHandle
		err    error
	)
	switch req.Kind {
	case domain.KindText:
		handle, err = o.provider.SubmitTextJob(ctx, req.Prompt, req.Params)
	case domain.KindImage:
		if req.Image == nil || len(req.Image.Data) == 0 {
			return handle, seed, domain.ErrInvalidImage
		}
		seed.SourceImageURL = req.Image.SourceURL
		var token string
		token, err = o.provider.UploadBlob(ctx, req.Image.Data, req.Image.Filename, req.Image.MimeType)
		if err == nil {
			handle, err = o.provider.SubmitImageJob(ctx, token, req.Image.MimeType, req.Params)
		}
	default:
		return handle, seed, fmt.Errorf("generation: unsupported kind %q", req.Kind)
	}
	o.metrics.Submission(string(req.Kind), submitOutcome(err))
	if err != nil {
		return handle, seed, err
	}
	o.logger.Info().Str("task_id", handle.TaskID).Str("kind", string(req.Kind)).Msg("generation: task submitted")
	return handle, seed, nil
}

func submitOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrProviderRejected):
		return "rejected"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (o *Orchestrator) acquire(ctx context.Context, taskID string) (func(), error) {
	lease, ok, err := o.locker.TryAcquire(ctx, taskID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A lock outage must not stop generation; the store guard still
		// rejects terminal regressions.
		o.logger.Warn().Err(err).Str("task_id", taskID).Msg("generation: task lock unavailable")
		return func() {}, nil
	}
	if !ok {
		return nil, ErrTaskBusy
	}
	return lease.Release, nil
}

type loopState struct {
	taskID    string
	seed      domain.JobSeed
	sink      Sink
	startedAt time.Time
	polled    bool
	missing   int
	failures  int
	done      bool
}

func (o *Orchestrator) loop(ctx context.Context, st *loopState) error {
	defer o.metrics.LoopStarted()()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Str("task_id", st.taskID).Msg("generation: poll loop cancelled")
			return ctx.Err()
		case <-ticker.C:
		}

		var (
			finished bool
			err      error
		)
		if st.polled && o.maxDuration > 0 && o.now().Sub(st.startedAt) > o.maxDuration {
			finished, err = o.expire(ctx, st)
		} else {
			finished, err = o.pollOnce(ctx, st)
		}
		if finished || err != nil {
			return err
		}
	}
}

// pollOnce runs one cycle. finished is true once a terminal event went out.
func (o *Orchestrator) pollOnce(ctx context.Context, st *loopState) (bool, error) {
	st.polled = true
	status, err := o.provider.PollStatus(ctx, st.taskID)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		o.metrics.Poll("error")
		return o.pollFailed(st, err)
	}
	o.metrics.Poll("ok")
	st.failures = 0

	o.logger.Debug().
		Str("task_id", st.taskID).
		Str("status", string(status.Status)).
		Int("progress", status.Progress).
		Msg("generation: poll")

	if status.Status == domain.JobStatusSuccess {
		if !status.HasOutputs() {
			return o.awaitOutputs(ctx, st, status)
		}
		return o.complete(ctx, st, status)
	}

	job, err := o.persist(ctx, st, domain.JobUpdate{Status: status.Status, Progress: status.Progress})
	if err != nil {
		return o.persistFailed(ctx, st, err)
	}
	terminal := job.Status.IsTerminal()
	if terminal {
		o.metrics.Terminal(string(job.Status), o.now().Sub(st.startedAt))
	}
	return terminal, o.emit(st, Event{Type: EventProgress, Job: job.View(), Terminal: terminal})
}

func (o *Orchestrator) pollFailed(st *loopState, err error) (bool, error) {
	st.failures++
	entry := o.logger.Warn().Err(err).Str("task_id", st.taskID).Int("attempt", st.failures)
	if errors.Is(err, domain.ErrProviderRejected) || st.failures >= o.maxFailures {
		entry.Msg("generation: giving up on task")
		o.fail(st, nil)
		return true, err
	}
	entry.Msg("generation: poll failed, retrying next interval")
	return false, nil
}

// awaitOutputs keeps a success-without-outputs task running for a bounded
// number of polls before marking it processing_failed.
func (o *Orchestrator) awaitOutputs(ctx context.Context, st *loopState, status tripo.TaskStatus) (bool, error) {
	st.missing++
	if st.missing > o.maxMissing {
		o.logger.Warn().Str("task_id", st.taskID).Int("attempt", st.missing).Msg("generation: outputs never arrived")
		return o.processingFailed(ctx, st, status.Progress, errMissingOutputs)
	}
	progress := status.Progress
	if progress > 99 {
		progress = 99
	}
	job, err := o.persist(ctx, st, domain.JobUpdate{Status: domain.JobStatusRunning, Progress: progress})
	if err != nil {
		return o.persistFailed(ctx, st, err)
	}
	return false, o.emit(st, Event{Type: EventProgress, Job: job.View()})
}

// complete handles a success poll that carries outputs. Relocation runs at
// most once per job: the guard reads the persisted record, not loop state.
func (o *Orchestrator) complete(ctx context.Context, st *loopState, status tripo.TaskStatus) (bool, error) {
	current, err := o.store.FindByTaskID(ctx, st.taskID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return o.persistFailed(ctx, st, err)
	}

	update := domain.JobUpdate{Status: domain.JobStatusSuccess, Progress: status.Progress}
	if current.HasResults() {
		o.logger.Info().Str("task_id", st.taskID).Msg("generation: results already relocated")
	} else {
		durable, err := o.relocator.Relocate(ctx, status.Outputs)
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			o.metrics.Relocation("failed")
			return o.processingFailed(ctx, st, status.Progress, err)
		}
		o.metrics.Relocation("ok")
		update.ResultModelURL = durable.ModelURL
		update.ResultImageURL = durable.ImageURL
	}

	job, err := o.persist(ctx, st, update)
	if err != nil {
		return o.persistFailed(ctx, st, err)
	}
	o.metrics.Terminal(string(job.Status), o.now().Sub(st.startedAt))
	o.logger.Info().Str("task_id", st.taskID).Str("job_id", job.ID).Msg("generation: task completed")
	return true, o.emit(st, Event{Type: EventProgress, Job: job.View(), Terminal: true})
}

func (o *Orchestrator) processingFailed(ctx context.Context, st *loopState, progress int, cause error) (bool, error) {
	o.logger.Error().Err(cause).Str("task_id", st.taskID).Msg("generation: post-processing failed")
	job, err := o.persist(ctx, st, domain.JobUpdate{Status: domain.JobStatusProcessingFailed, Progress: progress})
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		o.logger.Error().Err(err).Str("task_id", st.taskID).Msg("generation: persist processing_failed")
		job = nil
	} else {
		o.metrics.Terminal(string(job.Status), o.now().Sub(st.startedAt))
	}
	o.fail(st, job)
	return true, cause
}

func (o *Orchestrator) expire(ctx context.Context, st *loopState) (bool, error) {
	o.logger.Warn().Str("task_id", st.taskID).Dur("elapsed", o.now().Sub(st.startedAt)).Msg("generation: wall-clock bound exceeded")
	job, err := o.persist(ctx, st, domain.JobUpdate{Status: domain.JobStatusExpired, KeepProgress: true})
	if err != nil {
		return o.persistFailed(ctx, st, err)
	}
	o.metrics.Terminal(string(job.Status), o.now().Sub(st.startedAt))
	return true, o.emit(st, Event{Type: EventProgress, Job: job.View(), Terminal: true})
}

// persistFailed handles a checkpoint error. A terminal regression means the
// record was already finished elsewhere; its stored view becomes the
// terminal event. Anything else counts as a failed cycle.
func (o *Orchestrator) persistFailed(ctx context.Context, st *loopState, err error) (bool, error) {
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if errors.Is(err, domain.ErrTerminalRegression) {
		stored, findErr := o.store.FindByTaskID(ctx, st.taskID)
		if findErr != nil {
			o.fail(st, nil)
			return true, findErr
		}
		o.logger.Info().Str("task_id", st.taskID).Str("status", string(stored.Status)).Msg("generation: record already terminal")
		return true, o.emit(st, Event{Type: EventProgress, Job: stored.View(), Terminal: true})
	}
	o.logger.Error().Err(err).Str("task_id", st.taskID).Msg("generation: checkpoint failed")
	return o.pollFailed(st, err)
}

func (o *Orchestrator) persist(ctx context.Context, st *loopState, update domain.JobUpdate) (*domain.GenerationJob, error) {
	return o.store.UpsertByTaskID(ctx, st.taskID, st.seed, applyUpdate(update))
}

func applyUpdate(update domain.JobUpdate) domain.JobMutator {
	return func(job *domain.GenerationJob) error {
		return job.Apply(update)
	}
}

// fail emits the terminal error event. job may be nil.
func (o *Orchestrator) fail(st *loopState, job *domain.GenerationJob) {
	view := domain.FailureView(st.taskID)
	if job != nil {
		view.ID = job.ID
	}
	_ = o.emit(st, Event{Type: EventError, Job: view, Terminal: true})
}

// emit forwards ev unless a terminal event already went out.
func (o *Orchestrator) emit(st *loopState, ev Event) error {
	if st.done {
		return nil
	}
	if ev.Terminal {
		st.done = true
	}
	if err := st.sink.Emit(ev); err != nil {
		st.done = true
		o.logger.Info().Err(err).Str("task_id", st.taskID).Msg("generation: sink closed")
		return err
	}
	return nil
}
