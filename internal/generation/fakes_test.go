package generation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"modelgen/internal/domain"
	"modelgen/internal/providers/tripo"
)

type pollResult struct {
	status tripo.TaskStatus
	err    error
}

type fakeProvider struct {
	mu         sync.Mutex
	taskID     string
	submitErr  error
	polls      []pollResult
	pollCalls  int
	prompt     string
	uploaded   []byte
	imageToken string
}

func (p *fakeProvider) SubmitTextJob(_ context.Context, prompt string, _ domain.GenerationParams) (tripo.JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompt = prompt
	if p.submitErr != nil {
		return tripo.JobHandle{}, p.submitErr
	}
	return tripo.JobHandle{TaskID: p.taskID}, nil
}

func (p *fakeProvider) SubmitImageJob(_ context.Context, fileToken, _ string, _ domain.GenerationParams) (tripo.JobHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imageToken = fileToken
	if p.submitErr != nil {
		return tripo.JobHandle{}, p.submitErr
	}
	return tripo.JobHandle{TaskID: p.taskID}, nil
}

func (p *fakeProvider) UploadBlob(_ context.Context, data []byte, _, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploaded = append([]byte(nil), data...)
	return "token-1", nil
}

func (p *fakeProvider) PollStatus(ctx context.Context, taskID string) (tripo.TaskStatus, error) {
	if err := ctx.Err(); err != nil {
		return tripo.TaskStatus{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.pollCalls
	p.pollCalls++
	if len(p.polls) == 0 {
		return tripo.TaskStatus{TaskID: taskID, Status: domain.JobStatusRunning}, nil
	}
	if idx >= len(p.polls) {
		idx = len(p.polls) - 1
	}
	res := p.polls[idx]
	res.status.TaskID = taskID
	return res.status, res.err
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pollCalls
}

type fakeRelocator struct {
	mu      sync.Mutex
	calls   int
	sources []domain.EphemeralURLs
	result  domain.DurableURLs
	err     error
}

func (r *fakeRelocator) Relocate(_ context.Context, src domain.EphemeralURLs) (domain.DurableURLs, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.sources = append(r.sources, src)
	if r.err != nil {
		return domain.DurableURLs{}, r.err
	}
	return r.result, nil
}

// memRepo is an in-memory JobRepository that records every persisted status.
type memRepo struct {
	mu      sync.Mutex
	jobs    map[string]*domain.GenerationJob
	history map[string][]domain.JobStatus
	seq     int
}

func newMemRepo() *memRepo {
	return &memRepo{
		jobs:    make(map[string]*domain.GenerationJob),
		history: make(map[string][]domain.JobStatus),
	}
}

func (r *memRepo) put(job domain.GenerationJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := job
	r.jobs[job.ProviderTaskID] = &stored
}

func (r *memRepo) UpsertByTaskID(_ context.Context, taskID string, seed domain.JobSeed, mutate domain.JobMutator) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var job domain.GenerationJob
	if existing, ok := r.jobs[taskID]; ok {
		job = *existing
	} else {
		r.seq++
		job = domain.GenerationJob{
			ID:             fmt.Sprintf("job-%d", r.seq),
			ProviderTaskID: taskID,
			Kind:           seed.Kind,
			Name:           domain.DefaultJobName(taskID),
			SourcePrompt:   seed.SourcePrompt,
			SourceImageURL: seed.SourceImageURL,
			OwnerID:        seed.OwnerID,
			Status:         domain.JobStatusQueued,
			CreatedAt:      time.Now(),
		}
	}
	previous := job.Status
	if err := mutate(&job); err != nil {
		return nil, err
	}
	if _, ok := r.jobs[taskID]; ok && !previous.CanTransitionTo(job.Status) {
		return nil, domain.ErrTerminalRegression
	}
	job.UpdatedAt = time.Now()
	stored := job
	r.jobs[taskID] = &stored
	r.history[taskID] = append(r.history[taskID], job.Status)
	out := job
	return &out, nil
}

func (r *memRepo) FindByTaskID(_ context.Context, taskID string) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.ID == id {
			out := *job
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) List(context.Context, domain.JobFilter) ([]domain.GenerationJob, int, error) {
	return nil, 0, nil
}

func (r *memRepo) UpdateDetails(context.Context, string, domain.JobDetails) error { return nil }

func (r *memRepo) Delete(context.Context, string) error { return nil }

func (r *memRepo) ListStale(context.Context, time.Time, int) ([]domain.GenerationJob, error) {
	return nil, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *memRepo) statuses(taskID string) []domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.JobStatus(nil), r.history[taskID]...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	onEmit func(Event)
}

func (s *recordingSink) Emit(ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	hook := s.onEmit
	s.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
	return nil
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func assertSingleTerminal(t *testing.T, events []Event) {
	t.Helper()
	if len(events) == 0 {
		t.Fatalf("no events emitted")
	}
	terminals := 0
	for _, ev := range events {
		if ev.Terminal {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d in %+v", terminals, events)
	}
	if !events[len(events)-1].Terminal {
		t.Fatalf("terminal event must be last: %+v", events)
	}
}
