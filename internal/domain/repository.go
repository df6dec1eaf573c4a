package domain

import (
	"context"
	"time"
)

// JobMutator mutates a found-or-new record before it is persisted.
type JobMutator func(job *GenerationJob) error

// JobRepository defines persistence for generation job records.
type JobRepository interface {
	// UpsertByTaskID finds the record for taskID (or seeds a new one), applies
	// mutate and persists the result. Repeated calls never create duplicates.
	UpsertByTaskID(ctx context.Context, taskID string, seed JobSeed, mutate JobMutator) (*GenerationJob, error)
	FindByTaskID(ctx context.Context, taskID string) (*GenerationJob, error)
	GetByID(ctx context.Context, id string) (*GenerationJob, error)
	List(ctx context.Context, filter JobFilter) ([]GenerationJob, int, error)
	UpdateDetails(ctx context.Context, id string, details JobDetails) error
	Delete(ctx context.Context, id string) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]GenerationJob, error)
}
