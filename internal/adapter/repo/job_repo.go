package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
	"modelgen/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on top of Postgres.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertByTaskID loads the record for taskID or seeds a fresh one, applies
// mutate and writes it back with a single insert-or-update keyed by the
// provider task id.
func (r *JobRepositoryPG) UpsertByTaskID(ctx context.Context, taskID string, seed domain.JobSeed, mutate domain.JobMutator) (*domain.GenerationJob, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, errors.New("task id is required")
	}

	job, err := r.FindByTaskID(ctx, taskID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		job = newJobFromSeed(taskID, seed)
	case err != nil:
		return nil, err
	}

	if mutate != nil {
		if err := mutate(job); err != nil {
			return nil, err
		}
	}

	row := r.sql.QueryRow(ctx, sqlinline.QUpsertGenerationJob,
		job.ID,
		job.ProviderTaskID,
		string(job.Kind),
		job.Name,
		job.SourcePrompt,
		job.SourceImageURL,
		string(job.Status),
		job.Progress,
		job.ResultModelURL,
		job.ResultImageURL,
		job.OwnerID,
	)
	saved, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			// The conflict guard rejected the update: the stored row is terminal.
			return nil, domain.ErrTerminalRegression
		}
		return nil, fmt.Errorf("upsert job %s: %w", taskID, err)
	}
	return saved, nil
}

// FindByTaskID returns the record for taskID, including soft-deleted ones.
func (r *JobRepositoryPG) FindByTaskID(ctx context.Context, taskID string) (*domain.GenerationJob, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationJobByTaskID, taskID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// GetByID fetches a live record by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GenerationJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationJobByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List returns one page of records matching filter and the total match count.
func (r *JobRepositoryPG) List(ctx context.Context, filter domain.JobFilter) ([]domain.GenerationJob, int, error) {
	filter.Normalize()
	direction := "desc"
	if filter.SortAscending {
		direction = "asc"
	}
	query := fmt.Sprintf(sqlinline.QListGenerationJobs, filter.SortField+" "+direction+", id asc")

	var createdAfter *time.Time
	if filter.CreatedAfter != nil && !filter.CreatedAfter.IsZero() {
		createdAfter = filter.CreatedAfter
	}

	rows, err := r.sql.Query(ctx, query,
		filter.ProviderTaskID,
		likePattern(filter.Name),
		likePattern(filter.Prompt),
		string(filter.Status),
		filter.OwnerID,
		createdAfter,
		filter.PageSize,
		(filter.Page-1)*filter.PageSize,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		jobs  []domain.GenerationJob
		total int
	)
	for rows.Next() {
		var (
			job  domain.GenerationJob
			kind string
			stat string
		)
		if err := rows.Scan(
			&job.ID, &job.ProviderTaskID, &kind, &job.Name, &job.SourcePrompt, &job.SourceImageURL,
			&stat, &job.Progress, &job.ResultModelURL, &job.ResultImageURL,
			&job.OwnerID, &job.IsPublic, &job.CreatedAt, &job.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, err
		}
		job.Kind = domain.Kind(kind)
		job.Status = domain.ParseJobStatus(stat)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// UpdateDetails writes the user-editable fields that are set in details.
func (r *JobRepositoryPG) UpdateDetails(ctx context.Context, id string, details domain.JobDetails) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	var name *string
	if details.Name != nil {
		trimmed := strings.TrimSpace(*details.Name)
		if trimmed == "" {
			return fmt.Errorf("name must not be empty")
		}
		name = &trimmed
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateGenerationJobDetails, id, name, details.IsPublic)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete soft-deletes the record; it stays addressable by task id.
func (r *JobRepositoryPG) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QSoftDeleteGenerationJob, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListStale returns non-terminal records untouched since olderThan, oldest first.
func (r *JobRepositoryPG) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.GenerationJob, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListStaleGenerationJobs, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func newJobFromSeed(taskID string, seed domain.JobSeed) *domain.GenerationJob {
	prompt := seed.SourcePrompt
	if prompt == "" && seed.Kind == domain.KindImage {
		prompt = domain.DefaultImagePrompt
	}
	return &domain.GenerationJob{
		ID:             uuid.NewString(),
		ProviderTaskID: taskID,
		Kind:           seed.Kind,
		Name:           domain.DefaultJobName(taskID),
		SourcePrompt:   prompt,
		SourceImageURL: seed.SourceImageURL,
		Status:         domain.JobStatusQueued,
		OwnerID:        seed.OwnerID,
	}
}

func scanJob(row rowScanner) (*domain.GenerationJob, error) {
	var (
		job  domain.GenerationJob
		kind string
		stat string
	)
	if err := row.Scan(
		&job.ID, &job.ProviderTaskID, &kind, &job.Name, &job.SourcePrompt, &job.SourceImageURL,
		&stat, &job.Progress, &job.ResultModelURL, &job.ResultImageURL,
		&job.OwnerID, &job.IsPublic, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = domain.Kind(kind)
	job.Status = domain.ParseJobStatus(stat)
	return &job, nil
}

func likePattern(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(s) + "%"
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
