package domain

import (
	"strings"
	"time"
)

// Kind selects which provider submission path a job uses.
type Kind string

const (
	KindText  Kind = "text_to_model"
	KindImage Kind = "image_to_model"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusRunning          JobStatus = "running"
	JobStatusSuccess          JobStatus = "success"
	JobStatusFailed           JobStatus = "failed"
	JobStatusBanned           JobStatus = "banned"
	JobStatusExpired          JobStatus = "expired"
	JobStatusCancelled        JobStatus = "cancelled"
	JobStatusUnknown          JobStatus = "unknown"
	JobStatusProcessingFailed JobStatus = "processing_failed"
)

// ParseJobStatus maps a provider status string onto a JobStatus. Anything not
// recognised becomes JobStatusUnknown.
func ParseJobStatus(raw string) JobStatus {
	switch s := JobStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case JobStatusQueued, JobStatusRunning, JobStatusSuccess, JobStatusFailed,
		JobStatusBanned, JobStatusExpired, JobStatusCancelled, JobStatusProcessingFailed:
		return s
	default:
		return JobStatusUnknown
	}
}

// IsTerminal reports whether no further polling is useful for the status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed, JobStatusBanned, JobStatusExpired,
		JobStatusCancelled, JobStatusProcessingFailed:
		return true
	}
	return false
}

// IsFailure reports whether the status is terminal and not a success.
func (s JobStatus) IsFailure() bool {
	return s.IsTerminal() && s != JobStatusSuccess
}

// CanTransitionTo reports whether a persisted record in status s may move to
// next. Non-terminal states move freely; terminal states are sticky except
// success, which may still be downgraded to processing_failed. Apply further
// restricts that downgrade to records without result URLs.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s == "" || !s.IsTerminal() {
		return true
	}
	if s == next {
		return true
	}
	return s == JobStatusSuccess && next == JobStatusProcessingFailed
}

// GenerationJob is the persisted record of one provider task.
type GenerationJob struct {
	ID             string
	ProviderTaskID string
	Kind           Kind
	Name           string
	SourcePrompt   string
	SourceImageURL string
	Status         JobStatus
	Progress       int
	ResultModelURL string
	ResultImageURL string
	OwnerID        string
	IsPublic       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasResults reports whether durable result URLs were already written.
func (j *GenerationJob) HasResults() bool {
	return j != nil && strings.TrimSpace(j.ResultModelURL) != ""
}

// JobSeed carries the caller-supplied defaults used when an upsert creates a
// record for an unseen task id.
type JobSeed struct {
	Kind           Kind
	OwnerID        string
	SourcePrompt   string
	SourceImageURL string
}

// JobUpdate is the mutation applied to a job record on every poll.
// KeepProgress leaves the stored progress alone for updates that do not come
// from a provider poll.
type JobUpdate struct {
	Status         JobStatus
	Progress       int
	KeepProgress   bool
	ResultModelURL string
	ResultImageURL string
}

// Apply merges u into j honouring terminal-state monotonicity and the
// write-once result URLs. It returns ErrTerminalRegression when the update
// would move a terminal record backwards; j is left untouched in that case.
func (j *GenerationJob) Apply(u JobUpdate) error {
	if u.Status != "" {
		if !j.canMoveTo(u.Status) {
			return ErrTerminalRegression
		}
		j.Status = u.Status
	}
	if !u.KeepProgress {
		j.Progress = clampProgress(u.Progress)
	}
	if j.ResultModelURL == "" && u.ResultModelURL != "" {
		j.ResultModelURL = u.ResultModelURL
	}
	if j.ResultImageURL == "" && u.ResultImageURL != "" {
		j.ResultImageURL = u.ResultImageURL
	}
	return nil
}

// A success record that already holds durable results never becomes
// processing_failed.
func (j *GenerationJob) canMoveTo(next JobStatus) bool {
	if j.Status == JobStatusSuccess && next == JobStatusProcessingFailed && j.HasResults() {
		return false
	}
	return j.Status.CanTransitionTo(next)
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// DefaultJobName is the display name given to freshly created records.
func DefaultJobName(taskID string) string {
	return "model3D_" + taskID
}

// JobView is the public projection pushed to clients.
type JobView struct {
	ID               string    `json:"id"`
	TaskID           string    `json:"taskId"`
	Prompt           string    `json:"prompt"`
	Status           JobStatus `json:"status"`
	Progress         int       `json:"progress"`
	PbrModelURL      string    `json:"pbrModelUrl"`
	RenderedImageURL string    `json:"renderedImageUrl"`
	CreateTime       time.Time `json:"createTime"`
	UpdateTime       time.Time `json:"updateTime"`
}

// View projects the record onto its public shape.
func (j *GenerationJob) View() JobView {
	if j == nil {
		return JobView{}
	}
	return JobView{
		ID:               j.ID,
		TaskID:           j.ProviderTaskID,
		Prompt:           j.SourcePrompt,
		Status:           j.Status,
		Progress:         j.Progress,
		PbrModelURL:      j.ResultModelURL,
		RenderedImageURL: j.ResultImageURL,
		CreateTime:       j.CreatedAt,
		UpdateTime:       j.UpdatedAt,
	}
}

// FailureView is the minimal payload sent with an error frame.
func FailureView(taskID string) JobView {
	return JobView{TaskID: taskID, Status: JobStatusFailed, Progress: 0}
}

// JobFilter narrows record listings.
type JobFilter struct {
	ProviderTaskID string
	Name           string
	Prompt         string
	Status         JobStatus
	OwnerID        string
	CreatedAfter   *time.Time
	SortField      string
	SortAscending  bool
	Page           int
	PageSize       int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// Normalize applies paging defaults and bounds.
func (f *JobFilter) Normalize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	switch f.SortField {
	case "created_at", "updated_at", "progress", "name", "status":
	case "createTime":
		f.SortField = "created_at"
	case "updateTime":
		f.SortField = "updated_at"
	default:
		f.SortField = "created_at"
	}
}

// JobDetails holds the user-editable fields of a record.
type JobDetails struct {
	Name     *string
	IsPublic *bool
}
