package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"modelgen/internal/domain"
)

const maxModelNameLength = 128

type modelResponse struct {
	domain.JobView
	Name       string      `json:"name"`
	Kind       domain.Kind `json:"kind"`
	PictureURL string      `json:"pictureUrl,omitempty"`
	OwnerID    string      `json:"userId"`
	IsPublic   bool        `json:"isPublic"`
}

func toModelResponse(job *domain.GenerationJob) modelResponse {
	return modelResponse{
		JobView:    job.View(),
		Name:       job.Name,
		Kind:       job.Kind,
		PictureURL: job.SourceImageURL,
		OwnerID:    job.OwnerID,
		IsPublic:   job.IsPublic,
	}
}

type modelListRequest struct {
	TaskID       string     `json:"taskId"`
	Name         string     `json:"name"`
	Prompt       string     `json:"prompt"`
	Status       string     `json:"status"`
	OwnerID      string     `json:"userId"`
	CreatedAfter *time.Time `json:"createTime"`
	SortField    string     `json:"sortField"`
	SortOrder    string     `json:"sortOrder"`
	Current      int        `json:"current"`
	PageSize     int        `json:"pageSize"`
}

type modelListResponse struct {
	Records  []modelResponse `json:"records"`
	Total    int             `json:"total"`
	Current  int             `json:"current"`
	PageSize int             `json:"pageSize"`
}

type modelEditRequest struct {
	Name     *string `json:"name"`
	IsPublic *bool   `json:"isPublic"`
}

// ModelGet returns a record that is public or manageable by the caller.
// Hidden records answer 404.
func (a *App) ModelGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if !job.IsPublic {
		principal, ok := a.currentPrincipal(r)
		if !ok || !principal.CanManage(job) {
			a.fail(w, domain.ErrNotFound)
			return
		}
	}
	a.json(w, http.StatusOK, toModelResponse(job))
}

// ModelList pages through records. Non-admin callers only see their own.
func (a *App) ModelList(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req modelListRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	filter := domain.JobFilter{
		ProviderTaskID: strings.TrimSpace(req.TaskID),
		Name:           strings.TrimSpace(req.Name),
		Prompt:         strings.TrimSpace(req.Prompt),
		OwnerID:        strings.TrimSpace(req.OwnerID),
		CreatedAfter:   req.CreatedAfter,
		SortField:      strings.TrimSpace(req.SortField),
		SortAscending:  strings.EqualFold(req.SortOrder, "ascend") || strings.EqualFold(req.SortOrder, "asc"),
		Page:           req.Current,
		PageSize:       req.PageSize,
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := domain.ParseJobStatus(raw)
		if status == domain.JobStatusUnknown {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown status")
			return
		}
		filter.Status = status
	}
	if !principal.IsAdmin() {
		filter.OwnerID = principal.ID
	}
	filter.Normalize()

	jobs, total, err := a.Jobs.List(r.Context(), filter)
	if err != nil {
		a.fail(w, err)
		return
	}
	records := make([]modelResponse, 0, len(jobs))
	for i := range jobs {
		records = append(records, toModelResponse(&jobs[i]))
	}
	a.json(w, http.StatusOK, modelListResponse{
		Records:  records,
		Total:    total,
		Current:  filter.Page,
		PageSize: filter.PageSize,
	})
}

// ModelEdit lets the owner rename a record or toggle its visibility.
func (a *App) ModelEdit(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req modelEditRequest
	if err := decodeJSON(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Name == nil && req.IsPublic == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "nothing to update")
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxModelNameLength {
			a.error(w, http.StatusBadRequest, "bad_request", "name must be 1-128 characters")
			return
		}
		req.Name = &name
	}
	id := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	if job.OwnerID != principal.ID {
		a.fail(w, domain.ErrForbidden)
		return
	}
	if err := a.Jobs.UpdateDetails(r.Context(), job.ID, domain.JobDetails{Name: req.Name, IsPublic: req.IsPublic}); err != nil {
		a.fail(w, err)
		return
	}
	updated, err := a.Jobs.GetByID(r.Context(), job.ID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, toModelResponse(updated))
}

// ModelDelete removes a record for its owner or an admin.
func (a *App) ModelDelete(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	job, err := a.Jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if !principal.CanManage(job) {
		a.fail(w, domain.ErrForbidden)
		return
	}
	if err := a.Jobs.Delete(r.Context(), job.ID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
