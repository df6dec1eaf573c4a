package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"modelgen/internal/domain"
)

type taskStatusResponse struct {
	TaskID           string           `json:"taskId"`
	Status           domain.JobStatus `json:"status"`
	RawStatus        string           `json:"rawStatus"`
	Progress         int              `json:"progress"`
	PbrModelURL      string           `json:"pbrModelUrl,omitempty"`
	RenderedImageURL string           `json:"renderedImageUrl,omitempty"`
	Raw              json.RawMessage  `json:"raw,omitempty"`
}

// TaskStatus polls the provider once and returns its view without persisting it.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePrincipal(w, r); !ok {
		return
	}
	taskID := strings.TrimSpace(chi.URLParam(r, "taskId"))
	if taskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task id is required")
		return
	}
	if a.Generator == nil {
		a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "generation is not configured")
		return
	}
	status, err := a.Generator.Status(r.Context(), taskID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, taskStatusResponse{
		TaskID:           status.TaskID,
		Status:           status.Status,
		RawStatus:        status.RawStatus,
		Progress:         status.Progress,
		PbrModelURL:      status.Outputs.ModelURL,
		RenderedImageURL: status.Outputs.ImageURL,
		Raw:              status.Raw,
	})
}
