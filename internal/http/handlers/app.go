package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"modelgen/internal/domain"
	"modelgen/internal/generation"
	"modelgen/internal/infra"
	"modelgen/internal/metrics"
	"modelgen/internal/providers/prompt"
	"modelgen/internal/providers/tripo"
	"modelgen/internal/storage"
)

// DefaultMaxUploadBytes bounds uploaded pictures when App.MaxUploadBytes is unset.
const DefaultMaxUploadBytes int64 = 2 << 20

// Generator submits and follows generation tasks.
type Generator interface {
	Run(ctx context.Context, req generation.Request, sink generation.Sink) error
	Status(ctx context.Context, taskID string) (tripo.TaskStatus, error)
}

type App struct {
	Generator      Generator
	Jobs           domain.JobRepository
	Augmenter      prompt.Augmenter
	Store          storage.ObjectStore
	Auth           domain.AuthContext
	Logger         *infra.Logger
	Metrics        *metrics.Collector
	MaxUploadBytes int64
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// fail maps a domain error onto its HTTP status.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "not allowed")
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, http.StatusBadRequest, "invalid_prompt", "prompt must be 1-1024 characters")
	case errors.Is(err, domain.ErrInvalidImage):
		a.error(w, http.StatusBadRequest, "invalid_image", "unsupported or oversized picture")
	case errors.Is(err, domain.ErrProviderRejected):
		a.error(w, http.StatusBadGateway, "provider_rejected", "provider rejected the request")
	case errors.Is(err, domain.ErrProviderUnavailable):
		a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "provider unavailable")
	default:
		a.log().Error().Err(err).Msg("handler failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) log() *infra.Logger {
	if a.Logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		return &l
	}
	return a.Logger
}

func (a *App) currentPrincipal(r *http.Request) (domain.Principal, bool) {
	if a.Auth == nil {
		return domain.Principal{}, false
	}
	p, err := a.Auth.CurrentPrincipal(r.Context())
	if err != nil || p.ID == "" {
		return domain.Principal{}, false
	}
	return p, true
}

func (a *App) requirePrincipal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := a.currentPrincipal(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
	}
	return p, ok
}

func (a *App) maxUploadBytes() int64 {
	if a.MaxUploadBytes > 0 {
		return a.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}
