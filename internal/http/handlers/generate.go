package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"modelgen/internal/domain"
	"modelgen/internal/generation"
	"modelgen/internal/http/sse"
)

type generateRequest struct {
	Prompt string                  `json:"prompt"`
	Params domain.GenerationParams `json:"params"`
}

// GenerateStream submits a text-to-model task and streams its progress.
func (a *App) GenerateStream(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	text, err := domain.NormalizePrompt(req.Prompt)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.stream(w, r, generation.Request{
		Kind:    domain.KindText,
		OwnerID: principal.ID,
		Prompt:  text,
		Params:  req.Params,
	})
}

// GenerateStreamAugmented rewrites the prompt through the augmenter first and
// submits the rewritten text.
func (a *App) GenerateStreamAugmented(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	text, err := domain.NormalizePrompt(req.Prompt)
	if err != nil {
		a.fail(w, err)
		return
	}
	if a.Augmenter != nil {
		augmented, err := a.Augmenter.Augment(r.Context(), text)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			a.log().Warn().Err(err).Msg("augment failed, submitting original prompt")
		} else if normalized, err := domain.NormalizePrompt(augmented); err == nil {
			text = normalized
		}
	}
	a.stream(w, r, generation.Request{
		Kind:    domain.KindText,
		OwnerID: principal.ID,
		Prompt:  text,
		Params:  req.Params,
	})
}

// GenerateStreamImage accepts a multipart picture in the "file" field, keeps a
// durable copy and streams the image-to-model task. Optional generation
// parameters travel as JSON in the "params" field.
func (a *App) GenerateStreamImage(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	pic, err := a.readPicture(w, r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var params domain.GenerationParams
	if raw := strings.TrimSpace(r.FormValue("params")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid params")
			return
		}
	}
	sourceURL, err := a.storePicture(r.Context(), pic)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.stream(w, r, generation.Request{
		Kind:    domain.KindImage,
		OwnerID: principal.ID,
		Prompt:  domain.DefaultImagePrompt,
		Image: &generation.ImageInput{
			Data:      pic.data,
			Filename:  pic.filename,
			MimeType:  pic.mimeType,
			SourceURL: sourceURL,
		},
		Params: params,
	})
}

// stream commits the SSE response and hands it to the generator. Errors after
// this point have already been framed for the client.
func (a *App) stream(w http.ResponseWriter, r *http.Request, req generation.Request) {
	if a.Generator == nil {
		a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "generation is not configured")
		return
	}
	writer, err := sse.NewWriter(w)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	if err := a.Generator.Run(r.Context(), req, writer); err != nil {
		if r.Context().Err() != nil || errors.Is(err, generation.ErrTaskBusy) {
			return
		}
		a.log().Warn().Err(err).Str("kind", string(req.Kind)).Msg("generation stream ended with error")
	}
}
