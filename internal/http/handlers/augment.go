package handlers

import (
	"net/http"
	"strings"

	"modelgen/internal/http/sse"
)

type augmentChunk struct {
	D string `json:"d"`
}

// AugmentPrompt streams the rewritten prompt as {"d": chunk} frames and closes
// with a done frame.
func (a *App) AugmentPrompt(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePrincipal(w, r); !ok {
		return
	}
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		a.error(w, http.StatusBadRequest, "invalid_prompt", "message is required")
		return
	}
	if a.Augmenter == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "prompt augmentation is not configured")
		return
	}
	writer, err := sse.NewWriter(w)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	err = a.Augmenter.Stream(r.Context(), message, func(chunk string) error {
		return writer.SendJSON("", augmentChunk{D: chunk})
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		a.log().Warn().Err(err).Msg("prompt augmentation failed")
		_ = writer.SendJSON(sse.EventError, errorBody{Code: "augment_failed", Message: "prompt augmentation failed"})
		return
	}
	_ = writer.Done()
}
