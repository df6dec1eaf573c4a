package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxPromptLength bounds the text accepted for a text-to-model job.
const MaxPromptLength = 1024

// GenerationParams are forwarded verbatim to the provider.
type GenerationParams struct {
	ModelVersion     string `json:"model_version,omitempty"`
	ModelSeed        int    `json:"model_seed,omitempty"`
	TextureSeed      int    `json:"texture_seed,omitempty"`
	TextureQuality   string `json:"texture_quality,omitempty"`
	GeometryQuality  string `json:"geometry_quality,omitempty"`
	TextureAlignment string `json:"texture_alignment,omitempty"`
	Style            string `json:"style,omitempty"`
	Texture          *bool  `json:"texture,omitempty"`
	PBR              *bool  `json:"pbr,omitempty"`
	FaceLimit        int    `json:"face_limit,omitempty"`
	AutoSize         bool   `json:"auto_size,omitempty"`
	Compress         string `json:"compress,omitempty"`
}

// NormalizePrompt trims the prompt and rejects empty or oversized input.
func NormalizePrompt(raw string) (string, error) {
	prompt := strings.TrimSpace(raw)
	if prompt == "" {
		return "", ErrInvalidPrompt
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return "", ErrInvalidPrompt
	}
	return prompt, nil
}

// DefaultImagePrompt labels image-sourced records.
const DefaultImagePrompt = "image to model"
