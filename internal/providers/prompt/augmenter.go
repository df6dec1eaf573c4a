package prompt

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"modelgen/internal/domain"
)

// Augmenter rewrites a short user idea into a richer prompt for 3D
// generation. Stream delivers the same text in chunks as it is produced.
type Augmenter interface {
	Augment(ctx context.Context, text string) (string, error)
	Stream(ctx context.Context, text string, onChunk func(chunk string) error) error
}

// StaticAugmenter appends fixed modelling hints. It backs the LLM augmenter
// when no key is configured or the upstream call fails.
type StaticAugmenter struct{}

func NewStaticAugmenter() *StaticAugmenter {
	return &StaticAugmenter{}
}

var staticHints = []string{
	"single centered object",
	"clean topology",
	"physically based materials",
	"neutral studio lighting",
}

func (s *StaticAugmenter) Augment(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := normalizeText(text)
	if base == "" {
		return "", domain.ErrInvalidPrompt
	}
	// Casers keep state and are not shared between goroutines.
	folded := cases.Lower(language.Und).String(base)
	parts := []string{base}
	for _, hint := range staticHints {
		if !strings.Contains(folded, hint) {
			parts = append(parts, hint)
		}
	}
	return truncate(strings.Join(parts, ", "), domain.MaxPromptLength), nil
}

// Stream emits the static prompt word by word.
func (s *StaticAugmenter) Stream(ctx context.Context, text string, onChunk func(string) error) error {
	augmented, err := s.Augment(ctx, text)
	if err != nil {
		return err
	}
	words := strings.SplitAfter(augmented, " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onChunk(w); err != nil {
			return err
		}
	}
	return nil
}

// normalizeText applies NFC and collapses whitespace.
func normalizeText(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit]))
}

var (
	_ Augmenter = (*StaticAugmenter)(nil)
	_ Augmenter = (*OpenAIAugmenter)(nil)
)
