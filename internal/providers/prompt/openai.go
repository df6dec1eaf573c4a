package prompt

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modelgen/internal/domain"
)

type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	Fallback     Augmenter
	OnFallback   func(reason string, err error)
	OnWarning    func(reason, detail string)
}

// OpenAIAugmenter calls the chat completions API. Any failure before the
// first streamed chunk falls back to the configured Augmenter.
type OpenAIAugmenter struct {
	apiKey       string
	model        string
	baseURL      string
	organization string
	client       *http.Client
	fallback     Augmenter
	onFallback   func(reason string, err error)
}

const openAIDefaultTimeout = 60 * time.Second

const defaultOpenAIModel = "gpt-4o-mini"

var openAIModelCanonical = map[string]string{
	"gpt-4o-mini":  "gpt-4o-mini",
	"gpt-4o":       "gpt-4o",
	"gpt-4.1-mini": "gpt-4.1-mini",
}

var openAIModelAliases = map[string]string{
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt4o":                  "gpt-4o",
	"gpt-4.1mini":            "gpt-4.1-mini",
	"gpt41-mini":             "gpt-4.1-mini",
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIAugmenter builds the augmenter. An empty key is allowed: every
// call then goes straight to the fallback.
func NewOpenAIAugmenter(opts OpenAIOptions) *OpenAIAugmenter {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	modelInput := strings.TrimSpace(opts.Model)
	normalizedModel, normalizationReason := normalizeOpenAIModel(modelInput)
	if normalizationReason != "" && opts.OnWarning != nil {
		detail := fmt.Sprintf("requested=%s resolved=%s", coalesce(modelInput, defaultOpenAIModel), normalizedModel)
		opts.OnWarning("model_"+normalizationReason, detail)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStaticAugmenter()
	}
	return &OpenAIAugmenter{
		apiKey:       strings.TrimSpace(opts.APIKey),
		model:        normalizedModel,
		baseURL:      baseURL,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
		fallback:     fallback,
		onFallback:   opts.OnFallback,
	}
}

// Model returns the resolved chat model.
func (o *OpenAIAugmenter) Model() string {
	return o.model
}

func (o *OpenAIAugmenter) Augment(ctx context.Context, text string) (string, error) {
	input := normalizeText(text)
	if input == "" {
		return "", domain.ErrInvalidPrompt
	}
	if o.apiKey == "" {
		return o.useFallback(ctx, input, "missing_api_key", nil)
	}
	resp, reason, err := o.send(ctx, input, false)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return o.useFallback(ctx, input, reason, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return o.useFallback(ctx, input, "decode_response", err)
	}
	if len(out.Choices) == 0 {
		return o.useFallback(ctx, input, "empty_choices", errors.New("no choices"))
	}
	augmented := cleanCompletion(out.Choices[0].Message.Content)
	if augmented == "" {
		return o.useFallback(ctx, input, "empty_response", errors.New("empty response"))
	}
	return truncate(augmented, domain.MaxPromptLength), nil
}

// Stream forwards completion deltas to onChunk as they arrive.
func (o *OpenAIAugmenter) Stream(ctx context.Context, text string, onChunk func(string) error) error {
	input := normalizeText(text)
	if input == "" {
		return domain.ErrInvalidPrompt
	}
	if o.apiKey == "" {
		return o.streamFallback(ctx, input, onChunk, "missing_api_key", nil)
	}
	resp, reason, err := o.send(ctx, input, true)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.streamFallback(ctx, input, onChunk, reason, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	sent := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			if sent == 0 {
				return o.streamFallback(ctx, input, onChunk, "decode_chunk", err)
			}
			return fmt.Errorf("openai: decode stream chunk: %w", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := onChunk(choice.Delta.Content); err != nil {
				return err
			}
			sent++
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sent == 0 {
			return o.streamFallback(ctx, input, onChunk, "read_stream", err)
		}
		return fmt.Errorf("openai: read stream: %w", err)
	}
	if sent == 0 {
		return o.streamFallback(ctx, input, onChunk, "empty_response", errors.New("empty stream"))
	}
	return nil
}

// send posts the chat request. On failure it returns a short reason used in
// fallback diagnostics.
func (o *OpenAIAugmenter) send(ctx context.Context, input string, stream bool) (*http.Response, string, error) {
	payload := openAIChatRequest{
		Model:       o.model,
		Temperature: 0.7,
		Stream:      stream,
		Messages: []openAIMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: input},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, "encode_request", err
	}
	endpoint := fmt.Sprintf("%s/chat/completions", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, "build_request", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if o.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", o.organization)
	}
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, "http_request", err
	}
	if resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("openai status %d", resp.StatusCode)
	}
	return resp, "", nil
}

func (o *OpenAIAugmenter) useFallback(ctx context.Context, input, reason string, fallbackErr error) (string, error) {
	o.emitFallback(reason, fallbackErr)
	return o.fallback.Augment(ctx, input)
}

func (o *OpenAIAugmenter) streamFallback(ctx context.Context, input string, onChunk func(string) error, reason string, fallbackErr error) error {
	o.emitFallback(reason, fallbackErr)
	return o.fallback.Stream(ctx, input, onChunk)
}

func (o *OpenAIAugmenter) emitFallback(reason string, err error) {
	if o.onFallback != nil {
		o.onFallback(reason, err)
	}
}

func normalizeOpenAIModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultOpenAIModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		if canonical, ok := openAIModelCanonical[alias]; ok {
			return canonical, "alias"
		}
		return alias, "alias"
	}
	return defaultOpenAIModel, "defaulted"
}
