package tripo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("tripo: api key is required")

// DefaultModelVersion is sent when the caller does not pin one.
const DefaultModelVersion = "v2.5-20250123"

// Options configures the model-generation provider client.
type Options struct {
	APIKey        string
	BaseURL       string
	HTTPClient    *http.Client
	Logger        *infra.Logger
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
}

// Client issues submit, upload and poll calls against the provider's
// OpenAPI surface. It is safe for concurrent use.
type Client struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	logger        *infra.Logger
	submitTimeout time.Duration
	pollTimeout   time.Duration
}

// JobHandle identifies a submitted provider task.
type JobHandle struct {
	TaskID string
}

// TaskStatus is the normalized result of one poll.
type TaskStatus struct {
	TaskID    string
	Status    domain.JobStatus
	RawStatus string
	Progress  int
	Outputs   domain.EphemeralURLs
	Raw       json.RawMessage
}

// HasOutputs reports whether the provider returned both result URLs.
func (s TaskStatus) HasOutputs() bool {
	return s.Outputs.Complete()
}

// RequestError is returned for non-2xx provider responses.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("tripo: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap classifies client errors as permanent and server errors as transient.
func (e *RequestError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return domain.ErrProviderRejected
	}
	return domain.ErrProviderUnavailable
}

// ResponseError is returned when the provider answers 2xx with a non-zero code.
type ResponseError struct {
	Op      string
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("tripo: %s: code %d: %s", e.Op, e.Code, e.Message)
}

func (e *ResponseError) Unwrap() error {
	return domain.ErrProviderRejected
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fileInfo struct {
	Type      string `json:"type"`
	FileToken string `json:"file_token"`
}

type taskRequest struct {
	Type   string    `json:"type"`
	Prompt string    `json:"prompt,omitempty"`
	File   *fileInfo `json:"file,omitempty"`
	domain.GenerationParams
}

type taskData struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Output   *struct {
		Model         string `json:"model"`
		BaseModel     string `json:"base_model"`
		PBRModel      string `json:"pbr_model"`
		RenderedImage string `json:"rendered_image"`
	} `json:"output"`
}

type uploadData struct {
	ImageToken string `json:"image_token"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.tripo3d.ai/v2/openapi"
	}
	submitTimeout := opts.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = 30 * time.Second
	}
	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 15 * time.Second
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:        strings.TrimSpace(opts.APIKey),
		baseURL:       baseURL,
		httpClient:    httpClient,
		logger:        logger,
		submitTimeout: submitTimeout,
		pollTimeout:   pollTimeout,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// SubmitTextJob starts a text-to-model task.
func (c *Client) SubmitTextJob(ctx context.Context, prompt string, params domain.GenerationParams) (JobHandle, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return JobHandle{}, domain.ErrInvalidPrompt
	}
	return c.submit(ctx, taskRequest{
		Type:             string(domain.KindText),
		Prompt:           prompt,
		GenerationParams: withDefaults(params),
	})
}

// SubmitImageJob starts an image-to-model task from a previously uploaded blob.
func (c *Client) SubmitImageJob(ctx context.Context, fileToken, mimeType string, params domain.GenerationParams) (JobHandle, error) {
	fileToken = strings.TrimSpace(fileToken)
	if fileToken == "" {
		return JobHandle{}, errors.New("tripo: file token is required")
	}
	fileType := fileTypeFromMIME(mimeType)
	if fileType == "" {
		return JobHandle{}, domain.ErrInvalidImage
	}
	return c.submit(ctx, taskRequest{
		Type:             string(domain.KindImage),
		File:             &fileInfo{Type: fileType, FileToken: fileToken},
		GenerationParams: withDefaults(params),
	})
}

func (c *Client) submit(ctx context.Context, payload taskRequest) (JobHandle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return JobHandle{}, fmt.Errorf("tripo: encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	var data taskData
	if err := c.do(ctx, "submit", http.MethodPost, "/task", "application/json", bytes.NewReader(body), &data); err != nil {
		return JobHandle{}, err
	}
	if strings.TrimSpace(data.TaskID) == "" {
		return JobHandle{}, &ResponseError{Op: "submit", Message: "empty task id"}
	}
	c.logger.Info().Str("task_id", data.TaskID).Str("kind", payload.Type).Msg("tripo: task submitted")
	return JobHandle{TaskID: data.TaskID}, nil
}

// UploadBlob uploads image bytes and returns the token used to reference them.
func (c *Client) UploadBlob(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", domain.ErrInvalidImage
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, uploadFilename(filename, mimeType)))
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("tripo: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("tripo: build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("tripo: build upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	var decoded uploadData
	if err := c.do(ctx, "upload", http.MethodPost, "/upload", writer.FormDataContentType(), &buf, &decoded); err != nil {
		return "", err
	}
	if strings.TrimSpace(decoded.ImageToken) == "" {
		return "", &ResponseError{Op: "upload", Message: "empty image token"}
	}
	return decoded.ImageToken, nil
}

// PollStatus fetches the current state of a task.
func (c *Client) PollStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return TaskStatus{}, errors.New("tripo: task id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	var raw json.RawMessage
	if err := c.do(ctx, "poll", http.MethodGet, "/task/"+url.PathEscape(taskID), "", nil, &raw); err != nil {
		return TaskStatus{}, err
	}
	var data taskData
	if err := json.Unmarshal(raw, &data); err != nil {
		return TaskStatus{}, fmt.Errorf("tripo: decode poll: %w", err)
	}
	status := TaskStatus{
		TaskID:    data.TaskID,
		Status:    domain.ParseJobStatus(data.Status),
		RawStatus: data.Status,
		Progress:  data.Progress,
		Raw:       raw,
	}
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	if data.Output != nil {
		status.Outputs = domain.EphemeralURLs{
			ModelURL: firstNonEmpty(data.Output.PBRModel, data.Output.Model, data.Output.BaseModel),
			ImageURL: strings.TrimSpace(data.Output.RenderedImage),
		}
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	if !c.HasCredentials() {
		return ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("tripo: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(ctx, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().
			Str("op", op).
			Int("status_code", resp.StatusCode).
			Str("provider_error", "status").
			Msg("tripo: non-2xx response")
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("tripo: %s: decode response: %w", op, err)
	}
	if env.Code != 0 {
		return &ResponseError{Op: op, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if rawOut, ok := out.(*json.RawMessage); ok {
		*rawOut = append((*rawOut)[:0], env.Data...)
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("tripo: %s: decode data: %w", op, err)
	}
	return nil
}

// transportError maps network failures onto ErrProviderUnavailable while
// keeping caller cancellation visible as the context error.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("tripo: %s: %w", op, ctx.Err())
	}
	kind := "connection"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = "timeout"
	}
	c.logger.Warn().Err(err).Str("op", op).Str("provider_error", kind).Msg("tripo: request failed")
	return fmt.Errorf("tripo: %s %s: %w: %w", op, kind, domain.ErrProviderUnavailable, err)
}

func withDefaults(params domain.GenerationParams) domain.GenerationParams {
	if strings.TrimSpace(params.ModelVersion) == "" {
		params.ModelVersion = DefaultModelVersion
	}
	return params
}

func fileTypeFromMIME(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png", "png":
		return "png"
	case "image/jpeg", "image/jpg", "jpeg", "jpg":
		return "jpg"
	case "image/webp", "webp":
		return "webp"
	}
	return ""
}

func uploadFilename(filename, mimeType string) string {
	if name := strings.TrimSpace(filename); name != "" {
		return name
	}
	if t := fileTypeFromMIME(mimeType); t != "" {
		return "image." + t
	}
	return "image.jpg"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
