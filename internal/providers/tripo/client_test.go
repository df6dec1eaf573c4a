package tripo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"modelgen/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{APIKey: "tsk_test", BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func TestSubmitTextJobPayload(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/task" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tsk_test" {
			t.Fatalf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"code":0,"data":{"task_id":"T1"}}`)
	})

	texture := false
	handle, err := client.SubmitTextJob(context.Background(), "  a hamburger ", domain.GenerationParams{
		Style:          "gold",
		Texture:        &texture,
		TextureQuality: "detailed",
		FaceLimit:      1000,
	})
	if err != nil {
		t.Fatalf("SubmitTextJob error: %v", err)
	}
	if handle.TaskID != "T1" {
		t.Fatalf("task id = %q", handle.TaskID)
	}
	if captured["type"] != "text_to_model" || captured["prompt"] != "a hamburger" {
		t.Fatalf("unexpected payload: %v", captured)
	}
	if captured["model_version"] != DefaultModelVersion {
		t.Fatalf("model_version = %v", captured["model_version"])
	}
	if captured["style"] != "gold" || captured["texture"] != false || captured["face_limit"] != float64(1000) {
		t.Fatalf("generation params not forwarded: %v", captured)
	}
}

func TestSubmitTextJobRejectsEmptyPrompt(t *testing.T) {
	client := NewClient(Options{APIKey: "k"})
	if _, err := client.SubmitTextJob(context.Background(), "   ", domain.GenerationParams{}); !errors.Is(err, domain.ErrInvalidPrompt) {
		t.Fatalf("expected ErrInvalidPrompt, got %v", err)
	}
}

func TestSubmitWithoutCredentials(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.SubmitTextJob(context.Background(), "cube", domain.GenerationParams{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSubmitClassifiesStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrProviderRejected},
		{http.StatusForbidden, domain.ErrProviderRejected},
		{http.StatusBadGateway, domain.ErrProviderUnavailable},
		{http.StatusServiceUnavailable, domain.ErrProviderUnavailable},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"code":2001,"message":"nope"}`)
		})
		_, err := client.SubmitTextJob(context.Background(), "cube", domain.GenerationParams{})
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		var reqErr *RequestError
		if !errors.As(err, &reqErr) || reqErr.StatusCode != tc.status {
			t.Fatalf("status %d: expected RequestError, got %T", tc.status, err)
		}
		if !strings.Contains(reqErr.Body, "nope") {
			t.Fatalf("body not captured: %q", reqErr.Body)
		}
	}
}

func TestSubmitNonZeroCodeIsRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":1004,"message":"invalid parameter"}`)
	})
	_, err := client.SubmitTextJob(context.Background(), "cube", domain.GenerationParams{})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestSubmitTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client(), SubmitTimeout: 50 * time.Millisecond})
	_, err := client.SubmitTextJob(context.Background(), "cube", domain.GenerationParams{})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected timeout classification, got %v", err)
	}
}

func TestConnectionErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	client := NewClient(Options{APIKey: "k", BaseURL: base})
	_, err := client.PollStatus(context.Background(), "T1")
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection") {
		t.Fatalf("expected connection classification, got %v", err)
	}
}

func TestCallerCancellationIsNotUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.PollStatus(ctx, "T1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatal("cancellation must not be reported as provider unavailability")
	}
}

func TestUploadBlobMultipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "pngbytes" {
			t.Fatalf("unexpected payload %q", data)
		}
		if header.Filename != "cat.png" {
			t.Fatalf("filename = %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			t.Fatalf("part content type = %q", ct)
		}
		_, _ = io.WriteString(w, `{"code":0,"data":{"image_token":"tok-1"}}`)
	})

	token, err := client.UploadBlob(context.Background(), []byte("pngbytes"), "cat.png", "image/png")
	if err != nil {
		t.Fatalf("UploadBlob error: %v", err)
	}
	if token != "tok-1" {
		t.Fatalf("token = %q", token)
	}
}

func TestSubmitImageJobPayload(t *testing.T) {
	var captured struct {
		Type string `json:"type"`
		File struct {
			Type      string `json:"type"`
			FileToken string `json:"file_token"`
		} `json:"file"`
		TextureAlignment string `json:"texture_alignment"`
	}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_, _ = io.WriteString(w, `{"code":0,"data":{"task_id":"T9"}}`)
	})
	handle, err := client.SubmitImageJob(context.Background(), "tok-1", "image/jpeg", domain.GenerationParams{TextureAlignment: "original_image"})
	if err != nil {
		t.Fatalf("SubmitImageJob error: %v", err)
	}
	if handle.TaskID != "T9" {
		t.Fatalf("task id = %q", handle.TaskID)
	}
	if captured.Type != "image_to_model" || captured.File.Type != "jpg" || captured.File.FileToken != "tok-1" {
		t.Fatalf("unexpected payload: %+v", captured)
	}
	if captured.TextureAlignment != "original_image" {
		t.Fatalf("texture alignment = %q", captured.TextureAlignment)
	}
}

func TestSubmitImageJobRejectsUnknownMIME(t *testing.T) {
	client := NewClient(Options{APIKey: "k"})
	if _, err := client.SubmitImageJob(context.Background(), "tok", "image/gif", domain.GenerationParams{}); !errors.Is(err, domain.ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestPollStatusParsesOutputs(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/task/T1" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"code":0,"data":{"task_id":"T1","status":"success","progress":100,
			"output":{"model":"https://e/m.glb","pbr_model":"https://e/pbr.glb","rendered_image":"https://e/i.webp"}}}`)
	})
	status, err := client.PollStatus(context.Background(), "T1")
	if err != nil {
		t.Fatalf("PollStatus error: %v", err)
	}
	if status.Status != domain.JobStatusSuccess || status.Progress != 100 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Outputs.ModelURL != "https://e/pbr.glb" || status.Outputs.ImageURL != "https://e/i.webp" {
		t.Fatalf("unexpected outputs %+v", status.Outputs)
	}
	if !status.HasOutputs() {
		t.Fatal("expected outputs")
	}
	if len(status.Raw) == 0 {
		t.Fatal("raw payload not kept")
	}
}

func TestPollStatusUnknownStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"code":0,"data":{"task_id":"T1","status":"settling","progress":5}}`)
	})
	status, err := client.PollStatus(context.Background(), "T1")
	if err != nil {
		t.Fatalf("PollStatus error: %v", err)
	}
	if status.Status != domain.JobStatusUnknown || status.RawStatus != "settling" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.HasOutputs() {
		t.Fatal("no outputs expected")
	}
}
