package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestNewMinioStoreValidatesOptions(t *testing.T) {
	if _, err := NewMinioStore(MinioOptions{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if _, err := NewMinioStore(MinioOptions{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestNewMinioStoreDefaultPublicURL(t *testing.T) {
	store, err := NewMinioStore(MinioOptions{Endpoint: "minio.local:9000", AccessKey: "a", SecretKey: "b", Bucket: "models", UseSSL: true})
	if err != nil {
		t.Fatalf("NewMinioStore error: %v", err)
	}
	if store.publicURL != "https://minio.local:9000/models" {
		t.Fatalf("publicURL = %q", store.publicURL)
	}
}

func TestMinioStorePutUploadsObject(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody []byte
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath = r.URL.Path
		gotBody = body
		gotType = r.Header.Get("Content-Type")
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint := strings.TrimPrefix(srv.URL, "http://")
	store, err := NewMinioStore(MinioOptions{
		Endpoint:  endpoint,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "models",
		PublicURL: "https://cdn.example.com/models",
	})
	if err != nil {
		t.Fatalf("NewMinioStore error: %v", err)
	}

	url, err := store.Put(context.Background(), "model/abc.glb", bytes.NewReader([]byte("glb-bytes")), 9, "model/gltf-binary")
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if url != "https://cdn.example.com/models/model/abc.glb" {
		t.Fatalf("url = %q", url)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/models/model/abc.glb" {
		t.Fatalf("path = %q", gotPath)
	}
	if !bytes.Contains(gotBody, []byte("glb-bytes")) {
		t.Fatalf("body = %q", gotBody)
	}
	if gotType != "model/gltf-binary" {
		t.Fatalf("content type = %q", gotType)
	}
}
