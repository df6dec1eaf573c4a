package storage

import (
	"context"
	"io"
	"strings"
)

// ObjectStore stores bytes under a key and returns the durable public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
