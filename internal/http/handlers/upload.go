package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"modelgen/internal/domain"
)

var pictureMIMEs = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
}

// multipartOverhead leaves room for boundaries and the other form fields.
const multipartOverhead = 64 << 10

type picture struct {
	data     []byte
	filename string
	ext      string
	mimeType string
}

// Upload stores a picture under the picture/ prefix and returns its URL.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requirePrincipal(w, r); !ok {
		return
	}
	pic, err := a.readPicture(w, r)
	if err != nil {
		a.fail(w, err)
		return
	}
	url, err := a.storePicture(r.Context(), pic)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"url": url})
}

// readPicture parses the multipart "file" field and validates its size,
// extension and content.
func (a *App) readPicture(w http.ResponseWriter, r *http.Request) (picture, error) {
	limit := a.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(limit); err != nil {
		return picture{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return picture{}, fmt.Errorf("%w: missing file", domain.ErrInvalidImage)
	}
	defer file.Close()

	if header.Size > limit {
		return picture{}, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidImage, limit)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	mimeType, ok := pictureMIMEs[ext]
	if !ok {
		return picture{}, fmt.Errorf("%w: unsupported extension %q", domain.ErrInvalidImage, ext)
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return picture{}, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return picture{}, fmt.Errorf("%w: empty file", domain.ErrInvalidImage)
	}
	if int64(len(data)) > limit {
		return picture{}, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidImage, limit)
	}
	if sniffed := http.DetectContentType(data); !strings.HasPrefix(sniffed, "image/") {
		return picture{}, fmt.Errorf("%w: content is %s", domain.ErrInvalidImage, sniffed)
	}
	return picture{
		data:     data,
		filename: filepath.Base(header.Filename),
		ext:      ext,
		mimeType: mimeType,
	}, nil
}

func (a *App) storePicture(ctx context.Context, pic picture) (string, error) {
	if a.Store == nil {
		return "", errors.New("handlers: object store is not configured")
	}
	key := domain.NewAssetKey(domain.AssetKindUserUpload, pic.ext)
	url, err := a.Store.Put(ctx, key, bytes.NewReader(pic.data), int64(len(pic.data)), pic.mimeType)
	if err != nil {
		return "", fmt.Errorf("handlers: store picture: %w", err)
	}
	return url, nil
}
