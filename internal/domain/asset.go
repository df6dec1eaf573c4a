package domain

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// AssetKind enumerates the durable asset categories.
type AssetKind string

const (
	AssetKindUserUpload    AssetKind = "user_uploaded"
	AssetKindRenderedImage AssetKind = "rendered_image"
	AssetKindPBRModel      AssetKind = "pbr_model"
)

// Prefix is the storage folder used for the kind.
func (k AssetKind) Prefix() string {
	switch k {
	case AssetKindUserUpload:
		return "picture"
	case AssetKindRenderedImage:
		return "rendered"
	case AssetKindPBRModel:
		return "model"
	default:
		return "misc"
	}
}

// DefaultExtension is used when a source URL carries no usable extension.
func (k AssetKind) DefaultExtension() string {
	switch k {
	case AssetKindRenderedImage:
		return ".webp"
	case AssetKindPBRModel:
		return ".glb"
	case AssetKindUserUpload:
		return ".jpg"
	default:
		return ".bin"
	}
}

// ContentType is the MIME type written alongside durable objects of the kind.
func (k AssetKind) ContentType() string {
	switch k {
	case AssetKindRenderedImage:
		return "image/webp"
	case AssetKindPBRModel:
		return "model/gltf-binary"
	default:
		return "application/octet-stream"
	}
}

// NewAssetKey returns a fresh unique storage key for the kind.
func NewAssetKey(kind AssetKind, ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		ext = kind.DefaultExtension()
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(kind.Prefix(), uuid.NewString()+ext)
}

// EphemeralURLs are the provider-hosted outputs of a finished task.
type EphemeralURLs struct {
	ModelURL string
	ImageURL string
}

// Complete reports whether both outputs are present.
func (e EphemeralURLs) Complete() bool {
	return strings.TrimSpace(e.ModelURL) != "" && strings.TrimSpace(e.ImageURL) != ""
}

// DurableURLs are the relocated, permanently hosted outputs.
type DurableURLs struct {
	ModelURL string
	ImageURL string
}
