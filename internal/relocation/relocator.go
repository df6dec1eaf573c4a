// Package relocation copies provider-hosted result files into durable storage.
package relocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
	"modelgen/internal/storage"
	"modelgen/internal/workpool"
)

// Runner executes blocking work away from request goroutines.
type Runner interface {
	Do(ctx context.Context, task workpool.Task) error
}

type inlineRunner struct{}

func (inlineRunner) Do(ctx context.Context, task workpool.Task) error { return task(ctx) }

// Options configures a Relocator.
type Options struct {
	Store      storage.ObjectStore
	Runner     Runner
	HTTPClient *http.Client
	Logger     *infra.Logger
	// TempDir holds download buffers; empty means os.TempDir.
	TempDir string
	// MaxBytes caps a single download. Zero disables the cap.
	MaxBytes        int64
	DownloadTimeout time.Duration
}

// Relocator downloads ephemeral outputs and re-uploads them under fresh keys.
type Relocator struct {
	store           storage.ObjectStore
	runner          Runner
	httpClient      *http.Client
	logger          *infra.Logger
	tempDir         string
	maxBytes        int64
	downloadTimeout time.Duration
}

// New constructs a Relocator.
func New(opts Options) (*Relocator, error) {
	if opts.Store == nil {
		return nil, errors.New("relocation: store is required")
	}
	runner := opts.Runner
	if runner == nil {
		runner = inlineRunner{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.DownloadTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Relocator{
		store:           opts.Store,
		runner:          runner,
		httpClient:      httpClient,
		logger:          logger,
		tempDir:         opts.TempDir,
		maxBytes:        opts.MaxBytes,
		downloadTimeout: timeout,
	}, nil
}

// Relocate copies both outputs. Either both durable URLs are returned or an
// error wrapping domain.ErrRelocationFailed is.
func (r *Relocator) Relocate(ctx context.Context, src domain.EphemeralURLs) (domain.DurableURLs, error) {
	if !src.Complete() {
		return domain.DurableURLs{}, fmt.Errorf("%w: missing source url", domain.ErrRelocationFailed)
	}

	var out domain.DurableURLs
	err := r.runner.Do(ctx, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			u, err := r.relocateOne(gctx, src.ModelURL, domain.AssetKindPBRModel)
			if err != nil {
				return err
			}
			out.ModelURL = u
			return nil
		})
		g.Go(func() error {
			u, err := r.relocateOne(gctx, src.ImageURL, domain.AssetKindRenderedImage)
			if err != nil {
				return err
			}
			out.ImageURL = u
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		return domain.DurableURLs{}, fmt.Errorf("%w: %w", domain.ErrRelocationFailed, err)
	}
	return out, nil
}

// relocateOne buffers src in a temp file and uploads it. The temp file is
// removed on every return path.
func (r *Relocator) relocateOne(ctx context.Context, src string, kind domain.AssetKind) (string, error) {
	tmp, err := os.CreateTemp(r.tempDir, "relocate-*"+kind.DefaultExtension())
	if err != nil {
		return "", fmt.Errorf("create temp buffer: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn().Err(err).Str("path", tmp.Name()).Msg("relocation: temp buffer not removed")
		}
	}()

	size, err := r.download(ctx, src, tmp)
	if err != nil {
		return "", err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind temp buffer: %w", err)
	}

	key := domain.NewAssetKey(kind, "")
	durable, err := r.store.Put(ctx, key, tmp, size, kind.ContentType())
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", kind, err)
	}
	r.logger.Debug().Str("kind", string(kind)).Str("key", key).Int64("bytes", size).Msg("relocation: asset stored")
	return durable, nil
}

func (r *Relocator) download(ctx context.Context, src string, dst io.Writer) (int64, error) {
	parsed, err := url.Parse(strings.TrimSpace(src))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return 0, fmt.Errorf("invalid source url: %q", src)
	}
	ctx, cancel := context.WithTimeout(ctx, r.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("download: status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if r.maxBytes > 0 {
		body = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	n, err := io.Copy(dst, body)
	if err != nil {
		return n, fmt.Errorf("download: %w", err)
	}
	if r.maxBytes > 0 && n > r.maxBytes {
		return n, fmt.Errorf("download: exceeds %d bytes", r.maxBytes)
	}
	return n, nil
}
