package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"modelgen/internal/http/handlers"
	"modelgen/internal/metrics"
	"modelgen/internal/middleware"
)

// Options configures the router.
type Options struct {
	Logger             zerolog.Logger
	Metrics            *metrics.Collector
	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimitPerMin    int
	// StaticDir is served under /static when assets live on the local disk.
	StaticDir string
}

// NewRouter mounts the API. ctx bounds background work owned by middleware.
func NewRouter(ctx context.Context, app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.Metrics(opts.Metrics),
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	// Health
	r.Get("/health", app.Health)
	r.Get("/v1/healthz", app.Health)
	r.Get("/metrics", app.ServeMetrics)

	if dir := strings.TrimSpace(opts.StaticDir); dir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
	}

	limit := middleware.RateLimit(ctx, opts.RateLimitPerMin, 0)

	r.Route("/app", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret), limit)
		r.Post("/generate-stream", app.GenerateStream)
		r.Post("/generate-stream-augmented", app.GenerateStreamAugmented)
		r.Post("/generate-stream-image", app.GenerateStreamImage)
		r.Get("/augment/prompt", app.AugmentPrompt)
		r.Post("/upload", app.Upload)
		r.Get("/status/{taskId}", app.TaskStatus)
	})

	r.Route("/model", func(r chi.Router) {
		r.With(middleware.OptionalAuthJWT(opts.JWTSecret)).Get("/{id}", app.ModelGet)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(opts.JWTSecret), limit)
			r.Post("/list", app.ModelList)
			r.Post("/{id}/edit", app.ModelEdit)
			r.Delete("/{id}", app.ModelDelete)
		})
	})

	return r
}
