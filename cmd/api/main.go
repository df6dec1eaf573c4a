package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"modelgen/internal/bootstrap"
	"modelgen/internal/http/handlers"
	httpapi "modelgen/internal/http/httpapi"
	"modelgen/internal/infra"
	"modelgen/internal/middleware"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	defer svc.Close()

	app := &handlers.App{
		Generator:      svc.Orchestrator,
		Jobs:           svc.Jobs,
		Augmenter:      svc.Augmenter,
		Store:          svc.Store,
		Auth:           middleware.PrincipalResolver{},
		Logger:         infra.Component(logger, "handlers"),
		Metrics:        svc.Metrics,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	router := httpapi.NewRouter(ctx, app, httpapi.Options{
		Logger:             logger,
		Metrics:            svc.Metrics,
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		StaticDir:          svc.StaticDir,
	})

	server := infra.NewHTTPServer(cfg, router, logger)
	server.SetBaseContext(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("API listening")
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	// Streams see ctx cancelled and stop polling; the resume worker picks up
	// their non-terminal jobs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
