package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/dental-queue-scheduling/internal/api"
	"github.com/hackgods/dental-queue-scheduling/internal/app"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/jobs"
	"github.com/hackgods/dental-queue-scheduling/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("api-server", "dev", "info")
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("api-server", cfg.Env, cfg.LogLevel)

	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.Store).
		Str("timezone", cfg.ClinicTimezone).
		Bool("run_jobs", cfg.RunJobs).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build app")
	}
	defer a.Close()

	var runner *jobs.Runner
	if cfg.RunJobs {
		runner, err = jobs.NewRunner(a.Reconciler, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("schedule jobs")
		}
		runner.Start()
	}

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:      a.Service,
			Dependencies: a.Dependencies(),
			Env:          cfg.Env,
			Version:      version,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	log.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if runner != nil {
		if err := runner.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("jobs still running at shutdown")
		}
	}
}
