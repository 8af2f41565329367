package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/dental-queue-scheduling/internal/app"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/jobs"
	"github.com/hackgods/dental-queue-scheduling/internal/logging"
)

func main() {
	once := flag.String("once", "", "run one job and exit: "+strings.Join(jobs.Names(), ", "))
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Init("reconciler", "dev", "info")
		log.Fatal().Err(err).Msg("config load error")
	}
	logging.Init("reconciler", cfg.Env, cfg.LogLevel)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build app")
	}
	defer a.Close()

	if *once != "" {
		os.Exit(runOnce(rootCtx, a.Reconciler, *once, cfg))
	}

	runner, err := jobs.NewRunner(a.Reconciler, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule jobs")
	}

	// Catch up on anything that expired while the process was down.
	runOnce(rootCtx, a.Reconciler, jobs.JobExpirePending, cfg)

	runner.Start()
	log.Info().Msg("reconciler running")

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping reconciler")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("jobs still running at shutdown")
	}
}

// runOnce returns the process exit code for a single job run.
func runOnce(ctx context.Context, rec *jobs.Reconciler, job string, cfg config.Config) int {
	if cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.JobTimeout)
		defer cancel()
	}

	res, err := rec.RunNamed(ctx, job)
	if err != nil {
		log.Error().Err(err).Str("job", job).Msg("job run failed")
		return 1
	}
	if res.Failed > 0 {
		return 2
	}
	return 0
}
