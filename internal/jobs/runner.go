package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/logging"
)

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Runner schedules the reconciliation jobs. A job still running when its
// next tick fires skips that tick.
type Runner struct {
	cron    *cron.Cron
	rec     *Reconciler
	timeout time.Duration
	log     zerolog.Logger
}

func NewRunner(rec *Reconciler, cfg config.Config) (*Runner, error) {
	log := logging.Component("scheduler")
	cl := cronLogger{log: log}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	r := &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		rec:     rec,
		timeout: cfg.JobTimeout,
		log:     log,
	}

	schedules := []struct {
		job  string
		spec string
	}{
		{JobExpirePending, cfg.ExpireSchedule},
		{JobDailyMigration, cfg.MigrateSchedule},
		{JobCancelledPurge, cfg.CleanupSchedule},
		{JobReminders, cfg.ReminderSchedule},
	}
	for _, s := range schedules {
		if s.spec == "" {
			log.Info().Str("job", s.job).Msg("job disabled")
			continue
		}
		job := s.job
		if _, err := r.cron.AddFunc(s.spec, func() { r.runOnce(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job, s.spec, err)
		}
		log.Info().Str("job", job).Str("spec", s.spec).Msg("job scheduled")
	}

	return r, nil
}

func (r *Runner) runOnce(job string) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if _, err := r.rec.RunNamed(ctx, job); err != nil {
		r.log.Error().Err(err).Str("job", job).Msg("job run failed")
	}
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop prevents new runs and waits for running ones or ctx, whichever
// comes first.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
