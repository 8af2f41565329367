package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/logging"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
)

const (
	JobExpirePending  = "expire-pending"
	JobDailyMigration = "daily-migration"
	JobCancelledPurge = "cancelled-cleanup"
	JobReminders      = "reminders"
)

// Result summarises one job run. Each item is committed or failed on its
// own, so Failed > 0 never means the run was rolled back.
type Result struct {
	Job       string
	Scanned   int
	Succeeded int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// Reconciler runs the time-triggered jobs against the appointment service.
type Reconciler struct {
	svc       *appointment.Service
	retention time.Duration
	log       zerolog.Logger
}

func NewReconciler(svc *appointment.Service, retention time.Duration) *Reconciler {
	return &Reconciler{
		svc:       svc,
		retention: retention,
		log:       logging.Component("jobs"),
	}
}

// Names lists the jobs RunNamed accepts.
func Names() []string {
	names := []string{JobExpirePending, JobDailyMigration, JobCancelledPurge, JobReminders}
	sort.Strings(names)
	return names
}

// RunNamed runs one job by name, for -once and tests.
func (r *Reconciler) RunNamed(ctx context.Context, name string) (Result, error) {
	switch name {
	case JobExpirePending:
		return r.ExpirePending(ctx)
	case JobDailyMigration:
		return r.MigrateDay(ctx)
	case JobCancelledPurge:
		return r.PurgeCancelled(ctx)
	case JobReminders:
		return r.SendReminders(ctx)
	}
	return Result{}, fmt.Errorf("unknown job %q, want one of %v", name, Names())
}

// ExpirePending confirms every pending appointment whose window has passed.
func (r *Reconciler) ExpirePending(ctx context.Context) (Result, error) {
	return r.run(ctx, JobExpirePending,
		func(ctx context.Context) ([]appointment.Appointment, error) {
			return r.svc.ExpiredPending(ctx)
		},
		func(ctx context.Context, a appointment.Appointment) (bool, error) {
			return r.svc.ExpireToConfirm(ctx, a.Code)
		},
	)
}

// MigrateDay clears earlier days from the queue and moves today's live
// appointments into it. Running it twice is harmless.
func (r *Reconciler) MigrateDay(ctx context.Context) (Result, error) {
	day := r.svc.Today()

	purged, err := r.svc.PurgeQueueBefore(ctx, day)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(JobDailyMigration, "error").Inc()
		return Result{Job: JobDailyMigration}, fmt.Errorf("purge queue before %s: %w", day, err)
	}
	if purged > 0 {
		r.log.Info().Str("day", day).Int64("entries", purged).Msg("purged earlier queue entries")
	}

	return r.run(ctx, JobDailyMigration,
		func(ctx context.Context) ([]appointment.Appointment, error) {
			return r.svc.MigrationCandidates(ctx, day)
		},
		func(ctx context.Context, a appointment.Appointment) (bool, error) {
			return r.svc.MigrateToQueue(ctx, a.Code, day)
		},
	)
}

// PurgeCancelled deletes cancelled appointments older than the retention.
func (r *Reconciler) PurgeCancelled(ctx context.Context) (Result, error) {
	cutoff := r.svc.Now().Add(-r.retention)
	return r.run(ctx, JobCancelledPurge,
		func(ctx context.Context) ([]appointment.Appointment, error) {
			return r.svc.CancelledBefore(ctx, cutoff)
		},
		func(ctx context.Context, a appointment.Appointment) (bool, error) {
			return r.svc.PurgeCancelled(ctx, a.Code, cutoff)
		},
	)
}

// SendReminders announces tomorrow's confirmed appointments.
func (r *Reconciler) SendReminders(ctx context.Context) (Result, error) {
	day, err := appointment.AddDays(r.svc.Today(), 1, r.svc.Location())
	if err != nil {
		return Result{Job: JobReminders}, err
	}
	return r.run(ctx, JobReminders,
		func(ctx context.Context) ([]appointment.Appointment, error) {
			return r.svc.ReminderCandidates(ctx, day)
		},
		func(ctx context.Context, a appointment.Appointment) (bool, error) {
			return r.svc.SendReminder(ctx, a.Code)
		},
	)
}

func (r *Reconciler) run(
	ctx context.Context,
	job string,
	list func(ctx context.Context) ([]appointment.Appointment, error),
	step func(ctx context.Context, a appointment.Appointment) (bool, error),
) (Result, error) {
	started := time.Now()
	res := Result{Job: job}

	items, err := list(ctx)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(job, "error").Inc()
		r.log.Error().Err(err).Str("job", job).Msg("list items")
		return res, fmt.Errorf("%s: %w", job, err)
	}
	res.Scanned = len(items)

	for _, a := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		changed, err := step(ctx, a)
		switch {
		case err != nil:
			res.Failed++
			metrics.JobItemsTotal.WithLabelValues(job, "failed").Inc()
			r.log.Warn().
				Err(err).
				Str("job", job).
				Str("appointment", a.Code).
				Str("kind", string(appointment.KindOf(err))).
				Msg("item failed")
		case changed:
			res.Succeeded++
			metrics.JobItemsTotal.WithLabelValues(job, "succeeded").Inc()
		default:
			res.Skipped++
			metrics.JobItemsTotal.WithLabelValues(job, "skipped").Inc()
		}
	}

	res.Duration = time.Since(started)
	metrics.JobDuration.WithLabelValues(job).Observe(res.Duration.Seconds())

	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	if err := ctx.Err(); err != nil {
		outcome = "interrupted"
	}
	metrics.JobRunsTotal.WithLabelValues(job, outcome).Inc()

	ev := r.log.Info()
	if res.Failed > 0 {
		ev = r.log.Warn()
	}
	ev.Str("job", job).
		Int("scanned", res.Scanned).
		Int("succeeded", res.Succeeded).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Dur("took", res.Duration).
		Msg("job finished")

	return res, ctx.Err()
}
