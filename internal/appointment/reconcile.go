package appointment

import (
	"context"
	"errors"
	"time"
)

// The methods below are the per-item steps of the reconciliation jobs. Each
// runs in its own transaction, re-checks its precondition under the
// dentist-day lock and reports changed=false when there was nothing to do,
// so a job can be rerun or overlap a request safely.

const (
	expiryActor    = "system:expiry"
	migrationActor = "system:migration"
)

// ExpiredPending lists pending appointments whose review window has passed.
func (s *Service) ExpiredPending(ctx context.Context) ([]Appointment, error) {
	var out []Appointment
	err := s.view(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListExpiredPending(ctx, s.clock.Now(), s.cfg.PendingWindow)
		return err
	})
	return out, err
}

func (s *Service) pendingDue(a *Appointment, now time.Time) bool {
	if a.PendingExpiresAt != nil {
		return !a.PendingExpiresAt.After(now)
	}
	return !a.CreatedAt.After(now.Add(-s.cfg.PendingWindow))
}

// ExpireToConfirm confirms one expired pending appointment through the
// normal confirm path, daily cap included.
func (s *Service) ExpireToConfirm(ctx context.Context, code string) (bool, error) {
	var confirmed *Appointment
	err := s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		a, err := lockedAppointment(ctx, repo, code)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if a.Status != StatusPending || !s.pendingDue(a, now) {
			return nil
		}
		if err := s.confirmTx(ctx, repo, a, expiryActor, now); err != nil {
			return err
		}
		confirmed = a
		return nil
	})
	if err != nil || confirmed == nil {
		return false, err
	}

	s.transitioned(confirmed.Code, StatusPending, StatusConfirmed, expiryActor)
	s.notify.dispatch(appointmentNotice(NotifyConfirmed, confirmed))
	return true, nil
}

// PurgeQueueBefore drops queue entries of days before day.
func (s *Service) PurgeQueueBefore(ctx context.Context, day string) (int64, error) {
	if _, err := ParseDay(day, s.cfg.Location); err != nil {
		return 0, err
	}
	var n int64
	err := s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		n, err = repo.PurgeQueueBefore(ctx, day)
		return err
	})
	return n, err
}

// MigrationCandidates lists live appointments on day not yet in the queue.
func (s *Service) MigrationCandidates(ctx context.Context, day string) ([]Appointment, error) {
	return s.ListAppointments(ctx, AppointmentFilter{
		Day:         day,
		Statuses:    []AppointmentStatus{StatusPending, StatusConfirmed},
		NotMigrated: true,
	})
}

// MigrateToQueue queues one appointment of day and stamps it migrated. A
// pending appointment is confirmed on the way.
func (s *Service) MigrateToQueue(ctx context.Context, code, day string) (bool, error) {
	var (
		migrated *Appointment
		from     AppointmentStatus
	)
	err := s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		a, err := lockedAppointment(ctx, repo, code)
		if err != nil {
			return err
		}
		if a.Day != day || a.MigratedAt != nil {
			return nil
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			return nil
		}
		now := s.clock.Now()
		from = a.Status
		if a.Status == StatusPending {
			if err := s.acceptTx(ctx, repo, a, migrationActor, now); err != nil {
				return err
			}
		}
		if _, err := s.enqueueTx(ctx, repo, a, now); err != nil {
			return err
		}
		a.UpdatedAt = now
		if err := repo.UpdateAppointment(ctx, a, from); err != nil {
			return err
		}
		migrated = a
		return nil
	})
	if err != nil || migrated == nil {
		return false, err
	}

	if from == StatusPending {
		s.transitioned(migrated.Code, StatusPending, StatusConfirmed, migrationActor)
		s.notify.dispatch(appointmentNotice(NotifyConfirmed, migrated))
	}
	return true, nil
}

// CancelledBefore lists cancelled appointments older than cutoff.
func (s *Service) CancelledBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	var out []Appointment
	err := s.view(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListCancelledBefore(ctx, cutoff)
		return err
	})
	return out, err
}

// PurgeCancelled deletes one cancelled appointment older than cutoff and
// frees anything still linked to it.
func (s *Service) PurgeCancelled(ctx context.Context, code string, cutoff time.Time) (bool, error) {
	purged := false
	err := s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		a, err := repo.GetAppointment(ctx, code)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if a.Status != StatusCancelled {
			return nil
		}
		at := a.UpdatedAt
		if a.CancelledAt != nil {
			at = *a.CancelledAt
		}
		if !at.Before(cutoff) {
			return nil
		}
		if _, err := repo.ReleaseSlot(ctx, a.Code); err != nil {
			return err
		}
		if _, err := repo.DeleteQueueEntriesByAppointment(ctx, a.Code); err != nil {
			return err
		}
		if err := repo.DeleteAppointment(ctx, a.Code); err != nil {
			return err
		}
		purged = true
		return nil
	})
	return purged, err
}

// ReminderCandidates lists confirmed appointments on day not yet reminded.
func (s *Service) ReminderCandidates(ctx context.Context, day string) ([]Appointment, error) {
	list, err := s.ListAppointments(ctx, AppointmentFilter{
		Day:      day,
		Statuses: []AppointmentStatus{StatusConfirmed},
	})
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, a := range list {
		if a.RemindedAt == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// SendReminder stamps RemindedAt and announces a reminder.
func (s *Service) SendReminder(ctx context.Context, code string) (bool, error) {
	var reminded *Appointment
	err := s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		a, err := repo.GetAppointment(ctx, code)
		if err != nil {
			return err
		}
		if a.Status != StatusConfirmed || a.RemindedAt != nil {
			return nil
		}
		now := s.clock.Now()
		a.RemindedAt = &now
		a.UpdatedAt = now
		if err := repo.UpdateAppointment(ctx, a, StatusConfirmed); err != nil {
			return err
		}
		reminded = a
		return nil
	})
	if err != nil || reminded == nil {
		return false, err
	}

	s.notify.dispatch(appointmentNotice(NotifyReminder, reminded))
	return true, nil
}
