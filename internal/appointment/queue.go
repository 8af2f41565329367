package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dental-queue-scheduling/internal/redis"
)

// enqueueTx gives a today appointment its queue position. It is a no-op
// when the appointment is already queued. The caller must hold the
// dentist-day lock and persist a afterwards, since MigratedAt is stamped.
func (s *Service) enqueueTx(ctx context.Context, repo Repository, a *Appointment, now time.Time) (*QueueEntry, error) {
	existing, err := repo.FindQueueEntryByAppointment(ctx, a.Code)
	if err == nil {
		if a.MigratedAt == nil {
			a.MigratedAt = &now
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	e := &QueueEntry{
		AppointmentCode: a.Code,
		Patient:         a.Patient,
		DentistCode:     a.DentistCode,
		Day:             a.Day,
		ScheduledAt:     a.StartsAt,
		Status:          QueueWaiting,
		Reason:          a.Reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := insertQueueEntryTx(ctx, repo, e); err != nil {
		return nil, err
	}
	a.MigratedAt = &now
	return e, nil
}

// insertQueueEntryTx assigns the next position (max+1) and a code.
func insertQueueEntryTx(ctx context.Context, repo Repository, e *QueueEntry) error {
	pos, err := repo.NextQueuePosition(ctx, e.DentistCode, e.Day)
	if err != nil {
		return err
	}
	code, err := nextCode(ctx, repo, sequenceQueue, "Q-%04d")
	if err != nil {
		return err
	}
	e.Code = code
	e.Position = pos
	return repo.InsertQueueEntry(ctx, e)
}

// lockedQueueEntry is lockedAppointment for queue entries.
func lockedQueueEntry(ctx context.Context, repo Repository, code string) (*QueueEntry, error) {
	e, err := repo.GetQueueEntry(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := repo.LockDentistDay(ctx, e.DentistCode, e.Day); err != nil {
		return nil, err
	}
	return repo.GetQueueEntry(ctx, code)
}

func queueResult(operation string, err error) {
	result := "ok"
	if err != nil {
		result = resultLabel(err)
	}
	metrics.QueueOperationsTotal.WithLabelValues(operation, result).Inc()
}

// ListQueue returns a dentist-day queue ordered by position.
func (s *Service) ListQueue(ctx context.Context, dentistCode, day string) ([]QueueEntry, error) {
	if _, err := ParseDay(day, s.cfg.Location); err != nil {
		return nil, err
	}
	var out []QueueEntry
	err := s.view(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListQueue(ctx, dentistCode, day)
		return err
	})
	return out, err
}

func (s *Service) GetQueueEntry(ctx context.Context, code string) (*QueueEntry, error) {
	var e *QueueEntry
	err := s.view(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		e, err = repo.GetQueueEntry(ctx, code)
		return err
	})
	return e, err
}

type WalkInInput struct {
	DentistCode string
	Patient     Patient
	Reason      string
	ScheduledAt time.Time // zero means now
}

// AddWalkIn puts a patient without an appointment at the back of today's
// queue.
func (s *Service) AddWalkIn(ctx context.Context, in WalkInInput) (e *QueueEntry, err error) {
	defer func() { queueResult("walk_in", err) }()

	in.DentistCode = strings.TrimSpace(in.DentistCode)
	if in.DentistCode == "" {
		return nil, validationErr("dentist code is required")
	}
	if in.Patient == nil {
		return nil, validationErr("patient is required")
	}
	if err := in.Patient.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	today := DayOf(now, s.cfg.Location)
	if in.ScheduledAt.IsZero() {
		in.ScheduledAt = now
	}
	if DayOf(in.ScheduledAt, s.cfg.Location) != today {
		return nil, validationErr("walk-in time must be today (%s)", today)
	}

	active, err := s.resolver.dir.IsActive(ctx, in.DentistCode)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, newError(KindSlotUnavailable, "dentist %s is not active", in.DentistCode)
	}

	entry := &QueueEntry{
		Patient:     in.Patient,
		DentistCode: in.DentistCode,
		Day:         today,
		ScheduledAt: in.ScheduledAt.In(s.cfg.Location),
		Status:      QueueWaiting,
		Reason:      strings.TrimSpace(in.Reason),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.LockDentistDay(ctx, entry.DentistCode, entry.Day); err != nil {
			return err
		}
		return insertQueueEntryTx(ctx, repo, entry)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("queue", entry.Code).Str("dentist", entry.DentistCode).Int("position", entry.Position).Msg("walk-in queued")
	return entry, nil
}

// UpdateQueueStatus moves an entry forward through waiting, called,
// in_treatment and completed. Completing the entry completes its confirmed
// appointment too.
func (s *Service) UpdateQueueStatus(ctx context.Context, code string, next QueueStatus) (e *QueueEntry, err error) {
	defer func() { queueResult("status", err) }()

	if _, err := ParseQueueStatus(string(next)); err != nil {
		return nil, err
	}

	var completed *Appointment
	err = s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		entry, err := lockedQueueEntry(ctx, repo, code)
		if err != nil {
			return err
		}
		if !entry.Status.CanAdvanceTo(next) {
			return newError(KindInvalidTransition, "queue entry %s cannot move from %s to %s", entry.Code, entry.Status, next)
		}
		now := s.clock.Now()
		entry.Status = next
		entry.UpdatedAt = now
		if err := repo.UpdateQueueEntry(ctx, entry); err != nil {
			return err
		}

		if next == QueueCompleted && entry.AppointmentCode != "" {
			a, err := repo.GetAppointment(ctx, entry.AppointmentCode)
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				return err
			case a.Status == StatusConfirmed:
				if err := completeTx(ctx, repo, a, now); err != nil {
					return err
				}
				completed = a
			}
		}
		e = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed != nil {
		s.transitioned(completed.Code, StatusConfirmed, StatusCompleted, SystemActor)
	}
	return e, nil
}

// SwitchTime moves an entry to another time on the same day. Its position
// is kept and the old time is recorded in PreviousTime. An entry that came
// from an appointment moves the appointment and its slot with it, so the new
// time must be bookable.
func (s *Service) SwitchTime(ctx context.Context, code string, newTime time.Time) (e *QueueEntry, err error) {
	defer func() { queueResult("switch_time", err) }()

	if newTime.IsZero() {
		return nil, validationErr("new time is required")
	}
	newTime = newTime.Truncate(time.Minute).In(s.cfg.Location)

	current, err := s.GetQueueEntry(ctx, code)
	if err != nil {
		return nil, err
	}

	var moved *Appointment
	switchTx := func(ctx context.Context, repo Repository) error {
		entry, err := lockedQueueEntry(ctx, repo, code)
		if err != nil {
			return err
		}
		if entry.Status == QueueCompleted {
			return newError(KindInvalidTransition, "queue entry %s is completed", entry.Code)
		}
		if DayOf(newTime, s.cfg.Location) != entry.Day {
			return validationErr("new time must be on %s, use delete and rebook to move days", entry.Day)
		}

		if entry.AppointmentCode == "" {
			previous := entry.ScheduledAt
			entry.PreviousTime = &previous
			entry.ScheduledAt = newTime
			entry.UpdatedAt = s.clock.Now()
			if err := repo.UpdateQueueEntry(ctx, entry); err != nil {
				return err
			}
			e = entry
			return nil
		}

		a, err := lockedAppointment(ctx, repo, entry.AppointmentCode)
		if err != nil {
			return err
		}
		if err := s.rescheduleTx(ctx, repo, a, a.DentistCode, RescheduleInput{Code: a.Code, StartsAt: newTime}); err != nil {
			return err
		}
		moved = a
		e, err = repo.GetQueueEntry(ctx, code)
		return err
	}

	if current.AppointmentCode == "" {
		err = s.withTx(ctx, switchTx)
	} else {
		err = s.locker.WithLock(ctx, redisclient.BookingKey(current.DentistCode, newTime), func(lockCtx context.Context) error {
			return s.withTx(lockCtx, switchTx)
		})
	}
	if err = lockErr(err); err != nil {
		return nil, err
	}

	ev := s.log.Info().Str("queue", e.Code).Time("scheduled_at", e.ScheduledAt)
	if e.PreviousTime != nil {
		ev = ev.Time("previous", *e.PreviousTime)
	}
	if moved != nil {
		ev = ev.Str("appointment", moved.Code).Str("time_slot", moved.TimeSlot)
	}
	ev.Msg("queue time switched")
	s.notify.dispatch(queueNotice(NotifyConfirmed, e))
	return e, nil
}

type RebookInput struct {
	DentistCode string // empty keeps the entry's dentist
	StartsAt    time.Time
	Duration    time.Duration
	Reason      string // empty keeps the entry's reason
	Actor       string
}

// DeleteAndRebook removes a queue entry and books a new appointment for the
// same patient in one transaction. Either both happen or neither does.
func (s *Service) DeleteAndRebook(ctx context.Context, code string, in RebookInput) (created *Appointment, err error) {
	defer func() { queueResult("rebook", err) }()

	current, err := s.GetQueueEntry(ctx, code)
	if err != nil {
		return nil, err
	}
	if current.Status == QueueCompleted {
		return nil, newError(KindInvalidTransition, "queue entry %s is completed", current.Code)
	}

	create := CreateInput{
		DentistCode: in.DentistCode,
		StartsAt:    in.StartsAt,
		Duration:    in.Duration,
		Patient:     current.Patient,
		Reason:      in.Reason,
	}
	if strings.TrimSpace(create.DentistCode) == "" {
		create.DentistCode = current.DentistCode
	}
	if strings.TrimSpace(create.Reason) == "" {
		create.Reason = current.Reason
	}
	if err := create.normalize(s.cfg.DefaultDuration, s.cfg.Location); err != nil {
		return nil, err
	}
	actor := actorOr(in.Actor, SystemActor)

	var retired *Appointment
	err = s.locker.WithLock(ctx, redisclient.BookingKey(create.DentistCode, create.StartsAt), func(lockCtx context.Context) error {
		return s.withTx(lockCtx, func(ctx context.Context, repo Repository) error {
			if err := lockDays(ctx, repo,
				dentistDay{current.DentistCode, current.Day},
				dentistDay{create.DentistCode, DayOf(create.StartsAt, s.cfg.Location)},
			); err != nil {
				return err
			}
			entry, err := repo.GetQueueEntry(ctx, code)
			if err != nil {
				return err
			}
			if entry.Status == QueueCompleted {
				return newError(KindInvalidTransition, "queue entry %s is completed", entry.Code)
			}
			if retired, err = s.retireQueueEntryTx(ctx, repo, entry, actor, "rebooked"); err != nil {
				return err
			}
			a, err := s.createTx(ctx, repo, create)
			if err != nil {
				return err
			}
			created = a
			return nil
		})
	})
	if err = lockErr(err); err != nil {
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues("created").Inc()
	s.log.Info().Str("queue", code).Str("appointment", created.Code).Msg("queue entry rebooked")

	kind := NotifyRequested
	if created.Status == StatusConfirmed {
		kind = NotifyConfirmed
	}
	notices := []notice{appointmentNotice(kind, created)}
	if retired != nil {
		s.transitioned(retired.Code, StatusConfirmed, StatusCancelled, actor)
		notices = append(notices, appointmentNotice(NotifyCancelled, retired))
	}
	s.notify.dispatch(notices...)
	return created, nil
}

// retireQueueEntryTx deletes entry and cancels its linked appointment if
// that is still live. It returns the cancelled appointment, if any.
func (s *Service) retireQueueEntryTx(ctx context.Context, repo Repository, entry *QueueEntry, actor, reason string) (*Appointment, error) {
	if err := repo.DeleteQueueEntry(ctx, entry.Code); err != nil {
		return nil, err
	}
	if entry.AppointmentCode == "" {
		return nil, nil
	}
	a, err := repo.GetAppointment(ctx, entry.AppointmentCode)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, nil
	}
	if err := s.cancelTx(ctx, repo, a, actor, reason, s.clock.Now()); err != nil {
		return nil, err
	}
	return a, nil
}

// CancelQueueEntry removes an entry from the queue. A linked appointment
// that is still live is cancelled with it so its slot is freed.
func (s *Service) CancelQueueEntry(ctx context.Context, code, actor, reason string) (e *QueueEntry, err error) {
	defer func() { queueResult("cancel", err) }()

	actor = actorOr(actor, SystemActor)
	reason = strings.TrimSpace(reason)

	var retired *Appointment
	err = s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		entry, err := lockedQueueEntry(ctx, repo, code)
		if err != nil {
			return err
		}
		if entry.Status == QueueCompleted {
			return newError(KindInvalidTransition, "queue entry %s is completed", entry.Code)
		}
		if retired, err = s.retireQueueEntryTx(ctx, repo, entry, actor, reason); err != nil {
			return err
		}
		e = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if retired != nil {
		s.transitioned(retired.Code, StatusConfirmed, StatusCancelled, actor)
	}
	s.log.Info().Str("queue", e.Code).Str("actor", actor).Msg("queue entry cancelled")
	s.notify.dispatch(queueNotice(NotifyCancelled, e))
	return e, nil
}
