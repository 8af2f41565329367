package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/logging"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
	redisclient "github.com/hackgods/dental-queue-scheduling/internal/redis"
)

const (
	sequenceAppointment = "appointment"
	sequenceQueue       = "queue"

	// SystemActor is recorded when the engine itself accepts or cancels.
	SystemActor = "system"

	// MaxDuration bounds one appointment and one availability chunk.
	MaxDuration = 8 * time.Hour
)

type Service struct {
	store    Store
	resolver *Resolver
	locker   redisclient.Locker
	notify   *Dispatcher
	clock    clock.Clock
	cfg      config.Config
	log      zerolog.Logger
}

func NewService(store Store, dir Directory, locker redisclient.Locker, notifier Notifier, clk clock.Clock, cfg config.Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		store:    store,
		resolver: NewResolver(dir, clk, cfg.Location),
		locker:   locker,
		notify:   NewDispatcher(notifier, store, cfg.NotifyTimeout, cfg.StoreTimeout),
		clock:    clk,
		cfg:      cfg,
		log:      logging.Component("appointments"),
	}
}

// Now is the engine's current instant.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Today is the clinic-local calendar day of Now.
func (s *Service) Today() string {
	return DayOf(s.clock.Now(), s.cfg.Location)
}

func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

// WaitNotifications blocks until queued announcements are delivered.
func (s *Service) WaitNotifications() {
	s.notify.Wait()
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) withTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.WithinTx(ctx, fn)
}

func (s *Service) view(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.store.View(ctx, fn)
}

type CreateInput struct {
	DentistCode string
	StartsAt    time.Time
	Duration    time.Duration // zero means the configured default
	Patient     Patient
	Reason      string
}

func (in *CreateInput) normalize(def time.Duration, loc *time.Location) error {
	in.DentistCode = strings.TrimSpace(in.DentistCode)
	if in.DentistCode == "" {
		return validationErr("dentist code is required")
	}
	if in.StartsAt.IsZero() {
		return validationErr("appointment start is required")
	}
	if in.Patient == nil {
		return validationErr("patient is required")
	}
	if err := in.Patient.Validate(); err != nil {
		return err
	}
	if in.Duration == 0 {
		in.Duration = def
	}
	if err := checkDuration(in.Duration); err != nil {
		return err
	}
	in.StartsAt = in.StartsAt.Truncate(time.Minute).In(loc)
	in.Reason = strings.TrimSpace(in.Reason)
	return nil
}

func checkDuration(d time.Duration) error {
	if d < time.Minute || d > MaxDuration {
		return validationErr("duration must be between 1m and %s", MaxDuration)
	}
	return nil
}

// lockErr turns a busy booking lock into the error callers retry on.
func lockErr(err error) error {
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return newError(KindSlotUnavailable, "slot is currently being booked, please retry")
	}
	return err
}

func resultLabel(err error) string {
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func actorOr(actor, fallback string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return fallback
}

// CreateAppointment books a slot. A booking for today is confirmed and
// queued at once; a later booking waits as pending for PendingWindow.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := in.normalize(s.cfg.DefaultDuration, s.cfg.Location); err != nil {
		metrics.BookingsTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}

	var created *Appointment
	err := s.locker.WithLock(ctx, redisclient.BookingKey(in.DentistCode, in.StartsAt), func(lockCtx context.Context) error {
		return s.withTx(lockCtx, func(ctx context.Context, repo Repository) error {
			a, err := s.createTx(ctx, repo, in)
			if err != nil {
				return err
			}
			created = a
			return nil
		})
	})
	if err = lockErr(err); err != nil {
		metrics.BookingsTotal.WithLabelValues(resultLabel(err)).Inc()
		s.log.Debug().Err(err).Str("dentist", in.DentistCode).Time("starts_at", in.StartsAt).Msg("booking rejected")
		return nil, err
	}

	metrics.BookingsTotal.WithLabelValues("created").Inc()
	s.log.Info().
		Str("appointment", created.Code).
		Str("dentist", created.DentistCode).
		Str("status", string(created.Status)).
		Time("starts_at", created.StartsAt).
		Msg("appointment created")

	kind := NotifyRequested
	if created.Status == StatusConfirmed {
		kind = NotifyConfirmed
	}
	s.notify.dispatch(appointmentNotice(kind, created))
	return created, nil
}

func (s *Service) createTx(ctx context.Context, repo Repository, in CreateInput) (*Appointment, error) {
	now := s.clock.Now()
	rng := TimeRange{Start: in.StartsAt, End: in.StartsAt.Add(in.Duration)}
	day := DayOf(rng.Start, s.cfg.Location)

	if err := repo.LockDentistDay(ctx, in.DentistCode, day); err != nil {
		return nil, err
	}
	if err := s.ensureNoActiveAt(ctx, repo, in.DentistCode, rng.Start, ""); err != nil {
		return nil, err
	}
	if err := s.resolver.CheckRange(ctx, repo, in.DentistCode, rng, ""); err != nil {
		return nil, err
	}
	if err := s.checkCap(ctx, repo, in.DentistCode, day, ""); err != nil {
		return nil, err
	}

	code, err := nextCode(ctx, repo, sequenceAppointment, "AP-%04d")
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		Code:               code,
		Patient:            in.Patient,
		DentistCode:        in.DentistCode,
		Day:                day,
		TimeSlot:           rangeIn(rng, s.cfg.Location).Label(),
		StartsAt:           rng.Start,
		EndsAt:             rng.End,
		Reason:             in.Reason,
		CreatedAt:          now,
		UpdatedAt:          now,
		NotificationStatus: NotificationNone,
	}

	if day == DayOf(now, s.cfg.Location) {
		a.Status = StatusConfirmed
		a.AcceptedAt = &now
		a.AcceptedBy = SystemActor
		if _, err := s.enqueueTx(ctx, repo, a, now); err != nil {
			return nil, err
		}
	} else {
		a.Status = StatusPending
		expires := now.Add(s.cfg.PendingWindow)
		a.PendingExpiresAt = &expires
	}

	if err := repo.InsertAppointment(ctx, a); err != nil {
		return nil, err
	}
	if err := bookSlotTx(ctx, repo, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) ensureNoActiveAt(ctx context.Context, repo Repository, dentistCode string, start time.Time, selfCode string) error {
	existing, err := repo.FindActiveAt(ctx, dentistCode, start)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.Code == selfCode:
		return nil
	}
	return newError(KindDuplicateBooking, "dentist %s already has %s at %s",
		dentistCode, existing.Code, start.In(s.cfg.Location).Format(time.RFC3339))
}

func (s *Service) checkCap(ctx context.Context, repo Repository, dentistCode, day, excludeCode string) error {
	n, err := repo.CountOpenForDay(ctx, dentistCode, day, excludeCode)
	if err != nil {
		return fmt.Errorf("count open appointments: %w", err)
	}
	if n >= s.cfg.DailyCap {
		return newError(KindDailyCapReached, "dentist %s already has %d open appointments on %s (cap %d)",
			dentistCode, n, day, s.cfg.DailyCap)
	}
	return nil
}

func nextCode(ctx context.Context, repo Repository, scope, format string) (string, error) {
	n, err := repo.NextSequence(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("next %s code: %w", scope, err)
	}
	return fmt.Sprintf(format, n), nil
}

func bookSlotTx(ctx context.Context, repo Repository, a *Appointment) error {
	key := a.SlotKey()
	if err := repo.EnsureSlot(ctx, key); err != nil {
		return err
	}
	return repo.BookSlot(ctx, key, a.Code, a.Patient.RecipientCode())
}

type dentistDay struct {
	dentistCode string
	day         string
}

// lockDays takes dentist-day locks in a fixed order so two transactions
// touching the same pair of days cannot deadlock.
func lockDays(ctx context.Context, repo Repository, days ...dentistDay) error {
	sort.Slice(days, func(i, j int) bool {
		if days[i].dentistCode != days[j].dentistCode {
			return days[i].dentistCode < days[j].dentistCode
		}
		return days[i].day < days[j].day
	})
	var prev dentistDay
	for i, d := range days {
		if i > 0 && d == prev {
			continue
		}
		if err := repo.LockDentistDay(ctx, d.dentistCode, d.day); err != nil {
			return err
		}
		prev = d
	}
	return nil
}

// relockAttempts caps how often lockedAppointment chases an appointment
// that keeps moving between its read and its lock.
const relockAttempts = 3

// lockedAppointment loads code and locks its dentist-day, plus any extra
// days, then loads it again so the caller sees the state as of holding the
// locks. If a concurrent move landed on another day in between, that day is
// locked too and the read repeated.
func lockedAppointment(ctx context.Context, repo Repository, code string, extra ...dentistDay) (*Appointment, error) {
	a, err := repo.GetAppointment(ctx, code)
	if err != nil {
		return nil, err
	}
	for attempt := 0; attempt < relockAttempts; attempt++ {
		days := append([]dentistDay{{a.DentistCode, a.Day}}, extra...)
		if err := lockDays(ctx, repo, days...); err != nil {
			return nil, err
		}
		current, err := repo.GetAppointment(ctx, code)
		if err != nil {
			return nil, err
		}
		if current.DentistCode == a.DentistCode && current.Day == a.Day {
			return current, nil
		}
		a = current
	}
	return nil, newError(KindConflict, "appointment %s keeps moving, please retry", code)
}

// acceptTx moves a pending appointment to confirmed in memory after the
// daily cap check. The caller persists it.
func (s *Service) acceptTx(ctx context.Context, repo Repository, a *Appointment, actor string, now time.Time) error {
	if a.Status != StatusPending {
		return newError(KindInvalidTransition, "appointment %s is %s, only pending can be confirmed", a.Code, a.Status)
	}
	if err := s.checkCap(ctx, repo, a.DentistCode, a.Day, a.Code); err != nil {
		return err
	}
	a.Status = StatusConfirmed
	a.AcceptedAt = &now
	a.AcceptedBy = actor
	a.UpdatedAt = now
	return nil
}

func (s *Service) confirmTx(ctx context.Context, repo Repository, a *Appointment, actor string, now time.Time) error {
	if err := s.acceptTx(ctx, repo, a, actor, now); err != nil {
		return err
	}
	if a.Day == DayOf(now, s.cfg.Location) {
		if _, err := s.enqueueTx(ctx, repo, a, now); err != nil {
			return err
		}
	}
	return repo.UpdateAppointment(ctx, a, StatusPending)
}

// ConfirmAppointment accepts a pending appointment.
func (s *Service) ConfirmAppointment(ctx context.Context, code, actor string) (*Appointment, error) {
	actor = actorOr(actor, SystemActor)

	var confirmed *Appointment
	err := s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		a, err := lockedAppointment(ctx, repo, code)
		if err != nil {
			return err
		}
		if err := s.confirmTx(ctx, repo, a, actor, s.clock.Now()); err != nil {
			return err
		}
		confirmed = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(confirmed.Code, StatusPending, StatusConfirmed, actor)
	s.notify.dispatch(appointmentNotice(NotifyConfirmed, confirmed))
	return confirmed, nil
}

func (s *Service) cancelTx(ctx context.Context, repo Repository, a *Appointment, actor, reason string, now time.Time) error {
	if a.Status.Terminal() {
		return newError(KindInvalidTransition, "appointment %s is already %s", a.Code, a.Status)
	}
	from := a.Status
	a.Status = StatusCancelled
	a.CancelledAt = &now
	a.CancelledBy = actor
	a.CancellationReason = reason
	a.UpdatedAt = now

	if _, err := repo.ReleaseSlot(ctx, a.Code); err != nil {
		return err
	}
	if _, err := repo.DeleteQueueEntriesByAppointment(ctx, a.Code); err != nil {
		return err
	}
	return repo.UpdateAppointment(ctx, a, from)
}

// CancelAppointment retires a non-terminal appointment, frees its slot and
// drops it from the queue.
func (s *Service) CancelAppointment(ctx context.Context, code, actor, reason string) (*Appointment, error) {
	actor = actorOr(actor, SystemActor)

	var (
		cancelled *Appointment
		from      AppointmentStatus
	)
	err := s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		a, err := lockedAppointment(ctx, repo, code)
		if err != nil {
			return err
		}
		from = a.Status
		if err := s.cancelTx(ctx, repo, a, actor, strings.TrimSpace(reason), s.clock.Now()); err != nil {
			return err
		}
		cancelled = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(cancelled.Code, from, StatusCancelled, actor)
	s.notify.dispatch(appointmentNotice(NotifyCancelled, cancelled))
	return cancelled, nil
}

func completeTx(ctx context.Context, repo Repository, a *Appointment, now time.Time) error {
	if a.Status != StatusConfirmed {
		return newError(KindInvalidTransition, "appointment %s is %s, only confirmed can be completed", a.Code, a.Status)
	}
	a.Status = StatusCompleted
	a.CompletedAt = &now
	a.UpdatedAt = now
	return repo.UpdateAppointment(ctx, a, StatusConfirmed)
}

// CompleteAppointment closes a confirmed appointment and its queue entry.
func (s *Service) CompleteAppointment(ctx context.Context, code, actor string) (*Appointment, error) {
	var completed *Appointment
	err := s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		a, err := lockedAppointment(ctx, repo, code)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := completeTx(ctx, repo, a, now); err != nil {
			return err
		}

		entry, err := repo.FindQueueEntryByAppointment(ctx, a.Code)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case entry.Status != QueueCompleted:
			entry.Status = QueueCompleted
			entry.UpdatedAt = now
			if err := repo.UpdateQueueEntry(ctx, entry); err != nil {
				return err
			}
		}
		completed = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitioned(completed.Code, StatusConfirmed, StatusCompleted, actorOr(actor, SystemActor))
	return completed, nil
}

type RescheduleInput struct {
	Code        string
	DentistCode string // empty keeps the current dentist
	StartsAt    time.Time
	Duration    time.Duration // zero keeps the current length
	Actor       string
}

// RescheduleAppointment moves an appointment to a new instant, and
// optionally a new dentist, as one unit. If the new slot is not bookable
// nothing changes.
func (s *Service) RescheduleAppointment(ctx context.Context, in RescheduleInput) (*Appointment, error) {
	if in.StartsAt.IsZero() {
		return nil, validationErr("new appointment start is required")
	}
	if in.Duration != 0 {
		if err := checkDuration(in.Duration); err != nil {
			return nil, err
		}
	}
	in.StartsAt = in.StartsAt.Truncate(time.Minute).In(s.cfg.Location)

	current, err := s.GetAppointment(ctx, in.Code)
	if err != nil {
		return nil, err
	}
	dentist := strings.TrimSpace(in.DentistCode)
	if dentist == "" {
		dentist = current.DentistCode
	}

	var (
		moved    *Appointment
		previous time.Time
	)
	err = s.locker.WithLock(ctx, redisclient.BookingKey(dentist, in.StartsAt), func(lockCtx context.Context) error {
		return s.withTx(lockCtx, func(ctx context.Context, repo Repository) error {
			a, err := lockedAppointment(ctx, repo, in.Code,
				dentistDay{dentist, DayOf(in.StartsAt, s.cfg.Location)})
			if err != nil {
				return err
			}
			previous = a.StartsAt
			if err := s.rescheduleTx(ctx, repo, a, dentist, in); err != nil {
				return err
			}
			moved = a
			return nil
		})
	})
	if err = lockErr(err); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment", moved.Code).
		Str("dentist", moved.DentistCode).
		Time("previous", previous).
		Time("starts_at", moved.StartsAt).
		Str("actor", actorOr(in.Actor, SystemActor)).
		Msg("appointment rescheduled")

	kind := NotifyRequested
	if moved.Status == StatusConfirmed {
		kind = NotifyConfirmed
	}
	n := appointmentNotice(kind, moved)
	n.payload["previous_starts_at"] = previous
	s.notify.dispatch(n)
	return moved, nil
}

func (s *Service) rescheduleTx(ctx context.Context, repo Repository, a *Appointment, dentist string, in RescheduleInput) error {
	if a.Status.Terminal() {
		return newError(KindInvalidTransition, "appointment %s is %s and cannot be rescheduled", a.Code, a.Status)
	}
	now := s.clock.Now()
	from := a.Status

	d := in.Duration
	if d == 0 {
		d = a.EndsAt.Sub(a.StartsAt)
	}
	rng := TimeRange{Start: in.StartsAt, End: in.StartsAt.Add(d)}
	newDay := DayOf(rng.Start, s.cfg.Location)

	if err := s.ensureNoActiveAt(ctx, repo, dentist, rng.Start, a.Code); err != nil {
		return err
	}
	if _, err := repo.ReleaseSlot(ctx, a.Code); err != nil {
		return err
	}
	if err := s.resolver.CheckRange(ctx, repo, dentist, rng, a.Code); err != nil {
		return err
	}
	if err := s.checkCap(ctx, repo, dentist, newDay, a.Code); err != nil {
		return err
	}

	previous := a.StartsAt
	a.DentistCode = dentist
	a.Day = newDay
	a.TimeSlot = rangeIn(rng, s.cfg.Location).Label()
	a.StartsAt = rng.Start
	a.EndsAt = rng.End
	a.UpdatedAt = now

	if newDay == DayOf(now, s.cfg.Location) {
		if a.Status == StatusPending {
			a.Status = StatusConfirmed
			a.AcceptedAt = &now
			a.AcceptedBy = actorOr(in.Actor, SystemActor)
		}
		if err := s.requeueTx(ctx, repo, a, previous, now); err != nil {
			return err
		}
	} else {
		if _, err := repo.DeleteQueueEntriesByAppointment(ctx, a.Code); err != nil {
			return err
		}
		a.MigratedAt = nil
		if a.Status == StatusPending {
			expires := now.Add(s.cfg.PendingWindow)
			a.PendingExpiresAt = &expires
		}
	}

	if err := repo.UpdateAppointment(ctx, a, from); err != nil {
		return err
	}
	return bookSlotTx(ctx, repo, a)
}

// requeueTx keeps an existing same-day queue entry in place when the
// appointment stays with the same dentist-day, and re-enqueues otherwise.
func (s *Service) requeueTx(ctx context.Context, repo Repository, a *Appointment, previous, now time.Time) error {
	entry, err := repo.FindQueueEntryByAppointment(ctx, a.Code)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return err
	case entry.DentistCode == a.DentistCode && entry.Day == a.Day:
		entry.PreviousTime = &previous
		entry.ScheduledAt = a.StartsAt
		entry.UpdatedAt = now
		return repo.UpdateQueueEntry(ctx, entry)
	default:
		if err := repo.DeleteQueueEntry(ctx, entry.Code); err != nil {
			return err
		}
	}
	_, err = s.enqueueTx(ctx, repo, a, now)
	return err
}

// GetAppointment returns one appointment by code.
func (s *Service) GetAppointment(ctx context.Context, code string) (*Appointment, error) {
	var a *Appointment
	err := s.view(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		a, err = repo.GetAppointment(ctx, code)
		return err
	})
	return a, err
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 500
	}
	var out []Appointment
	err := s.view(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListAppointments(ctx, f)
		return err
	})
	return out, err
}

// ListAvailableSlots returns the bookable chunks for a dentist-day. A zero
// duration means the configured default.
func (s *Service) ListAvailableSlots(ctx context.Context, dentistCode, day string, d time.Duration) ([]TimeRange, error) {
	if d == 0 {
		d = s.cfg.DefaultDuration
	}
	if err := checkDuration(d); err != nil {
		return nil, err
	}
	var out []TimeRange
	err := s.view(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = s.resolver.ListAvailableSlots(ctx, repo, dentistCode, day, d)
		return err
	})
	return out, err
}

func (s *Service) ListSlots(ctx context.Context, dentistCode, day string) ([]Slot, error) {
	if _, err := ParseDay(day, s.cfg.Location); err != nil {
		return nil, err
	}
	var out []Slot
	err := s.view(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ListSlots(ctx, dentistCode, day)
		return err
	})
	return out, err
}

func (s *Service) slotKey(dentistCode, day, timeSlot string) (SlotKey, TimeRange, error) {
	dentistCode = strings.TrimSpace(dentistCode)
	if dentistCode == "" {
		return SlotKey{}, TimeRange{}, validationErr("dentist code is required")
	}
	dayStart, err := ParseDay(day, s.cfg.Location)
	if err != nil {
		return SlotKey{}, TimeRange{}, err
	}
	rng, err := ParseSlotLabel(dayStart, timeSlot)
	if err != nil {
		return SlotKey{}, TimeRange{}, err
	}
	return SlotKey{DentistCode: dentistCode, Day: dayStart.Format(DayLayout), TimeSlot: rng.Label()}, rng, nil
}

// BlockSlot takes a slot out of availability for leave, an event or
// maintenance. A slot that overlaps a live booking cannot be blocked.
func (s *Service) BlockSlot(ctx context.Context, dentistCode, day, timeSlot, reason string) (*Slot, error) {
	status, err := BlockStatusFor(strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}
	key, rng, err := s.slotKey(dentistCode, day, timeSlot)
	if err != nil {
		return nil, err
	}

	var blocked *Slot
	err = s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.LockDentistDay(ctx, key.DentistCode, key.Day); err != nil {
			return err
		}
		appts, err := repo.ListAppointments(ctx, AppointmentFilter{
			DentistCode: key.DentistCode,
			Day:         key.Day,
			Statuses:    []AppointmentStatus{StatusPending, StatusConfirmed},
		})
		if err != nil {
			return err
		}
		for _, a := range appts {
			if a.Range().Overlaps(rng) {
				return newError(KindSlotUnavailable, "slot %s overlaps appointment %s", key, a.Code)
			}
		}
		if err := repo.EnsureSlot(ctx, key); err != nil {
			return err
		}
		if err := repo.BlockSlot(ctx, key, status); err != nil {
			return err
		}
		blocked, err = repo.GetSlot(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("slot", key.String()).Str("status", string(status)).Msg("slot blocked")
	return blocked, nil
}

// UnblockSlot returns a blocked slot to available.
func (s *Service) UnblockSlot(ctx context.Context, dentistCode, day, timeSlot string) (*Slot, error) {
	key, _, err := s.slotKey(dentistCode, day, timeSlot)
	if err != nil {
		return nil, err
	}

	var freed *Slot
	err = s.withTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := repo.UnblockSlot(ctx, key); err != nil {
			return err
		}
		var err error
		freed, err = repo.GetSlot(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("slot", key.String()).Msg("slot unblocked")
	return freed, nil
}

func (s *Service) transitioned(code string, from, to AppointmentStatus, actor string) {
	metrics.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.log.Info().
		Str("appointment", code).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("appointment transition")
}
