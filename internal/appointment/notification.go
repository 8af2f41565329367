package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/dental-queue-scheduling/internal/logging"
	"github.com/hackgods/dental-queue-scheduling/internal/metrics"
)

type NotificationKind string

const (
	NotifyRequested NotificationKind = "requested"
	NotifyConfirmed NotificationKind = "confirmed"
	NotifyCancelled NotificationKind = "cancelled"
	NotifyReminder  NotificationKind = "reminder"
)

// Notifier delivers announcements. Channel and format are its own business.
type Notifier interface {
	Announce(ctx context.Context, kind NotificationKind, recipientCode string, payload map[string]any) error
}

// Dispatcher sends announcements off the request path and records the
// outcome on the appointment. A failed delivery never touches the state
// change that triggered it.
type Dispatcher struct {
	notifier     Notifier
	store        Store
	timeout      time.Duration // per Announce call
	storeTimeout time.Duration // per status write
	log          zerolog.Logger
	wg           sync.WaitGroup
}

func NewDispatcher(notifier Notifier, store Store, timeout, storeTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		notifier:     notifier,
		store:        store,
		timeout:      timeout,
		storeTimeout: storeTimeout,
		log:          logging.Component("notifier"),
	}
}

func boundedContext(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}

type notice struct {
	kind            NotificationKind
	recipient       string
	appointmentCode string
	payload         map[string]any
}

func appointmentNotice(kind NotificationKind, a *Appointment) notice {
	return notice{
		kind:            kind,
		recipient:       a.Patient.RecipientCode(),
		appointmentCode: a.Code,
		payload: map[string]any{
			"appointment_code": a.Code,
			"dentist_code":     a.DentistCode,
			"date":             a.Day,
			"time_slot":        a.TimeSlot,
			"starts_at":        a.StartsAt,
			"status":           string(a.Status),
		},
	}
}

func queueNotice(kind NotificationKind, e *QueueEntry) notice {
	payload := map[string]any{
		"queue_code":   e.Code,
		"dentist_code": e.DentistCode,
		"date":         e.Day,
		"position":     e.Position,
		"scheduled_at": e.ScheduledAt,
	}
	if e.PreviousTime != nil {
		payload["previous_time"] = *e.PreviousTime
	}
	return notice{
		kind:            kind,
		recipient:       e.Patient.RecipientCode(),
		appointmentCode: e.AppointmentCode,
		payload:         payload,
	}
}

func (d *Dispatcher) dispatch(notices ...notice) {
	if d == nil || d.notifier == nil {
		return
	}
	for _, n := range notices {
		d.wg.Add(1)
		go d.send(n)
	}
}

func (d *Dispatcher) send(n notice) {
	defer d.wg.Done()

	announceCtx, cancel := boundedContext(d.timeout)
	err := d.notifier.Announce(announceCtx, n.kind, n.recipient, n.payload)
	cancel()

	status, detail := NotificationSent, ""
	if err != nil {
		status, detail = NotificationFailed, err.Error()
		metrics.NotificationsTotal.WithLabelValues(string(n.kind), "failed").Inc()
		d.log.Warn().
			Err(err).
			Str("kind", string(n.kind)).
			Str("appointment", n.appointmentCode).
			Msg("announcement failed")
	} else {
		metrics.NotificationsTotal.WithLabelValues(string(n.kind), "sent").Inc()
	}

	if n.appointmentCode == "" || d.store == nil {
		return
	}
	// the announce deadline may be spent, so the write gets its own
	recordCtx, cancel := boundedContext(d.storeTimeout)
	defer cancel()
	err = d.store.WithinTx(recordCtx, func(ctx context.Context, repo Repository) error {
		return repo.SetNotificationStatus(ctx, n.appointmentCode, status, detail)
	})
	if err != nil {
		d.log.Error().Err(err).Str("appointment", n.appointmentCode).Msg("record notification status")
	}
}

// Wait blocks until every in-flight announcement has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
