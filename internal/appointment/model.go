package appointment

import (
	"fmt"
	"time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active statuses occupy the (dentist, instant) pair.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

func ParseAppointmentStatus(raw string) (AppointmentStatus, error) {
	switch s := AppointmentStatus(raw); s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", validationErr("unknown appointment status %q", raw)
}

type SlotStatus string

const (
	SlotAvailable          SlotStatus = "available"
	SlotBooked             SlotStatus = "booked"
	SlotBlockedLeave       SlotStatus = "blocked_leave"
	SlotBlockedEvent       SlotStatus = "blocked_event"
	SlotBlockedMaintenance SlotStatus = "blocked_maintenance"
)

// Blocking slots are removed from availability.
func (s SlotStatus) Blocking() bool {
	return s != SlotAvailable
}

func (s SlotStatus) Blocked() bool {
	return s == SlotBlockedLeave || s == SlotBlockedEvent || s == SlotBlockedMaintenance
}

// BlockStatusFor maps a block reason (leave, event, maintenance) to its slot status.
func BlockStatusFor(reason string) (SlotStatus, error) {
	switch reason {
	case "leave":
		return SlotBlockedLeave, nil
	case "event":
		return SlotBlockedEvent, nil
	case "maintenance":
		return SlotBlockedMaintenance, nil
	}
	return "", validationErr("block reason must be leave, event or maintenance, got %q", reason)
}

type QueueStatus string

const (
	QueueWaiting     QueueStatus = "waiting"
	QueueCalled      QueueStatus = "called"
	QueueInTreatment QueueStatus = "in_treatment"
	QueueCompleted   QueueStatus = "completed"
)

var queueOrder = map[QueueStatus]int{
	QueueWaiting:     0,
	QueueCalled:      1,
	QueueInTreatment: 2,
	QueueCompleted:   3,
}

func ParseQueueStatus(raw string) (QueueStatus, error) {
	s := QueueStatus(raw)
	if _, ok := queueOrder[s]; !ok {
		return "", validationErr("unknown queue status %q", raw)
	}
	return s, nil
}

// CanAdvanceTo reports whether the queue entry may move to next. Queue
// progress is forward only.
func (s QueueStatus) CanAdvanceTo(next QueueStatus) bool {
	cur, ok1 := queueOrder[s]
	nxt, ok2 := queueOrder[next]
	return ok1 && ok2 && nxt > cur
}

type NotificationStatus string

const (
	NotificationNone   NotificationStatus = "none"
	NotificationSent   NotificationStatus = "sent"
	NotificationFailed NotificationStatus = "failed"
)

// SlotKey identifies exactly one ledger row.
type SlotKey struct {
	DentistCode string
	Day         string
	TimeSlot    string
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.DentistCode, k.Day, k.TimeSlot)
}

type Slot struct {
	DentistCode     string
	Day             string
	TimeSlot        string
	Status          SlotStatus
	AppointmentCode string
	PatientRef      string
	UpdatedAt       time.Time
}

func (s Slot) Key() SlotKey {
	return SlotKey{DentistCode: s.DentistCode, Day: s.Day, TimeSlot: s.TimeSlot}
}

type Appointment struct {
	Code               string
	Patient            Patient
	DentistCode        string
	Day                string
	TimeSlot           string
	StartsAt           time.Time
	EndsAt             time.Time
	Reason             string
	Status             AppointmentStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
	PendingExpiresAt   *time.Time
	AcceptedAt         *time.Time
	AcceptedBy         string
	CancelledAt        *time.Time
	CancelledBy        string
	CancellationReason string
	CompletedAt        *time.Time
	MigratedAt         *time.Time
	RemindedAt         *time.Time
	NotificationStatus NotificationStatus
	NotificationError  string
}

func (a *Appointment) SlotKey() SlotKey {
	return SlotKey{DentistCode: a.DentistCode, Day: a.Day, TimeSlot: a.TimeSlot}
}

func (a *Appointment) Range() TimeRange {
	return TimeRange{Start: a.StartsAt, End: a.EndsAt}
}

type QueueEntry struct {
	Code            string
	AppointmentCode string // empty for walk-ins
	Patient         Patient
	DentistCode     string
	Day             string
	Position        int
	ScheduledAt     time.Time
	PreviousTime    *time.Time
	Status          QueueStatus
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AppointmentFilter narrows ListAppointments. Zero fields do not filter.
type AppointmentFilter struct {
	DentistCode  string
	Day          string
	PatientRef   string
	Statuses     []AppointmentStatus
	NotMigrated  bool
	StartsFrom   time.Time
	StartsBefore time.Time
	Limit        int
}

func (f AppointmentFilter) matches(a *Appointment) bool {
	if f.DentistCode != "" && a.DentistCode != f.DentistCode {
		return false
	}
	if f.Day != "" && a.Day != f.Day {
		return false
	}
	if f.PatientRef != "" && a.Patient.RecipientCode() != f.PatientRef {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.NotMigrated && a.MigratedAt != nil {
		return false
	}
	if !f.StartsFrom.IsZero() && a.StartsAt.Before(f.StartsFrom) {
		return false
	}
	if !f.StartsBefore.IsZero() && !a.StartsAt.Before(f.StartsBefore) {
		return false
	}
	return true
}
