package appointment

import (
	"context"
	"time"
)

// Repository contains all store interactions needed by the engine. Every
// cross-record invariant is enforced here: conditional updates return
// ErrConcurrencyConflict or ErrSlotUnavailable when their guard fails, and
// uniqueness violations surface as ErrDuplicateBooking or
// ErrConcurrencyConflict.
type Repository interface {
	// NextSequence atomically increments and returns the counter for scope.
	NextSequence(ctx context.Context, scope string) (int64, error)

	// LockDentistDay serialises cap checks, queue positions and overlap
	// checks for one dentist-day until the transaction ends.
	LockDentistDay(ctx context.Context, dentistCode, day string) error

	// Slot ledger
	ListSlots(ctx context.Context, dentistCode, day string) ([]Slot, error)
	GetSlot(ctx context.Context, key SlotKey) (*Slot, error)
	EnsureSlot(ctx context.Context, key SlotKey) error
	BookSlot(ctx context.Context, key SlotKey, appointmentCode, patientRef string) error
	ReleaseSlot(ctx context.Context, appointmentCode string) (int64, error)
	BlockSlot(ctx context.Context, key SlotKey, status SlotStatus) error
	UnblockSlot(ctx context.Context, key SlotKey) error

	// Appointments
	InsertAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, code string) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment, from AppointmentStatus) error
	DeleteAppointment(ctx context.Context, code string) error
	FindActiveAt(ctx context.Context, dentistCode string, startsAt time.Time) (*Appointment, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)
	CountOpenForDay(ctx context.Context, dentistCode, day, excludeCode string) (int, error)
	ListExpiredPending(ctx context.Context, now time.Time, window time.Duration) ([]Appointment, error)
	ListCancelledBefore(ctx context.Context, cutoff time.Time) ([]Appointment, error)
	SetNotificationStatus(ctx context.Context, code string, status NotificationStatus, detail string) error

	// Queue
	NextQueuePosition(ctx context.Context, dentistCode, day string) (int, error)
	InsertQueueEntry(ctx context.Context, e *QueueEntry) error
	GetQueueEntry(ctx context.Context, code string) (*QueueEntry, error)
	FindQueueEntryByAppointment(ctx context.Context, appointmentCode string) (*QueueEntry, error)
	ListQueue(ctx context.Context, dentistCode, day string) ([]QueueEntry, error)
	UpdateQueueEntry(ctx context.Context, e *QueueEntry) error
	DeleteQueueEntry(ctx context.Context, code string) error
	DeleteQueueEntriesByAppointment(ctx context.Context, appointmentCode string) (int64, error)
	PurgeQueueBefore(ctx context.Context, day string) (int64, error)
}

// Store hands out Repository views. WithinTx commits everything fn did or
// nothing; View is for reads.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	View(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
