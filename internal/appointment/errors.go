package appointment

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for callers.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindSlotUnavailable   ErrorKind = "slot_unavailable"
	KindDuplicateBooking  ErrorKind = "duplicate_booking"
	KindDailyCapReached   ErrorKind = "daily_cap_reached"
	KindNotFound          ErrorKind = "not_found"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindConflict          ErrorKind = "concurrency_conflict"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind, so errors.Is(err, ErrSlotUnavailable) holds for every
// slot-unavailable error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation          = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrSlotUnavailable     = &Error{Kind: KindSlotUnavailable, Message: "slot is not available"}
	ErrDuplicateBooking    = &Error{Kind: KindDuplicateBooking, Message: "dentist already has an appointment at that time"}
	ErrDailyCapReached     = &Error{Kind: KindDailyCapReached, Message: "dentist daily appointment cap reached"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAppointmentNotFound = &Error{Kind: KindNotFound, Message: "appointment not found"}
	ErrQueueEntryNotFound  = &Error{Kind: KindNotFound, Message: "queue entry not found"}
	ErrSlotNotFound        = &Error{Kind: KindNotFound, Message: "slot not found"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrConcurrencyConflict = &Error{Kind: KindConflict, Message: "record changed concurrently, please retry"}
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func validationErr(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

// KindOf extracts the engine error kind, or "" for infrastructure errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
