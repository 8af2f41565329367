package api

import (
	"strings"
	"time"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
)

// PatientRequest carries any of the three patient shapes. Kind selects
// which fields are read.
type PatientRequest struct {
	Kind       string `json:"kind"`
	Code       string `json:"code,omitempty"`
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	BookerCode string `json:"booker_code,omitempty"`
	Contact    string `json:"contact,omitempty"`
	Relation   string `json:"relation,omitempty"`
}

func (p PatientRequest) toPatient() (appointment.Patient, error) {
	switch appointment.PatientKind(strings.TrimSpace(p.Kind)) {
	case appointment.PatientRegistered, "":
		return appointment.RegisteredPatient{Code: p.Code}, nil
	case appointment.PatientGuest:
		return appointment.GuestPatient{Name: p.Name, Phone: p.Phone, Email: p.Email}, nil
	case appointment.PatientBookedOther:
		return appointment.BookedForOther{
			BookerCode: p.BookerCode,
			Name:       p.Name,
			Contact:    p.Contact,
			Relation:   p.Relation,
		}, nil
	}
	return nil, errBadRequest("patient kind must be registered, guest or booked_for_other, got %q", p.Kind)
}

type CreateAppointmentRequest struct {
	DentistCode     string         `json:"dentist_code"`
	StartsAt        time.Time      `json:"starts_at"`
	DurationMinutes int            `json:"duration_minutes,omitempty"`
	Patient         PatientRequest `json:"patient"`
	Reason          string         `json:"reason,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	DentistCode     string    `json:"dentist_code,omitempty"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

type BlockSlotRequest struct {
	Day      string `json:"day"`
	TimeSlot string `json:"time_slot"`
	Reason   string `json:"reason,omitempty"`
}

type WalkInRequest struct {
	DentistCode string         `json:"dentist_code"`
	Patient     PatientRequest `json:"patient"`
	Reason      string         `json:"reason,omitempty"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
}

type QueueStatusRequest struct {
	Status string `json:"status"`
}

type SwitchTimeRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

type RebookRequest struct {
	DentistCode     string    `json:"dentist_code,omitempty"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Reason          string    `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	Code               string              `json:"code"`
	DentistCode        string              `json:"dentist_code"`
	Day                string              `json:"day"`
	TimeSlot           string              `json:"time_slot"`
	StartsAt           time.Time           `json:"starts_at"`
	EndsAt             time.Time           `json:"ends_at"`
	Status             string              `json:"status"`
	PatientKind        string              `json:"patient_kind"`
	Patient            appointment.Patient `json:"patient"`
	Reason             string              `json:"reason,omitempty"`
	PendingExpiresAt   *time.Time          `json:"pending_expires_at,omitempty"`
	AcceptedAt         *time.Time          `json:"accepted_at,omitempty"`
	AcceptedBy         string              `json:"accepted_by,omitempty"`
	CancelledAt        *time.Time          `json:"cancelled_at,omitempty"`
	CancelledBy        string              `json:"cancelled_by,omitempty"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	NotificationStatus string              `json:"notification_status,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		Code:               a.Code,
		DentistCode:        a.DentistCode,
		Day:                a.Day,
		TimeSlot:           a.TimeSlot,
		StartsAt:           a.StartsAt,
		EndsAt:             a.EndsAt,
		Status:             string(a.Status),
		Patient:            a.Patient,
		Reason:             a.Reason,
		PendingExpiresAt:   a.PendingExpiresAt,
		AcceptedAt:         a.AcceptedAt,
		AcceptedBy:         a.AcceptedBy,
		CancelledAt:        a.CancelledAt,
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		CompletedAt:        a.CompletedAt,
		NotificationStatus: string(a.NotificationStatus),
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	if a.Patient != nil {
		resp.PatientKind = string(a.Patient.Kind())
	}
	return resp
}

type QueueEntryResponse struct {
	Code            string              `json:"code"`
	AppointmentCode string              `json:"appointment_code,omitempty"`
	DentistCode     string              `json:"dentist_code"`
	Day             string              `json:"day"`
	Position        int                 `json:"position"`
	ScheduledAt     time.Time           `json:"scheduled_at"`
	PreviousTime    *time.Time          `json:"previous_time,omitempty"`
	Status          string              `json:"status"`
	PatientKind     string              `json:"patient_kind"`
	Patient         appointment.Patient `json:"patient"`
	Reason          string              `json:"reason,omitempty"`
}

func newQueueEntryResponse(e *appointment.QueueEntry) QueueEntryResponse {
	resp := QueueEntryResponse{
		Code:            e.Code,
		AppointmentCode: e.AppointmentCode,
		DentistCode:     e.DentistCode,
		Day:             e.Day,
		Position:        e.Position,
		ScheduledAt:     e.ScheduledAt,
		PreviousTime:    e.PreviousTime,
		Status:          string(e.Status),
		Patient:         e.Patient,
		Reason:          e.Reason,
	}
	if e.Patient != nil {
		resp.PatientKind = string(e.Patient.Kind())
	}
	return resp
}

type SlotResponse struct {
	DentistCode     string    `json:"dentist_code"`
	Day             string    `json:"day"`
	TimeSlot        string    `json:"time_slot"`
	Status          string    `json:"status"`
	AppointmentCode string    `json:"appointment_code,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newSlotResponse(s *appointment.Slot) SlotResponse {
	return SlotResponse{
		DentistCode:     s.DentistCode,
		Day:             s.Day,
		TimeSlot:        s.TimeSlot,
		Status:          string(s.Status),
		AppointmentCode: s.AppointmentCode,
		UpdatedAt:       s.UpdatedAt,
	}
}

type AvailableSlot struct {
	TimeSlot string    `json:"time_slot"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type AvailabilityResponse struct {
	DentistCode string          `json:"dentist_code"`
	Day         string          `json:"day"`
	Slots       []AvailableSlot `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
