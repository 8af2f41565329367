package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
)

const actorHeader = "X-Actor"

func actorOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(actorHeader))
}

// minutes converts a request's duration_minutes. Zero means the default.
func minutes(n int) (time.Duration, error) {
	if n < 0 {
		return 0, errBadRequest("duration_minutes must not be negative")
	}
	if n > int(appointment.MaxDuration/time.Minute) {
		return 0, errBadRequest("duration_minutes must be at most %d", int(appointment.MaxDuration/time.Minute))
	}
	return time.Duration(n) * time.Minute, nil
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		patient, err := req.Patient.toPatient()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		d, err := minutes(req.DurationMinutes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.CreateInput{
			DentistCode: req.DentistCode,
			StartsAt:    req.StartsAt,
			Duration:    d,
			Patient:     patient,
			Reason:      req.Reason,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.GetAppointment(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := appointment.AppointmentFilter{
			DentistCode: q.Get("dentist"),
			Day:         q.Get("date"),
			PatientRef:  q.Get("patient"),
		}
		if raw := q.Get("status"); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				st, err := appointment.ParseAppointmentStatus(strings.TrimSpace(part))
				if err != nil {
					writeServiceError(w, r, err)
					return
				}
				f.Statuses = append(f.Statuses, st)
			}
		}
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
				return
			}
			f.Limit = n
		}

		appts, err := svc.ListAppointments(r.Context(), f)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, newAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.ConfirmAppointment(r.Context(), chi.URLParam(r, "code"), actorOf(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		appt, err := svc.CancelAppointment(r.Context(), chi.URLParam(r, "code"), actorOf(r), req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.CompleteAppointment(r.Context(), chi.URLParam(r, "code"), actorOf(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		d, err := minutes(req.DurationMinutes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		appt, err := svc.RescheduleAppointment(r.Context(), appointment.RescheduleInput{
			Code:        chi.URLParam(r, "code"),
			DentistCode: req.DentistCode,
			StartsAt:    req.StartsAt,
			Duration:    d,
			Actor:       actorOf(r),
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func availableSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dentist := chi.URLParam(r, "code")
		day := r.URL.Query().Get("date")
		if day == "" {
			day = svc.Today()
		}
		var d time.Duration
		if raw := r.URL.Query().Get("duration"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request", "duration must be whole minutes")
				return
			}
			if d, err = minutes(n); err != nil {
				writeServiceError(w, r, err)
				return
			}
		}

		ranges, err := svc.ListAvailableSlots(r.Context(), dentist, day, d)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		resp := AvailabilityResponse{DentistCode: dentist, Day: day, Slots: make([]AvailableSlot, 0, len(ranges))}
		for _, rng := range ranges {
			resp.Slots = append(resp.Slots, AvailableSlot{TimeSlot: rng.Label(), StartsAt: rng.Start, EndsAt: rng.End})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := r.URL.Query().Get("date")
		if day == "" {
			day = svc.Today()
		}
		slots, err := svc.ListSlots(r.Context(), chi.URLParam(r, "code"), day)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			out = append(out, newSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func blockSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlockSlotRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		slot, err := svc.BlockSlot(r.Context(), chi.URLParam(r, "code"), req.Day, req.TimeSlot, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newSlotResponse(slot))
	}
}

func unblockSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlockSlotRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		slot, err := svc.UnblockSlot(r.Context(), chi.URLParam(r, "code"), req.Day, req.TimeSlot)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newSlotResponse(slot))
	}
}
