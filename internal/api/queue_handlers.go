package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
)

func listQueueHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("dentist") == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "dentist query parameter is required")
			return
		}
		day := q.Get("date")
		if day == "" {
			day = svc.Today()
		}
		entries, err := svc.ListQueue(r.Context(), q.Get("dentist"), day)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]QueueEntryResponse, 0, len(entries))
		for i := range entries {
			out = append(out, newQueueEntryResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func walkInHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WalkInRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		patient, err := req.Patient.toPatient()
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		in := appointment.WalkInInput{
			DentistCode: req.DentistCode,
			Patient:     patient,
			Reason:      req.Reason,
		}
		if req.ScheduledAt != nil {
			in.ScheduledAt = *req.ScheduledAt
		}

		entry, err := svc.AddWalkIn(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newQueueEntryResponse(entry))
	}
}

func queueStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueueStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		next, err := appointment.ParseQueueStatus(req.Status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		entry, err := svc.UpdateQueueStatus(r.Context(), chi.URLParam(r, "code"), next)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newQueueEntryResponse(entry))
	}
}

func switchTimeHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SwitchTimeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		entry, err := svc.SwitchTime(r.Context(), chi.URLParam(r, "code"), req.ScheduledAt)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newQueueEntryResponse(entry))
	}
}

func rebookHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RebookRequest
		if err := decodeJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		d, err := minutes(req.DurationMinutes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		appt, err := svc.DeleteAndRebook(r.Context(), chi.URLParam(r, "code"), appointment.RebookInput{
			DentistCode: req.DentistCode,
			StartsAt:    req.StartsAt,
			Duration:    d,
			Reason:      req.Reason,
			Actor:       actorOf(r),
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func cancelQueueEntryHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CancelRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			writeServiceError(w, r, err)
			return
		}
		entry, err := svc.CancelQueueEntry(r.Context(), chi.URLParam(r, "code"), actorOf(r), req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newQueueEntryResponse(entry))
	}
}
