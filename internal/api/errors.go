package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
)

// requestError is a malformed request caught before the service runs.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func errBadRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps an error onto a status code. The body's error
// field is the error kind so clients can branch on it.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeError(w, http.StatusBadRequest, "invalid_request", reqErr.msg)
		return
	}

	kind := appointment.KindOf(err)
	switch kind {
	case appointment.KindValidation:
		writeError(w, http.StatusBadRequest, string(kind), err.Error())
	case appointment.KindNotFound:
		writeError(w, http.StatusNotFound, string(kind), err.Error())
	case appointment.KindSlotUnavailable,
		appointment.KindDuplicateBooking,
		appointment.KindDailyCapReached,
		appointment.KindInvalidTransition,
		appointment.KindConflict:
		writeError(w, http.StatusConflict, string(kind), err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error, see server logs")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest("could not parse JSON body: %v", err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errBadRequest("could not parse JSON body: %v", err)
}
