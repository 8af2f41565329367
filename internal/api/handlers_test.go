package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
)

type quietNotifier struct{}

func (quietNotifier) Announce(context.Context, appointment.NotificationKind, string, map[string]any) error {
	return nil
}

func newTestRouter(t *testing.T, deps ...Dependency) http.Handler {
	t.Helper()

	hours := map[string]string{}
	for d := time.Sunday; d <= time.Saturday; d++ {
		hours[directory.WeekdayKey(d)] = "09:00 - 12:00"
	}
	dir := directory.NewStatic(directory.Dentist{Code: "DEN-01", Name: "Asha Rao", Active: true, WorkingHours: hours})

	cfg := config.Config{
		DailyCap:        20,
		PendingWindow:   4 * time.Hour,
		DefaultDuration: 30 * time.Minute,
		StoreTimeout:    5 * time.Second,
		NotifyTimeout:   time.Second,
		Location:        time.UTC,
	}
	clk := clock.NewManual(time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))
	svc := appointment.NewService(appointment.NewMemoryStore(), dir, nil, quietNotifier{}, clk, cfg)
	t.Cleanup(svc.WaitNotifications)

	return NewRouter(RouterConfig{Service: svc, Dependencies: deps, Env: "test", Version: "test"})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(actorHeader, "reception")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bookingBody(startsAt string) map[string]any {
	return map[string]any{
		"dentist_code": "DEN-01",
		"starts_at":    startsAt,
		"patient":      map[string]any{"kind": "registered", "code": "PT-1"},
		"reason":       "checkup",
	}
}

func TestCreateAppointmentToday(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", bookingBody("2026-03-02T09:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "AP-0001", got["code"])
	assert.Equal(t, "confirmed", got["status"])
	assert.Equal(t, "09:00-09:30", got["time_slot"])
	assert.Equal(t, "registered", got["patient_kind"])
	assert.Equal(t, "PT-1", got["patient"].(map[string]any)["code"])

	rec = do(t, h, http.MethodGet, "/queue?dentist=DEN-01&date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode[[]map[string]any](t, rec)
	require.Len(t, queue, 1)
	assert.Equal(t, "AP-0001", queue[0]["appointment_code"])
	assert.EqualValues(t, 1, queue[0]["position"])
}

func TestCreateAppointmentErrors(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", bookingBody("2026-03-03T10:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending", decode[map[string]any](t, rec)["status"])

	tests := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{
			name:   "same instant",
			body:   bookingBody("2026-03-03T10:00:00Z"),
			status: http.StatusConflict,
			kind:   "duplicate_booking",
		},
		{
			name:   "outside working hours",
			body:   bookingBody("2026-03-03T15:00:00Z"),
			status: http.StatusConflict,
			kind:   "slot_unavailable",
		},
		{
			name: "guest without phone",
			body: map[string]any{
				"dentist_code": "DEN-01",
				"starts_at":    "2026-03-03T11:00:00Z",
				"patient":      map[string]any{"kind": "guest", "name": "Ravi"},
			},
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name: "unknown patient kind",
			body: map[string]any{
				"dentist_code": "DEN-01",
				"starts_at":    "2026-03-03T11:00:00Z",
				"patient":      map[string]any{"kind": "robot"},
			},
			status: http.StatusBadRequest,
			kind:   "invalid_request",
		},
		{
			name: "duration past the longest appointment",
			body: map[string]any{
				"dentist_code":     "DEN-01",
				"starts_at":        "2026-03-03T11:00:00Z",
				"duration_minutes": 3749353613647811,
				"patient":          map[string]any{"kind": "registered", "code": "PT-9"},
			},
			status: http.StatusBadRequest,
			kind:   "invalid_request",
		},
		{
			name:   "unknown field",
			body:   map[string]any{"slot_id": "x"},
			status: http.StatusBadRequest,
			kind:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestAppointmentLifecycleRoutes(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/appointments", bookingBody("2026-03-03T09:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/appointments/AP-0001/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decode[map[string]any](t, rec)["status"])

	rec = do(t, h, http.MethodPatch, "/appointments/AP-0001/reschedule", map[string]any{
		"starts_at":        "2026-03-03T10:30:00Z",
		"duration_minutes": 45,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "10:30-11:15", decode[map[string]any](t, rec)["time_slot"])

	rec = do(t, h, http.MethodPost, "/appointments/AP-0001/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "cancelled", got["status"])
	assert.Equal(t, "reception", got["cancelled_by"])

	rec = do(t, h, http.MethodPost, "/appointments/AP-0001/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/appointments/AP-0404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/appointments?status=cancelled&dentist=DEN-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/appointments?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailabilityAndBlocks(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/dentists/DEN-01/available-slots?date=2026-03-03&duration=60", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[AvailabilityResponse](t, rec).Slots, 3)

	rec = do(t, h, http.MethodPost, "/appointments", bookingBody("2026-03-03T10:00:00Z"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/dentists/DEN-01/blocks", map[string]any{
		"day":       "2026-03-03",
		"time_slot": "11:00-12:00",
		"reason":    "leave",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "blocked_leave", decode[SlotResponse](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/dentists/DEN-01/available-slots?date=2026-03-03&duration=60", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[AvailabilityResponse](t, rec).Slots
	require.Len(t, slots, 1)
	assert.Equal(t, "09:00-10:00", slots[0].TimeSlot)

	rec = do(t, h, http.MethodGet, "/dentists/DEN-01/slots?date=2026-03-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 2)

	rec = do(t, h, http.MethodDelete, "/dentists/DEN-01/blocks", map[string]any{
		"day":       "2026-03-03",
		"time_slot": "11:00-12:00",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "available", decode[SlotResponse](t, rec).Status)

	for _, q := range []string{"-5", "481", "3749353613647811"} {
		rec = do(t, h, http.MethodGet, "/dentists/DEN-01/available-slots?date=2026-03-03&duration="+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "duration=%s", q)
	}
}

func TestQueueRoutes(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/queue", map[string]any{
		"dentist_code": "DEN-01",
		"patient":      map[string]any{"kind": "guest", "name": "Ravi", "phone": "+919876543210"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[map[string]any](t, rec)
	assert.Equal(t, "waiting", entry["status"])
	assert.Equal(t, "guest", entry["patient_kind"])
	assert.Equal(t, "Ravi", entry["patient"].(map[string]any)["name"])

	path := "/queue/" + entry["code"].(string)
	rec = do(t, h, http.MethodPatch, path+"/status", map[string]any{"status": "called"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPatch, path+"/status", map[string]any{"status": "waiting"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPatch, path+"/status", map[string]any{"status": "sleeping"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, path+"/time", map[string]any{"scheduled_at": "2026-03-02T11:15:00Z"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	switched := decode[map[string]any](t, rec)
	assert.Equal(t, "2026-03-02T07:00:00Z", switched["previous_time"])
	assert.Equal(t, entry["position"], switched["position"])

	rec = do(t, h, http.MethodPatch, path+"/time", map[string]any{"scheduled_at": "2026-03-03T11:15:00Z"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, path+"/rebook", map[string]any{"starts_at": "2026-03-03T09:30:00Z"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", decode[map[string]any](t, rec)["status"])

	rec = do(t, h, http.MethodPost, path+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/queue?date=2026-03-02", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndRequestID(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	h := newTestRouter(t,
		Dependency{Name: "postgres", Critical: true, Ping: ok},
		Dependency{Name: "redis", Ping: down},
	)
	rec := do(t, h, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	h = newTestRouter(t, Dependency{Name: "postgres", Critical: true, Ping: down})
	rec = do(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	live := httptest.NewRecorder()
	h.ServeHTTP(live, req)
	assert.Equal(t, http.StatusOK, live.Code)
	assert.Equal(t, "req-42", live.Header().Get("X-Request-ID"))
}
