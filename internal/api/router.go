package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
)

type RouterConfig struct {
	Service      *appointment.Service
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	svc := cfg.Service

	r.Route("/dentists/{code}", func(r chi.Router) {
		r.Get("/available-slots", availableSlotsHandler(svc))
		r.Get("/slots", listSlotsHandler(svc))
		r.Post("/blocks", blockSlotHandler(svc))
		r.Delete("/blocks", unblockSlotHandler(svc))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc))
		r.Get("/", listAppointmentsHandler(svc))
		r.Get("/{code}", getAppointmentHandler(svc))
		r.Post("/{code}/confirm", confirmAppointmentHandler(svc))
		r.Post("/{code}/cancel", cancelAppointmentHandler(svc))
		r.Post("/{code}/complete", completeAppointmentHandler(svc))
		r.Patch("/{code}/reschedule", rescheduleAppointmentHandler(svc))
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", listQueueHandler(svc))
		r.Post("/", walkInHandler(svc))
		r.Patch("/{code}/status", queueStatusHandler(svc))
		r.Patch("/{code}/time", switchTimeHandler(svc))
		r.Post("/{code}/rebook", rebookHandler(svc))
		r.Post("/{code}/cancel", cancelQueueEntryHandler(svc))
	})

	return r
}
