package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/carebridge/scheduling-service/internal/appointment"
	"github.com/carebridge/scheduling-service/internal/notification"
)

type RouterConfig struct {
	Appointments  *appointment.Service
	Slots         *appointment.SlotFinder
	Notifications *notification.Service
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Log           *logrus.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	// Health and metrics endpoints stay outside tenant scoping
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Appointment endpoints
		r.Post("/appointments", createAppointmentHandler(cfg.Appointments))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
		r.Get("/appointments/availability", availabilityHandler(cfg.Slots))
		r.Post("/appointments/batch", createSeriesHandler(cfg.Appointments))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
		r.Put("/appointments/{id}", updateAppointmentHandler(cfg.Appointments))
		r.Delete("/appointments/{id}", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/checkin", checkInAppointmentHandler(cfg.Appointments))

		// Notification endpoints
		r.Post("/notifications", createNotificationHandler(cfg.Notifications))
		r.Get("/notifications/delivery-status", deliveryStatusHandler(cfg.Notifications))
		r.Get("/notifications/{id}", getNotificationHandler(cfg.Notifications))
	})

	return r
}
