package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wellnest/wellness-scheduling/internal/appointment"
	"github.com/wellnest/wellness-scheduling/internal/cache"
)

type RouterConfig struct {
	Scheduler *appointment.Scheduler
	Cache     *cache.Cache
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/services/{id}/slots", listSlotsHandler(cfg.Scheduler))
	r.Get("/patients/{id}", getPatientHandler(cfg.Scheduler, cfg.Cache))

	r.Post("/appointments", bookAppointmentHandler(cfg.Scheduler))
	r.Get("/appointments", listAppointmentsHandler(cfg.Scheduler, cfg.Cache))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Scheduler))
	r.Post("/appointments/{id}/complete", transitionHandler(func(req *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return cfg.Scheduler.Complete(req.Context(), id)
	}))
	r.Post("/appointments/{id}/cancel", transitionHandler(func(req *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return cfg.Scheduler.Cancel(req.Context(), id)
	}))
	r.Post("/appointments/{id}/decline", transitionHandler(func(req *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return cfg.Scheduler.Decline(req.Context(), id)
	}))
	r.Post("/appointments/{id}/pay", transitionHandler(func(req *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return cfg.Scheduler.MarkPaid(req.Context(), id)
	}))

	r.Post("/appointments/{id}/refund-requests", requestRefundHandler(cfg.Scheduler))
	r.Get("/refund-requests", listRefundQueueHandler(cfg.Scheduler, cfg.Cache))
	r.Post("/refund-requests/{id}/resolve", resolveRefundHandler(cfg.Scheduler))

	r.Post("/appointments/{id}/reschedule-requests", requestRescheduleHandler(cfg.Scheduler))
	r.Post("/reschedule-requests/{id}/resolve", resolveRescheduleHandler(cfg.Scheduler))

	return r
}
