package http

import (
	"crypto/rsa"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

type RouterConfig struct {
	Logger      observability.Logger
	JWTKey      *rsa.PublicKey
	Limiter     Limiter
	VerifyRate  int
	VerifyEvery time.Duration
	// Idempotency wraps issue and transfer. Nil disables replay.
	Idempotency func(http.Handler) http.Handler
}

func SetupRouter(h *Handlers, cfg RouterConfig) *chi.Mux {
	if cfg.VerifyRate <= 0 {
		cfg.VerifyRate = 120
	}
	if cfg.VerifyEvery <= 0 {
		cfg.VerifyEvery = time.Minute
	}
	idemp := cfg.Idempotency
	if idemp == nil {
		idemp = func(next http.Handler) http.Handler { return next }
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(cfg.Logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(cfg.JWTKey))

		r.With(idemp).Post("/v1/tickets/issue", h.IssueTicket)
		r.With(idemp).Post("/v1/tickets/{id}/transfer", h.TransferTicket)
		r.Get("/v1/tickets/mine", h.MyTickets)
		r.Get("/v1/tickets/{id}", h.GetTicket)
		r.Get("/v1/events/{id}/tickets", h.EventTickets)
		r.Get("/v1/events/{id}/tickets/summary", h.EventSummary)
	})

	// Gate scanners authenticate with the ticket signature itself.
	if cfg.Limiter != nil {
		r.With(RateLimitMiddleware(cfg.Limiter, cfg.VerifyRate, cfg.VerifyEvery)).Post("/v1/tickets/{id}/verify", h.VerifyTicket)
	} else {
		r.Post("/v1/tickets/{id}/verify", h.VerifyTicket)
	}

	return r
}
