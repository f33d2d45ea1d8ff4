package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	allowed := s.allowedOrigins
	if len(allowed) == 0 {
		allowed = []string{s.baseURL}
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	r.Use(httprate.LimitByIP(s.requestsPerMinute, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.requestTimeout))

		r.Post("/auth/email/request", s.handleRequestCode)
		r.Post("/auth/verify-code", s.handleVerifyCode)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/redirect", s.handleRedirect)
		r.With(s.requireFederationSecret).Post("/auth/federated", s.handleFederated)

		r.Get("/plans", s.handleListPlans)
		r.Post("/stripe/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/auth/session", s.handleSession)
			r.Post("/checkout", s.handlePriceCheckout)
			r.Post("/stripe/checkout", s.handlePlanCheckout)
		})
	})

	return otelhttp.NewHandler(r, s.serviceName)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "readiness check failed", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
