package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
	"github.com/lightdash/lightdash-bff-go/internal/port"
	"github.com/lightdash/lightdash-bff-go/internal/service"
)

var tracer = otel.Tracer("handler")

// Services groups what the router serves. Nil members disable their routes.
type Services struct {
	CustomMetrics *service.CustomMetricsService
	Users         *service.UserService
	SQLRunner     *service.SQLRunnerService
	Diagnostics   *service.DiagnosticsService
	Health        *service.HealthService

	// Session and Embed back the /debug overrides.
	Session port.SessionStore
	Embed   EmbedManager
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(NavigationMiddleware)

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Health))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", metricsHandler(metrics))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if svc.CustomMetrics != nil {
			r.Get("/projects/{projectUuid}/custom-metrics", listCustomMetricsHandler(svc.CustomMetrics, logger))
		}
		if svc.Users != nil {
			r.Post("/user", registerUserHandler(svc.Users, logger))
		}
		if svc.SQLRunner != nil {
			r.Post("/projects/{projectUuid}/sql-runner/stream", streamSQLHandler(svc.SQLRunner, logger))
		}
	})

	// --- Diagnostics ---
	r.Route("/debug", func(r chi.Router) {
		if svc.Diagnostics != nil {
			r.Get("/history", historyHandler(svc.Diagnostics))
		}
		if svc.Session != nil {
			r.Put("/session/api-origin", setAPIOriginHandler(svc.Session, logger))
			r.Delete("/session/api-origin", clearAPIOriginHandler(svc.Session, logger))
		}
		if svc.Embed != nil {
			r.Put("/embed", setEmbedHandler(svc.Embed, logger))
			r.Delete("/embed", clearEmbedHandler(svc.Embed, logger))
		}
	})

	return r
}

// ============================================================
// Probes & metrics
// ============================================================

func healthzHandler(health *service.HealthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": service.StatusHealthy})
			return
		}
		deep := r.URL.Query().Get("deep") == "true"
		writeJSON(w, http.StatusOK, health.Check(r.Context(), deep))
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func metricsHandler(metrics *observability.Metrics) http.Handler {
	if metrics == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
