package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/service"
)

// ============================================================
// Custom metrics: GET /v1/projects/{projectUuid}/custom-metrics
// ============================================================

func listCustomMetricsHandler(svc *service.CustomMetricsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/projects/{projectUuid}/custom-metrics")
		defer span.End()

		projectUUID := chi.URLParam(r, "projectUuid")
		span.SetAttributes(attribute.String("project.uuid", projectUUID))

		metrics, err := svc.List(ctx, projectUUID)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeOK(w, metrics)
	}
}

// ============================================================
// Registration: POST /v1/user
// ============================================================

func registerUserHandler(svc *service.UserService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/user")
		defer span.End()

		var req domain.RegisterUserRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		user, err := svc.Register(ctx, &req)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}
		writeOK(w, user)
	}
}

// ============================================================
// SQL runner: POST /v1/projects/{projectUuid}/sql-runner/stream
// ============================================================

func streamSQLHandler(svc *service.SQLRunnerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/projects/{projectUuid}/sql-runner/stream")
		defer span.End()

		projectUUID := chi.URLParam(r, "projectUuid")
		span.SetAttributes(attribute.String("project.uuid", projectUUID))

		var req domain.SQLRunRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sw := &streamWriter{w: w}
		n, err := svc.Stream(ctx, projectUUID, &req, sw)
		if err != nil {
			if !sw.started {
				handleServiceError(w, r, err, logger)
				return
			}
			// headers are gone; the client sees a truncated body
			logger.Warn("sql runner: stream aborted",
				zap.String("project_uuid", projectUUID),
				zap.Int64("bytes", n),
				zap.Error(err),
			)
			return
		}
		if !sw.started {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		}
	}
}

// streamWriter commits the response status on the first write and
// flushes after every chunk.
type streamWriter struct {
	w       http.ResponseWriter
	started bool
}

func (s *streamWriter) Write(p []byte) (int, error) {
	if !s.started {
		s.w.Header().Set("Content-Type", "application/json")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	n, err := s.w.Write(p)
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
