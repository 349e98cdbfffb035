package handler

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/session"
	"github.com/lightdash/lightdash-bff-go/internal/port"
	"github.com/lightdash/lightdash-bff-go/internal/service"
)

// EmbedManager sets and clears the embed credentials.
type EmbedManager interface {
	SetToken(token, projectUUID string) (*domain.EmbedContext, error)
	Clear()
}

// ============================================================
// History: GET /debug/history
// ============================================================

func historyHandler(svc *service.DiagnosticsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.History(r.Context()))
	}
}

// ============================================================
// API origin override: PUT|DELETE /debug/session/api-origin
// ============================================================

type apiOriginRequest struct {
	Origin string `json:"origin"`
}

func setAPIOriginHandler(store port.SessionStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apiOriginRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		u, err := url.Parse(req.Origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeError(w, http.StatusBadRequest, "origin must be an absolute http(s) URL")
			return
		}

		store.Set(r.Context(), domain.SessionKeyAPIOrigin, req.Origin)
		logger.Info("debug: api origin overridden", zap.String("origin", req.Origin))
		writeOK(w, req)
	}
}

func clearAPIOriginHandler(store port.SessionStore, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store.Delete(r.Context(), domain.SessionKeyAPIOrigin)
		logger.Info("debug: api origin override cleared")
		writeOK(w, nil)
	}
}

// ============================================================
// Embed context: PUT|DELETE /debug/embed
// ============================================================

type embedRequest struct {
	Token       string `json:"token"`
	ProjectUUID string `json:"projectUuid,omitempty"`
}

type embedResponse struct {
	Fingerprint string `json:"fingerprint"`
	ProjectUUID string `json:"projectUuid,omitempty"`
}

func setEmbedHandler(embed EmbedManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		ec, err := embed.SetToken(req.Token, req.ProjectUUID)
		if err != nil {
			handleServiceError(w, r, err, logger)
			return
		}

		fingerprint := session.TokenFingerprint(ec.Token)
		logger.Info("debug: embed context set",
			zap.String("token_fingerprint", fingerprint),
			zap.String("project_uuid", ec.ProjectUUID),
		)
		writeOK(w, embedResponse{Fingerprint: fingerprint, ProjectUUID: ec.ProjectUUID})
	}
}

func clearEmbedHandler(embed EmbedManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		embed.Clear()
		logger.Info("debug: embed context cleared")
		writeOK(w, nil)
	}
}
