package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/apiclient"
	"github.com/lightdash/lightdash-bff-go/internal/port"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthService checks the BFF and the upstream API.
type HealthService struct {
	client  port.Requester
	version string
	logger  *zap.Logger
	now     func() time.Time
}

// NewHealthService creates the service; version is the BFF's own client version.
func NewHealthService(client port.Requester, version string, logger *zap.Logger) *HealthService {
	return &HealthService{client: client, version: version, logger: logger, now: time.Now}
}

// Check reports the BFF's own health. With deep set it also calls the
// upstream /health endpoint; that call goes through the client and so
// appears in the diagnostic history.
func (s *HealthService) Check(ctx context.Context, deep bool) *domain.HealthStatus {
	ctx, span := tracer.Start(ctx, "HealthService.Check")
	defer span.End()

	now := s.now().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "lightdash-bff", Status: StatusHealthy, Version: s.version, LastChecked: now},
	}

	if deep && s.client != nil {
		start := s.now()
		upstream, err := apiclient.Request[*domain.UpstreamHealth](ctx, s.client, domain.Get("/health"))
		latency := s.now().Sub(start).Milliseconds()

		h := domain.ServiceHealth{Name: "lightdash-api", Status: StatusHealthy, LatencyMs: latency, LastChecked: now}
		switch {
		case err != nil:
			s.logger.Warn("health: upstream check failed", zap.Error(err))
			h.Status = StatusUnhealthy
		case upstream == nil || !upstream.Healthy:
			h.Status = StatusDegraded
		default:
			h.Version = upstream.Version
		}
		services = append(services, h)
	}

	overall := StatusHealthy
	for _, svc := range services {
		if svc.Status != StatusHealthy {
			overall = StatusDegraded
		}
	}
	return &domain.HealthStatus{Status: overall, Services: services}
}
