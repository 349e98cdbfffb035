package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/query"
)

var tracer = otel.Tracer("service")

// CustomMetricsService reads a project's custom metrics.
type CustomMetricsService struct {
	queries *query.Runner
	logger  *zap.Logger
}

// NewCustomMetricsService creates the service.
func NewCustomMetricsService(queries *query.Runner, logger *zap.Logger) *CustomMetricsService {
	return &CustomMetricsService{queries: queries, logger: logger}
}

// List returns the custom metrics of a project.
func (s *CustomMetricsService) List(ctx context.Context, projectUUID string) ([]domain.CustomMetric, error) {
	ctx, span := tracer.Start(ctx, "CustomMetricsService.List")
	defer span.End()
	span.SetAttributes(attribute.String("project.uuid", projectUUID))

	if _, err := uuid.Parse(projectUUID); err != nil {
		return nil, &domain.ErrValidation{Field: "projectUuid", Message: "must be a UUID"}
	}

	req := domain.Get(fmt.Sprintf("/projects/%s/custom-metrics", projectUUID))
	metrics, err := query.Fetch[[]domain.CustomMetric](ctx, s.queries, query.Key(req), req)
	if err != nil {
		s.logger.Warn("custom metrics: fetch failed",
			zap.String("project_uuid", projectUUID),
			zap.Error(err),
		)
		return nil, err
	}
	if metrics == nil {
		metrics = []domain.CustomMetric{}
	}
	return metrics, nil
}
