package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
	"github.com/lightdash/lightdash-bff-go/internal/infra/resilience"
	"github.com/lightdash/lightdash-bff-go/internal/port"
)

// maxErrorBody bounds how much of a failed stream body is read for its error.
const maxErrorBody = 64 << 10

// SQLRunnerService relays streamed SQL results.
type SQLRunnerService struct {
	client   port.Requester
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewSQLRunnerService creates the service; at most maxStreams streams run at once.
func NewSQLRunnerService(client port.Requester, maxStreams int, metrics *observability.Metrics, logger *zap.Logger) *SQLRunnerService {
	return &SQLRunnerService{
		client:   client,
		bulkhead: resilience.NewBulkhead(maxStreams),
		metrics:  metrics,
		logger:   logger,
	}
}

// Stream runs sql on the project and copies the streamed rows to w.
// It returns the number of bytes written.
func (s *SQLRunnerService) Stream(ctx context.Context, projectUUID string, run *domain.SQLRunRequest, w io.Writer) (int64, error) {
	ctx, span := tracer.Start(ctx, "SQLRunnerService.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("project.uuid", projectUUID))

	if _, err := uuid.Parse(projectUUID); err != nil {
		return 0, &domain.ErrValidation{Field: "projectUuid", Message: "must be a UUID"}
	}
	if run.SQL == "" {
		return 0, &domain.ErrValidation{Field: "sql", Message: "is required"}
	}

	if err := s.bulkhead.Acquire(ctx); err != nil {
		return 0, &domain.ErrTimeout{Operation: "sql runner stream slot"}
	}
	defer s.bulkhead.Release()

	req := domain.Post(fmt.Sprintf("/projects/%s/sqlRunner/run", projectUUID), run).WithVersion(domain.APIVersionV2)
	resp, err := s.client.Stream(ctx, req)
	if err != nil {
		return 0, streamError(err)
	}
	defer resp.Body.Close()

	s.metrics.StreamStarted()
	defer s.metrics.StreamFinished()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		s.logger.Warn("sql runner: stream interrupted",
			zap.String("project_uuid", projectUUID),
			zap.Int64("bytes", n),
			zap.Error(err),
		)
		return n, domain.NewNetworkError(err)
	}
	return n, nil
}

// streamError reads the error envelope out of a failed stream response
// when there is one; otherwise the normalized error is returned as-is.
func streamError(err error) error {
	var respErr *domain.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	defer respErr.Response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(respErr.Response.Body, maxErrorBody))
	if readErr != nil {
		return err
	}
	var env struct {
		Error *domain.APIError `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil && env.Error.IsApplicationError() {
		return env.Error
	}
	return err
}
