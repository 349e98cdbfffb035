package service

import (
	"context"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
)

// HistorySource exposes the recorded transport attempts.
type HistorySource interface {
	Entries() []domain.HistoryEntry
	Capacity() int
}

// BreakerSource reports the upstream circuit breaker state.
type BreakerSource interface {
	BreakerState() string
}

// DiagnosticsService serves the read-only diagnostic view.
type DiagnosticsService struct {
	history HistorySource
	metrics *observability.Metrics
	breaker BreakerSource
}

// NewDiagnosticsService creates the service. breaker may be nil.
func NewDiagnosticsService(history HistorySource, metrics *observability.Metrics, breaker BreakerSource) *DiagnosticsService {
	return &DiagnosticsService{history: history, metrics: metrics, breaker: breaker}
}

// History returns the buffered attempts, oldest first, with the counters.
func (s *DiagnosticsService) History(ctx context.Context) *domain.DiagnosticsSnapshot {
	_, span := tracer.Start(ctx, "DiagnosticsService.History")
	defer span.End()

	counters := s.metrics.Snapshot()
	snap := &domain.DiagnosticsSnapshot{
		Capacity:  s.history.Capacity(),
		Entries:   s.history.Entries(),
		Evicted:   counters.Evicted,
		Requests:  counters.Requests,
		Failures:  counters.Failures,
		CacheHits: counters.CacheHits,
	}
	if s.breaker != nil {
		snap.Breaker = s.breaker.BreakerState()
	}
	return snap
}
