// Package query is the caller-side policy layer over the API client:
// cached, de-duplicated and retried reads, and cache-invalidating writes.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/apiclient"
	"github.com/lightdash/lightdash-bff-go/internal/infra/cache"
	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
	"github.com/lightdash/lightdash-bff-go/internal/infra/resilience"
	"github.com/lightdash/lightdash-bff-go/internal/port"
)

const (
	cacheName   = "query"
	serviceName = "lightdash-api"
)

// Runner applies caching, de-duplication, retries and circuit breaking
// around a port.Requester.
type Runner struct {
	requester port.Requester
	cache     *cache.InMemory[json.RawMessage]
	group     singleflight.Group
	cb        *gobreaker.CircuitBreaker
	bulkhead  *resilience.Bulkhead
	cfg       resilience.Config
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewRunner creates a query runner. Results are cached for ttl; a
// non-positive ttl disables the cache. cfg.MaxConcurrency bounds the
// upstream reads in flight; zero leaves them unbounded.
func NewRunner(requester port.Requester, ttl time.Duration, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Runner {
	r := &Runner{
		requester: requester,
		cb:        resilience.NewCircuitBreakerWith(serviceName, countsAsSuccess),
		metrics:   metrics,
		logger:    logger,
	}

	if ttl > 0 {
		r.cache = cache.New[json.RawMessage](ttl)
	}
	if cfg.MaxConcurrency > 0 {
		r.bulkhead = resilience.NewBulkhead(cfg.MaxConcurrency)
	}

	cfg.ShouldRetry = Retryable
	cfg.OnRetry = func(attempt int, err error) {
		r.metrics.IncrRetry(cacheName)
		r.logger.Debug("query: retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	r.cfg = cfg
	return r
}

// Retryable reports whether err is a transport failure worth retrying.
// Application errors and cancellations are final.
func Retryable(err error) bool {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsNetworkError() {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// countsAsSuccess keeps application errors and cancellations from
// tripping the breaker.
func countsAsSuccess(err error) bool {
	return err == nil || !Retryable(err)
}

// Fetch runs a read through the cache. Concurrent fetches of the same key
// share one upstream call.
func Fetch[T any](ctx context.Context, r *Runner, key string, req *domain.Request) (T, error) {
	var out T
	raw, err := r.fetchRaw(ctx, key, req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, domain.NewNetworkError(fmt.Errorf("decode results: %w", err))
	}
	return out, nil
}

func (r *Runner) fetchRaw(ctx context.Context, key string, req *domain.Request) (json.RawMessage, error) {
	key = r.scoped(ctx, key)
	if r.cache != nil {
		if raw, ok := r.cache.Get(key); ok {
			r.metrics.IncrCacheHit(cacheName)
			return raw, nil
		}
		r.metrics.IncrCacheMiss(cacheName)
	}

	// The shared call outlives any single caller; each caller stops
	// waiting when its own ctx is done.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.load(shared, key, req)
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("query: shared in-flight fetch", zap.String("key", key))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(json.RawMessage), nil
	case <-ctx.Done():
		return nil, domain.NewNetworkError(ctx.Err())
	}
}

func (r *Runner) load(ctx context.Context, key string, req *domain.Request) (json.RawMessage, error) {
	if r.bulkhead != nil {
		if err := r.bulkhead.Acquire(ctx); err != nil {
			return nil, domain.NewNetworkError(err)
		}
		defer r.bulkhead.Release()
	}

	res, err := r.cb.Execute(func() (any, error) {
		var raw json.RawMessage
		err := resilience.RetryWithBackoff(ctx, r.cfg, func() error {
			var err error
			raw, err = r.requester.Do(ctx, req)
			return err
		})
		return raw, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.ErrCircuitOpen{Service: serviceName}
		}
		return nil, err
	}
	raw := res.(json.RawMessage)
	if r.cache != nil {
		r.cache.Set(key, raw)
	}
	return raw, nil
}

// scoped prefixes key with the requester's per-call scope, so results
// fetched for one API origin or embed context are never served to another.
func (r *Runner) scoped(ctx context.Context, key string) string {
	if s, ok := r.requester.(port.CacheScoper); ok {
		return s.CacheScope(ctx) + " " + key
	}
	return key
}

// Mutate runs a write once, without retry, and invalidates the given keys
// when it succeeds.
func Mutate[T any](ctx context.Context, r *Runner, req *domain.Request, invalidate ...string) (T, error) {
	out, err := apiclient.Request[T](ctx, r.requester, req)
	if err != nil {
		return out, err
	}
	for _, key := range invalidate {
		r.Invalidate(ctx, key)
	}
	return out, nil
}

// Invalidate drops cached results for key within the scope of ctx.
func (r *Runner) Invalidate(ctx context.Context, key string) {
	if r.cache != nil {
		r.cache.Delete(r.scoped(ctx, key))
	}
}

// BreakerState reports the upstream circuit breaker state, e.g. "closed".
func (r *Runner) BreakerState() string {
	return r.cb.State().String()
}

// Close releases the cache's background resources.
func (r *Runner) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
}
