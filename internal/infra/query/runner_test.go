package query_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/apiclient"
	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
	"github.com/lightdash/lightdash-bff-go/internal/infra/query"
	"github.com/lightdash/lightdash-bff-go/internal/infra/resilience"
	"github.com/lightdash/lightdash-bff-go/internal/infra/session"
)

// --- Mocks ---

type mockRequester struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	results  func(call int32) (json.RawMessage, error)
}

func (m *mockRequester) Do(ctx context.Context, _ *domain.Request) (json.RawMessage, error) {
	n := m.calls.Add(1)
	cur := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		p := m.peak.Load()
		if cur <= p || m.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, domain.NewNetworkError(ctx.Err())
		}
	}
	return m.results(n)
}

func (m *mockRequester) Stream(context.Context, *domain.Request) (*http.Response, error) {
	return nil, errors.New("not implemented")
}

func newRunner(req *mockRequester, metrics *observability.Metrics) *query.Runner {
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	return query.NewRunner(req, time.Minute, cfg, metrics, zap.NewNop())
}

// --- Tests ---

func TestFetch_CachesResults(t *testing.T) {
	req := &mockRequester{results: func(int32) (json.RawMessage, error) {
		return json.RawMessage(`[{"name":"m1"}]`), nil
	}}
	metrics := observability.NewMetrics()
	r := newRunner(req, metrics)
	defer r.Close()

	get := domain.Get("/projects/p/custom-metrics")
	for i := 0; i < 3; i++ {
		got, err := query.Fetch[[]domain.CustomMetric](context.Background(), r, query.Key(get), get)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(got) != 1 || got[0].Name != "m1" {
			t.Fatalf("unexpected results %+v", got)
		}
	}

	if n := req.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
	if hits := metrics.Snapshot().CacheHits; hits != 2 {
		t.Errorf("expected 2 cache hits, got %v", hits)
	}
}

func TestFetch_ZeroTTLDisablesCache(t *testing.T) {
	req := &mockRequester{results: func(int32) (json.RawMessage, error) {
		return json.RawMessage(`[]`), nil
	}}
	r := query.NewRunner(req, 0, resilience.Config{}, nil, zap.NewNop())
	defer r.Close()

	get := domain.Get("/projects/p/custom-metrics")
	for i := 0; i < 2; i++ {
		if _, err := query.Fetch[[]domain.CustomMetric](context.Background(), r, query.Key(get), get); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	r.Invalidate(context.Background(), query.Key(get))

	if n := req.calls.Load(); n != 2 {
		t.Errorf("expected 2 upstream calls, got %d", n)
	}
}

func TestFetch_DeduplicatesConcurrentCalls(t *testing.T) {
	req := &mockRequester{delay: 50 * time.Millisecond, results: func(int32) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	}}
	r := newRunner(req, nil)
	defer r.Close()

	get := domain.Get("/slow")
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := query.Fetch[int](context.Background(), r, "slow", get); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}()
	}
	wg.Wait()

	if n := req.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestFetch_RetriesNetworkErrors(t *testing.T) {
	req := &mockRequester{results: func(n int32) (json.RawMessage, error) {
		if n < 3 {
			return nil, domain.NewNetworkError(errors.New("connection reset"))
		}
		return json.RawMessage(`"ok"`), nil
	}}
	r := newRunner(req, nil)
	defer r.Close()

	got, err := query.Fetch[string](context.Background(), r, "k", domain.Get("/flaky"))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got != "ok" || req.calls.Load() != 3 {
		t.Errorf("expected 3 calls and ok, got %d calls and %q", req.calls.Load(), got)
	}
}

func TestFetch_DoesNotRetryApplicationErrors(t *testing.T) {
	appErr := &domain.APIError{Name: "NotFoundError", StatusCode: 404, Message: "missing"}
	req := &mockRequester{results: func(int32) (json.RawMessage, error) {
		return nil, appErr
	}}
	r := newRunner(req, nil)
	defer r.Close()

	_, err := query.Fetch[string](context.Background(), r, "k", domain.Get("/missing"))
	if !errors.Is(err, appErr) {
		t.Fatalf("expected application error, got %v", err)
	}
	if n := req.calls.Load(); n != 1 {
		t.Errorf("expected a single call, got %d", n)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", domain.NewNetworkError(errors.New("dial")), true},
		{"cancelled", domain.NewNetworkError(context.Canceled), false},
		{"deadline", domain.NewNetworkError(context.DeadlineExceeded), false},
		{"application", &domain.APIError{Name: "ForbiddenError", StatusCode: 403}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		if got := query.Retryable(tt.err); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestMutate_InvalidatesKeys(t *testing.T) {
	req := &mockRequester{results: func(int32) (json.RawMessage, error) {
		return json.RawMessage(`{"userUuid":"u1"}`), nil
	}}
	r := newRunner(req, nil)
	defer r.Close()

	get := domain.Get("/user")
	key := query.Key(get)
	if _, err := query.Fetch[domain.User](context.Background(), r, key, get); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	user, err := query.Mutate[*domain.User](context.Background(), r, domain.Patch("/user/me", map[string]string{"firstName": "A"}), key)
	if err != nil || user.UserUUID != "u1" {
		t.Fatalf("unexpected mutate result %+v, %v", user, err)
	}

	if _, err := query.Fetch[domain.User](context.Background(), r, key, get); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n := req.calls.Load(); n != 3 {
		t.Errorf("expected refetch after invalidation (3 calls), got %d", n)
	}
}

func TestKey_CanonicalizesBody(t *testing.T) {
	a := query.Key(domain.Post("/search", json.RawMessage(`{"b":1, "a":[1,2]}`)))
	b := query.Key(domain.Post("/search", map[string]any{"a": []int{1, 2}, "b": 1}))
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}

	v2 := query.Key(domain.Get("/search").WithVersion(domain.APIVersionV2))
	if v2 == query.Key(domain.Get("/search")) {
		t.Fatal("expected version to be part of the key")
	}
}

func TestFetch_SharedCallSurvivesCancelledCaller(t *testing.T) {
	req := &mockRequester{delay: 100 * time.Millisecond, results: func(int32) (json.RawMessage, error) {
		return json.RawMessage(`[{"name":"m1"}]`), nil
	}}
	r := newRunner(req, nil)
	defer r.Close()
	get := domain.Get("/projects/p/custom-metrics")

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := query.Fetch[[]domain.CustomMetric](ctxA, r, query.Key(get), get)
		errA <- err
	}()
	time.Sleep(10 * time.Millisecond)

	type result struct {
		metrics []domain.CustomMetric
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		got, err := query.Fetch[[]domain.CustomMetric](context.Background(), r, query.Key(get), get)
		resB <- result{got, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancelA()

	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled caller to see context.Canceled, got %v", err)
	}
	b := <-resB
	if b.err != nil {
		t.Fatalf("expected other caller to succeed, got %v", b.err)
	}
	if len(b.metrics) != 1 || b.metrics[0].Name != "m1" {
		t.Errorf("unexpected results %+v", b.metrics)
	}
	if n := req.calls.Load(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestFetch_BoundsConcurrentReads(t *testing.T) {
	req := &mockRequester{delay: 30 * time.Millisecond, results: func(int32) (json.RawMessage, error) {
		return json.RawMessage(`[]`), nil
	}}
	cfg := resilience.Config{MaxConcurrency: 2}
	r := query.NewRunner(req, 0, cfg, nil, zap.NewNop())
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			get := domain.Get("/projects/p" + string(rune('a'+i)) + "/custom-metrics")
			if _, err := query.Fetch[[]domain.CustomMetric](context.Background(), r, query.Key(get), get); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := req.calls.Load(); n != 6 {
		t.Errorf("expected 6 upstream calls, got %d", n)
	}
	if p := req.peak.Load(); p > 2 {
		t.Errorf("expected at most 2 reads in flight, got %d", p)
	}
}

func TestFetch_CacheScopedByOriginAndEmbed(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	serve := func(hits *atomic.Int32, name string) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"status":"ok","results":[{"name":"`+name+`"}]}`)
		}))
		t.Cleanup(srv.Close)
		return srv
	}
	a := serve(&hitsA, "from-a")
	b := serve(&hitsB, "from-b")

	store := session.NewStore(0)
	t.Cleanup(store.Close)
	embed := session.NewEmbedStore()
	client := apiclient.New(a.Client(), a.URL, apiclient.WithSessionStore(store), apiclient.WithEmbedStore(embed))
	r := query.NewRunner(client, time.Minute, resilience.Config{}, nil, zap.NewNop())
	defer r.Close()

	ctx := context.Background()
	get := domain.Get("/projects/p/custom-metrics")
	fetch := func() string {
		t.Helper()
		got, err := query.Fetch[[]domain.CustomMetric](ctx, r, query.Key(get), get)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		return got[0].Name
	}

	if name := fetch(); name != "from-a" {
		t.Fatalf("expected from-a, got %s", name)
	}
	store.Set(ctx, domain.SessionKeyAPIOrigin, b.URL)
	if name := fetch(); name != "from-b" {
		t.Errorf("expected override to reach from-b, got %s", name)
	}
	if name := fetch(); name != "from-b" || hitsB.Load() != 1 {
		t.Errorf("expected cached from-b, got %s after %d calls", name, hitsB.Load())
	}

	embed.Set(domain.EmbedContext{Token: "token-1", ProjectUUID: "p"})
	fetch()
	if n := hitsB.Load(); n != 2 {
		t.Errorf("expected embed change to miss the cache, got %d calls", n)
	}
	embed.Set(domain.EmbedContext{Token: "token-2", ProjectUUID: "p"})
	fetch()
	if n := hitsB.Load(); n != 3 {
		t.Errorf("expected token change to miss the cache, got %d calls", n)
	}

	store.Delete(ctx, domain.SessionKeyAPIOrigin)
	embed.Clear()
	fetch()
	if n := hitsA.Load(); n != 1 {
		t.Errorf("expected original scope to stay cached, got %d calls to a", n)
	}
}
