package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/history"
	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
	"github.com/lightdash/lightdash-bff-go/internal/infra/query"
	"github.com/lightdash/lightdash-bff-go/internal/infra/resilience"
	"github.com/lightdash/lightdash-bff-go/internal/service"
)

const projectUUID = "3675b69e-8324-4110-bdca-059031aa8da3"

// --- Mocks ---

type mockRequester struct {
	mu       sync.Mutex
	requests []*domain.Request
	results  json.RawMessage
	err      error
	stream   *http.Response
}

func (m *mockRequester) Do(_ context.Context, req *domain.Request) (json.RawMessage, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.results, m.err
}

func (m *mockRequester) Stream(_ context.Context, req *domain.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

func (m *mockRequester) last(t *testing.T) *domain.Request {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("no request recorded")
	}
	return m.requests[len(m.requests)-1]
}

func newRunner(req *mockRequester) *query.Runner {
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}
	return query.NewRunner(req, time.Minute, cfg, nil, zap.NewNop())
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

// --- Custom metrics ---

func TestCustomMetrics_List(t *testing.T) {
	req := &mockRequester{results: json.RawMessage(`[{"name":"revenue","label":"Revenue","table":"orders","type":"sum","sql":"${amount}"}]`)}
	runner := newRunner(req)
	defer runner.Close()
	svc := service.NewCustomMetricsService(runner, zap.NewNop())

	metrics, err := svc.List(context.Background(), projectUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Name != "revenue" {
		t.Errorf("unexpected metrics: %+v", metrics)
	}

	got := req.last(t)
	if got.Method != domain.MethodGet || got.Path != "/projects/"+projectUUID+"/custom-metrics" {
		t.Errorf("unexpected request: %s %s", got.Method, got.Path)
	}
}

func TestCustomMetrics_ListNullIsEmpty(t *testing.T) {
	req := &mockRequester{results: json.RawMessage(`null`)}
	runner := newRunner(req)
	defer runner.Close()
	svc := service.NewCustomMetricsService(runner, zap.NewNop())

	metrics, err := svc.List(context.Background(), projectUUID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics == nil || len(metrics) != 0 {
		t.Errorf("expected empty slice, got %#v", metrics)
	}
}

func TestCustomMetrics_ListRejectsBadUUID(t *testing.T) {
	req := &mockRequester{}
	runner := newRunner(req)
	defer runner.Close()
	svc := service.NewCustomMetricsService(runner, zap.NewNop())

	_, err := svc.List(context.Background(), "not-a-uuid")

	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(req.requests) != 0 {
		t.Errorf("expected no upstream call, got %d", len(req.requests))
	}
}

func TestCustomMetrics_ListPassesApplicationErrors(t *testing.T) {
	appErr := &domain.APIError{Name: "ForbiddenError", StatusCode: 403, Message: "no access"}
	req := &mockRequester{err: appErr}
	runner := newRunner(req)
	defer runner.Close()
	svc := service.NewCustomMetricsService(runner, zap.NewNop())

	_, err := svc.List(context.Background(), projectUUID)
	if !errors.Is(err, appErr) {
		t.Fatalf("expected application error, got %v", err)
	}
}

// --- User registration ---

func TestUser_Register(t *testing.T) {
	req := &mockRequester{results: json.RawMessage(`{"userUuid":"u-1","firstName":"Ada","lastName":"Lovelace","isActive":true}`)}
	runner := newRunner(req)
	defer runner.Close()
	svc := service.NewUserService(runner, zap.NewNop())

	user, err := svc.Register(context.Background(), &domain.RegisterUserRequest{
		InviteCode: "abc", FirstName: "Ada", LastName: "Lovelace", Password: "secret123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.UserUUID != "u-1" {
		t.Errorf("unexpected user: %+v", user)
	}

	got := req.last(t)
	if got.Method != domain.MethodPost || got.Path != "/user" {
		t.Errorf("unexpected request: %s %s", got.Method, got.Path)
	}
	body, _ := json.Marshal(got.Body)
	if !strings.Contains(string(body), `"inviteCode":"abc"`) {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestUser_RegisterValidation(t *testing.T) {
	req := &mockRequester{}
	runner := newRunner(req)
	defer runner.Close()
	svc := service.NewUserService(runner, zap.NewNop())

	_, err := svc.Register(context.Background(), &domain.RegisterUserRequest{InviteCode: "abc"})

	var validation *domain.ErrValidation
	if !errors.As(err, &validation) || validation.Field != "firstName" {
		t.Fatalf("expected firstName validation error, got %v", err)
	}
}

func TestUser_RegisterIsNotRetried(t *testing.T) {
	req := &mockRequester{err: domain.NewNetworkError(errors.New("connection reset"))}
	runner := newRunner(req)
	defer runner.Close()
	svc := service.NewUserService(runner, zap.NewNop())

	_, err := svc.Register(context.Background(), &domain.RegisterUserRequest{
		InviteCode: "abc", FirstName: "Ada", LastName: "Lovelace", Password: "secret123",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(req.requests) != 1 {
		t.Errorf("expected 1 call, got %d", len(req.requests))
	}
}

// --- SQL runner ---

func TestSQLRunner_StreamCopiesBody(t *testing.T) {
	req := &mockRequester{stream: response(http.StatusOK, "{\"row\":1}\n{\"row\":2}\n")}
	metrics := observability.NewMetrics()
	svc := service.NewSQLRunnerService(req, 2, metrics, zap.NewNop())

	var buf bytes.Buffer
	n, err := svc.Stream(context.Background(), projectUUID, &domain.SQLRunRequest{SQL: "select 1"}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(buf.Len()) || buf.String() != "{\"row\":1}\n{\"row\":2}\n" {
		t.Errorf("unexpected copy (%d bytes): %q", n, buf.String())
	}

	got := req.last(t)
	if got.Version != domain.APIVersionV2 {
		t.Errorf("expected v2, got %q", got.Version)
	}
	if got.Path != "/projects/"+projectUUID+"/sqlRunner/run" {
		t.Errorf("unexpected path %q", got.Path)
	}
}

func TestSQLRunner_StreamDecodesErrorEnvelope(t *testing.T) {
	body := `{"status":"error","error":{"name":"ParameterError","statusCode":400,"message":"bad sql"}}`
	req := &mockRequester{err: domain.NewNetworkError(&domain.ResponseError{Response: response(http.StatusBadRequest, body)})}
	svc := service.NewSQLRunnerService(req, 1, nil, zap.NewNop())

	_, err := svc.Stream(context.Background(), projectUUID, &domain.SQLRunRequest{SQL: "selec"}, io.Discard)

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Name != "ParameterError" || apiErr.StatusCode != 400 {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestSQLRunner_StreamKeepsNetworkErrorForOpaqueBody(t *testing.T) {
	req := &mockRequester{err: domain.NewNetworkError(&domain.ResponseError{Response: response(http.StatusBadGateway, "<html>bad gateway</html>")})}
	svc := service.NewSQLRunnerService(req, 1, nil, zap.NewNop())

	_, err := svc.Stream(context.Background(), projectUUID, &domain.SQLRunRequest{SQL: "select 1"}, io.Discard)

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsNetworkError() {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestSQLRunner_StreamRequiresSQL(t *testing.T) {
	req := &mockRequester{}
	svc := service.NewSQLRunnerService(req, 1, nil, zap.NewNop())

	_, err := svc.Stream(context.Background(), projectUUID, &domain.SQLRunRequest{}, io.Discard)

	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSQLRunner_StreamSlotTimeout(t *testing.T) {
	block := make(chan struct{})
	pr, pw := io.Pipe()
	defer close(block)
	go func() {
		<-block
		pw.Close()
	}()

	req := &mockRequester{stream: &http.Response{StatusCode: http.StatusOK, Body: pr}}
	svc := service.NewSQLRunnerService(req, 1, nil, zap.NewNop())

	started := make(chan struct{})
	go func() {
		close(started)
		svc.Stream(context.Background(), projectUUID, &domain.SQLRunRequest{SQL: "select 1"}, io.Discard)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Stream(ctx, projectUUID, &domain.SQLRunRequest{SQL: "select 2"}, io.Discard)

	var timeout *domain.ErrTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

// --- Diagnostics ---

func TestDiagnostics_History(t *testing.T) {
	metrics := observability.NewMetrics()
	rec := history.NewRecorder(2, history.WithEvictionHook(metrics.IncrHistoryEviction))
	for i := 0; i < 3; i++ {
		rec.Record(domain.HistoryEntry{Method: domain.MethodGet, URL: "https://app/api/v1/health"})
	}
	metrics.RecordAPIRequest("GET", 200, time.Millisecond)

	runner := newRunner(&mockRequester{})
	t.Cleanup(runner.Close)

	snap := service.NewDiagnosticsService(rec, metrics, runner).History(context.Background())

	if snap.Capacity != 2 || len(snap.Entries) != 2 {
		t.Errorf("expected 2 of 2 entries, got %d of %d", len(snap.Entries), snap.Capacity)
	}
	if snap.Evicted != 1 {
		t.Errorf("expected 1 eviction, got %v", snap.Evicted)
	}
	if snap.Requests != 1 {
		t.Errorf("expected 1 request, got %v", snap.Requests)
	}
	if snap.Breaker != "closed" {
		t.Errorf("expected closed breaker, got %q", snap.Breaker)
	}
}

func TestDiagnostics_WithoutBreaker(t *testing.T) {
	rec := history.NewRecorder(1)
	snap := service.NewDiagnosticsService(rec, nil, nil).History(context.Background())
	if snap.Breaker != "" {
		t.Errorf("expected no breaker state, got %q", snap.Breaker)
	}
}

// --- Health ---

func TestHealth_Shallow(t *testing.T) {
	req := &mockRequester{}
	status := service.NewHealthService(req, "0.1.0", zap.NewNop()).Check(context.Background(), false)

	if status.Status != service.StatusHealthy || len(status.Services) != 1 {
		t.Errorf("unexpected status: %+v", status)
	}
	if len(req.requests) != 0 {
		t.Errorf("shallow check must not call upstream")
	}
}

func TestHealth_Deep(t *testing.T) {
	tests := []struct {
		name     string
		results  json.RawMessage
		err      error
		upstream string
		overall  string
	}{
		{"healthy", json.RawMessage(`{"healthy":true,"version":"0.1500.0"}`), nil, service.StatusHealthy, service.StatusHealthy},
		{"not healthy", json.RawMessage(`{"healthy":false}`), nil, service.StatusDegraded, service.StatusDegraded},
		{"unreachable", nil, domain.NewNetworkError(errors.New("dial tcp")), service.StatusUnhealthy, service.StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &mockRequester{results: tt.results, err: tt.err}
			status := service.NewHealthService(req, "0.1.0", zap.NewNop()).Check(context.Background(), true)

			if status.Status != tt.overall {
				t.Errorf("overall: expected %s, got %s", tt.overall, status.Status)
			}
			if len(status.Services) != 2 || status.Services[1].Status != tt.upstream {
				t.Errorf("upstream: expected %s, got %+v", tt.upstream, status.Services)
			}
		})
	}
}
