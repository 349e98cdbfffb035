package apiclient

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/history"
	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
	"github.com/lightdash/lightdash-bff-go/internal/port"
)

// Option configures a Client.
type Option func(*Client)

// WithStreamHTTPClient sets the HTTP client used by Stream. It should
// carry no overall Timeout, which would also cut off the response body.
func WithStreamHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.streamClient = hc }
}

// WithSessionStore sets where the API origin override is read from.
func WithSessionStore(s port.SessionStore) Option {
	return func(c *Client) { c.session = s }
}

// WithEmbedStore sets where embed credentials are read from on every call.
func WithEmbedStore(s port.EmbedStore) Option {
	return func(c *Client) { c.embed = s }
}

// WithTracer sets the tracing capability. Tracing is best-effort.
func WithTracer(t port.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithNavigator sets the navigator used for the deactivated-account redirect.
func WithNavigator(n port.Navigator) Option {
	return func(c *Client) { c.navigator = n }
}

// WithHistory sets the diagnostic history recorder.
func WithHistory(h port.HistoryRecorder) Option {
	return func(c *Client) { c.history = h }
}

// WithSnapshotLimit bounds history snapshots, in runes.
func WithSnapshotLimit(n int) Option {
	return func(c *Client) { c.snapshotLimit = n }
}

// WithAPIVersion sets the version used by requests that name none.
func WithAPIVersion(v domain.APIVersion) Option {
	return func(c *Client) {
		if v.Valid() {
			c.apiVersion = v
		}
	}
}

// WithClientVersion sets the Lightdash-Version header value.
func WithClientVersion(v string) Option {
	return func(c *Client) { c.clientVersion = v }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// --- defaults ---

type emptySession struct{}

func (emptySession) Get(context.Context, string) (string, bool) { return "", false }
func (emptySession) Set(context.Context, string, string)        {}
func (emptySession) Delete(context.Context, string)             {}

type noEmbed struct{}

func (noEmbed) Embed(context.Context) (*domain.EmbedContext, bool) { return nil, false }

// NoopTracer never produces spans with a correlation header.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, _ string, _ map[string]string) (context.Context, port.Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) TraceHeader() (string, string, bool) { return "", "", false }
func (noopSpan) End(error)                           {}

type noopNavigator struct{}

func (noopNavigator) Location(context.Context) string { return "" }
func (noopNavigator) Redirect(context.Context, string) {}

func defaultHistory() port.HistoryRecorder {
	return history.NewRecorder(history.DefaultCapacity)
}
