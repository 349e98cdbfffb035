// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the API client
// and the services from concrete implementations.
package port

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
)

// Requester is the client surface services depend on.
type Requester interface {
	Do(ctx context.Context, req *domain.Request) (json.RawMessage, error)
	Stream(ctx context.Context, req *domain.Request) (*http.Response, error)
}

// CacheScoper is implemented by requesters whose responses depend on
// per-call state outside the request: the target origin and the embed
// credentials. Equal scopes address the same upstream data.
type CacheScoper interface {
	CacheScope(ctx context.Context) string
}

// SessionStore is a key/value store scoped to the running session.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Delete(ctx context.Context, key string)
}

// EmbedStore resolves the current embed credentials, if any.
type EmbedStore interface {
	Embed(ctx context.Context) (*domain.EmbedContext, bool)
}

// Tracer creates spans for outgoing calls. Implementations must be safe
// to call when no tracing backend is configured.
type Tracer interface {
	Start(ctx context.Context, operation string, attrs map[string]string) (context.Context, Span)
}

// Span is an in-flight trace span.
type Span interface {
	// TraceHeader renders the correlation header for this span.
	TraceHeader() (name, value string, ok bool)
	End(err error)
}

// Navigator reads and changes the caller's navigation location.
type Navigator interface {
	Location(ctx context.Context) string
	Redirect(ctx context.Context, path string)
}

// HistoryRecorder keeps recent transport attempts for diagnostics.
type HistoryRecorder interface {
	Record(entry domain.HistoryEntry)
	Entries() []domain.HistoryEntry
}

