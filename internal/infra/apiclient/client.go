// Package apiclient performs calls against the Lightdash API: it builds the
// target URL, merges headers, attaches a trace correlation header,
// normalizes the response envelope and records every transport attempt.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/history"
	"github.com/lightdash/lightdash-bff-go/internal/infra/observability"
	"github.com/lightdash/lightdash-bff-go/internal/infra/session"
	"github.com/lightdash/lightdash-bff-go/internal/port"
)

// Header names sent with every call.
const (
	HeaderContentType   = "Content-Type"
	HeaderRequestMethod = "Lightdash-Request-Method"
	HeaderClientVersion = "Lightdash-Version"
	HeaderEmbedToken    = "Lightdash-Embed-Token"

	RequestMethodWebApp = "WEB_APP"
	projectUUIDParam    = "projectUuid"
)

// Client calls the Lightdash API. It is safe for concurrent use; the only
// shared mutable state is the history recorder.
type Client struct {
	httpClient    *http.Client
	streamClient  *http.Client
	defaultOrigin string
	clientVersion string
	apiVersion    domain.APIVersion
	session       port.SessionStore
	embed         port.EmbedStore
	tracer        port.Tracer
	navigator     port.Navigator
	history       port.HistoryRecorder
	snapshotLimit int
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// New creates a Client targeting defaultOrigin (e.g. "https://app.lightdash.cloud/").
func New(httpClient *http.Client, defaultOrigin string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient:    httpClient,
		defaultOrigin: defaultOrigin,
		clientVersion: "0.0.0",
		apiVersion:    domain.DefaultAPIVersion,
		session:       emptySession{},
		embed:         noEmbed{},
		tracer:        NoopTracer{},
		navigator:     noopNavigator{},
		snapshotLimit: history.DefaultSnapshotLimit,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.streamClient == nil {
		c.streamClient = httpClient
	}
	if c.history == nil {
		c.history = defaultHistory()
	}
	return c
}

// History returns the recorder holding recent transport attempts.
func (c *Client) History() port.HistoryRecorder {
	return c.history
}

// BuildURL computes the target URL for req:
// origin + "api/" + version + path, plus the embed projectUuid parameter.
// It has no side effects.
func (c *Client) BuildURL(ctx context.Context, req *domain.Request) string {
	target := c.origin(ctx) + "/api/" + string(c.version(req)) + req.Path

	if ec, ok := c.embed.Embed(ctx); ok && ec.ProjectUUID != "" && !hasQueryParam(target, projectUUIDParam) {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + projectUUIDParam + "=" + url.QueryEscape(ec.ProjectUUID)
	}
	return target
}

// CacheScope identifies the origin and embed context calls made with ctx
// run against. Tokens are fingerprinted, never included.
func (c *Client) CacheScope(ctx context.Context) string {
	scope := c.origin(ctx)
	if ec, ok := c.embed.Embed(ctx); ok {
		scope += "#" + session.TokenFingerprint(ec.Token) + ":" + ec.ProjectUUID
	}
	return scope
}

func (c *Client) origin(ctx context.Context) string {
	origin := c.defaultOrigin
	if override, ok := c.session.Get(ctx, domain.SessionKeyAPIOrigin); ok {
		origin = override
	}
	return strings.TrimRight(origin, "/")
}

func (c *Client) version(req *domain.Request) domain.APIVersion {
	if req.Version != "" {
		return req.Version
	}
	return c.apiVersion
}

func hasQueryParam(target, name string) bool {
	i := strings.IndexByte(target, '?')
	if i < 0 {
		return false
	}
	query := target[i+1:]
	if j := strings.IndexByte(query, '#'); j >= 0 {
		query = query[:j]
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return strings.Contains("&"+query, "&"+name+"=")
	}
	return values.Has(name)
}

// Headers merges headers for req, lowest precedence first: defaults,
// caller headers, the embed token (JSON calls only, never over a
// caller-set value). The trace header is added by the caller of Headers,
// after the span exists.
func (c *Client) Headers(ctx context.Context, req *domain.Request, withEmbed bool) http.Header {
	h := make(http.Header)
	h.Set(HeaderContentType, "application/json")
	h.Set(HeaderRequestMethod, RequestMethodWebApp)
	h.Set(HeaderClientVersion, c.clientVersion)

	callerSetEmbed := false
	for k, v := range req.Headers {
		h.Set(k, v)
		if strings.EqualFold(k, HeaderEmbedToken) {
			callerSetEmbed = true
		}
	}

	if withEmbed && !callerSetEmbed {
		if ec, ok := c.embed.Embed(ctx); ok && ec.Token != "" {
			h.Set(HeaderEmbedToken, ec.Token)
			c.logger.Debug("apiclient: embed token attached",
				zap.String("path", req.Path),
				zap.String("token_fingerprint", session.TokenFingerprint(ec.Token)),
			)
		}
	}
	return h
}

// Do performs req and returns the envelope's results (JSON null when the
// server omitted them). Every error is an *domain.APIError.
func (c *Client) Do(ctx context.Context, req *domain.Request) (json.RawMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, c.normalizeError(ctx, err)
	}

	target := c.BuildURL(ctx, req)
	headers := c.Headers(ctx, req, true)

	ctx, span := c.startSpan(ctx, req, target)
	c.attachTraceHeader(headers, span)

	results, err := c.execute(ctx, req, target, headers)
	if err != nil {
		apiErr := c.normalizeError(ctx, err)
		c.endSpan(span, apiErr)
		c.metrics.IncrAPIFailure(apiErr.Name)
		return nil, apiErr
	}
	c.endSpan(span, nil)
	return results, nil
}

// Request performs req and decodes the results into T. A null result
// yields T's zero value.
func Request[T any](ctx context.Context, r port.Requester, req *domain.Request) (T, error) {
	var out T
	raw, err := r.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, domain.NewNetworkError(fmt.Errorf("decode results: %w", err))
	}
	return out, nil
}

// execute dispatches the request, reads the body and switches on the
// envelope tag. The returned error is the raw rejection value.
func (c *Client) execute(ctx context.Context, req *domain.Request, target string, headers http.Header) (json.RawMessage, error) {
	payload, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	entry := domain.HistoryEntry{
		Method: req.Method,
		URL:    target,
		Body:   history.Snapshot(payload, c.snapshotLimit),
	}

	start := time.Now()
	resp, err := c.send(ctx, c.httpClient, req.Method, target, headers, payload)
	if err != nil {
		c.metrics.RecordAPIRequest(string(req.Method), 0, time.Since(start))
		c.logger.Error("apiclient: request failed",
			zap.String("method", string(req.Method)),
			zap.String("url", target),
			zap.Error(err),
		)
		c.recordFailure(entry, err)
		return nil, err
	}
	defer resp.Body.Close()

	entry.Status = resp.StatusCode
	body, err := io.ReadAll(resp.Body)
	c.metrics.RecordAPIRequest(string(req.Method), resp.StatusCode, time.Since(start))
	if err != nil {
		c.logger.Error("apiclient: failed to read response body",
			zap.String("method", string(req.Method)),
			zap.String("url", target),
			zap.Error(err),
		)
		c.recordFailure(entry, err)
		return nil, err
	}

	if !isOK(resp.StatusCode) {
		rejection := rejectionFromBody(resp.StatusCode, body)
		c.logger.Warn("apiclient: non-2xx response",
			zap.String("method", string(req.Method)),
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
			zap.String("body", history.Snapshot(body, c.snapshotLimit)),
		)
		c.recordFailure(entry, rejection)
		return nil, rejection
	}

	env, err := domain.DecodeEnvelope(body)
	if err != nil {
		c.recordFailure(entry, err)
		return nil, err
	}

	switch e := env.(type) {
	case *domain.OKEnvelope:
		entry.Response = history.Snapshot(e.Results, c.snapshotLimit)
		c.history.Record(entry)
		c.logger.Debug("apiclient: request OK",
			zap.String("method", string(req.Method)),
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
		)
		return e.Results, nil
	case *domain.ErrorEnvelope:
		apiErr := e.Error
		c.recordFailure(entry, &apiErr)
		return nil, &apiErr
	case *domain.UnknownEnvelope:
		perr := &domain.ProtocolError{Status: e.Status, Raw: e.Raw}
		c.recordFailure(entry, perr)
		return nil, perr
	default:
		perr := &domain.ProtocolError{Raw: body}
		c.recordFailure(entry, perr)
		return nil, perr
	}
}

func (c *Client) send(ctx context.Context, client *http.Client, method domain.Method, target string, headers http.Header, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(method), target, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header = headers
	return client.Do(httpReq)
}

func (c *Client) recordFailure(entry domain.HistoryEntry, rejection error) {
	entry.Error = history.Snapshot(rejection, c.snapshotLimit)
	if entry.Error == "" {
		entry.Error = "unknown error"
	}
	c.history.Record(entry)
}

// rejectionFromBody turns a non-OK body into the rejection value: the
// envelope's error when there is one, the raw JSON otherwise.
func rejectionFromBody(status int, body []byte) error {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode error body (status %d): %w", status, err)
	}
	if env, err := domain.DecodeEnvelope(body); err == nil {
		if e, ok := env.(*domain.ErrorEnvelope); ok {
			apiErr := e.Error
			return &apiErr
		}
	}
	return &domain.UnexpectedBodyError{StatusCode: status, Body: append(json.RawMessage(nil), body...)}
}

// normalizeError guarantees the *domain.APIError shape. Application errors
// pass through, after the deactivated-account redirect when it applies.
func (c *Client) normalizeError(ctx context.Context, err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.IsApplicationError() {
		if apiErr.Name == domain.DeactivatedAccountErrorName && !isSignInLocation(c.navigator.Location(ctx)) {
			c.logger.Warn("apiclient: deactivated account, redirecting to sign in")
			c.navigator.Redirect(ctx, domain.SignInPath)
		}
		return apiErr
	}
	return domain.NewNetworkError(err)
}

func isSignInLocation(location string) bool {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	return location == domain.SignInPath
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}

// encodeBody serializes a request body. Strings, byte slices and
// json.RawMessage are treated as already-serialized JSON.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}
