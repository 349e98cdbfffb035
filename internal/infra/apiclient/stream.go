package apiclient

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/infra/history"
)

const streamSnapshot = "<stream>"

// NewStreamHTTPClient returns a client for Stream. It bounds the wait for
// response headers only; the body may take as long as the upstream needs.
func NewStreamHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// Stream performs req and returns the raw OK response for the caller to
// consume; the caller must close its body. The embed token is not added.
// Stream uses the client set with WithStreamHTTPClient when there is one.
// A non-OK response is returned as a normalized error whose Data is a
// *domain.ResponseError holding the unread response.
func (c *Client) Stream(ctx context.Context, req *domain.Request) (*http.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, c.normalizeError(ctx, err)
	}

	target := c.BuildURL(ctx, req)
	headers := c.Headers(ctx, req, false)

	ctx, span := c.startSpan(ctx, req, target)
	c.attachTraceHeader(headers, span)

	payload, err := encodeBody(req.Body)
	if err != nil {
		apiErr := c.normalizeError(ctx, err)
		c.endSpan(span, apiErr)
		return nil, apiErr
	}

	entry := domain.HistoryEntry{
		Method: req.Method,
		URL:    target,
		Body:   history.Snapshot(payload, c.snapshotLimit),
	}

	start := time.Now()
	resp, err := c.send(ctx, c.streamClient, req.Method, target, headers, payload)
	if err != nil {
		c.metrics.RecordAPIRequest(string(req.Method), 0, time.Since(start))
		c.logger.Error("apiclient: stream request failed",
			zap.String("method", string(req.Method)),
			zap.String("url", target),
			zap.Error(err),
		)
		c.recordFailure(entry, err)
		apiErr := c.normalizeError(ctx, err)
		c.endSpan(span, apiErr)
		c.metrics.IncrAPIFailure(apiErr.Name)
		return nil, apiErr
	}

	c.metrics.RecordAPIRequest(string(req.Method), resp.StatusCode, time.Since(start))
	entry.Status = resp.StatusCode

	if !isOK(resp.StatusCode) {
		rejection := &domain.ResponseError{Response: resp}
		c.logger.Warn("apiclient: stream non-2xx response",
			zap.String("method", string(req.Method)),
			zap.String("url", target),
			zap.Int("status", resp.StatusCode),
		)
		c.recordFailure(entry, rejection)
		apiErr := c.normalizeError(ctx, rejection)
		c.endSpan(span, apiErr)
		c.metrics.IncrAPIFailure(apiErr.Name)
		return nil, apiErr
	}

	entry.Response = streamSnapshot
	c.history.Record(entry)
	c.endSpan(span, nil)
	return resp, nil
}
