package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/lightdash/lightdash-bff-go/internal/domain"
	"github.com/lightdash/lightdash-bff-go/internal/port"
)

// startSpan opens a span for the call. A failing tracer never fails the
// request: panics are recovered and a no-op span is used instead.
func (c *Client) startSpan(ctx context.Context, req *domain.Request, target string) (spanCtx context.Context, span port.Span) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("apiclient: tracer panicked, continuing without span", zap.Any("panic", r))
			spanCtx, span = ctx, noopSpan{}
		}
	}()

	spanCtx, span = c.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.Path), map[string]string{
		"http.method":  string(req.Method),
		"http.url":     target,
		"api.version":  string(c.version(req)),
		"api.endpoint": req.Path,
	})
	if spanCtx == nil {
		spanCtx = ctx
	}
	if span == nil {
		span = noopSpan{}
	}
	return spanCtx, span
}

// attachTraceHeader adds the correlation header last so it wins over
// every other source.
func (c *Client) attachTraceHeader(h http.Header, span port.Span) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("apiclient: trace header failed", zap.Any("panic", r))
		}
	}()

	if name, value, ok := span.TraceHeader(); ok && name != "" {
		h.Set(name, value)
	}
}

func (c *Client) endSpan(span port.Span, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("apiclient: span end failed", zap.Any("panic", r))
		}
	}()
	span.End(err)
}
