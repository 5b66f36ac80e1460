package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	headerTraceID = "X-Trace-ID"
	headerSpanID  = "X-Span-ID"
)

// HTTPMiddleware starts a span per request, continuing any trace named in
// the X-Trace-ID and X-Span-ID headers and echoing the ids back.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if traceID := c.GetHeader(headerTraceID); traceID != "" {
			ctx = context.WithValue(ctx, traceIDKey, TraceID(traceID))
		}
		if parentID := c.GetHeader(headerSpanID); parentID != "" {
			ctx = context.WithValue(ctx, spanIDKey, SpanID(parentID))
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, name)
		span.SetTag("http.method", c.Request.Method)
		c.Request = c.Request.WithContext(ctx)

		c.Header(headerTraceID, string(span.TraceID))
		c.Header(headerSpanID, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}
