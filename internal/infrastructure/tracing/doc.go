// Package tracing tags each HTTP request with a trace and span id, echoes
// them in X-Trace-ID and X-Span-ID, and logs the finished span through zap.
//
// Socket upgrades get a span too; it completes when the socket closes.
package tracing
