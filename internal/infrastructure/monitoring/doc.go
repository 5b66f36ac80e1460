/*
Package monitoring provides Prometheus metrics for the bridge.

# Overview

Metrics live on a private registry so several collectors can coexist in one
process (tests create one per case). A nil *Metrics is accepted everywhere
and records nothing.

# Features

- HTTP request metrics (latency, status)
- Session and analysis server lifecycle
- LSP request outcomes and round-trip latency
- Frames dropped by the decoder, by reason
- WebSocket connections and messages per channel
- Code execution outcomes

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "textDocument/hover")
	// ... round trip ...
	timer.Stop("ok")
*/
package monitoring
