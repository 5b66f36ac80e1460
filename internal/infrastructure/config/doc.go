// Package config provides 12-factor configuration management for the bridge.
//
// Values come from Default(), then an optional TOML or YAML file given with
// --config, then environment variables. Later sources win.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, shutdown timeout)
//   - Analysis: analysis server command, handshake and request deadlines
//   - Kernel: interpreter and driver loop used to execute code cells
//   - Store: conversation storage directory
//   - Logging: Log level and output format
//   - RateLimit: Per-IP HTTP limits and per-connection editor request limits
//   - CORS: allowed browser origins
//
// Example Usage:
//
//	cfg, err := config.Load("bridge.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT
//   - ANALYSIS_CMD, ANALYSIS_ARGS, ANALYSIS_DIR, ANALYSIS_INIT_TIMEOUT,
//     ANALYSIS_REQUEST_TIMEOUT, ANALYSIS_QUEUE_SIZE, ANALYSIS_RESPAWN_FAILURES,
//     ANALYSIS_RESPAWN_WINDOW, ANALYSIS_RESPAWN_COOLDOWN
//   - KERNEL_ENABLED, KERNEL_CMD, KERNEL_ARGS, KERNEL_DRIVER, KERNEL_TIMEOUT
//   - STORE_DIR
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED, LSP_RPS, LSP_BURST
//   - CORS_ORIGINS
package config
