// Package main runs the notebook server.
//
// The server stores chat conversations, executes code cells through a
// kernel, and relays an editor's hover and completion requests to a
// per-conversation analysis server that sees the whole conversation as one
// notebook.
//
// Configuration comes from defaults, then the optional --config file, then
// environment variables.
//
// Usage:
//
//	./server --config notebook.toml
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
