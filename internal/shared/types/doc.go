// Package types holds the conversation data shared by the store, the HTTP
// API and the chat socket: conversations, messages, execution outputs and
// the chat socket's frames.
package types
