package kernel

import (
	"context"
	"errors"
)

var (
	ErrNotStarted = errors.New("execution engine not started")
	ErrDisabled   = errors.New("code execution disabled")
)

// EventType classifies execution output.
type EventType string

const (
	EventStatus EventType = "status"
	EventStream EventType = "stream"
	EventData   EventType = "data"
	EventError  EventType = "error"
)

// Execution states carried by status events.
const (
	StatusBusy = "busy"
	StatusIdle = "idle"
)

// Event is one piece of execution output. Content is a string for status and
// error events, StreamContent for stream events and DataContent for data.
type Event struct {
	Type    EventType   `json:"type"`
	Content interface{} `json:"content"`
}

// StreamContent is a chunk of text written by the running code.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DataContent is rich output tagged with its MIME type.
type DataContent struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// IsIdle reports whether e ends an execution.
func (e Event) IsIdle() bool {
	return e.Type == EventStatus && e.Content == StatusIdle
}

// Engine runs code cells. Events for one execution arrive in order, starting
// with status busy and ending with status idle, after which the channel closes.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error
	Execute(ctx context.Context, code string) (<-chan Event, error)
}

// Disabled is an Engine that refuses every execution.
type Disabled struct{}

func (Disabled) Start(context.Context) error { return nil }
func (Disabled) Stop() error                 { return nil }

func (Disabled) Execute(context.Context, string) (<-chan Event, error) {
	return nil, ErrDisabled
}
