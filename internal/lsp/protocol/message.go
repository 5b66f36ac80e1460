package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the JSON-RPC version carried by every message.
const Version = "2.0"

// Methods used by the bridge.
const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodHover              = "textDocument/hover"
	MethodCompletion         = "textDocument/completion"
	MethodNotebookDidOpen    = "notebookDocument/didOpen"
	MethodNotebookDidChange  = "notebookDocument/didChange"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodLogMessage         = "window/logMessage"
	MethodConfiguration      = "workspace/configuration"
	MethodRegisterCapability = "client/registerCapability"
	MethodWorkDoneProgress   = "window/workDoneProgress/create"
)

// ErrUnknownMethod is returned by DecodeParams for methods outside the catalog.
var ErrUnknownMethod = errors.New("unknown method")

// Kind classifies a decoded message.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is the wire envelope of every inbound JSON-RPC message.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// Kind reports whether m is a request, notification or response.
func (m Message) Kind() Kind {
	switch {
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.ID != nil:
		return KindResponse
	default:
		return KindInvalid
	}
}

// Decode parses one message body.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Kind() == KindInvalid {
		return Message{}, fmt.Errorf("decode message: neither method nor id present")
	}
	return m, nil
}

// DecodeParams decodes params into the shape registered for method.
func DecodeParams(method string, raw json.RawMessage) (any, error) {
	var target any
	switch method {
	case MethodInitialize:
		target = &InitializeParams{}
	case MethodInitialized:
		target = &struct{}{}
	case MethodDidOpen:
		target = &DidOpenTextDocumentParams{}
	case MethodDidChange:
		target = &DidChangeTextDocumentParams{}
	case MethodHover:
		target = &HoverParams{}
	case MethodCompletion:
		target = &CompletionParams{}
	case MethodNotebookDidOpen:
		target = &DidOpenNotebookDocumentParams{}
	case MethodNotebookDidChange:
		target = &DidChangeNotebookDocumentParams{}
	case MethodConfiguration:
		target = &ConfigurationParams{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	if len(raw) == 0 {
		return target, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s params: %w", method, err)
	}
	return target, nil
}
