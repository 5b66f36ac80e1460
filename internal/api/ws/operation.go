package ws

import (
	"encoding/json"
	"fmt"

	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
)

// Operation is an editor request parsed from a client frame.
type Operation interface {
	operation()
}

// HoverAt asks for hover information at a position.
type HoverAt struct {
	ID       int64
	URI      protocol.DocumentURI
	Position protocol.Position
}

// CompleteAt asks for completions at a position.
type CompleteAt struct {
	ID       int64
	URI      protocol.DocumentURI
	Position protocol.Position
}

// ReplaceBuffer replaces the whole text of a document.
type ReplaceBuffer struct {
	URI  protocol.DocumentURI
	Text string
}

func (HoverAt) operation()       {}
func (CompleteAt) operation()    {}
func (ReplaceBuffer) operation() {}

// FrameError rejects a client frame. ID is set when the frame was a request
// and the client expects an error response.
type FrameError struct {
	ID      *int64
	Code    int
	Message string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("rejected frame (code %d): %s", e.Code, e.Message)
}

// Reply returns the error response for a request frame.
func (e *FrameError) Reply() (protocol.Message, bool) {
	if e.ID == nil {
		return protocol.Message{}, false
	}
	return protocol.ErrorReply(*e.ID, e.Code, e.Message), true
}

func reject(id *int64, code int, format string, args ...any) *FrameError {
	return &FrameError{ID: id, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ParseOperation turns a JSON-RPC shaped client frame into an Operation.
// Hover and completion must be requests; didChange must be a notification
// carrying exactly one whole-document change.
func ParseOperation(raw []byte) (Operation, error) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		return nil, reject(nil, protocol.CodeParseError, "%v", err)
	}

	switch msg.Method {
	case protocol.MethodHover, protocol.MethodCompletion:
		if msg.ID == nil {
			return nil, reject(nil, protocol.CodeInvalidRequest, "%s requires an id", msg.Method)
		}
		params, err := protocol.DecodeParams(msg.Method, msg.Params)
		if err != nil {
			return nil, reject(msg.ID, protocol.CodeInvalidParams, "%v", err)
		}
		var pos protocol.TextDocumentPositionParams
		switch p := params.(type) {
		case *protocol.HoverParams:
			pos = protocol.TextDocumentPositionParams(*p)
		case *protocol.CompletionParams:
			pos = protocol.TextDocumentPositionParams(*p)
		}
		if pos.TextDocument.URI == "" {
			return nil, reject(msg.ID, protocol.CodeInvalidParams, "missing textDocument.uri")
		}
		if msg.Method == protocol.MethodHover {
			return HoverAt{ID: *msg.ID, URI: pos.TextDocument.URI, Position: pos.Position}, nil
		}
		return CompleteAt{ID: *msg.ID, URI: pos.TextDocument.URI, Position: pos.Position}, nil

	case protocol.MethodDidChange:
		return parseDidChange(msg)

	default:
		if msg.Kind() == protocol.KindRequest {
			return nil, reject(msg.ID, protocol.CodeMethodNotFound, "unsupported method %q", msg.Method)
		}
		return nil, reject(nil, protocol.CodeMethodNotFound, "unsupported method %q", msg.Method)
	}
}

func parseDidChange(msg protocol.Message) (Operation, error) {
	if msg.ID != nil {
		return nil, reject(msg.ID, protocol.CodeInvalidRequest, "%s is a notification", msg.Method)
	}
	params, err := protocol.DecodeParams(msg.Method, msg.Params)
	if err != nil {
		return nil, reject(nil, protocol.CodeInvalidParams, "%v", err)
	}
	change := params.(*protocol.DidChangeTextDocumentParams)
	if change.TextDocument.URI == "" {
		return nil, reject(nil, protocol.CodeInvalidParams, "missing textDocument.uri")
	}
	if len(change.ContentChanges) != 1 {
		return nil, reject(nil, protocol.CodeInvalidParams, "expected one content change, got %d", len(change.ContentChanges))
	}

	// Only whole-document replacement is supported.
	var ranged struct {
		ContentChanges []struct {
			Range json.RawMessage `json:"range"`
		} `json:"contentChanges"`
	}
	if err := json.Unmarshal(msg.Params, &ranged); err == nil && len(ranged.ContentChanges[0].Range) > 0 {
		return nil, reject(nil, protocol.CodeInvalidParams, "range edits are not supported")
	}

	return ReplaceBuffer{URI: change.TextDocument.URI, Text: change.ContentChanges[0].Text}, nil
}
