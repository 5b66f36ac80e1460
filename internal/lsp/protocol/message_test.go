package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"response", `{"jsonrpc":"2.0","id":0,"result":{"capabilities":{}}}`, KindResponse},
		{"null result", `{"jsonrpc":"2.0","id":4,"result":null}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":4,"error":{"code":-32601,"message":"x"}}`, KindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{}}`, KindNotification},
		{"server request", `{"jsonrpc":"2.0","id":9,"method":"workspace/configuration","params":{"items":[]}}`, KindRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind())
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"2.0"}`))
	assert.Error(t, err)

	_, err = Decode([]byte(`[1]`))
	assert.Error(t, err)
}

func TestDecodeErrorResponse(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":4,"error":{"code":-32601,"message":"unhandled"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Error)
	assert.Equal(t, CodeMethodNotFound, msg.Error.Code)
	assert.EqualError(t, msg.Error, "rpc error -32601: unhandled")
}

func TestDecodeParamsTaggedByMethod(t *testing.T) {
	hover, err := DecodeParams(MethodHover, []byte(`{"textDocument":{"uri":"file:///a"},"position":{"line":1,"character":6}}`))
	require.NoError(t, err)
	hp, ok := hover.(*HoverParams)
	require.True(t, ok)
	assert.Equal(t, DocumentURI("file:///a"), hp.TextDocument.URI)
	assert.Equal(t, Position{Line: 1, Character: 6}, hp.Position)

	completion, err := DecodeParams(MethodCompletion, []byte(`{"textDocument":{"uri":"file:///a"},"position":{"line":0,"character":2}}`))
	require.NoError(t, err)
	_, ok = completion.(*CompletionParams)
	assert.True(t, ok)

	change, err := DecodeParams(MethodDidChange, []byte(`{"textDocument":{"uri":"file:///a","version":2},"contentChanges":[{"text":"x."}]}`))
	require.NoError(t, err)
	cp, ok := change.(*DidChangeTextDocumentParams)
	require.True(t, ok)
	require.Len(t, cp.ContentChanges, 1)
	assert.Equal(t, "x.", cp.ContentChanges[0].Text)

	cfg, err := DecodeParams(MethodConfiguration, []byte(`{"items":[{"section":"python"},{"section":"python.analysis"}]}`))
	require.NoError(t, err)
	assert.Len(t, cfg.(*ConfigurationParams).Items, 2)

	_, err = DecodeParams("textDocument/rename", nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = DecodeParams(MethodHover, []byte(`{"position":"nope"}`))
	assert.Error(t, err)
}
