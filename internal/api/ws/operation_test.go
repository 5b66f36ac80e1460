package ws

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Operation
	}{
		{
			name:  "hover",
			frame: `{"jsonrpc":"2.0","id":4,"method":"textDocument/hover","params":{"textDocument":{"uri":"file:///c/cells/0"},"position":{"line":1,"character":2}}}`,
			want:  HoverAt{ID: 4, URI: "file:///c/cells/0", Position: protocol.Position{Line: 1, Character: 2}},
		},
		{
			name:  "completion",
			frame: `{"jsonrpc":"2.0","id":5,"method":"textDocument/completion","params":{"textDocument":{"uri":"file:///c/cells/pending"},"position":{"line":0,"character":7}}}`,
			want:  CompleteAt{ID: 5, URI: "file:///c/cells/pending", Position: protocol.Position{Character: 7}},
		},
		{
			name:  "whole document change",
			frame: `{"jsonrpc":"2.0","method":"textDocument/didChange","params":{"textDocument":{"uri":"file:///c/cells/pending","version":3},"contentChanges":[{"text":"import os"}]}}`,
			want:  ReplaceBuffer{URI: "file:///c/cells/pending", Text: "import os"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOperation([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOperationRejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		code  int
		hasID bool
	}{
		{"not json", `{`, protocol.CodeParseError, false},
		{"empty object", `{}`, protocol.CodeParseError, false},
		{"hover without id", `{"jsonrpc":"2.0","method":"textDocument/hover","params":{}}`, protocol.CodeInvalidRequest, false},
		{"hover without uri", `{"jsonrpc":"2.0","id":1,"method":"textDocument/hover","params":{"position":{"line":0,"character":0}}}`, protocol.CodeInvalidParams, true},
		{"hover with bad params", `{"jsonrpc":"2.0","id":1,"method":"textDocument/hover","params":[1]}`, protocol.CodeInvalidParams, true},
		{"unsupported request", `{"jsonrpc":"2.0","id":9,"method":"textDocument/definition","params":{}}`, protocol.CodeMethodNotFound, true},
		{"unsupported notification", `{"jsonrpc":"2.0","method":"textDocument/didSave","params":{}}`, protocol.CodeMethodNotFound, false},
		{"didChange with id", `{"jsonrpc":"2.0","id":2,"method":"textDocument/didChange","params":{}}`, protocol.CodeInvalidRequest, true},
		{"ranged change", `{"jsonrpc":"2.0","method":"textDocument/didChange","params":{"textDocument":{"uri":"file:///c/cells/pending","version":2},"contentChanges":[{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}},"text":"x"}]}}`, protocol.CodeInvalidParams, false},
		{"two changes", `{"jsonrpc":"2.0","method":"textDocument/didChange","params":{"textDocument":{"uri":"file:///c/cells/pending","version":2},"contentChanges":[{"text":"a"},{"text":"b"}]}}`, protocol.CodeInvalidParams, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOperation([]byte(tt.frame))
			var fe *FrameError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tt.code, fe.Code)

			reply, ok := fe.Reply()
			assert.Equal(t, tt.hasID, ok)
			if ok {
				require.NotNil(t, reply.Error)
				assert.Equal(t, tt.code, reply.Error.Code)
				assert.Equal(t, *fe.ID, *reply.ID)
			}
		})
	}
}
