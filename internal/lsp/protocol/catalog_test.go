package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshal(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestInitializeUsesReservedID(t *testing.T) {
	req := Initialize("file:///work", 42)

	require.NotNil(t, req.ID)
	assert.Equal(t, InitializeID, *req.ID)

	var decoded struct {
		ID     *int64 `json:"id"`
		Params struct {
			ProcessID    int    `json:"processId"`
			RootURI      string `json:"rootUri"`
			Capabilities struct {
				TextDocument     map[string]any `json:"textDocument"`
				NotebookDocument struct {
					Synchronization struct {
						DynamicRegistration     bool `json:"dynamicRegistration"`
						ExecutionSummarySupport bool `json:"executionSummarySupport"`
					} `json:"synchronization"`
				} `json:"notebookDocument"`
			} `json:"capabilities"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal([]byte(marshal(t, req)), &decoded))

	require.NotNil(t, decoded.ID)
	assert.Equal(t, int64(0), *decoded.ID)
	assert.Equal(t, 42, decoded.Params.ProcessID)
	assert.Equal(t, "file:///work", decoded.Params.RootURI)
	assert.Contains(t, decoded.Params.Capabilities.TextDocument, "synchronization")
	assert.Contains(t, decoded.Params.Capabilities.TextDocument, "hover")
	assert.True(t, decoded.Params.Capabilities.NotebookDocument.Synchronization.DynamicRegistration)
	assert.True(t, decoded.Params.Capabilities.NotebookDocument.Synchronization.ExecutionSummarySupport)
}

func TestNotificationsCarryNoID(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"initialized", Initialized()},
		{"didOpen", DidOpenText(TextDocumentItem{URI: "file:///a", LanguageID: LanguagePython, Version: 1})},
		{"didChange", DidChangeText("file:///a", 2, "x = 1")},
		{"notebook didOpen", DidOpenNotebook(NotebookDocument{URI: "file:///n.ipynb", Version: 1}, nil)},
		{"notebook didChange", DidChangeNotebook("file:///n.ipynb", 2, 0, 0, nil, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.req.IsNotification())
			assert.NotContains(t, marshal(t, tt.req), `"id"`)
		})
	}
}

func TestInitializedShape(t *testing.T) {
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"initialized","params":{}}`, marshal(t, Initialized()))
}

func TestDidChangeIsFullReplacement(t *testing.T) {
	got := marshal(t, DidChangeText("file:///c/cells/pending", 3, "x."))
	assert.JSONEq(t, `{
		"jsonrpc": "2.0",
		"method": "textDocument/didChange",
		"params": {
			"textDocument": {"uri": "file:///c/cells/pending", "version": 3},
			"contentChanges": [{"text": "x."}]
		}
	}`, got)
	assert.NotContains(t, got, "range")
}

func TestHoverAndCompletionShareShape(t *testing.T) {
	pos := Position{Line: 0, Character: 2}
	hover := Hover("file:///c/cells/pending", pos).WithID(5)
	completion := Completion("file:///c/cells/pending", pos).WithID(5)

	assert.Equal(t, MethodHover, hover.Method)
	assert.Equal(t, MethodCompletion, completion.Method)

	want := `{"textDocument":{"uri":"file:///c/cells/pending"},"position":{"line":0,"character":2}}`
	assert.JSONEq(t, want, marshal(t, hover.Params))
	assert.JSONEq(t, want, marshal(t, completion.Params))
	assert.Contains(t, marshal(t, hover), `"id":5`)
}

func TestDidOpenNotebookShape(t *testing.T) {
	doc := NotebookDocument{
		URI:          "file:///c.ipynb",
		NotebookType: "notebook",
		Version:      1,
		Cells: []NotebookCell{
			{Kind: CellKindCode, Document: "file:///c/cells/0"},
			{Kind: CellKindCode, Document: "file:///c/cells/pending"},
		},
	}
	items := []TextDocumentItem{
		{URI: "file:///c/cells/0", LanguageID: LanguagePython, Version: 1, Text: "x=100"},
		{URI: "file:///c/cells/pending", LanguageID: LanguagePython, Version: 1, Text: ""},
	}

	assert.JSONEq(t, `{
		"jsonrpc": "2.0",
		"method": "notebookDocument/didOpen",
		"params": {
			"notebookDocument": {
				"uri": "file:///c.ipynb",
				"notebookType": "notebook",
				"version": 1,
				"cells": [
					{"kind": 2, "document": "file:///c/cells/0"},
					{"kind": 2, "document": "file:///c/cells/pending"}
				]
			},
			"cellTextDocuments": [
				{"uri": "file:///c/cells/0", "languageId": "python", "version": 1, "text": "x=100"},
				{"uri": "file:///c/cells/pending", "languageId": "python", "version": 1, "text": ""}
			]
		}
	}`, marshal(t, DidOpenNotebook(doc, items)))
}

func TestDidChangeNotebookOpensInsertedCellsInline(t *testing.T) {
	req := DidChangeNotebook("file:///c.ipynb", 2, 1, 0,
		[]NotebookCell{{Kind: CellKindCode, Document: "file:///c/cells/1"}},
		[]TextDocumentItem{{URI: "file:///c/cells/1", LanguageID: LanguagePython, Version: 1, Text: "y=2"}},
	)

	assert.JSONEq(t, `{
		"jsonrpc": "2.0",
		"method": "notebookDocument/didChange",
		"params": {
			"notebookDocument": {"version": 2, "uri": "file:///c.ipynb"},
			"change": {
				"cells": {
					"structure": {
						"array": {
							"start": 1,
							"deleteCount": 0,
							"cells": [{"kind": 2, "document": "file:///c/cells/1"}]
						},
						"didOpen": [
							{"uri": "file:///c/cells/1", "languageId": "python", "version": 1, "text": "y=2"}
						]
					}
				}
			}
		}
	}`, marshal(t, req))
}

func TestReplies(t *testing.T) {
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"result":null}`, marshal(t, Reply(3, nil)))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":4,"result":[null,null]}`, marshal(t, Reply(4, make([]any, 2))))
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","id":5,"error":{"code":-32601,"message":"nope"}}`,
		marshal(t, ErrorReply(5, CodeMethodNotFound, "nope")))
}

func TestRetag(t *testing.T) {
	serverID := int64(17)
	resp := Message{JSONRPC: Version, ID: &serverID}

	out := Retag(resp, 2)
	require.NotNil(t, out.ID)
	assert.Equal(t, int64(2), *out.ID)
	assert.Equal(t, int64(17), serverID)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":null}`, marshal(t, out))
}
