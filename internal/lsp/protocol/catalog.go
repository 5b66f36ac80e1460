package protocol

import "encoding/json"

// LanguagePython is the language id of every cell document.
const LanguagePython = "python"

// CellKindCode marks a notebook cell as code.
const CellKindCode = 2

// InitializeID is reserved for the initialize request.
const InitializeID int64 = 0

// Request is an outbound request or notification. Notifications leave ID nil;
// requests other than initialize get their ID from the process that sends them.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// IsNotification reports whether r expects no response.
func (r Request) IsNotification() bool {
	return r.ID == nil
}

// WithID returns a copy of r tagged with id.
func (r Request) WithID(id int64) Request {
	r.ID = &id
	return r
}

func notification(method string, params any) Request {
	return Request{JSONRPC: Version, Method: method, Params: params}
}

// Initialize builds the handshake request (id 0). It announces plain text
// document and notebook document synchronization.
func Initialize(rootURI DocumentURI, processID int) Request {
	return Request{
		JSONRPC: Version,
		Method:  MethodInitialize,
		Params: InitializeParams{
			ProcessID:  &processID,
			RootURI:    rootURI,
			ClientInfo: &ClientInfo{Name: "notebook-lsp"},
			Capabilities: ClientCapabilities{
				TextDocument: &TextDocumentClientCapabilities{
					Synchronization: &TextDocumentSyncClientCapabilities{},
					Hover:           &HoverClientCapabilities{ContentFormat: []string{"markdown", "plaintext"}},
					Completion: &CompletionClientCapabilities{
						CompletionItem: &CompletionItemCapabilities{
							DocumentationFormat: []string{"markdown", "plaintext"},
						},
					},
					PublishDiagnostics: &PublishDiagnosticsCapabilities{},
				},
				NotebookDocument: &NotebookDocumentClientCapabilities{
					Synchronization: NotebookDocumentSyncClientCapabilities{
						DynamicRegistration:     true,
						ExecutionSummarySupport: true,
					},
				},
			},
		},
	}.WithID(InitializeID)
}

// Initialized builds the notification that completes the handshake.
func Initialized() Request {
	return notification(MethodInitialized, struct{}{})
}

// DidOpenText opens a single text document.
func DidOpenText(item TextDocumentItem) Request {
	return notification(MethodDidOpen, DidOpenTextDocumentParams{TextDocument: item})
}

// DidChangeText replaces the whole content of a document.
func DidChangeText(uri DocumentURI, version int, text string) Request {
	return notification(MethodDidChange, DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{URI: uri, Version: version},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	})
}

func positionParams(uri DocumentURI, pos Position) TextDocumentPositionParams {
	return TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}
}

// Hover builds a hover request. The id is assigned when it is sent.
func Hover(uri DocumentURI, pos Position) Request {
	return Request{JSONRPC: Version, Method: MethodHover, Params: HoverParams(positionParams(uri, pos))}
}

// Completion builds a completion request with the same shape as Hover.
func Completion(uri DocumentURI, pos Position) Request {
	return Request{JSONRPC: Version, Method: MethodCompletion, Params: CompletionParams(positionParams(uri, pos))}
}

// DidOpenNotebook opens the notebook scaffold with every cell's text.
func DidOpenNotebook(doc NotebookDocument, items []TextDocumentItem) Request {
	return notification(MethodNotebookDidOpen, DidOpenNotebookDocumentParams{
		NotebookDocument:  doc,
		CellTextDocuments: items,
	})
}

// DidChangeNotebook reports one structural change. Inserted cells have their
// text documents opened inline.
func DidChangeNotebook(uri DocumentURI, version, start, deleteCount int, cells []NotebookCell, opened []TextDocumentItem) Request {
	return notification(MethodNotebookDidChange, DidChangeNotebookDocumentParams{
		NotebookDocument: VersionedNotebookDocumentIdentifier{Version: version, URI: uri},
		Change: NotebookDocumentChangeEvent{
			Cells: &NotebookCellsChange{
				Structure: &NotebookCellsStructureChange{
					Array: NotebookCellArrayChange{
						Start:       start,
						DeleteCount: deleteCount,
						Cells:       cells,
					},
					DidOpen: opened,
				},
			},
		},
	})
}

var null = json.RawMessage("null")

// Reply builds a successful response to a request with the given id.
func Reply(id int64, result any) Message {
	raw := null
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			raw = data
		}
	}
	return Message{JSONRPC: Version, ID: &id, Result: raw}
}

// ErrorReply builds an error response.
func ErrorReply(id int64, code int, message string) Message {
	return Message{JSONRPC: Version, ID: &id, Error: &ResponseError{Code: code, Message: message}}
}

// Retag returns a copy of a response addressed to id. A response without
// result or error gets an explicit null result.
func Retag(resp Message, id int64) Message {
	resp.JSONRPC = Version
	resp.ID = &id
	if resp.Error == nil && len(resp.Result) == 0 {
		resp.Result = null
	}
	return resp
}
