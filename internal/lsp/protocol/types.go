package protocol

import "encoding/json"

// DocumentURI identifies a text or notebook document.
type DocumentURI string

// Position is a zero-indexed line/character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// TextDocumentIdentifier is the minimal document reference.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier references a specific document version.
type VersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version int         `json:"version"`
}

// TextDocumentItem carries a full document for didOpen.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentContentChangeEvent replaces the whole document. Range-based
// edits are not supported.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

// TextDocumentPositionParams is shared by hover and completion.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// HoverParams are the params of textDocument/hover.
type HoverParams TextDocumentPositionParams

// CompletionParams are the params of textDocument/completion.
type CompletionParams TextDocumentPositionParams

// DidOpenTextDocumentParams are the params of textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams are the params of textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// NotebookCell references the text document backing one cell.
type NotebookCell struct {
	Kind     int         `json:"kind"`
	Document DocumentURI `json:"document"`
}

// NotebookDocument is the protocol view of a notebook.
type NotebookDocument struct {
	URI          DocumentURI    `json:"uri"`
	NotebookType string         `json:"notebookType"`
	Version      int            `json:"version"`
	Cells        []NotebookCell `json:"cells"`
}

// DidOpenNotebookDocumentParams are the params of notebookDocument/didOpen.
type DidOpenNotebookDocumentParams struct {
	NotebookDocument  NotebookDocument   `json:"notebookDocument"`
	CellTextDocuments []TextDocumentItem `json:"cellTextDocuments"`
}

// VersionedNotebookDocumentIdentifier references a notebook version.
type VersionedNotebookDocumentIdentifier struct {
	Version int         `json:"version"`
	URI     DocumentURI `json:"uri"`
}

// NotebookCellArrayChange describes a splice of the cell array.
type NotebookCellArrayChange struct {
	Start       int            `json:"start"`
	DeleteCount int            `json:"deleteCount"`
	Cells       []NotebookCell `json:"cells,omitempty"`
}

// NotebookCellsStructureChange is a structural change plus the text
// documents opened and closed by it.
type NotebookCellsStructureChange struct {
	Array    NotebookCellArrayChange  `json:"array"`
	DidOpen  []TextDocumentItem       `json:"didOpen,omitempty"`
	DidClose []TextDocumentIdentifier `json:"didClose,omitempty"`
}

// NotebookCellsChange groups cell-level changes.
type NotebookCellsChange struct {
	Structure *NotebookCellsStructureChange `json:"structure,omitempty"`
}

// NotebookDocumentChangeEvent is the change payload of notebookDocument/didChange.
type NotebookDocumentChangeEvent struct {
	Cells *NotebookCellsChange `json:"cells,omitempty"`
}

// DidChangeNotebookDocumentParams are the params of notebookDocument/didChange.
type DidChangeNotebookDocumentParams struct {
	NotebookDocument VersionedNotebookDocumentIdentifier `json:"notebookDocument"`
	Change           NotebookDocumentChangeEvent         `json:"change"`
}

// ClientInfo describes this bridge to the server.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams are the params of initialize.
type InitializeParams struct {
	ProcessID    *int               `json:"processId"`
	RootURI      DocumentURI        `json:"rootUri"`
	ClientInfo   *ClientInfo        `json:"clientInfo,omitempty"`
	Capabilities ClientCapabilities `json:"capabilities"`
}

// ClientCapabilities announces what the bridge understands.
type ClientCapabilities struct {
	TextDocument     *TextDocumentClientCapabilities     `json:"textDocument,omitempty"`
	NotebookDocument *NotebookDocumentClientCapabilities `json:"notebookDocument,omitempty"`
}

// TextDocumentClientCapabilities covers plain text document features.
type TextDocumentClientCapabilities struct {
	Synchronization    *TextDocumentSyncClientCapabilities `json:"synchronization,omitempty"`
	Hover              *HoverClientCapabilities            `json:"hover,omitempty"`
	Completion         *CompletionClientCapabilities       `json:"completion,omitempty"`
	PublishDiagnostics *PublishDiagnosticsCapabilities     `json:"publishDiagnostics,omitempty"`
}

// TextDocumentSyncClientCapabilities describes text synchronization support.
type TextDocumentSyncClientCapabilities struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
	DidSave             bool `json:"didSave"`
}

// HoverClientCapabilities describes hover support.
type HoverClientCapabilities struct {
	ContentFormat []string `json:"contentFormat,omitempty"`
}

// CompletionClientCapabilities describes completion support.
type CompletionClientCapabilities struct {
	CompletionItem *CompletionItemCapabilities `json:"completionItem,omitempty"`
}

// CompletionItemCapabilities describes completion item support.
type CompletionItemCapabilities struct {
	SnippetSupport          bool     `json:"snippetSupport"`
	DocumentationFormat     []string `json:"documentationFormat,omitempty"`
	InsertReplaceSupport    bool     `json:"insertReplaceSupport"`
	LabelDetailsSupport     bool     `json:"labelDetailsSupport"`
	DeprecatedSupport       bool     `json:"deprecatedSupport"`
	CommitCharactersSupport bool     `json:"commitCharactersSupport"`
}

// PublishDiagnosticsCapabilities describes diagnostics support.
type PublishDiagnosticsCapabilities struct {
	RelatedInformation bool `json:"relatedInformation"`
}

// NotebookDocumentClientCapabilities describes notebook support.
type NotebookDocumentClientCapabilities struct {
	Synchronization NotebookDocumentSyncClientCapabilities `json:"synchronization"`
}

// NotebookDocumentSyncClientCapabilities describes notebook synchronization.
type NotebookDocumentSyncClientCapabilities struct {
	DynamicRegistration     bool `json:"dynamicRegistration"`
	ExecutionSummarySupport bool `json:"executionSummarySupport"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	Capabilities json.RawMessage `json:"capabilities"`
	ServerInfo   *ServerInfo     `json:"serverInfo,omitempty"`
}

// ServerInfo describes the analysis server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ConfigurationItem is one entry of a workspace/configuration request.
type ConfigurationItem struct {
	ScopeURI DocumentURI `json:"scopeUri,omitempty"`
	Section  string      `json:"section,omitempty"`
}

// ConfigurationParams are the params of workspace/configuration.
type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}
