package notebook

import (
	"errors"
	"fmt"
	"slices"

	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/types"
)

// ErrUnknownDocument is returned when an edit targets a URI outside the notebook.
var ErrUnknownDocument = errors.New("unknown document")

// CellRecord is the text document behind one notebook cell.
type CellRecord struct {
	URI     protocol.DocumentURI
	Version int
	Text    string
}

// Item returns the record as an open-able text document.
func (c CellRecord) Item() protocol.TextDocumentItem {
	return protocol.TextDocumentItem{
		URI:        c.URI,
		LanguageID: protocol.LanguagePython,
		Version:    c.Version,
		Text:       c.Text,
	}
}

func codeCell(uri protocol.DocumentURI) protocol.NotebookCell {
	return protocol.NotebookCell{Kind: protocol.CellKindCode, Document: uri}
}

// BuildScaffold builds the notebook for a conversation's history. Only code
// messages become cells; the pending cell is appended last, empty, version 1.
func BuildScaffold(conv string, version int, msgs []types.Message) (protocol.NotebookDocument, []CellRecord) {
	doc := protocol.NotebookDocument{
		URI:          NotebookURI(conv),
		NotebookType: NotebookType,
		Version:      version,
		Cells:        []protocol.NotebookCell{},
	}
	records := make([]CellRecord, 0, len(msgs)+1)

	for _, m := range msgs {
		if !m.IsCode() {
			continue
		}
		uri := CellURI(conv, m.ID)
		doc.Cells = append(doc.Cells, codeCell(uri))
		records = append(records, CellRecord{URI: uri, Version: 1, Text: m.Content})
	}

	pending := PendingURI(conv)
	doc.Cells = append(doc.Cells, codeCell(pending))
	records = append(records, CellRecord{URI: pending, Version: 1})

	return doc, records
}

// Change is one structural update of the notebook.
type Change struct {
	Index   int
	Version int
	Cell    CellRecord
}

// Request returns the notebookDocument/didChange notification for c.
func (c Change) Request(uri protocol.DocumentURI) protocol.Request {
	return protocol.DidChangeNotebook(uri, c.Version, c.Index, 0,
		[]protocol.NotebookCell{codeCell(c.Cell.URI)},
		[]protocol.TextDocumentItem{c.Cell.Item()},
	)
}

// Synchronizer holds the notebook state mirrored into the analysis server.
// It is not safe for concurrent use; the owning session serializes access.
type Synchronizer struct {
	conv    string
	uri     protocol.DocumentURI
	version int
	cells   []CellRecord
	index   map[protocol.DocumentURI]int
	ids     map[protocol.DocumentURI]int
}

// New builds a synchronizer from the conversation's messages at version 1.
func New(conv string, msgs []types.Message) *Synchronizer {
	doc, records := BuildScaffold(conv, 1, msgs)
	s := &Synchronizer{
		conv:    conv,
		uri:     doc.URI,
		version: doc.Version,
		cells:   records,
		index:   make(map[protocol.DocumentURI]int, len(records)),
		ids:     make(map[protocol.DocumentURI]int, len(records)),
	}
	for i, r := range records {
		s.index[r.URI] = i
	}
	for _, m := range msgs {
		if m.IsCode() {
			s.ids[CellURI(conv, m.ID)] = m.ID
		}
	}
	return s
}

// URI returns the notebook document URI.
func (s *Synchronizer) URI() protocol.DocumentURI { return s.uri }

// Version returns the notebook version.
func (s *Synchronizer) Version() int { return s.version }

// Len returns the number of cells including the pending cell.
func (s *Synchronizer) Len() int { return len(s.cells) }

// Cells returns a copy of the cell records in notebook order.
func (s *Synchronizer) Cells() []CellRecord {
	out := make([]CellRecord, len(s.cells))
	copy(out, s.cells)
	return out
}

// Contains reports whether uri is a document of this notebook.
func (s *Synchronizer) Contains(uri protocol.DocumentURI) bool {
	_, ok := s.index[uri]
	return ok
}

// Pending returns the current pending cell.
func (s *Synchronizer) Pending() CellRecord {
	return s.cells[len(s.cells)-1]
}

// Scaffold returns the notifications that open the current state in a fresh
// analysis server: the notebook with every cell's text, then the pending cell.
func (s *Synchronizer) Scaffold() []protocol.Request {
	doc := protocol.NotebookDocument{
		URI:          s.uri,
		NotebookType: NotebookType,
		Version:      s.version,
		Cells:        make([]protocol.NotebookCell, 0, len(s.cells)),
	}
	items := make([]protocol.TextDocumentItem, 0, len(s.cells))
	for _, c := range s.cells {
		doc.Cells = append(doc.Cells, codeCell(c.URI))
		items = append(items, c.Item())
	}
	return []protocol.Request{
		protocol.DidOpenNotebook(doc, items),
		protocol.DidOpenText(s.Pending().Item()),
	}
}

// AddCell inserts a committed code message among the cells in message id
// order, which for the newest message is right before the pending cell, and
// bumps the notebook version. Non-code messages and cells already present
// are ignored and report false.
func (s *Synchronizer) AddCell(msg types.Message) (Change, bool) {
	if !msg.IsCode() {
		return Change{}, false
	}
	uri := CellURI(s.conv, msg.ID)
	if s.Contains(uri) {
		return Change{}, false
	}

	at := len(s.cells) - 1
	for at > 0 && s.ids[s.cells[at-1].URI] > msg.ID {
		at--
	}
	rec := CellRecord{URI: uri, Version: 1, Text: msg.Content}
	s.cells = slices.Insert(s.cells, at, rec)
	for i := at; i < len(s.cells); i++ {
		s.index[s.cells[i].URI] = i
	}
	s.ids[uri] = msg.ID
	s.version++

	return Change{Index: at, Version: s.version, Cell: rec}, true
}

// Replace swaps the whole text of a document and returns its new version.
// The notebook version does not change.
func (s *Synchronizer) Replace(uri protocol.DocumentURI, text string) (int, error) {
	i, ok := s.index[uri]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	s.cells[i].Version++
	s.cells[i].Text = text
	return s.cells[i].Version, nil
}
