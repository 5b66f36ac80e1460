package notebook

import (
	"fmt"

	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
)

// NotebookType is announced for every notebook document.
const NotebookType = "notebook"

// CellURI returns the document URI of a committed cell. It depends only on
// the conversation and the cell id, so it never changes once assigned.
func CellURI(conv string, cellID int) protocol.DocumentURI {
	return protocol.DocumentURI(fmt.Sprintf("file:///%s/cells/%d", conv, cellID))
}

// PendingURI returns the URI of the conversation's scratch buffer.
func PendingURI(conv string) protocol.DocumentURI {
	return protocol.DocumentURI(fmt.Sprintf("file:///%s/cells/pending", conv))
}

// NotebookURI returns the URI of the notebook document itself.
func NotebookURI(conv string) protocol.DocumentURI {
	return protocol.DocumentURI(fmt.Sprintf("file:///%s.ipynb", conv))
}
