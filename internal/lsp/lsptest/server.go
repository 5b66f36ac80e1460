// Package lsptest provides an in-memory analysis server for tests.
package lsptest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/codec"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
)

// Server is a scripted language server. It answers initialize, hover and
// completion, records everything it receives and can publish notifications
// or send requests of its own.
type Server struct {
	mu       sync.Mutex
	received []protocol.Message
	silent   map[string]bool
	enc      *codec.Encoder
	out      io.Closer
	nextID   int64
}

// NewServer returns a server that answers every supported method.
func NewServer() *Server {
	return &Server{silent: make(map[string]bool)}
}

// Silence makes the server ignore requests for the given methods.
func (s *Server) Silence(methods ...string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range methods {
		s.silent[m] = true
	}
	return s
}

// Pipe serves s on in-memory streams and returns the client's ends. closer
// tears down both directions, like killing a real process.
func (s *Server) Pipe() (r io.Reader, w io.Writer, closer func() error) {
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	go func() {
		_ = s.Serve(serverR, serverW)
		_ = serverW.Close()
	}()

	return clientR, clientW, func() error {
		_ = clientW.Close()
		return clientR.Close()
	}
}

// Serve answers requests read from r on w until r is exhausted.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	s.mu.Lock()
	s.enc = codec.NewEncoder(w)
	if c, ok := w.(io.Closer); ok {
		s.out = c
	}
	s.mu.Unlock()

	dec := codec.NewDecoder(r)
	for raw := range dec.Messages() {
		msg, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, msg)
		silent := s.silent[msg.Method]
		s.mu.Unlock()

		if msg.Kind() != protocol.KindRequest || silent {
			continue
		}
		if err := s.encoder().Encode(s.reply(msg)); err != nil {
			return err
		}
	}
	return dec.Err()
}

func (s *Server) encoder() *codec.Encoder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc
}

func (s *Server) reply(req protocol.Message) protocol.Message {
	id := *req.ID
	switch req.Method {
	case protocol.MethodInitialize:
		return protocol.Reply(id, map[string]any{
			"capabilities": map[string]any{
				"textDocumentSync":     1,
				"hoverProvider":        true,
				"completionProvider":   map[string]any{"triggerCharacters": []string{"."}},
				"notebookDocumentSync": map[string]any{"notebookSelector": []any{map[string]any{"notebook": "*"}}},
			},
			"serverInfo": map[string]any{"name": "lsptest", "version": "1"},
		})
	case protocol.MethodHover:
		var p protocol.HoverParams
		_ = json.Unmarshal(req.Params, &p)
		return protocol.Reply(id, map[string]any{
			"contents": map[string]any{"kind": "markdown", "value": HoverText(p.TextDocument.URI, p.Position)},
		})
	case protocol.MethodCompletion:
		var p protocol.CompletionParams
		_ = json.Unmarshal(req.Params, &p)
		return protocol.Reply(id, map[string]any{
			"isIncomplete": false,
			"items":        []any{map[string]any{"label": CompletionLabel(p.Position)}},
		})
	default:
		return protocol.ErrorReply(id, protocol.CodeMethodNotFound, "unhandled method "+req.Method)
	}
}

// HoverText is the markdown the server returns for a hover at pos.
func HoverText(uri protocol.DocumentURI, pos protocol.Position) string {
	return fmt.Sprintf("hover %s %d:%d", uri, pos.Line, pos.Character)
}

// CompletionLabel is the single completion item returned at pos.
func CompletionLabel(pos protocol.Position) string {
	return fmt.Sprintf("item_%d_%d", pos.Line, pos.Character)
}

// Publish sends a notification to the client.
func (s *Server) Publish(method string, params any) error {
	enc := s.encoder()
	if enc == nil {
		return io.ErrClosedPipe
	}
	return enc.Encode(protocol.Request{JSONRPC: protocol.Version, Method: method, Params: params})
}

// Request sends a server-initiated request and returns its id.
func (s *Server) Request(method string, params any) (int64, error) {
	enc := s.encoder()
	if enc == nil {
		return 0, io.ErrClosedPipe
	}
	s.mu.Lock()
	s.nextID++
	id := 1000 + s.nextID
	s.mu.Unlock()
	return id, enc.Encode(protocol.Request{JSONRPC: protocol.Version, Method: method, Params: params}.WithID(id))
}

// Crash closes the server's output, which the client sees as EOF.
func (s *Server) Crash() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return io.ErrClosedPipe
	}
	return s.out.Close()
}

// Received returns the messages received for method, in order. An empty
// method selects responses to server-initiated requests.
func (s *Server) Received(method string) []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Message
	for _, m := range s.received {
		if m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

// Methods returns the method of every message received so far.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.received))
	for _, m := range s.received {
		out = append(out, m.Method)
	}
	return out
}

// WaitFor polls until at least n messages for method arrived or timeout
// elapses, and returns what it saw.
func (s *Server) WaitFor(method string, n int, timeout time.Duration) []protocol.Message {
	deadline := time.Now().Add(timeout)
	for {
		got := s.Received(method)
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ServeStdio serves a fresh server on the process's stdin and stdout. Test
// binaries call it when re-executed as a helper analysis server.
func ServeStdio(silent ...string) error {
	return NewServer().Silence(silent...).Serve(os.Stdin, os.Stdout)
}
