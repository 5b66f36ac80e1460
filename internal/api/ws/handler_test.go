package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/notebook-lsp/internal/domain/conversation"
	"github.com/GriffinCanCode/notebook-lsp/internal/domain/session"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/kernel"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/lsptest"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/process"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
	"github.com/GriffinCanCode/notebook-lsp/internal/notebook"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/types"
)

const waitFor = 2 * time.Second

// scriptedEngine replays the same events for every execution.
type scriptedEngine struct {
	events []kernel.Event
}

func (e *scriptedEngine) Start(context.Context) error { return nil }
func (e *scriptedEngine) Stop() error                 { return nil }

func (e *scriptedEngine) Execute(context.Context, string) (<-chan kernel.Event, error) {
	ch := make(chan kernel.Event, len(e.events))
	for _, ev := range e.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type env struct {
	t        *testing.T
	url      string
	store    *conversation.FileStore
	registry *session.Registry
	conv     string

	mu      sync.Mutex
	servers []*lsptest.Server
	silence []string
}

func newEnv(t *testing.T, opts Options, requestTimeout time.Duration, silence ...string) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := conversation.NewFileStore(t.TempDir(), logging.NewNop())
	require.NoError(t, err)

	e := &env{t: t, store: store, silence: silence}
	engine := &scriptedEngine{events: []kernel.Event{
		{Type: kernel.EventStatus, Content: kernel.StatusBusy},
		{Type: kernel.EventStream, Content: kernel.StreamContent{Name: "stdout", Text: "100\n"}},
		{Type: kernel.EventData, Content: kernel.DataContent{Type: "text/html", Data: `<b>ok</b><script>alert(1)</script>`}},
		{Type: kernel.EventStatus, Content: kernel.StatusIdle},
	}}

	metrics := monitoring.NewMetrics()
	e.registry = session.NewRegistry(session.Options{
		Spawn: func(ctx context.Context, _ string) (*process.Process, error) {
			srv := lsptest.NewServer().Silence(e.silence...)
			e.mu.Lock()
			e.servers = append(e.servers, srv)
			e.mu.Unlock()
			r, w, closer := srv.Pipe()
			cfg := process.Config{InitTimeout: waitFor, RequestTimeout: requestTimeout}
			return process.Attach(ctx, r, w, closer, cfg, logging.NewNop(), metrics)
		},
		Engine:  func(string) kernel.Engine { return engine },
		Logger:  logging.NewNop(),
		Metrics: metrics,
	})
	t.Cleanup(e.registry.Close)

	router := gin.New()
	NewHandler(store, e.registry, logging.NewNop(), metrics, opts).Register(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	e.url = "ws" + strings.TrimPrefix(srv.URL, "http")

	chat, err := store.Create(context.Background(), "test")
	require.NoError(t, err)
	_, err = store.Append(context.Background(), chat.ID, types.Message{Type: types.MessageCode, Content: "x=100"})
	require.NoError(t, err)
	e.conv = chat.ID
	return e
}

func (e *env) server(i int) *lsptest.Server {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.servers[i]
}

func (e *env) dial(path string) *websocket.Conn {
	e.t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.url+path, nil)
	require.NoError(e.t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	e.t.Cleanup(func() { conn.Close() })
	return conn
}

func (e *env) editor() *websocket.Conn { return e.dial("/ws/" + e.conv + "/lsp") }
func (e *env) chat() *websocket.Conn   { return e.dial("/ws/" + e.conv) }

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func hoverFrame(id int, uri protocol.DocumentURI) string {
	return `{"jsonrpc":"2.0","id":` + strconv.Itoa(id) + `,"method":"textDocument/hover","params":{"textDocument":{"uri":"` + string(uri) + `"},"position":{"line":0,"character":1}}}`
}

func completionFrame(id int, uri protocol.DocumentURI) string {
	return `{"jsonrpc":"2.0","id":` + strconv.Itoa(id) + `,"method":"textDocument/completion","params":{"textDocument":{"uri":"` + string(uri) + `"},"position":{"line":0,"character":1}}}`
}

func TestResponsesReachOnlyTheIssuer(t *testing.T) {
	e := newEnv(t, Options{}, waitFor)
	a := e.editor()
	b := e.editor()

	cell := notebook.CellURI(e.conv, 0)
	pending := notebook.PendingURI(e.conv)
	pos := protocol.Position{Line: 0, Character: 1}

	// Both editors use the same client id.
	send(t, a, hoverFrame(7, cell))
	send(t, b, completionFrame(7, pending))

	fromA := read(t, a)
	require.NotNil(t, fromA.ID)
	assert.Equal(t, int64(7), *fromA.ID)
	assert.Contains(t, string(fromA.Result), lsptest.HoverText(cell, pos))

	fromB := read(t, b)
	require.NotNil(t, fromB.ID)
	assert.Equal(t, int64(7), *fromB.ID)
	assert.Contains(t, string(fromB.Result), lsptest.CompletionLabel(pos))
	assert.NotContains(t, string(fromB.Result), "hover")

	require.NoError(t, e.server(0).Publish(protocol.MethodPublishDiagnostics, map[string]any{
		"uri":         pending,
		"diagnostics": []any{},
	}))
	for _, conn := range []*websocket.Conn{a, b} {
		msg := read(t, conn)
		assert.Equal(t, protocol.MethodPublishDiagnostics, msg.Method)
		assert.Nil(t, msg.ID)
	}

	s, ok := e.registry.Lookup(e.conv)
	require.True(t, ok)
	assert.Equal(t, 2, s.Refs())
}

func TestUnsupportedRequestGetsError(t *testing.T) {
	e := newEnv(t, Options{}, waitFor)
	conn := e.editor()

	send(t, conn, `{"jsonrpc":"2.0","id":3,"method":"textDocument/definition","params":{}}`)
	msg := read(t, conn)
	require.NotNil(t, msg.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, msg.Error.Code)
	assert.Equal(t, int64(3), *msg.ID)

	send(t, conn, hoverFrame(4, "file:///elsewhere.py"))
	msg = read(t, conn)
	require.NotNil(t, msg.Error)
	assert.Equal(t, protocol.CodeInvalidParams, msg.Error.Code)
}

func TestBufferReplacementReachesServer(t *testing.T) {
	e := newEnv(t, Options{}, waitFor)
	conn := e.editor()
	pending := notebook.PendingURI(e.conv)

	send(t, conn, `{"jsonrpc":"2.0","method":"textDocument/didChange","params":{"textDocument":{"uri":"`+string(pending)+`","version":9},"contentChanges":[{"text":"import o"}]}}`)
	send(t, conn, completionFrame(1, pending))
	msg := read(t, conn)
	assert.Nil(t, msg.Error)

	changes := e.server(0).Received(protocol.MethodDidChange)
	require.Len(t, changes, 1)
	assert.Contains(t, string(changes[0].Params), `"text":"import o"`)
	assert.Contains(t, string(changes[0].Params), `"version":2`)
}

func TestRequestTimeoutBecomesError(t *testing.T) {
	e := newEnv(t, Options{}, 100*time.Millisecond, protocol.MethodHover)
	conn := e.editor()

	send(t, conn, hoverFrame(2, notebook.PendingURI(e.conv)))
	msg := read(t, conn)
	require.NotNil(t, msg.Error)
	assert.Equal(t, protocol.CodeRequestFailed, msg.Error.Code)
	assert.Contains(t, msg.Error.Message, process.ErrProtocolTimeout.Error())
}

func TestRequestsAreRateLimited(t *testing.T) {
	e := newEnv(t, Options{RequestsPerSecond: 1, Burst: 1}, waitFor)
	conn := e.editor()

	send(t, conn, hoverFrame(1, notebook.PendingURI(e.conv)))
	send(t, conn, hoverFrame(2, notebook.PendingURI(e.conv)))

	var limited int
	for i := 0; i < 2; i++ {
		if msg := read(t, conn); msg.Error != nil {
			assert.Contains(t, msg.Error.Message, "rate limit")
			limited++
		}
	}
	assert.Equal(t, 1, limited)
}

func TestEditorClosedWhenServerExits(t *testing.T) {
	e := newEnv(t, Options{}, waitFor)
	conn := e.editor()

	// One round trip guarantees the relay is subscribed.
	send(t, conn, hoverFrame(1, notebook.PendingURI(e.conv)))
	read(t, conn)

	require.NoError(t, e.server(0).Crash())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestUnknownConversation(t *testing.T) {
	e := newEnv(t, Options{}, waitFor)

	_, resp, err := websocket.DefaultDialer.Dial(e.url+"/ws/6f1c1d2e-8a43-4b55-9a9e-3f0f4b1c2d3e/lsp", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(e.url+"/ws/not-an-id", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatExecutesCode(t *testing.T) {
	e := newEnv(t, Options{}, waitFor)
	conn := e.chat()

	send(t, conn, `{"id":"tmp-1","type":"code","content":"print(x)"}`)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	var ack types.Ack
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, types.Ack{Result: types.ResultCreated, TmpID: "tmp-1", ID: 1}, ack)

	var frames []map[string]any
	for len(frames) < 4 {
		var f map[string]any
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
	}
	for _, f := range frames {
		assert.Equal(t, float64(1), f["id"])
		assert.Equal(t, types.ResultCodeExecution, f["result"])
	}
	assert.Equal(t, "status", frames[0]["type"])
	assert.Equal(t, "busy", frames[0]["content"])
	assert.Equal(t, map[string]any{"type": "text/html", "data": "<b>ok</b>"}, frames[2]["content"])
	assert.Equal(t, "idle", frames[3]["content"])

	assert.Eventually(t, func() bool {
		chat, err := e.store.Read(context.Background(), e.conv)
		if err != nil || len(chat.Messages) != 2 {
			return false
		}
		m := chat.Messages[1]
		return m.ExecutionStatus == types.ExecutionDone && len(m.Output) == 2
	}, waitFor, 10*time.Millisecond)

	s, ok := e.registry.Lookup(e.conv)
	require.True(t, ok)
	assert.Equal(t, 2, s.NotebookVersion())
}

func TestChatStoresTextAndRejectsLLM(t *testing.T) {
	e := newEnv(t, Options{}, waitFor)
	conn := e.chat()

	send(t, conn, `{"id":"a","type":"text","content":"notes"}`)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	var ack types.Ack
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "a", ack.TmpID)
	assert.Equal(t, 1, ack.ID)

	send(t, conn, `{"id":"b","type":"llm","content":"pretend"}`)
	var rejected types.ErrorFrame
	require.NoError(t, conn.ReadJSON(&rejected))
	assert.Equal(t, types.ResultError, rejected.Result)
	assert.Equal(t, "b", rejected.TmpID)

	chat, err := e.store.Read(context.Background(), e.conv)
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 2)

	s, ok := e.registry.Lookup(e.conv)
	require.True(t, ok)
	assert.Equal(t, 1, s.NotebookVersion())
}
