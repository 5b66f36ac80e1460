package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/id"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Whole-buffer replacements
	// carry the full cell text.
	maxMessageSize = 1 << 20

	sendQueue = 256
)

const (
	channelLSP  = "lsp"
	channelChat = "chat"
)

// peer is one WebSocket connection with a single writer goroutine.
type peer struct {
	id      id.ConnectionID
	channel string
	conn    *websocket.Conn
	log     *logging.Logger
	metrics *monitoring.Metrics

	send chan any
	done chan struct{}
	once sync.Once
}

func newPeer(conn *websocket.Conn, channel string, log *logging.Logger, metrics *monitoring.Metrics) *peer {
	connID := id.NewConnectionID()
	metrics.IncWSConnections(channel)
	return &peer{
		id:      connID,
		channel: channel,
		conn:    conn,
		log:     log.With(zap.String("connection", connID.String()), zap.String("channel", channel)),
		metrics: metrics,
		send:    make(chan any, sendQueue),
		done:    make(chan struct{}),
	}
}

// readPump forwards text frames until the connection fails, then closes
// frames.
func (p *peer) readPump(frames chan<- []byte) {
	defer close(frames)

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				p.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		p.metrics.RecordWSMessage(p.channel, "in")

		select {
		case frames <- message:
		case <-p.done:
			return
		}
	}
}

// writePump is the only goroutine writing data frames.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case v := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(v); err != nil {
				p.log.Debug("websocket write failed", zap.Error(err))
				return
			}
			p.metrics.RecordWSMessage(p.channel, "out")

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			return
		}
	}
}

// write queues v for the writer. It reports false once the peer is closed.
func (p *peer) write(v any) bool {
	select {
	case p.send <- v:
		return true
	case <-p.done:
		return false
	}
}

// closeWith flushes queued frames, sends a close frame and closes.
func (p *peer) closeWith(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	for len(p.send) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	p.close()
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
		p.metrics.DecWSConnections(p.channel)
	})
}
