package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/notebook-lsp/internal/domain/session"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/process"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
	"github.com/GriffinCanCode/notebook-lsp/internal/notebook"
)

// LSP relays editor-intelligence traffic between one browser editor and the
// conversation's analysis server. Responses go back only to this connection
// under the id the client used; server notifications are broadcast to every
// editor of the conversation.
func (h *Handler) LSP(c *gin.Context) {
	chat, ok := h.conversation(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	p := newPeer(conn, channelLSP, h.log.Conversation(chat.ID), h.metrics)
	defer p.close()
	go p.writePump()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
	}()

	sess, err := h.registry.Connect(ctx, chat.ID, chat.CodeMessages())
	if err != nil {
		p.closeWith(websocket.CloseInternalServerErr, "session unavailable")
		return
	}
	defer h.registry.Release(sess)

	notes, err := sess.Subscribe(ctx, p.id)
	if err != nil {
		p.log.Warn("analysis server unavailable", zap.Error(err))
		p.closeWith(websocket.CloseTryAgainLater, "analysis server unavailable")
		return
	}
	defer sess.Unsubscribe(p.id)

	p.log.Info("editor connected")

	frames := make(chan []byte)
	go p.readPump(frames)
	limiter := rate.NewLimiter(rate.Limit(h.opts.RequestsPerSecond), h.opts.Burst)

	for {
		select {
		case raw, ok := <-frames:
			if !ok {
				p.log.Info("editor disconnected")
				return
			}
			h.dispatch(ctx, sess, p, limiter, &inflight, raw)

		case msg, ok := <-notes:
			if !ok {
				p.log.Info("analysis server went away, closing editor")
				p.closeWith(websocket.CloseTryAgainLater, "analysis server exited")
				return
			}
			p.write(msg)

		case <-p.done:
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *session.Session, p *peer, limiter *rate.Limiter, inflight *sync.WaitGroup, raw []byte) {
	op, err := ParseOperation(raw)
	if err != nil {
		var fe *FrameError
		if errors.As(err, &fe) {
			if reply, ok := fe.Reply(); ok {
				p.write(reply)
			}
		}
		p.log.Debug("rejected editor frame", zap.Error(err))
		return
	}

	switch op := op.(type) {
	case ReplaceBuffer:
		if err := sess.ReplaceBuffer(op.URI, op.Text); err != nil {
			p.log.Debug("buffer replacement rejected", zap.String("uri", string(op.URI)), zap.Error(err))
		}

	case HoverAt:
		h.request(ctx, p, limiter, inflight, op.ID, func(ctx context.Context) (protocol.Message, error) {
			return sess.Hover(ctx, p.id, op.URI, op.Position)
		})

	case CompleteAt:
		h.request(ctx, p, limiter, inflight, op.ID, func(ctx context.Context) (protocol.Message, error) {
			return sess.Complete(ctx, p.id, op.URI, op.Position)
		})
	}
}

// request runs call off the relay loop and answers under the client's id.
func (h *Handler) request(ctx context.Context, p *peer, limiter *rate.Limiter, inflight *sync.WaitGroup, clientID int64, call func(context.Context) (protocol.Message, error)) {
	if !limiter.Allow() {
		p.write(protocol.ErrorReply(clientID, protocol.CodeRequestFailed, "rate limit exceeded"))
		return
	}

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		resp, err := call(ctx)
		if err != nil {
			p.write(errorReply(clientID, err))
			return
		}
		p.write(protocol.Retag(resp, clientID))
	}()
}

func errorReply(clientID int64, err error) protocol.Message {
	code := protocol.CodeRequestFailed
	switch {
	case errors.Is(err, notebook.ErrUnknownDocument):
		code = protocol.CodeInvalidParams
	case errors.Is(err, context.Canceled):
		code = protocol.CodeRequestCancelled
	case errors.Is(err, process.ErrNotReady):
		code = protocol.CodeServerNotInitialized
	}
	return protocol.ErrorReply(clientID, code, err.Error())
}
