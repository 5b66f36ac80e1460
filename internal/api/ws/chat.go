package ws

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/domain/session"
	"github.com/GriffinCanCode/notebook-lsp/internal/kernel"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/types"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/utils"
)

// Chat stores the messages a client commits to a conversation, acknowledges
// each under its permanent id, commits code to the notebook and streams the
// execution of code cells.
func (h *Handler) Chat(c *gin.Context) {
	chat, ok := h.conversation(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	p := newPeer(conn, channelChat, h.log.Conversation(chat.ID), h.metrics)
	defer p.close()
	go p.writePump()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	var running sync.WaitGroup
	defer func() {
		cancel()
		running.Wait()
	}()

	sess, err := h.registry.Connect(ctx, chat.ID, chat.CodeMessages())
	if err != nil {
		p.closeWith(websocket.CloseInternalServerErr, "session unavailable")
		return
	}
	defer h.registry.Release(sess)

	frames := make(chan []byte)
	go p.readPump(frames)

	for {
		select {
		case raw, ok := <-frames:
			if !ok {
				return
			}
			h.commit(ctx, sess, p, &running, raw)
		case <-p.done:
			return
		}
	}
}

func (h *Handler) commit(ctx context.Context, sess *session.Session, p *peer, running *sync.WaitGroup, raw []byte) {
	var frame types.ChatFrame
	if err := sonic.Unmarshal(raw, &frame); err != nil {
		p.write(types.ErrorFrame{Result: types.ResultError, Message: "malformed frame"})
		return
	}
	if !frame.Type.Valid() || frame.Type == types.MessageLLM {
		p.write(types.ErrorFrame{Result: types.ResultError, TmpID: frame.ID, Message: "unsupported message type"})
		return
	}
	if err := utils.ValidateContent(frame.Content); err != nil {
		p.write(types.ErrorFrame{Result: types.ResultError, TmpID: frame.ID, Message: err.Error()})
		return
	}

	committed, err := sess.Commit(ctx, func(ctx context.Context) (types.Message, error) {
		return h.store.Append(ctx, sess.Conversation(), types.Message{Type: frame.Type, Content: frame.Content})
	})
	if err != nil {
		p.log.Error("failed to store message", zap.Error(err))
		p.write(types.ErrorFrame{Result: types.ResultError, TmpID: frame.ID, Message: "failed to store message"})
		return
	}
	msg := committed.Message

	p.write(types.Ack{Result: types.ResultCreated, TmpID: frame.ID, ID: msg.ID})
	if !msg.IsCode() {
		return
	}

	events, err := committed.Events, committed.ExecErr
	if err != nil {
		p.log.Warn("execution refused", zap.Int("message", msg.ID), zap.Error(err))
		p.write(types.ExecutionFrame{ID: msg.ID, Result: types.ResultCodeExecution, Type: string(kernel.EventError), Content: err.Error()})
		h.finish(ctx, sess.Conversation(), msg.ID, []types.Output{{Type: string(kernel.EventError), Content: err.Error()}})
		return
	}

	running.Add(1)
	go func() {
		defer running.Done()
		h.stream(ctx, sess.Conversation(), p, msg.ID, events)
	}()
}

// stream relays execution events and records their output on the message.
func (h *Handler) stream(ctx context.Context, conv string, p *peer, msgID int, events <-chan kernel.Event) {
	h.setStatus(ctx, conv, msgID, types.ExecutionStarted)

	var outputs []types.Output
	for ev := range events {
		ev = h.sanitize(ev)
		if ev.Type != kernel.EventStatus {
			outputs = append(outputs, types.Output{Type: string(ev.Type), Content: ev.Content})
		}
		p.write(types.ExecutionFrame{ID: msgID, Result: types.ResultCodeExecution, Type: string(ev.Type), Content: ev.Content})
	}

	h.finish(ctx, conv, msgID, outputs)
}

func (h *Handler) setStatus(ctx context.Context, conv string, msgID int, status types.ExecutionStatus) {
	_, err := h.store.Update(ctx, conv, msgID, func(m *types.Message) {
		m.ExecutionStatus = status
	})
	if err != nil {
		h.log.Warn("failed to update execution status", zap.String("conversation", conv), zap.Int("message", msgID), zap.Error(err))
	}
}

func (h *Handler) finish(ctx context.Context, conv string, msgID int, outputs []types.Output) {
	_, err := h.store.Update(context.WithoutCancel(ctx), conv, msgID, func(m *types.Message) {
		m.ExecutionStatus = types.ExecutionDone
		m.Output = append(m.Output, outputs...)
	})
	if err != nil {
		h.log.Warn("failed to record execution output", zap.String("conversation", conv), zap.Int("message", msgID), zap.Error(err))
	}
}

// sanitize strips active content from HTML produced by user code before it
// reaches other browsers.
func (h *Handler) sanitize(ev kernel.Event) kernel.Event {
	if data, ok := ev.Content.(kernel.DataContent); ok && data.Type == "text/html" {
		data.Data = h.policy.Sanitize(data.Data)
		ev.Content = data
	}
	return ev
}
