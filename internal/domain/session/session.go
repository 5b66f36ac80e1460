package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/notebook-lsp/internal/kernel"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/process"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
	"github.com/GriffinCanCode/notebook-lsp/internal/notebook"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/id"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/types"
)

var (
	ErrNoSession = errors.New("no session for conversation")
	ErrClosed    = errors.New("session closed")
)

// Session is the live state of one conversation: its notebook synchronizer,
// the analysis server fed from it and the execution engine.
type Session struct {
	conv    string
	log     *logging.Logger
	metrics *monitoring.Metrics
	spawn   SpawnFunc
	breaker *resilience.Breaker
	engine  kernel.Engine
	queue   int

	refs atomic.Int32

	// commitMu keeps storage, cell and execution order in step.
	commitMu sync.Mutex

	// mu orders document traffic to the analysis server.
	mu     sync.Mutex
	docs   *notebook.Synchronizer
	proc   *process.Process
	closed bool

	subsMu sync.RWMutex
	subs   map[id.ConnectionID]*subscriber
}

type subscriber struct {
	ch   chan protocol.Message
	proc *process.Process
}

func newSession(conv string, msgs []types.Message, opts *Options) *Session {
	log := opts.Logger.Conversation(conv)
	s := &Session{
		conv:    conv,
		log:     log,
		metrics: opts.Metrics,
		spawn:   opts.Spawn,
		engine:  opts.Engine(conv),
		queue:   opts.SubscriberQueue,
		docs:    notebook.New(conv, msgs),
		subs:    make(map[id.ConnectionID]*subscriber),
	}
	s.breaker = resilience.New("analysis:"+conv, resilience.Settings{
		Threshold: opts.RespawnFailures,
		Window:    opts.RespawnWindow,
		Cooldown:  opts.RespawnCooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("analysis server respawn guard changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return s
}

// Conversation returns the conversation id.
func (s *Session) Conversation() string { return s.conv }

// Refs returns the number of attached connections.
func (s *Session) Refs() int { return int(s.refs.Load()) }

// Engine returns the execution engine.
func (s *Session) Engine() kernel.Engine { return s.engine }

// NotebookVersion returns the notebook document version.
func (s *Session) NotebookVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.Version()
}

// Cells returns the notebook's cells in order, pending cell last.
func (s *Session) Cells() []notebook.CellRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.Cells()
}

// ServerState returns the analysis server's state, or StateTerminated when
// none is running.
func (s *Session) ServerState() process.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return process.StateTerminated
	}
	return s.proc.State()
}

// ensureProcess returns the running analysis server, starting one from the
// current notebook state if needed. Callers hold s.mu.
func (s *Session) ensureProcess(ctx context.Context) (*process.Process, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.proc != nil && s.proc.State() == process.StateReady {
		return s.proc, nil
	}

	var p *process.Process
	err := s.breaker.Execute(func() error {
		var err error
		if p, err = s.spawn(ctx, s.conv); err != nil {
			return err
		}
		for _, req := range s.docs.Scaffold() {
			if err := p.Notify(req); err != nil {
				p.Kill()
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("start analysis server: %w", err)
	}

	s.proc = p
	go s.pump(p)
	s.log.Info("analysis server attached",
		zap.Int("pid", p.PID()),
		zap.Int("notebook_version", s.docs.Version()))
	return p, nil
}

// pump fans the server's notifications out to subscribers until it exits.
func (s *Session) pump(p *process.Process) {
	for msg := range p.Notifications() {
		s.broadcast(p, msg)
	}

	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
	}
	unexpected := !s.closed
	s.mu.Unlock()

	if unexpected {
		s.breaker.Failure()
		s.log.Warn("analysis server exited", zap.Int("pid", p.PID()))
	}
	s.dropSubscribers(p)
}

func (s *Session) broadcast(p *process.Process, msg protocol.Message) {
	var slow []id.ConnectionID

	s.subsMu.RLock()
	for conn, sub := range s.subs {
		if sub.proc != p {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			slow = append(slow, conn)
		}
	}
	s.subsMu.RUnlock()

	for _, conn := range slow {
		s.log.Warn("dropping slow subscriber", zap.String("connection", conn.String()))
		s.Unsubscribe(conn)
	}
}

func (s *Session) dropSubscribers(p *process.Process) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for conn, sub := range s.subs {
		if p == nil || sub.proc == p {
			delete(s.subs, conn)
			close(sub.ch)
		}
	}
}

// Subscribe attaches a connection to the server's notifications, starting
// the server if it is not running. The channel closes when the server exits,
// the connection is dropped for falling behind, or Unsubscribe is called.
func (s *Session) Subscribe(ctx context.Context, conn id.ConnectionID) (<-chan protocol.Message, error) {
	s.mu.Lock()
	p, err := s.ensureProcess(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	select {
	case <-p.Done():
		return nil, process.ErrProcessTerminated
	default:
	}
	if old, ok := s.subs[conn]; ok {
		close(old.ch)
	}
	sub := &subscriber{ch: make(chan protocol.Message, s.queue), proc: p}
	s.subs[conn] = sub
	return sub.ch, nil
}

// Unsubscribe detaches a connection. Unknown connections are ignored.
func (s *Session) Unsubscribe(conn id.ConnectionID) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if sub, ok := s.subs[conn]; ok {
		delete(s.subs, conn)
		close(sub.ch)
	}
}

// Subscribers returns the number of attached connections.
func (s *Session) Subscribers() int {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	return len(s.subs)
}

// AddCell commits a code message to the notebook and tells the server.
// Non-code and already committed messages are ignored and report false.
func (s *Session) AddCell(msg types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	change, ok := s.docs.AddCell(msg)
	if !ok {
		return false
	}
	if s.proc == nil {
		return true
	}
	if err := s.proc.Notify(change.Request(s.docs.URI())); err != nil {
		s.log.Warn("cell not delivered to analysis server",
			zap.Int("cell", msg.ID), zap.Error(err))
	}
	return true
}

// Committed is the outcome of Commit. Events is set for code messages the
// engine accepted; ExecErr holds the engine's refusal otherwise.
type Committed struct {
	Message types.Message
	Events  <-chan kernel.Event
	ExecErr error
}

// Commit persists a message with store and, for code, adds it as a cell and
// schedules its execution. Commits on one session are serialized, so cells
// and executions follow the order messages were stored in.
func (s *Session) Commit(ctx context.Context, store func(context.Context) (types.Message, error)) (Committed, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	msg, err := store(ctx)
	if err != nil {
		return Committed{}, err
	}
	c := Committed{Message: msg}
	if !msg.IsCode() {
		return c, nil
	}
	s.AddCell(msg)
	c.Events, c.ExecErr = s.engine.Execute(ctx, msg.Content)
	return c, nil
}

// ReplaceBuffer replaces the whole text of one of the notebook's documents.
func (s *Session) ReplaceBuffer(uri protocol.DocumentURI, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	version, err := s.docs.Replace(uri, text)
	if err != nil {
		return err
	}
	if s.proc == nil {
		return nil
	}
	if err := s.proc.Notify(protocol.DidChangeText(uri, version, text)); err != nil {
		s.log.Debug("buffer change not delivered", zap.String("uri", string(uri)), zap.Error(err))
	}
	return nil
}

// Hover asks the server for hover information on behalf of conn.
func (s *Session) Hover(ctx context.Context, conn id.ConnectionID, uri protocol.DocumentURI, pos protocol.Position) (protocol.Message, error) {
	return s.call(ctx, conn, uri, protocol.Hover(uri, pos))
}

// Complete asks the server for completions on behalf of conn.
func (s *Session) Complete(ctx context.Context, conn id.ConnectionID, uri protocol.DocumentURI, pos protocol.Position) (protocol.Message, error) {
	return s.call(ctx, conn, uri, protocol.Completion(uri, pos))
}

func (s *Session) call(ctx context.Context, conn id.ConnectionID, uri protocol.DocumentURI, req protocol.Request) (protocol.Message, error) {
	s.mu.Lock()
	if !s.docs.Contains(uri) {
		s.mu.Unlock()
		return protocol.Message{}, fmt.Errorf("%w: %s", notebook.ErrUnknownDocument, uri)
	}
	p, err := s.ensureProcess(ctx)
	s.mu.Unlock()
	if err != nil {
		return protocol.Message{}, err
	}

	start := time.Now()
	resp, err := p.Call(ctx, req)
	s.log.Debug("analysis request",
		zap.String("connection", conn.String()),
		zap.String("method", req.Method),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return resp, err
}

// shutdown kills the server, stops the engine and closes every subscriber.
func (s *Session) shutdown() {
	s.mu.Lock()
	s.closed = true
	p := s.proc
	s.proc = nil
	s.mu.Unlock()

	if p != nil {
		p.Kill()
	}
	if err := s.engine.Stop(); err != nil {
		s.log.Warn("failed to stop execution engine", zap.Error(err))
	}
	s.dropSubscribers(nil)
	s.log.Info("session closed")
}
