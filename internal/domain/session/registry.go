package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/kernel"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/process"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/types"
)

// SpawnFunc starts an analysis server for a conversation and completes its
// handshake.
type SpawnFunc func(ctx context.Context, conv string) (*process.Process, error)

// EngineFunc creates the execution engine for a conversation.
type EngineFunc func(conv string) kernel.Engine

// Options configures a Registry.
type Options struct {
	Spawn  SpawnFunc
	Engine EngineFunc

	// RespawnFailures server exits within RespawnWindow stop respawns for
	// RespawnCooldown.
	RespawnFailures int
	RespawnWindow   time.Duration
	RespawnCooldown time.Duration
	SubscriberQueue int

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// ProcessSpawner returns a SpawnFunc that runs cfg as a subprocess.
func ProcessSpawner(cfg process.Config, log *logging.Logger, metrics *monitoring.Metrics) SpawnFunc {
	return func(ctx context.Context, conv string) (*process.Process, error) {
		return process.Spawn(ctx, cfg, log.Conversation(conv), metrics)
	}
}

// Registry owns the live sessions, one per conversation, reference counted
// by attached connections.
type Registry struct {
	opts Options
	log  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Spawn == nil {
		opts.Spawn = func(context.Context, string) (*process.Process, error) {
			return nil, errors.New("no analysis server configured")
		}
	}
	if opts.Engine == nil {
		opts.Engine = func(string) kernel.Engine { return kernel.Disabled{} }
	}
	if opts.RespawnFailures <= 0 {
		opts.RespawnFailures = 3
	}
	if opts.SubscriberQueue <= 0 {
		opts.SubscriberQueue = 256
	}
	return &Registry{
		opts:     opts,
		log:      opts.Logger.Named("sessions"),
		sessions: make(map[string]*Session),
	}
}

// Connect returns the session for conv, creating it from msgs on first use.
// Creation starts the execution engine and the analysis server and opens the
// notebook in it. A server that fails to start is logged and retried on the
// next request; the session is still usable for execution.
func (r *Registry) Connect(ctx context.Context, conv string, msgs []types.Message) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[conv]; ok {
		s.refs.Add(1)
		return s, nil
	}

	s := newSession(conv, msgs, &r.opts)
	if err := s.engine.Start(ctx); err != nil {
		s.log.Warn("execution engine unavailable", zap.Error(err))
	}

	s.mu.Lock()
	_, err := s.ensureProcess(ctx)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("analysis server unavailable", zap.Error(err))
	}

	s.refs.Store(1)
	r.sessions[conv] = s
	r.opts.Metrics.IncSessionsTotal()
	r.opts.Metrics.SetSessionsActive(len(r.sessions))
	return s, nil
}

// Disconnect drops one reference to conv's session and tears it down when
// none remain. It reports whether the session was torn down.
func (r *Registry) Disconnect(conv string) bool {
	r.mu.Lock()
	s, ok := r.sessions[conv]
	last := ok && r.release(s)
	r.mu.Unlock()

	if last {
		s.shutdown()
	}
	return last
}

// Release is Disconnect for a session the caller holds; it does nothing if
// that session has already been replaced or removed.
func (r *Registry) Release(s *Session) bool {
	r.mu.Lock()
	last := r.sessions[s.conv] == s && r.release(s)
	r.mu.Unlock()

	if last {
		s.shutdown()
	}
	return last
}

// release drops a reference and unregisters s when it was the last one. It
// is called with r.mu held; the caller shuts s down after unlocking so a slow
// teardown never blocks other conversations.
func (r *Registry) release(s *Session) bool {
	if s.refs.Add(-1) > 0 {
		return false
	}
	delete(r.sessions, s.conv)
	r.opts.Metrics.SetSessionsActive(len(r.sessions))
	return true
}

// Lookup returns the live session for conv.
func (r *Registry) Lookup(conv string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[conv]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close tears down every session regardless of references.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for conv, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, conv)
	}
	r.opts.Metrics.SetSessionsActive(0)
	r.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
	r.log.Info("all sessions closed")
}
