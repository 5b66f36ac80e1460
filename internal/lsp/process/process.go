package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/codec"
	"github.com/GriffinCanCode/notebook-lsp/internal/lsp/protocol"
)

var (
	// ErrProcessTerminated is returned for requests that cannot complete
	// because the analysis server exited or was killed.
	ErrProcessTerminated = errors.New("analysis server terminated")
	// ErrProtocolTimeout is returned when a correlated response does not
	// arrive before the deadline.
	ErrProtocolTimeout = errors.New("analysis server did not respond in time")
	// ErrNotReady is returned for requests sent before the handshake completed.
	ErrNotReady = errors.New("analysis server not ready")
)

// State is the handshake state of an analysis server.
type State int32

const (
	StateSpawned State = iota
	StateAwaitReady
	StateReady
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateAwaitReady:
		return "await_ready"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config describes how to start and talk to an analysis server.
type Config struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	RootURI        protocol.DocumentURI
	InitTimeout    time.Duration
	RequestTimeout time.Duration
	// QueueSize bounds notifications buffered for the consumer.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.InitTimeout <= 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RootURI == "" {
		c.RootURI = "file:///"
	}
	return c
}

// Process is one running analysis server speaking JSON-RPC over a stream
// pair. All writes go through a single encoder so frames never interleave.
type Process struct {
	cfg     Config
	log     *logging.Logger
	metrics *monitoring.Metrics
	enc     *codec.Encoder
	kill    func() error
	wait    func() error
	pid     int

	state  atomic.Int32
	nextID atomic.Int64
	live   atomic.Bool

	mu      sync.Mutex
	pending map[int64]chan protocol.Message

	notifications chan protocol.Message
	done          chan struct{}
	termOnce      sync.Once
}

// Spawn starts cfg.Command and completes the initialize handshake. ctx
// bounds the handshake only; the process lives until Kill or exit.
func Spawn(ctx context.Context, cfg Config, log *logging.Logger, metrics *monitoring.Metrics) (*Process, error) {
	if cfg.Command == "" {
		return nil, errors.New("spawn analysis server: no command configured")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn analysis server: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn analysis server: %w", err)
	}
	stderr := log.Writer(zapcore.WarnLevel, "analysis server stderr")
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		metrics.RecordSpawn("error", 0)
		return nil, fmt.Errorf("spawn analysis server %q: %w", cfg.Command, err)
	}

	p := newProcess(cfg, log.With(zap.Int("pid", cmd.Process.Pid)), metrics, stdin)
	p.pid = cmd.Process.Pid
	p.kill = func() error {
		_ = stdin.Close()
		return cmd.Process.Kill()
	}
	p.wait = func() error {
		defer stderr.Close()
		return cmd.Wait()
	}

	if err := p.start(ctx, stdout); err != nil {
		return nil, err
	}
	return p, nil
}

// Attach runs the handshake over an existing stream pair. closer is called
// once on termination and must unblock reads from r.
func Attach(ctx context.Context, r io.Reader, w io.Writer, closer func() error, cfg Config, log *logging.Logger, metrics *monitoring.Metrics) (*Process, error) {
	p := newProcess(cfg, log, metrics, w)
	p.kill = closer
	if err := p.start(ctx, r); err != nil {
		return nil, err
	}
	return p, nil
}

func newProcess(cfg Config, log *logging.Logger, metrics *monitoring.Metrics, w io.Writer) *Process {
	cfg = cfg.withDefaults()
	return &Process{
		cfg:           cfg,
		log:           log,
		metrics:       metrics,
		enc:           codec.NewEncoder(w),
		pending:       make(map[int64]chan protocol.Message),
		notifications: make(chan protocol.Message, cfg.QueueSize),
		done:          make(chan struct{}),
	}
}

func (p *Process) start(ctx context.Context, r io.Reader) error {
	begin := time.Now()
	go p.readLoop(r)

	if err := p.handshake(ctx); err != nil {
		p.metrics.RecordSpawn("error", 0)
		p.terminate(err)
		return err
	}

	p.live.Store(true)
	p.metrics.RecordSpawn("ok", time.Since(begin))
	// the process may have died between the handshake and the line above
	if p.State() == StateTerminated && p.live.CompareAndSwap(true, false) {
		p.metrics.RecordExit()
	}
	p.log.Info("analysis server ready", zap.Duration("handshake", time.Since(begin)))
	return nil
}

func (p *Process) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.InitTimeout)
	defer cancel()

	ch := p.register(protocol.InitializeID)
	defer p.unregister(protocol.InitializeID)

	if err := p.enc.Encode(protocol.Initialize(p.cfg.RootURI, os.Getpid())); err != nil {
		return fmt.Errorf("initialize: %w: %v", ErrProcessTerminated, err)
	}
	p.advance(StateSpawned, StateAwaitReady)

	resp, err := p.await(ctx, ch)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize: %w", resp.Error)
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err == nil && result.ServerInfo != nil {
		p.log.Debug("initialize response",
			zap.String("server", result.ServerInfo.Name),
			zap.String("version", result.ServerInfo.Version))
	}

	if err := p.enc.Encode(protocol.Initialized()); err != nil {
		return fmt.Errorf("initialized: %w: %v", ErrProcessTerminated, err)
	}
	if !p.advance(StateAwaitReady, StateReady) {
		return fmt.Errorf("initialized: %w", ErrProcessTerminated)
	}
	return nil
}

// advance moves from one state to the next. Terminated is final.
func (p *Process) advance(from, to State) bool {
	return p.state.CompareAndSwap(int32(from), int32(to))
}

// State returns the current handshake state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// PID returns the operating system pid, or 0 for attached streams.
func (p *Process) PID() int {
	return p.pid
}

// Done is closed once the process is terminated.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Notifications delivers server notifications in arrival order. The channel
// is closed after the process terminates and its output is drained.
func (p *Process) Notifications() <-chan protocol.Message {
	return p.notifications
}

func (p *Process) usable() error {
	switch p.State() {
	case StateReady:
		return nil
	case StateTerminated:
		return ErrProcessTerminated
	default:
		return ErrNotReady
	}
}

// Notify sends a notification.
func (p *Process) Notify(req protocol.Request) error {
	if err := p.usable(); err != nil {
		return err
	}
	req.ID = nil
	if err := p.enc.Encode(req); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessTerminated, err)
	}
	p.metrics.RecordLSPNotification("out", req.Method)
	return nil
}

// Call sends req under a fresh id and waits for the correlated response.
// A response carrying a JSON-RPC error is returned as is, with a nil error.
func (p *Process) Call(ctx context.Context, req protocol.Request) (protocol.Message, error) {
	if err := p.usable(); err != nil {
		return protocol.Message{}, err
	}

	id := p.nextID.Add(1)
	req = req.WithID(id)

	ch := p.register(id)
	defer p.unregister(id)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	timer := monitoring.NewTimer(p.metrics, req.Method)
	if err := p.enc.Encode(req); err != nil {
		timer.Stop("error")
		return protocol.Message{}, fmt.Errorf("%w: %v", ErrProcessTerminated, err)
	}

	resp, err := p.await(ctx, ch)
	switch {
	case err == nil:
		timer.Stop("ok")
	case errors.Is(err, ErrProtocolTimeout):
		timer.Stop("timeout")
		p.log.Warn("request timed out", zap.String("method", req.Method), zap.Int64("id", id))
	default:
		timer.Stop("error")
	}
	return resp, err
}

func (p *Process) await(ctx context.Context, ch <-chan protocol.Message) (protocol.Message, error) {
	select {
	case resp := <-ch:
		return resp, nil
	case <-p.done:
		select {
		case resp := <-ch:
			return resp, nil
		default:
			return protocol.Message{}, ErrProcessTerminated
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return protocol.Message{}, ErrProtocolTimeout
		}
		return protocol.Message{}, ctx.Err()
	}
}

func (p *Process) register(id int64) <-chan protocol.Message {
	ch := make(chan protocol.Message, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *Process) unregister(id int64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Process) resolve(msg protocol.Message) {
	p.mu.Lock()
	ch, ok := p.pending[*msg.ID]
	delete(p.pending, *msg.ID)
	p.mu.Unlock()

	if !ok {
		p.log.Debug("response without pending request", zap.Int64("id", *msg.ID))
		return
	}
	ch <- msg
}

// Kill terminates the process without a shutdown handshake. Safe to call
// more than once.
func (p *Process) Kill() {
	p.terminate(nil)
}

func (p *Process) terminate(cause error) {
	p.termOnce.Do(func() {
		p.state.Store(int32(StateTerminated))
		if p.live.CompareAndSwap(true, false) {
			p.metrics.RecordExit()
		}
		close(p.done)

		if p.kill != nil {
			if err := p.kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.log.Debug("kill analysis server", zap.Error(err))
			}
		}

		if cause != nil {
			p.log.Warn("analysis server terminated", zap.Error(cause))
		} else {
			p.log.Info("analysis server terminated")
		}
	})
}

func (p *Process) readLoop(r io.Reader) {
	dec := codec.NewDecoder(r)
	dec.OnDrop(func(err error, frame []byte) {
		reason := "framing"
		if errors.Is(err, codec.ErrDecode) {
			reason = "decode"
		}
		p.metrics.RecordDroppedFrame(reason)
		p.log.Warn("dropped frame", zap.Error(err), zap.Int("bytes", len(frame)))
	})

	for raw := range dec.Messages() {
		msg, err := protocol.Decode(raw)
		if err != nil {
			p.metrics.RecordDroppedFrame("invalid")
			p.log.Warn("dropped message", zap.Error(err))
			continue
		}

		switch msg.Kind() {
		case protocol.KindResponse:
			p.resolve(msg)
		case protocol.KindRequest:
			go p.answer(msg)
		case protocol.KindNotification:
			p.metrics.RecordLSPNotification("in", msg.Method)
			select {
			case p.notifications <- msg:
			case <-p.done:
			}
		}
	}

	cause := dec.Err()
	if cause == nil && p.State() != StateTerminated {
		cause = errors.New("output closed")
	}
	p.terminate(cause)
	close(p.notifications)

	if p.wait != nil {
		if err := p.wait(); err != nil {
			p.log.Debug("analysis server exited", zap.Error(err))
		}
	}
}

// answer replies to a server-initiated request so the server never blocks
// waiting on the client.
func (p *Process) answer(req protocol.Message) {
	var result any
	if req.Method == protocol.MethodConfiguration {
		if params, err := protocol.DecodeParams(req.Method, req.Params); err == nil {
			result = make([]any, len(params.(*protocol.ConfigurationParams).Items))
		}
	}

	if err := p.enc.Encode(protocol.Reply(*req.ID, result)); err != nil {
		p.log.Debug("answer server request", zap.String("method", req.Method), zap.Error(err))
		return
	}
	p.log.Debug("answered server request", zap.String("method", req.Method), zap.Int64("id", *req.ID))
}
