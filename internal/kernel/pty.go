package kernel

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/id"
)

// PythonDriver is the default driver loop. It runs every cell in one shared
// namespace, the way a notebook kernel keeps state between cells.
//
//go:embed driver.py
var PythonDriver string

// recordSeparator ends a cell on the driver's stdin. The rest of that line is
// the token the driver echoes back in its completion marker.
const recordSeparator = '\x1e'

const (
	interruptGrace = 2 * time.Second
	killWait       = 2 * time.Second
)

var (
	// Rich output travels inside the terminal stream as an OSC sequence:
	// ESC ] 7770 ; <mime> ; <payload> BEL
	displayPattern = regexp.MustCompile("^\x1b\\]7770;([^;\x07]+);([^\x07]*)\x07$")
	// The driver ends each cell with ESC ] 7771 ; <token> ; <status> BEL.
	donePattern = regexp.MustCompile("\x1b\\]7771;([^;\x07]+);(-?[0-9]+)\x07")
)

// Config configures a PTYEngine. The interpreter runs as
// Command Args... Driver, reads cells from stdin and writes to the terminal.
type Config struct {
	Command string
	Args    []string
	Driver  string
	Dir     string
	Env     []string
	Timeout time.Duration
	Cols    int
	Rows    int
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = PythonDriver
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.Cols <= 0 {
		c.Cols = 120
	}
	if c.Rows <= 0 {
		c.Rows = 24
	}
	return c
}

// PTYEngine keeps one long-lived interpreter under a pseudo-terminal so
// variables and imports survive from one cell to the next. Cells run one at a
// time in submission order. A cell that overruns its timeout or is cancelled
// is interrupted; if the interpreter does not recover it is killed and the
// next cell starts a fresh one.
type PTYEngine struct {
	cfg     Config
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	tail    chan struct{} // closed when the last scheduled execution ends
	started bool
	interp  *interpreter
}

// NewPTYEngine creates an engine; call Start before Execute.
func NewPTYEngine(cfg Config, log *logging.Logger, metrics *monitoring.Metrics) *PTYEngine {
	tail := make(chan struct{})
	close(tail)
	return &PTYEngine{
		cfg:     cfg.withDefaults(),
		log:     log.Named("kernel"),
		metrics: metrics,
		tail:    tail,
	}
}

// Start launches the interpreter. The engine accepts executions until Stop.
func (e *PTYEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}
	if _, err := exec.LookPath(e.cfg.Command); err != nil {
		return fmt.Errorf("kernel command %q: %w", e.cfg.Command, err)
	}
	in, err := e.spawn()
	if err != nil {
		return err
	}
	e.interp = in
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.started = true
	return nil
}

// Stop kills the interpreter's process group and waits for running workers.
// It does not wait on the terminal reader, which a detached grandchild could
// keep blocked.
func (e *PTYEngine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.cancel()
	in := e.interp
	e.interp = nil
	e.mu.Unlock()

	if in != nil {
		in.kill()
	}
	e.wg.Wait()
	return nil
}

// Execute schedules code behind every earlier execution and returns its
// event stream.
func (e *PTYEngine) Execute(ctx context.Context, code string) (<-chan Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil, ErrNotStarted
	}

	events := make(chan Event, 16)
	prev, done := e.tail, make(chan struct{})
	e.tail = done
	e.wg.Add(1)
	go e.worker(ctx, id.NewExecutionID(), code, events, prev, done)
	return events, nil
}

// worker runs once prev closes and closes done when finished, so executions
// run one at a time in the order Execute was called.
func (e *PTYEngine) worker(ctx context.Context, execID id.ExecutionID, code string, events chan<- Event, prev <-chan struct{}, done chan<- struct{}) {
	defer e.wg.Done()
	defer close(done)

	log := e.log.With(zap.String("execution", execID.String()))

	select {
	case <-prev:
	case <-ctx.Done():
		e.emit(events, Event{Type: EventError, Content: ctx.Err().Error()})
		close(events)
		// Later executions still wait for the ones ahead of this one.
		select {
		case <-prev:
		case <-e.ctx.Done():
		}
		return
	case <-e.ctx.Done():
		close(events)
		return
	}
	defer close(events)

	start := time.Now()
	e.emit(events, Event{Type: EventStatus, Content: StatusBusy})
	err := e.run(ctx, execID.String(), code, events)

	status := "ok"
	if err != nil {
		status = "error"
		e.emit(events, Event{Type: EventError, Content: err.Error()})
		log.Debug("execution failed", zap.Error(err))
	}
	e.metrics.RecordExecution(status, time.Since(start))
	e.emit(events, Event{Type: EventStatus, Content: StatusIdle})
}

// emit delivers ev unless the engine is stopping.
func (e *PTYEngine) emit(events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *PTYEngine) run(ctx context.Context, token, code string, events chan<- Event) error {
	if strings.ContainsRune(code, recordSeparator) {
		return errors.New("code contains a reserved control character")
	}
	in, err := e.acquire()
	if err != nil {
		return err
	}
	if err := in.send(code, token); err != nil {
		e.discard(in)
		return fmt.Errorf("kernel unavailable: %w", err)
	}

	deadline := time.NewTimer(e.cfg.Timeout)
	defer deadline.Stop()

	expired, cancelled := deadline.C, ctx.Done()
	var grace <-chan time.Time
	var reason error
	interrupt := func(err error) {
		reason = err
		expired, cancelled = nil, nil
		in.interrupt()
		grace = time.After(interruptGrace)
	}

	for {
		select {
		case line, ok := <-in.lines:
			if !ok {
				e.discard(in)
				if reason != nil {
					return fmt.Errorf("%w; kernel restarted", reason)
				}
				return errors.New("kernel exited; its state was reset")
			}
			text, status, done := splitDone(line, token)
			// Blank output lines are kept; only an empty prefix before a
			// marker is dropped.
			if (text != "" || text == line) && !e.emit(events, classify(text)) {
				return e.ctx.Err()
			}
			if !done {
				continue
			}
			if reason != nil {
				return reason
			}
			if status != 0 {
				return fmt.Errorf("cell exited with status %d", status)
			}
			return nil
		case <-expired:
			interrupt(fmt.Errorf("execution timed out after %s", e.cfg.Timeout))
		case <-cancelled:
			interrupt(fmt.Errorf("execution cancelled: %w", ctx.Err()))
		case <-grace:
			e.discard(in)
			return fmt.Errorf("%w; kernel restarted", reason)
		case <-e.ctx.Done():
			return e.ctx.Err()
		}
	}
}

// acquire returns the live interpreter, starting a new one if the previous
// one exited or was discarded.
func (e *PTYEngine) acquire() (*interpreter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil, ErrNotStarted
	}
	if e.interp != nil && e.interp.alive() {
		return e.interp, nil
	}
	if e.interp != nil {
		e.interp.kill()
		e.log.Warn("kernel exited, starting a new one")
	}
	in, err := e.spawn()
	if err != nil {
		e.interp = nil
		return nil, err
	}
	e.interp = in
	return in, nil
}

func (e *PTYEngine) discard(in *interpreter) {
	e.mu.Lock()
	if e.interp == in {
		e.interp = nil
	}
	e.mu.Unlock()
	in.kill()
	e.log.Warn("kernel killed")
}

func (e *PTYEngine) spawn() (*interpreter, error) {
	stdin, feed, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create kernel input: %w", err)
	}

	args := append(append([]string(nil), e.cfg.Args...), e.cfg.Driver)
	cmd := exec.Command(e.cfg.Command, args...)
	cmd.Dir = e.cfg.Dir
	cmd.Env = append(os.Environ(), "TERM=dumb")
	cmd.Env = append(cmd.Env, e.cfg.Env...)
	cmd.Stdin = stdin

	// Setsid makes the interpreter lead its own process group, so signals
	// reach everything it started. The terminal on fd 1 becomes its
	// controlling tty.
	ptmx, err := pty.StartWithAttrs(cmd, &pty.Winsize{
		Rows: uint16(e.cfg.Rows),
		Cols: uint16(e.cfg.Cols),
	}, &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 1})
	_ = stdin.Close()
	if err != nil {
		_ = feed.Close()
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	in := &interpreter{
		cmd:    cmd,
		ptmx:   ptmx,
		feed:   feed,
		lines:  make(chan string, 256),
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go in.read()
	go func() {
		_ = cmd.Wait()
		close(in.exited)
	}()

	e.log.Debug("kernel started", zap.Int("pid", cmd.Process.Pid))
	return in, nil
}

// interpreter is one running driver process.
type interpreter struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	feed   *os.File
	lines  chan string
	exited chan struct{}
	done   chan struct{}
	once   sync.Once
}

// read forwards terminal lines until EOF or kill. The read ends with EIO once
// every holder of the terminal's slave side is gone.
func (in *interpreter) read() {
	defer close(in.lines)

	scanner := bufio.NewScanner(in.ptmx)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case in.lines <- strings.TrimRight(scanner.Text(), "\r"):
		case <-in.done:
			return
		}
	}
}

func (in *interpreter) send(code, token string) error {
	var b strings.Builder
	b.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		b.WriteByte('\n')
	}
	b.WriteRune(recordSeparator)
	b.WriteString(token)
	b.WriteByte('\n')
	_, err := io.WriteString(in.feed, b.String())
	return err
}

func (in *interpreter) alive() bool {
	select {
	case <-in.exited:
		return false
	case <-in.done:
		return false
	default:
		return true
	}
}

func (in *interpreter) interrupt() {
	_ = syscall.Kill(-in.cmd.Process.Pid, syscall.SIGINT)
}

// kill signals the whole process group, so background children that ignore
// hangups cannot outlive the session.
func (in *interpreter) kill() {
	in.once.Do(func() {
		close(in.done)
		_ = syscall.Kill(-in.cmd.Process.Pid, syscall.SIGKILL)
		_ = in.feed.Close()
		select {
		case <-in.exited:
		case <-time.After(killWait):
		}
		_ = in.ptmx.Close()
	})
}

// splitDone separates a completion marker for token from the output before it
// on the same line. Markers for other tokens are dropped.
func splitDone(line, token string) (text string, status int, done bool) {
	loc := donePattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return line, 0, false
	}
	text = line[:loc[0]]
	if line[loc[2]:loc[3]] != token {
		return text, 0, false
	}
	status, _ = strconv.Atoi(line[loc[4]:loc[5]])
	return text, status, true
}

func classify(line string) Event {
	if m := displayPattern.FindStringSubmatch(line); m != nil {
		return Event{Type: EventData, Content: DataContent{Type: m[1], Data: m[2]}}
	}
	return Event{Type: EventStream, Content: StreamContent{Name: "stdout", Text: line + "\n"}}
}
