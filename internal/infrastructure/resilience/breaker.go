package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold failures within Window open the breaker.
	Threshold int
	Window    time.Duration
	// Cooldown is how long the breaker stays open before it admits a trial.
	Cooldown time.Duration
	// OnStateChange is called whenever the state changes, with the lock held.
	OnStateChange func(name string, from State, to State)
}

// Breaker counts failures over a sliding window. Once open it refuses work
// until the cooldown passes, then lets a single trial through: success
// closes it, failure opens it again.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
	trial    bool
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Window <= 0 {
		settings.Window = time.Minute
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current(b.now())
}

// Failures returns the number of failures inside the current window.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.now())
	return len(b.failures)
}

// Execute runs fn if the breaker admits it. An error or panic from fn counts
// as a failure.
func (b *Breaker) Execute(fn func() error) (err error) {
	b.mu.Lock()
	state := b.current(b.now())
	if state == StateOpen || (state == StateHalfOpen && b.trial) {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	if state == StateHalfOpen {
		b.trial = true
	}
	b.mu.Unlock()

	defer func() {
		if e := recover(); e != nil {
			b.record(false)
			panic(e)
		}
		b.record(err == nil)
	}()
	return fn()
}

// Failure records a failure observed outside Execute, such as a guarded
// resource dying after it was successfully started.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail(b.now())
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	wasTrial := b.trial
	b.trial = false
	if !success {
		b.fail(now)
		return
	}
	if wasTrial && b.current(now) == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

// fail is called with b.mu held.
func (b *Breaker) fail(now time.Time) {
	switch b.current(now) {
	case StateHalfOpen:
		b.setState(StateOpen, now)
	case StateClosed:
		b.failures = append(b.failures, now)
		b.prune(now)
		if len(b.failures) >= b.settings.Threshold {
			b.setState(StateOpen, now)
		}
	}
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.settings.Window)
	keep := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			keep = append(keep, at)
		}
	}
	b.failures = keep
}

func (b *Breaker) current(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.settings.Cooldown {
		b.setState(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state

	switch state {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.failures = nil
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}
