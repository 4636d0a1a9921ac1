package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iyulab/incident-advisor/internal/failure"
	"github.com/iyulab/incident-advisor/internal/logging"
)

// Breaker defaults.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = time.Minute
)

// ErrCircuitOpen is wrapped by the failure.ServiceUnavailable error returned
// while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops calling a failing model after threshold consecutive
// transient failures. While open it fails fast for the cool-down window;
// afterwards a single trial call is let through (half-open). Success closes
// the breaker, a transient failure reopens it and restarts the window.
//
// A Breaker is safe for concurrent use and is meant to live for the whole
// process so its state survives across calls.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	log       *logging.Logger

	state    State
	failures int
	openedAt time.Time
	trial    bool
}

// BreakerOption customizes a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the time source, for tests.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithBreakerLogger logs state transitions.
func WithBreakerLogger(l *logging.Logger) BreakerOption {
	return func(b *Breaker) { b.log = l }
}

// NewBreaker creates a closed Breaker. Non-positive arguments use the defaults.
func NewBreaker(threshold int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	b := &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now, log: logging.Discard()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state. An open breaker whose cool-down has
// elapsed still reports open until the next call is admitted.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current count of consecutive transient failures.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trial = false
}

// Middleware returns the breaker as a provider decorator.
func (b *Breaker) Middleware() Middleware {
	return func(next Provider) Provider {
		return &breakerProvider{next: next, b: b}
	}
}

// allow admits a call or returns the fail-fast error.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		remaining := b.cooldown - b.now().Sub(b.openedAt)
		if remaining > 0 {
			return &failure.Error{
				Kind: failure.ServiceUnavailable,
				Op:   "chat",
				Msg:  fmt.Sprintf("model calls suspended for another %s", remaining.Round(time.Second)),
				Err:  ErrCircuitOpen,
			}
		}
		b.transition(StateHalfOpen)
		b.trial = true
	case StateHalfOpen:
		if b.trial {
			return &failure.Error{
				Kind: failure.ServiceUnavailable,
				Op:   "chat",
				Msg:  "trial call already in flight",
				Err:  ErrCircuitOpen,
			}
		}
		b.trial = true
	}
	return nil
}

// record updates the breaker with the outcome of an admitted call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false

	// A caller cancelling says nothing about the model's health.
	if errors.Is(err, context.Canceled) {
		if b.state == StateHalfOpen {
			b.transition(StateOpen)
		}
		return
	}

	if !failure.IsTransient(err) {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to && to != StateOpen {
		return
	}
	b.log.Debug("circuit breaker %s -> %s (consecutive failures: %d)", b.state, to, b.failures)
	b.state = to
}

type breakerProvider struct {
	next Provider
	b    *Breaker
}

func (p *breakerProvider) Name() string { return p.next.Name() }

func (p *breakerProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := p.b.allow(); err != nil {
		return "", err
	}
	out, err := p.next.Chat(ctx, messages, opts)
	p.b.record(err)
	return out, err
}
