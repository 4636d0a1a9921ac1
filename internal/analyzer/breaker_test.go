package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iyulab/incident-advisor/internal/failure"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(clock *fakeClock) *Breaker {
	return NewBreaker(5, time.Minute, WithBreakerClock(clock.Now))
}

func callN(t *testing.T, p Provider, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p.Chat(context.Background(), testMessages, Options{})
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}}}
	guarded := Wrap(p, b.Middleware())

	callN(t, guarded, 4)
	if b.State() != StateClosed {
		t.Fatalf("state after 4 failures = %v, want closed", b.State())
	}
	if b.Failures() != 4 {
		t.Errorf("failures = %d, want 4", b.Failures())
	}

	callN(t, guarded, 1)
	if b.State() != StateOpen {
		t.Fatalf("state after 5 failures = %v, want open", b.State())
	}

	_, err := guarded.Chat(context.Background(), testMessages, Options{})
	if p.Calls() != 5 {
		t.Errorf("calls = %d, open breaker must not call through", p.Calls())
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if failure.KindOf(err) != failure.ServiceUnavailable {
		t.Errorf("kind = %v, want service_unavailable", failure.KindOf(err))
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	p := &scriptedProvider{outcomes: []outcome{
		{err: errUnavailable}, {err: errUnavailable}, {err: errUnavailable}, {err: errUnavailable}, {err: errUnavailable},
		{text: "ok"},
	}}
	guarded := Wrap(p, b.Middleware())
	callN(t, guarded, 5)

	clock.Advance(59 * time.Second)
	if _, err := guarded.Chat(context.Background(), testMessages, Options{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("inside cool-down: err = %v, want ErrCircuitOpen", err)
	}

	clock.Advance(time.Second)
	out, err := guarded.Chat(context.Background(), testMessages, Options{})
	if err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q", out)
	}
	if p.Calls() != 6 {
		t.Errorf("calls = %d, want 6", p.Calls())
	}
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Errorf("state = %v failures = %d, want closed/0", b.State(), b.Failures())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}}}
	guarded := Wrap(p, b.Middleware())
	callN(t, guarded, 5)

	clock.Advance(time.Minute)
	guarded.Chat(context.Background(), testMessages, Options{})
	if p.Calls() != 6 {
		t.Fatalf("calls = %d, trial should call through", p.Calls())
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed trial", b.State())
	}

	// The window restarts from the failed trial.
	clock.Advance(30 * time.Second)
	guarded.Chat(context.Background(), testMessages, Options{})
	if p.Calls() != 6 {
		t.Errorf("calls = %d, reopened breaker must fail fast", p.Calls())
	}
}

func TestBreaker_NonTransientResetsCount(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	p := &scriptedProvider{outcomes: []outcome{
		{err: errUnavailable}, {err: errUnavailable}, {err: errUnavailable}, {err: errUnavailable},
		{err: errBadRequest},
		{err: errUnavailable},
	}}
	guarded := Wrap(p, b.Middleware())

	callN(t, guarded, 6)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
	if b.Failures() != 1 {
		t.Errorf("failures = %d, want 1", b.Failures())
	}
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}, {err: context.Canceled}}}
	guarded := Wrap(p, b.Middleware())

	callN(t, guarded, 3)
	if b.Failures() != 1 {
		t.Errorf("failures = %d, want 1", b.Failures())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}}}
	callN(t, Wrap(p, b.Middleware()), 5)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	b.Reset()
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Errorf("after Reset: state = %v failures = %d", b.State(), b.Failures())
	}
}

func TestBreaker_WrapsRetry(t *testing.T) {
	// Each retry-exhausted call counts once.
	clock := newFakeClock()
	b := newTestBreaker(clock)
	s := &recordingSleeper{}
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}}}
	guarded := Wrap(p, b.Middleware(), Retry(2, time.Second, WithSleeper(s.Sleep)))

	callN(t, guarded, 5)
	if p.Calls() != 15 {
		t.Errorf("calls = %d, want 15", p.Calls())
	}
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(0, 0)
	if b.threshold != DefaultBreakerThreshold || b.cooldown != DefaultBreakerCooldown {
		t.Errorf("threshold=%d cooldown=%v", b.threshold, b.cooldown)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
