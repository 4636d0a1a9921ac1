package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iyulab/incident-advisor/internal/failure"
)

// scriptedProvider returns the scripted outcomes in order, repeating the last one.
type scriptedProvider struct {
	mu       sync.Mutex
	outcomes []outcome
	calls    int
}

type outcome struct {
	text string
	err  error
}

func (p *scriptedProvider) Name() string { return "fake:model" }

func (p *scriptedProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.outcomes) {
		i = len(p.outcomes) - 1
	}
	p.calls++
	o := p.outcomes[i]
	return o.text, o.err
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

var (
	errUnavailable = &failure.StatusError{Provider: "fake", StatusCode: 503, Body: "down"}
	errBadRequest  = &failure.StatusError{Provider: "fake", StatusCode: 400, Body: "bad"}
)

func TestRetry_SustainedTransientFailure(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}}}
	s := &recordingSleeper{}

	wrapped := Wrap(p, Retry(3, time.Second, WithSleeper(s.Sleep)))
	_, err := wrapped.Chat(context.Background(), testMessages, Options{})

	if p.Calls() != 4 {
		t.Errorf("calls = %d, want 4 (1 + 3 retries)", p.Calls())
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if fmt.Sprint(s.delays) != fmt.Sprint(want) {
		t.Errorf("delays = %v, want %v", s.delays, want)
	}
	if failure.KindOf(err) != failure.ServiceUnavailable {
		t.Errorf("kind = %v, want service_unavailable", failure.KindOf(err))
	}
	if !errors.Is(err, errUnavailable) {
		t.Error("last error should be wrapped")
	}
}

func TestRetry_ExhaustedTimeoutKind(t *testing.T) {
	timeoutErr := &failure.Error{Kind: failure.Timeout, Op: "chat", Msg: "no reply"}
	p := &scriptedProvider{outcomes: []outcome{{err: timeoutErr}}}
	s := &recordingSleeper{}

	_, err := Wrap(p, Retry(2, time.Second, WithSleeper(s.Sleep))).Chat(context.Background(), testMessages, Options{})
	if failure.KindOf(err) != failure.Timeout {
		t.Errorf("kind = %v, want timeout", failure.KindOf(err))
	}
	if p.Calls() != 3 {
		t.Errorf("calls = %d, want 3", p.Calls())
	}
}

func TestRetry_RecoversAfterTransientFailures(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}, {err: errUnavailable}, {text: "ok"}}}
	s := &recordingSleeper{}

	out, err := Wrap(p, Retry(3, time.Second, WithSleeper(s.Sleep))).Chat(context.Background(), testMessages, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q", out)
	}
	if len(s.delays) != 2 {
		t.Errorf("delays = %v, want 2 waits", s.delays)
	}
}

func TestRetry_NonTransientNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"bad request", errBadRequest},
		{"malformed output", failure.New(failure.MalformedOutput, "fake", "empty response")},
		{"canceled", context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{outcomes: []outcome{{err: tt.err}}}
			s := &recordingSleeper{}

			_, err := Wrap(p, Retry(3, time.Second, WithSleeper(s.Sleep))).Chat(context.Background(), testMessages, Options{})
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
			if p.Calls() != 1 {
				t.Errorf("calls = %d, want 1", p.Calls())
			}
			if len(s.delays) != 0 {
				t.Errorf("unexpected waits: %v", s.delays)
			}
		})
	}
}

func TestRetry_ZeroRetries(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}}}
	_, err := Wrap(p, Retry(0, time.Second)).Chat(context.Background(), testMessages, Options{})
	if p.Calls() != 1 {
		t.Errorf("calls = %d, want 1", p.Calls())
	}
	if failure.KindOf(err) != failure.ServiceUnavailable {
		t.Errorf("kind = %v", failure.KindOf(err))
	}
}

func TestRetry_StopsWhenContextCancelledDuringWait(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{{err: errUnavailable}}}
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := Wrap(p, Retry(5, time.Second, WithSleeper(sleeper))).Chat(ctx, testMessages, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.Calls() != 1 {
		t.Errorf("calls = %d, want 1", p.Calls())
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(time.Second, tt.attempt); got != tt.want {
			t.Errorf("backoff(1s, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := backoff(10*time.Millisecond, 2); got != 40*time.Millisecond {
		t.Errorf("backoff(10ms, 2) = %v", got)
	}
}

func TestSleepContext(t *testing.T) {
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- Timeout middleware ---

// blockingProvider waits until its context is done.
type blockingProvider struct {
	sawDeadline bool
}

func (p *blockingProvider) Name() string { return "fake:block" }

func (p *blockingProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	_, p.sawDeadline = ctx.Deadline()
	<-ctx.Done()
	return "", fmt.Errorf("http: %w", ctx.Err())
}

func TestTimeout_DeadlineBecomesTransientTimeout(t *testing.T) {
	p := &blockingProvider{}
	_, err := Wrap(p, Timeout(10*time.Millisecond)).Chat(context.Background(), testMessages, Options{})

	if !p.sawDeadline {
		t.Error("provider should receive a context with a deadline")
	}
	if failure.KindOf(err) != failure.Timeout {
		t.Fatalf("kind = %v, want timeout (err=%v)", failure.KindOf(err), err)
	}
	if !failure.IsTransient(err) {
		t.Error("timeout should be transient")
	}
}

func TestTimeout_ParentCancellationPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Wrap(&blockingProvider{}, Timeout(time.Hour)).Chat(ctx, testMessages, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if failure.KindOf(err) == failure.Timeout {
		t.Error("caller cancellation must not be reported as a timeout")
	}
}

func TestTimeout_Disabled(t *testing.T) {
	p := &scriptedProvider{outcomes: []outcome{{text: "ok"}}}
	if got := Timeout(0)(p); got != Provider(p) {
		t.Error("Timeout(0) should return the provider unchanged")
	}
}

func TestRetryAroundTimeout(t *testing.T) {
	p := &blockingProvider{}
	s := &recordingSleeper{}

	_, err := Wrap(p, Retry(2, time.Second, WithSleeper(s.Sleep)), Timeout(5*time.Millisecond)).
		Chat(context.Background(), testMessages, Options{})

	if failure.KindOf(err) != failure.Timeout {
		t.Errorf("kind = %v, want timeout", failure.KindOf(err))
	}
	if len(s.delays) != 2 {
		t.Errorf("delays = %v, want 2 waits", s.delays)
	}
}

func TestWrap_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Provider) Provider {
			return providerFunc(func(ctx context.Context, m []Message, o Options) (string, error) {
				order = append(order, name)
				return next.Chat(ctx, m, o)
			})
		}
	}
	p := &scriptedProvider{outcomes: []outcome{{text: "ok"}}}
	Wrap(p, tag("A"), nil, tag("B")).Chat(context.Background(), testMessages, Options{})

	if fmt.Sprint(order) != "[A B]" {
		t.Errorf("order = %v, want [A B]", order)
	}
}

type providerFunc func(ctx context.Context, m []Message, o Options) (string, error)

func (f providerFunc) Name() string { return "func" }

func (f providerFunc) Chat(ctx context.Context, m []Message, o Options) (string, error) {
	return f(ctx, m, o)
}
