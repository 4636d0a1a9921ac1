package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iyulab/incident-advisor/internal/failure"
	"github.com/iyulab/incident-advisor/internal/logging"
)

// -------- Per-attempt timeout --------

// Timeout bounds every call with its own deadline. A call that runs out of
// time fails with a transient failure.Timeout; the attempt context is always
// cancelled so the underlying connection is released. d <= 0 disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Provider) Provider {
		if d <= 0 {
			return next
		}
		return &timeoutProvider{next: next, d: d}
	}
}

type timeoutProvider struct {
	next Provider
	d    time.Duration
}

func (p *timeoutProvider) Name() string { return p.next.Name() }

func (p *timeoutProvider) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.d)
	defer cancel()

	out, err := p.next.Chat(attemptCtx, messages, opts)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return "", &failure.Error{
			Kind: failure.Timeout,
			Op:   "chat",
			Msg:  fmt.Sprintf("no reply within %s", p.d),
			Err:  err,
		}
	}
	return out, err
}

// -------- Retry with exponential backoff --------

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryOption customizes Retry.
type RetryOption func(*retrying)

// WithSleeper replaces the backoff wait, for tests.
func WithSleeper(s Sleeper) RetryOption {
	return func(r *retrying) { r.sleep = s }
}

// WithRetryLogger logs each scheduled retry at DEBUG.
func WithRetryLogger(l *logging.Logger) RetryOption {
	return func(r *retrying) { r.log = l }
}

// Retry re-issues calls that failed transiently, up to maxRetries times.
// The wait before retry n (starting at 1) is base * 2^n. Non-transient
// errors are returned at once. When retries run out the last error is
// wrapped as failure.Timeout if it was a timeout, else failure.ServiceUnavailable.
func Retry(maxRetries int, base time.Duration, opts ...RetryOption) Middleware {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = time.Second
	}
	return func(next Provider) Provider {
		r := &retrying{next: next, max: maxRetries, base: base, sleep: SleepContext, log: logging.Discard()}
		for _, opt := range opts {
			opt(r)
		}
		return r
	}
}

type retrying struct {
	next  Provider
	max   int
	base  time.Duration
	sleep Sleeper
	log   *logging.Logger
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	var last error
	attempts := 0
	for retry := 0; ; retry++ {
		attempts++
		out, err := r.next.Chat(ctx, messages, opts)
		if err == nil {
			return out, nil
		}
		if !failure.IsTransient(err) {
			return "", err
		}
		last = err

		// Stop immediately if the caller gave up.
		if ctx.Err() != nil {
			break
		}
		if retry >= r.max {
			break
		}

		delay := backoff(r.base, retry+1)
		r.log.Debug("transient failure (attempt %d/%d), retrying in %s: %v", attempts, r.max+1, delay, err)
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}

	kind := failure.ServiceUnavailable
	if failure.KindOf(last) == failure.Timeout || errors.Is(last, context.DeadlineExceeded) {
		kind = failure.Timeout
	}
	return "", &failure.Error{
		Kind: kind,
		Op:   "chat",
		Msg:  fmt.Sprintf("gave up after %d attempt(s)", attempts),
		Err:  last,
	}
}

// backoff returns base * 2^attempt.
func backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<uint(attempt))
}
