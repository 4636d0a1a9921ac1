package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iyulab/incident-advisor/internal/incident"
	"github.com/iyulab/incident-advisor/internal/logging"
	"github.com/iyulab/incident-advisor/internal/sigma"
)

// Config holds the call policy and generation settings of a Client.
type Config struct {
	Timeout         time.Duration // per attempt; 0 disables
	MaxRetries      int
	RetryBaseDelay  time.Duration // 0 means one second
	Temperature     float32
	MaxOutputTokens int
	StopSequences   []string
}

// RuleMatcher produces deterministic rule hints for an incident.
// *sigma.Engine implements it.
type RuleMatcher interface {
	Match(ctx context.Context, rec incident.Record) []sigma.Match
}

// Result is the structured outcome of one analysis.
type Result struct {
	IncidentID      string        `json:"incident_id" yaml:"incident_id"`
	CriticalAction  string        `json:"critical_action" yaml:"critical_action"`
	Recommendations []string      `json:"recommendations" yaml:"recommendations"`
	AnalyzedAt      time.Time     `json:"analyzed_at" yaml:"analyzed_at"`
	ProcessingTime  time.Duration `json:"processing_time" yaml:"processing_time"`
	Provider        string        `json:"provider" yaml:"provider"`
	Model           string        `json:"model" yaml:"model"`
	RuleMatches     []sigma.Match `json:"rule_matches,omitempty" yaml:"rule_matches,omitempty"`
}

// MarshalJSON writes ProcessingTime as a duration string ("1.5s"), the same
// form yaml.v3 uses for time.Duration.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		ProcessingTime string `json:"processing_time"`
	}{plain(r), r.ProcessingTime.String()})
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	aux := struct {
		*plain
		ProcessingTime string `json:"processing_time"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ProcessingTime == "" {
		r.ProcessingTime = 0
		return nil
	}
	d, err := time.ParseDuration(aux.ProcessingTime)
	if err != nil {
		return fmt.Errorf("processing_time: %w", err)
	}
	r.ProcessingTime = d
	return nil
}

// Client analyzes incidents through a Provider wrapped in the
// breaker(retry(timeout(provider))) chain.
type Client struct {
	raw     Provider
	chain   Provider
	breaker *Breaker
	cfg     Config
	rules   RuleMatcher
	log     *logging.Logger
	sleep   Sleeper
	now     func() time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithRules attaches a rule matcher whose hits are added to the prompt and
// the result.
func WithRules(m RuleMatcher) ClientOption {
	return func(c *Client) { c.rules = m }
}

// WithLogger sets the logger for attempts, backoff and breaker transitions.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithRetrySleeper replaces the backoff wait, for tests.
func WithRetrySleeper(s Sleeper) ClientOption {
	return func(c *Client) { c.sleep = s }
}

// WithClock overrides the time source for AnalyzedAt and ProcessingTime.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient builds a Client around p. The breaker is shared state owned by
// the caller so it outlives a single call; nil creates one with defaults.
func NewClient(p Provider, breaker *Breaker, cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		raw:   p,
		cfg:   cfg,
		log:   logging.Discard(),
		sleep: SleepContext,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerThreshold, DefaultBreakerCooldown, WithBreakerLogger(c.log))
	}
	c.breaker = breaker
	c.chain = Wrap(p,
		breaker.Middleware(),
		Retry(cfg.MaxRetries, cfg.RetryBaseDelay, WithSleeper(c.sleep), WithRetryLogger(c.log)),
		Timeout(cfg.Timeout),
	)
	return c
}

// Breaker returns the circuit breaker guarding the provider.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Analyze asks the model for recommendations on rec.
func (c *Client) Analyze(ctx context.Context, rec incident.Record) (Result, error) {
	start := c.now()

	var matches []sigma.Match
	if c.rules != nil {
		matches = c.rules.Match(ctx, rec)
		if len(matches) > 0 {
			c.log.Debug("%d rule hint(s) matched", len(matches))
		}
	}

	messages, err := BuildMessages(rec, matches)
	if err != nil {
		return Result{}, fmt.Errorf("build prompt: %w", err)
	}

	c.log.Debug("calling %s (timeout %s, max retries %d)", c.raw.Name(), c.cfg.Timeout, c.cfg.MaxRetries)
	raw, err := c.chain.Chat(ctx, messages, Options{
		Temperature:     c.cfg.Temperature,
		MaxOutputTokens: c.cfg.MaxOutputTokens,
		StopSequences:   c.cfg.StopSequences,
	})
	if err != nil {
		return Result{}, fmt.Errorf("analyze %s: %w", rec.AlertID, err)
	}

	critical, recs, err := ParseRecommendations(raw)
	if err != nil {
		return Result{}, fmt.Errorf("analyze %s: %w", rec.AlertID, err)
	}
	if critical == "" {
		c.log.Warn("model output has no line marked critical")
	}

	provider, model := splitName(c.raw.Name())
	end := c.now()
	return Result{
		IncidentID:      rec.AlertID,
		CriticalAction:  critical,
		Recommendations: recs,
		AnalyzedAt:      end,
		ProcessingTime:  end.Sub(start),
		Provider:        provider,
		Model:           model,
		RuleMatches:     matches,
	}, nil
}

// splitName splits "provider:model".
func splitName(name string) (string, string) {
	provider, model, _ := strings.Cut(name, ":")
	return provider, model
}
