package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{NotFound, "not_found"},
		{Forbidden, "forbidden"},
		{TooLarge, "too_large"},
		{Empty, "empty"},
		{MalformedInput, "malformed_input"},
		{ValidationFailed, "validation_failed"},
		{ServiceUnavailable, "service_unavailable"},
		{Timeout, "timeout"},
		{EmptyAnalysis, "empty_analysis"},
		{NoRecommendations, "no_recommendations"},
		{MalformedOutput, "malformed_output"},
		{KindUnknown, "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(TooLarge, "load", "%d bytes exceeds %d", 11, 10)
	err := fmt.Errorf("process: %w", base)
	if got := KindOf(err); got != TooLarge {
		t.Errorf("KindOf = %v, want %v", got, TooLarge)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want unknown", got)
	}
}

func TestError_MessageListsViolations(t *testing.T) {
	err := &Error{
		Kind: ValidationFailed,
		Op:   "load",
		Violations: []Violation{
			{Field: "alertId", Message: "is required"},
			{Field: "severity", Message: "unknown value \"Severe\""},
		},
	}
	msg := err.Error()
	for _, want := range []string{"load", "validation_failed", "alertId: is required", "severity: unknown value"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if got := ViolationsOf(fmt.Errorf("wrapped: %w", err)); len(got) != 2 {
		t.Errorf("ViolationsOf returned %d violations, want 2", len(got))
	}
}

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "connection refused" }
func (fakeNetErr) Timeout() bool   { return false }
func (fakeNetErr) Temporary() bool { return true }

var _ net.Error = fakeNetErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("http: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"net error", fmt.Errorf("dial: %w", fakeNetErr{}), true},
		{"timeout kind", New(Timeout, "analyze", "slow"), true},
		{"unavailable kind", New(ServiceUnavailable, "analyze", "down"), true},
		{"empty analysis", New(EmptyAnalysis, "analyze", "nothing"), false},
		{"malformed output", New(MalformedOutput, "analyze", "no choices"), false},
		{"status 503", &StatusError{Provider: "ollama", StatusCode: 503}, true},
		{"status 429", &StatusError{Provider: "openai", StatusCode: 429}, true},
		{"status 400", &StatusError{Provider: "openai", StatusCode: 400}, false},
		{"status 401", &StatusError{Provider: "anthropic", StatusCode: 401}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{New(NotFound, "load", "x"), 2},
		{New(ValidationFailed, "load", "x"), 2},
		{New(ServiceUnavailable, "analyze", "x"), 3},
		{New(Timeout, "analyze", "x"), 3},
		{New(EmptyAnalysis, "analyze", "x"), 4},
		{New(NoRecommendations, "analyze", "x"), 4},
		{errors.New("other"), 1},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
