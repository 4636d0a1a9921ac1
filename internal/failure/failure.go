// Package failure defines the error taxonomy shared by the loader, the
// analysis client and the processor.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies why a run failed.
type Kind int

const (
	KindUnknown        Kind = iota // unclassified error
	NotFound                       // input path is not an existing regular file
	Forbidden                      // outside the allowed directory or extension not allowed
	TooLarge                       // file exceeds the configured size cap
	Empty                          // zero-byte file
	MalformedInput                 // not a single JSON object
	ValidationFailed               // one or more field constraints violated
	ServiceUnavailable             // model unreachable, retries exhausted or circuit open
	Timeout                        // model call exceeded its deadline
	EmptyAnalysis                  // model output had no non-empty lines
	NoRecommendations              // no recommendation could be extracted
	MalformedOutput                // model reply had no usable content
)

// String returns a short snake_case label used in logs and output.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case TooLarge:
		return "too_large"
	case Empty:
		return "empty"
	case MalformedInput:
		return "malformed_input"
	case ValidationFailed:
		return "validation_failed"
	case ServiceUnavailable:
		return "service_unavailable"
	case Timeout:
		return "timeout"
	case EmptyAnalysis:
		return "empty_analysis"
	case NoRecommendations:
		return "no_recommendations"
	case MalformedOutput:
		return "malformed_output"
	default:
		return "unknown"
	}
}

// IsInput reports whether k is produced by the loader.
func (k Kind) IsInput() bool {
	return k >= NotFound && k <= ValidationFailed
}

// Violation is a single field constraint that an incident failed.
type Violation struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// Error is a classified failure. Op names the operation that failed
// ("load", "analyze", ...).
type Error struct {
	Kind       Kind
	Op         string
	Msg        string
	Violations []Violation
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Violations) > 0 {
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.String()
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with a formatted message.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// ViolationsOf returns the field violations carried by err, if any.
func ViolationsOf(err error) []Violation {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Violations
	}
	return nil
}

// StatusError is returned by HTTP-based model providers for non-2xx replies.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether a retry of the same request may succeed.
func (e *StatusError) Transient() bool {
	return IsRetryableStatus(e.StatusCode)
}

// IsRetryableStatus reports whether an HTTP status signals a transient condition.
func IsRetryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// transient is implemented by provider errors that know their own class.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err belongs to the network/timeout class that
// retry and the circuit breaker act on.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case ServiceUnavailable, Timeout:
			return true
		case KindUnknown:
			// fall through to the wrapped cause
		default:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	k := KindOf(err)
	switch {
	case k.IsInput():
		return 2
	case k == ServiceUnavailable || k == Timeout:
		return 3
	case k == EmptyAnalysis || k == NoRecommendations || k == MalformedOutput:
		return 4
	default:
		return 1
	}
}
