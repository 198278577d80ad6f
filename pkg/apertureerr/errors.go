// Package apertureerr implements the closed error taxonomy of spec.md §7:
// every subsystem returns one of a fixed set of Kinds, and the top-level
// command handler renders it either for a human or, under --json-errors,
// as a structured record on stderr.
package apertureerr

import (
	"encoding/json"
	"fmt"

	"github.com/kioku/aperture/internal/console"
)

// Kind is the closed taxonomy of spec.md §7.
type Kind string

const (
	Specification  Kind = "Specification"
	Authentication Kind = "Authentication"
	Validation     Kind = "Validation"
	Network        Kind = "Network"
	HttpError      Kind = "HttpError"
	Headers        Kind = "Headers"
	ServerVariable Kind = "ServerVariable"
	Runtime        Kind = "Runtime"
	Capture        Kind = "Capture"
)

// RetryInfo annotates an error that surfaced after the retry layer (§4.5)
// exhausted its attempts.
type RetryInfo struct {
	Attempts     int  `json:"attempts"`
	TotalDelayMs int64 `json:"total_delay_ms"`
	FinalStatus  *int `json:"final_status,omitempty"`
	Retryable    bool `json:"retryable"`
}

// Error is the single concrete error type every Aperture subsystem returns.
type Error struct {
	Kind      Kind           `json:"error_type"`
	Message   string         `json:"message"`
	Context   string         `json:"context,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Hint      string         `json:"-"`
	RetryInfo *RetryInfo     `json:"retry_info,omitempty"`
	cause     error
}

func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithHint attaches the human-mode "Hint: ..." follow-up line.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithContext attaches a short context string (e.g. a file path or operation id).
func (e *Error) WithContext(ctx string) *Error {
	e.Context = ctx
	return e
}

// WithDetails attaches structured details surfaced only in --json-errors mode.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRetryInfo attaches the retry annotation described in spec.md §4.5.
func (e *Error) WithRetryInfo(info RetryInfo) *Error {
	e.RetryInfo = &info
	return e
}

// Render returns the error formatted for either human or JSON mode; it
// writes nothing itself. The caller prints the result to stderr in both
// modes, never to stdout, per spec.md §7.
func (e *Error) Render(jsonErrors bool) string {
	if jsonErrors {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprintf(`{"error_type":"Runtime","message":%q}`, err.Error())
		}
		return string(data)
	}
	return console.FormatErrorLine(string(e.Kind), e.Message, e.Hint)
}

// Is lets callers write `errors.Is(err, apertureerr.Validation)`-style checks
// against a sentinel kind by comparing kinds rather than identity.
func Is(err error, kind Kind) bool {
	var ae *Error
	if e, ok := err.(*Error); ok {
		ae = e
	} else {
		return false
	}
	return ae.Kind == kind
}
