// Package xerrors defines the unified error type used across the
// orchestrator: a small set of classified error kinds, each carrying
// default retry/severity attributes that callers can override per
// instance.
package xerrors

import (
	"errors"
	"fmt"
	"sync"
)

// Code identifies an error kind.
type Code string

// Severity describes how loudly an error should be surfaced.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	// CodeValidation covers malformed workflow specs: unknown references,
	// cycles, unreachable nodes, bad budgets.
	CodeValidation Code = "VALIDATION"
	// CodeAgentNotFound is returned when a reference is absent from the registry.
	CodeAgentNotFound Code = "AGENT_NOT_FOUND"
	// CodeInsufficientBudget is returned when a wallet balance can't cover a reservation.
	CodeInsufficientBudget Code = "INSUFFICIENT_BUDGET"
	// CodePayment covers 402 challenges that could not be satisfied.
	CodePayment Code = "PAYMENT"
	// CodeExecution covers everything after validation: timeouts, transport
	// failures, malformed responses, runtime cycles, exhausted retries.
	CodeExecution Code = "EXECUTION"
	// CodeState marks an illegal run/reservation/agent state transition.
	CodeState Code = "STATE"
	// CodeUnknown is the fallback for unregistered codes.
	CodeUnknown Code = "UNKNOWN"
)

// Attributes describes the default behavior associated with a Code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
		},
		CodeValidation: {
			Message:  "workflow validation failed",
			Severity: SeverityInfo,
		},
		CodeAgentNotFound: {
			Message:  "agent not found",
			Severity: SeverityInfo,
		},
		CodeInsufficientBudget: {
			Message:  "insufficient budget",
			Severity: SeverityWarning,
		},
		CodePayment: {
			Message:   "payment could not be completed",
			Severity:  SeverityWarning,
			Retryable: false,
		},
		CodeExecution: {
			// Not retryable by default: only transport failures, timeouts,
			// and 5xx-equivalent JSON-RPC errors opt in via WithRetryable.
			Message:  "execution failed",
			Severity: SeverityWarning,
		},
		CodeState: {
			Message:  "illegal state transition",
			Severity: SeverityCritical,
		},
	}
)

// Register lets a package add or override the default attributes for a code.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes registered for code, falling back to
// CodeUnknown's attributes when code was never registered.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the orchestrator's unified error type.
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
}

// Option configures an Error at construction.
type Option func(*Error)

// WithMetadata attaches a key/value pair to the error (never secrets).
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable overrides the code's default retryability for this instance.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// New creates a new Error. An empty message falls back to the code's default.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap creates a new Error around an existing cause.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches on code so errors.Is(err, xerrors.New(CodeX, "")) works as a
// code-class check.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error's classification.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Metadata returns a copy of the error's attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable reports whether this error should trigger a node retry.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity returns the error's severity.
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return AttributesOf(e.code).Severity
}

// From extracts the unified error type from any error chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the classification of err, or CodeUnknown if err isn't one of ours.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError reports whether err should trigger a node retry.
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}
