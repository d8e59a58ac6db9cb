// Package errs provides structured error types shared across the stresslab core.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies a failure category within the harness.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeChain indicates a chain-side failure surfaced by the client.
	CodeChain Code = "chain_error"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
	// CodeState indicates an operation attempted from an invalid lifecycle state.
	CodeState Code = "invalid_state"
)

// E captures structured error information produced across the stresslab stack.
type E struct {
	Component    string
	Code         Code
	ContractCode int
	Message      string
	RawMsg       string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the originating component and code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component:    strings.TrimSpace(component),
		Code:         code,
		ContractCode: 0,
		Message:      "",
		RawMsg:       "",
		cause:        nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithContractCode records the numeric error code reported by the contract.
func WithContractCode(code int) Option {
	return func(e *E) {
		e.ContractCode = code
	}
}

// WithRawMessage captures the raw failure text returned by the chain client.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.ContractCode > 0 {
		parts = append(parts, "contract_code="+strconv.Itoa(e.ContractCode))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// IsCode reports whether err is an *E carrying the given code.
func IsCode(err error, code Code) bool {
	if e, ok := err.(*E); ok {
		return e.Code == code
	}
	return false
}
