// Package errs defines the closed error taxonomy of the library. Every error
// that crosses the public boundary is an *Error carrying one of the four
// kinds; transport-native errors are always wrapped before they escape a
// provider. Messages and details are kept free of credentials, tokens and
// full license plates.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the library taxonomy.
type Kind int

const (
	// KindAuth marks credential rejection or session expiry.
	KindAuth Kind = iota + 1
	// KindNetwork marks transport and timeout failures.
	KindNetwork
	// KindValidation marks caller-supplied input that violates a contract.
	KindValidation
	// KindProvider marks remote errors the library cannot map further, or
	// use of a capability the provider does not support.
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindValidation:
		return "validation"
	case KindProvider:
		return "provider"
	}
	return "unknown"
}

// Error is the single error type exposed by the library.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  string
	cause   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Detail != "" {
		s = fmt.Sprintf("%s (%s)", s, e.Detail)
	}
	if e.cause != nil {
		s = fmt.Sprintf("%s: %v", s, e.cause)
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality so callers can match against sentinel values made
// with New.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithCode attaches a machine-readable code and returns the error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail attaches a PII-free diagnostic detail and returns the error.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithCause records the wrapped cause and returns the error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Auth builds a KindAuth error.
func Auth(message string) *Error { return New(KindAuth, message) }

// Network builds a KindNetwork error wrapping the transport cause.
func Network(message string, cause error) *Error {
	return New(KindNetwork, message).WithCause(cause)
}

// Validation builds a KindValidation error.
func Validation(message string) *Error { return New(KindValidation, message) }

// Provider builds a KindProvider error.
func Provider(message string) *Error { return New(KindProvider, message) }

// KindOf returns the kind of err, or 0 when err is not a library error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsAuth reports whether err is a KindAuth error.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsNetwork reports whether err is a KindNetwork error.
func IsNetwork(err error) bool { return KindOf(err) == KindNetwork }

// IsValidation reports whether err is a KindValidation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsProvider reports whether err is a KindProvider error.
func IsProvider(err error) bool { return KindOf(err) == KindProvider }
