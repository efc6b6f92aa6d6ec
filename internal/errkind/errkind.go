// Package errkind implements the closed error taxonomy of spec §7 and the
// HTTP synthesis table of spec §6. Inner layers speak kinds; only the HTTP
// server boundary (internal/inbound) converts a kind to a status code.
package errkind

import (
	"errors"
	"net/http"
)

// Kind is one of the closed set of error kinds spec §7 enumerates.
type Kind int

const (
	Unknown Kind = iota
	Io
	Timeout
	DetectFailed
	TLSHandshake
	IdentityRequired
	DiscoveryRejected
	NoAuthority
	BadDomain
	NotFound
	GatewayLoop
	LoadShed
	FailFast
	Cancelled
	Internal
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "Io"
	case Timeout:
		return "Timeout"
	case DetectFailed:
		return "DetectFailed"
	case TLSHandshake:
		return "TlsHandshake"
	case IdentityRequired:
		return "IdentityRequired"
	case DiscoveryRejected:
		return "DiscoveryRejected"
	case NoAuthority:
		return "NoAuthority"
	case BadDomain:
		return "BadDomain"
	case NotFound:
		return "NotFound"
	case GatewayLoop:
		return "GatewayLoop"
	case LoadShed:
		return "LoadShed"
	case FailFast:
		return "FailFast"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a kind-tagged error, the unit every internal layer returns
// instead of an ad-hoc error type.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Reason + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not carry one.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return Internal
}

// HTTPStatus maps a kind to the status code table of spec §6.
func HTTPStatus(k Kind) int {
	switch k {
	case NotFound, BadDomain, NoAuthority, GatewayLoop:
		return http.StatusBadGateway
	case IdentityRequired:
		return http.StatusForbidden
	case LoadShed, FailFast:
		return http.StatusServiceUnavailable
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// ErrClassifier reduces an error to a short categorical label, modeled on
// bassosimone-nop's ErrClassifier interface.
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to ErrClassifier.
type ErrClassifierFunc func(error) string

func (f ErrClassifierFunc) Classify(err error) string { return f(err) }

// DefaultErrClassifier classifies by Kind, falling back to "" for nil errors.
var DefaultErrClassifier = ErrClassifierFunc(func(err error) string {
	if err == nil {
		return ""
	}
	return KindOf(err).String()
})
