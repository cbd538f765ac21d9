package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the engine's taxonomy. Kinds describe
// behavior (retryability, whose fault, what the operator should do), not
// wire codes.
type Kind string

const (
	KindValidation          Kind = "VALIDATION"
	KindNoRouteFound        Kind = "NO_ROUTE_FOUND"
	KindNotConfigured       Kind = "NOT_CONFIGURED"
	KindProviderTransient   Kind = "PROVIDER_TRANSIENT"
	KindProviderPermanent   Kind = "PROVIDER_PERMANENT"
	KindProviderAuth        Kind = "PROVIDER_AUTH"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindFundingFailed       Kind = "FUNDING_FAILED"
	KindConfirmationTimeout Kind = "CONFIRMATION_TIMEOUT"
	KindPreconditionFailed  Kind = "PRECONDITION_FAILED"
	KindParse               Kind = "PARSE"
	KindNotSupported        Kind = "NOT_SUPPORTED"
	KindInternal            Kind = "INTERNAL"
)

// Error carries a Kind plus the provider it originated from, when any
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	switch {
	case e.Provider != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Provider, e.Message, e.Cause)
	case e.Provider != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Provider, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping a cause
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Provider creates a provider-scoped Error
func Provider(kind Kind, provider string, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindInternal: a bare error reaching a caller is always a defect.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether an executor may retry the failed call.
// Rate-limited errors are transient with extended backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderTransient, KindRateLimited:
		return true
	}
	return false
}
