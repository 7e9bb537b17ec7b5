package providers

import (
	"errors"
	"fmt"
)

// ErrorKind is the normalized failure taxonomy the chain branches on.
type ErrorKind string

const (
	// KindInvalidInput means the address was rejected locally before any
	// network call was made (quota-limited requests are never wasted on
	// input a provider would refuse anyway).
	KindInvalidInput ErrorKind = "invalid_input"

	// KindTransient covers network errors, timeouts, 5xx responses and
	// malformed response bodies. The caller falls through to the next tier.
	KindTransient ErrorKind = "transient"

	// KindPermanent covers credential and configuration failures. The
	// caller falls through as well, but logs at a higher severity since the
	// condition is operator-actionable.
	KindPermanent ErrorKind = "permanent"
)

// ProviderError wraps a provider failure with its normalized kind.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	Underlying error
}

func (e *ProviderError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.Provider, e.Kind, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

func NewProviderError(kind ErrorKind, provider, message string, underlying error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: message, Underlying: underlying}
}

// KindOf extracts the kind from an error. Errors that don't carry a kind
// (context deadlines, transport failures surfaced raw) count as transient,
// which is the safe fallthrough default.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
