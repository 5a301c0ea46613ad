package provider

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthentication     = errors.New("webhook authentication failed")
	ErrUnsupported        = errors.New("operation not supported by provider")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrInvalidEvent       = errors.New("invalid webhook payload")
	ErrRegistrationFailed = errors.New("provider user registration failed")
	ErrInvalidParams      = errors.New("invalid connect parameters")
)

// ProviderError wraps any failure talking to a vendor
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether the vendor rejected the stored credentials
func (e *ProviderError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether the vendor no longer knows the resource
func (e *ProviderError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// NewError wraps err as a ProviderError unless it already is one
func NewError(provider string, status int, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, StatusCode: status, Err: err}
}

// UnknownEventError is returned when a vendor sends an event type outside the vocabulary
type UnknownEventError struct {
	Type string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

func (e *UnknownEventError) Unwrap() error {
	return ErrInvalidEvent
}
