package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTransientProvider     = errors.New("transient provider error")
	ErrRateLimited           = errors.New("provider rate limited")
	ErrPermanentProvider     = errors.New("permanent provider error")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrNoCompatibleProvider  = errors.New("no compatible provider")
	ErrTimelineInvariant     = errors.New("timeline invariant violation")
	ErrConfiguration         = errors.New("configuration error")

	// Run lifecycle
	ErrRunNotFound   = errors.New("run not found")
	ErrSceneNotFound = errors.New("scene not found")
	ErrRunBusy       = errors.New("run is still in progress")
)

// ProviderError tags a provider failure with its classification marker.
type ProviderError struct {
	Provider   string
	StatusCode int // HTTP status when the failure came from a response, else 0
	Marker     error
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Marker)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Err}
}

// RateLimitError carries the provider-supplied retry hint (zero when absent).
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s: rate limited", e.Provider)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited || target == ErrTransientProvider
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

func Transient(provider string, err error) error {
	return &ProviderError{Provider: provider, Marker: ErrTransientProvider, Err: err}
}

func Permanent(provider string, err error) error {
	return &ProviderError{Provider: provider, Marker: ErrPermanentProvider, Err: err}
}

// ConfigError wraps a fatal configuration problem.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
