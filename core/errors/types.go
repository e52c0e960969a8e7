// Package errors implements a tiered error taxonomy for the relatedness
// engine. Every error crossing a package boundary carries a tier, which
// drives retry behavior, and a kind, which callers match with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorTier represents the classification tier for errors.
// Each tier has defined behavior for retry policy and escalation.
type ErrorTier int

const (
	// TierTransient indicates temporary errors that should be silently retried.
	// Examples: database busy, connection reset.
	TierTransient ErrorTier = iota

	// TierPermanent indicates errors that will not resolve with retry.
	// Examples: unknown concept, unsupported operation.
	TierPermanent

	// TierUserFixable indicates errors that require user intervention.
	// Examples: unknown metric name, missing disambiguation category.
	TierUserFixable

	// TierExternalDegrading indicates a degraded backing store.
	// Examples: graph database unreachable, session expired.
	TierExternalDegrading
)

var tierNames = map[ErrorTier]string{
	TierTransient:         "transient",
	TierPermanent:         "permanent",
	TierUserFixable:       "user_fixable",
	TierExternalDegrading: "external_degrading",
}

func (t ErrorTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "unknown"
}

// Kind identifies what went wrong independently of how it should be handled.
type Kind string

const (
	KindNone          Kind = ""
	KindNotFound      Kind = "not_found"
	KindConfiguration Kind = "configuration"
	KindUnsupported   Kind = "unsupported"
	KindInvalidInput  Kind = "invalid_input"
	KindStore         Kind = "store"
)

// TieredError wraps an error with tier and kind classification.
type TieredError struct {
	Tier       ErrorTier
	Kind       Kind
	Message    string
	Underlying error
	RetryAfter time.Duration
	Context    map[string]string
}

// Error implements the error interface.
func (e *TieredError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Tier, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s] %s", e.Tier, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TieredError) Unwrap() error {
	return e.Underlying
}

// Is matches a target TieredError by kind when the target has one, and by
// tier otherwise.
func (e *TieredError) Is(target error) bool {
	var te *TieredError
	if !errors.As(target, &te) {
		return false
	}
	if te.Kind != KindNone {
		return e.Kind == te.Kind
	}
	return e.Tier == te.Tier
}

// NewTieredError creates a new TieredError with the given tier and message.
func NewTieredError(tier ErrorTier, message string, underlying error) *TieredError {
	return &TieredError{
		Tier:       tier,
		Message:    message,
		Underlying: underlying,
		Context:    make(map[string]string),
	}
}

// WithKind sets the kind of the error.
func (e *TieredError) WithKind(kind Kind) *TieredError {
	e.Kind = kind
	return e
}

// WithRetryAfter adds a retry-after duration to the error.
func (e *TieredError) WithRetryAfter(d time.Duration) *TieredError {
	e.RetryAfter = d
	return e
}

// WithContext adds context key-value pairs to the error.
func (e *TieredError) WithContext(key, value string) *TieredError {
	e.Context[key] = value
	return e
}

// GetTier extracts the ErrorTier from an error, defaulting to Permanent.
func GetTier(err error) ErrorTier {
	var te *TieredError
	if errors.As(err, &te) {
		return te.Tier
	}
	return TierPermanent
}

// GetKind extracts the outermost non-empty Kind from an error.
func GetKind(err error) Kind {
	for err != nil {
		var te *TieredError
		if !errors.As(err, &te) {
			return KindNone
		}
		if te.Kind != KindNone {
			return te.Kind
		}
		err = te.Underlying
	}
	return KindNone
}

// IsRetryable checks if an error should be retried based on its tier.
func IsRetryable(err error) bool {
	switch GetTier(err) {
	case TierTransient, TierExternalDegrading:
		return true
	default:
		return false
	}
}

// Sentinel errors matched by kind.
var (
	ErrNotFound      = NewTieredError(TierPermanent, "not found", nil).WithKind(KindNotFound)
	ErrUnsupported   = NewTieredError(TierPermanent, "unsupported operation", nil).WithKind(KindUnsupported)
	ErrInvalidInput  = NewTieredError(TierPermanent, "invalid input", nil).WithKind(KindInvalidInput)
	ErrConfiguration = NewTieredError(TierUserFixable, "configuration error", nil).WithKind(KindConfiguration)

	ErrStoreBusy        = NewTieredError(TierTransient, "store busy", nil).WithKind(KindStore)
	ErrStoreUnavailable = NewTieredError(TierExternalDegrading, "store unavailable", nil).WithKind(KindStore)
)

// NotFound returns a KindNotFound error describing the missing entity.
func NotFound(format string, args ...any) error {
	return NewTieredError(TierPermanent, fmt.Sprintf(format, args...), nil).WithKind(KindNotFound)
}

// Unsupported returns a KindUnsupported error describing the operation.
func Unsupported(format string, args ...any) error {
	return NewTieredError(TierPermanent, fmt.Sprintf(format, args...), nil).WithKind(KindUnsupported)
}

// InvalidInput returns a KindInvalidInput error.
func InvalidInput(format string, args ...any) error {
	return NewTieredError(TierPermanent, fmt.Sprintf(format, args...), nil).WithKind(KindInvalidInput)
}

// Configuration wraps err as a user-fixable configuration error.
func Configuration(message string, err error) error {
	return NewTieredError(TierUserFixable, message, err).WithKind(KindConfiguration)
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsUnsupported(err error) bool   { return errors.Is(err, ErrUnsupported) }
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
func IsInvalidInput(err error) bool  { return errors.Is(err, ErrInvalidInput) }

// WrapWithTier wraps an error with a tier classification.
func WrapWithTier(tier ErrorTier, message string, err error) error {
	if err == nil {
		return nil
	}

	// Don't double-wrap TieredErrors
	var te *TieredError
	if errors.As(err, &te) {
		return &TieredError{
			Tier:       te.Tier,
			Kind:       te.Kind,
			Message:    message,
			Underlying: err,
			RetryAfter: te.RetryAfter,
			Context:    te.Context,
		}
	}

	return NewTieredError(tier, message, err)
}
