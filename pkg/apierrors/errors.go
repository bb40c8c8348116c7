// Package apierrors collects the error taxonomy shared by every subsystem
// of the host runtime (spec §6/§7): sentinel errors callers can match with
// errors.Is, plus a small helper to classify a wrapped error into one of
// the six failure kinds so supervision and audit code never string-match.
package apierrors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Subsystems wrap these with fmt.Errorf("...: %w", Err...)
// to attach context; callers unwrap with errors.Is/errors.As.
var (
	ErrComponentNotFound         = errors.New("component not found")
	ErrComponentValidationFailed = errors.New("component validation failed")
	ErrEngineInitialization      = errors.New("engine initialization failed")
	ErrComponentLoadFailed       = errors.New("component load failed")
	ErrExecutionFailed           = errors.New("execution failed")
	ErrExecutionTimeout          = errors.New("execution timeout")
	ErrResourceLimitExceeded     = errors.New("resource limit exceeded")
	ErrCapabilityDenied          = errors.New("capability denied")
	ErrMessagingError            = errors.New("messaging error")
	ErrInternal                  = errors.New("internal error")

	ErrChildNotFound          = errors.New("child not found")
	ErrChildStartFailed       = errors.New("child start failed")
	ErrChildStopFailed        = errors.New("child stop failed")
	ErrShutdownTimeout        = errors.New("shutdown timeout")
	ErrRestartLimitExceeded   = errors.New("restart limit exceeded")
	ErrInvalidConfiguration   = errors.New("invalid configuration")
	ErrTreeIntegrityViolation = errors.New("supervisor tree integrity violation")

	ErrNotInitialized = errors.New("host system not initialized")
	ErrNotImplemented = errors.New("not implemented")
)

// Kind classifies an error into one of the categories from spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindResource
	KindSecurity
	KindTransport
	KindLifecycle
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	case KindSecurity:
		return "security"
	case KindTransport:
		return "transport"
	case KindLifecycle:
		return "lifecycle"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Classify maps an error (possibly wrapped) onto its Kind. Errors that do
// not match any sentinel in this package classify as KindUnknown; callers
// should treat that as "surface as-is", matching the propagation rule in
// spec §7 ("the immediate caller chooses between recovery ... or
// surfacing").
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrComponentValidationFailed), errors.Is(err, ErrInvalidConfiguration):
		return KindValidation
	case errors.Is(err, ErrResourceLimitExceeded), errors.Is(err, ErrExecutionTimeout):
		return KindResource
	case errors.Is(err, ErrCapabilityDenied):
		return KindSecurity
	case errors.Is(err, ErrMessagingError):
		return KindTransport
	case errors.Is(err, ErrShutdownTimeout), errors.Is(err, ErrChildStartFailed), errors.Is(err, ErrChildStopFailed):
		return KindLifecycle
	case errors.Is(err, ErrTreeIntegrityViolation):
		return KindIntegrity
	default:
		return KindUnknown
	}
}

// Wrap attaches context to an error while preserving errors.Is matching
// against the wrapped sentinel.
func Wrap(sentinel error, context string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", context, sentinel)
	}
	return fmt.Errorf("%s: %w: %w", context, sentinel, cause)
}
