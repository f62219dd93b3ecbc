// Package api defines the external collaborator interfaces the core
// orchestrator is driven against (service registry, VM manager, image
// store/registry, node inventory, network registry, workflow engine,
// remote shell fanout, directory service, history store) and the error
// taxonomy every component reports through.
package api

import (
	"fmt"

	"github.com/juju/errors"
)

// ValidationError reports a malformed ChangeRequest. It carries no side
// effects: validation errors are always discovered before anything in
// the cluster is touched, and the plan builder accumulates every one it
// finds into a single aggregate before returning.
type ValidationError struct {
	cause error
}

// NewValidationError wraps msg (formatted per fmt.Sprintf) as a
// ValidationError.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{cause: fmt.Errorf(format, args...)}
}

func (e *ValidationError) Error() string { return "validation error: " + e.cause.Error() }
func (e *ValidationError) Unwrap() error  { return e.cause }

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

// AggregateValidationError bundles every ValidationError found while
// validating a batch of change requests into one reportable error.
type AggregateValidationError struct {
	Errors []error
}

func (e *AggregateValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e.Errors))
	for _, err := range e.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// UpdateError reports a semantically invalid plan: an unknown service, a
// conflict between two changes, a change the coordinator has no
// procedure for, or a tripped safety gate.
type UpdateError struct {
	cause error
}

// NewUpdateError wraps msg as an UpdateError.
func NewUpdateError(format string, args ...interface{}) error {
	return &UpdateError{cause: fmt.Errorf(format, args...)}
}

func (e *UpdateError) Error() string { return e.cause.Error() }
func (e *UpdateError) Unwrap() error { return e.cause }

// IsUpdateError reports whether err is, or wraps, an UpdateError.
func IsUpdateError(err error) bool {
	_, ok := errors.Cause(err).(*UpdateError)
	return ok
}

// UpstreamError reports a failure surfaced by an external collaborator.
// Service names which upstream collaborator failed (e.g. "imgapi",
// "cnapi", "vmapi"); Payload carries whatever detail that upstream
// returned, for operator diagnosis.
type UpstreamError struct {
	Service string
	Op      string
	Payload string
	cause   error
}

// NewUpstreamError records a failure from the named upstream service
// while performing op, wrapping cause.
func NewUpstreamError(service, op string, cause error) error {
	return &UpstreamError{Service: service, Op: op, cause: cause}
}

func (e *UpstreamError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("%s: %s: %v (%s)", e.Service, e.Op, e.cause, e.Payload)
	}
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.cause)
}

func (e *UpstreamError) Unwrap() error { return e.cause }

// IsUpstreamError reports whether err is, or wraps, an UpstreamError.
func IsUpstreamError(err error) bool {
	_, ok := errors.Cause(err).(*UpstreamError)
	return ok
}

// IsResourceNotFound reports whether err represents the one "soft"
// UpstreamError class: an image (or other resource) that is referenced
// locally but no longer exists upstream. Callers of the Image Resolver
// treat this as "omit from candidate set", not as a fatal error.
func IsResourceNotFound(err error) bool {
	if err == nil {
		return false
	}
	if ue, ok := errors.Cause(err).(*UpstreamError); ok {
		return errors.IsNotFound(ue.cause)
	}
	return errors.IsNotFound(err)
}

// InternalError reports a filesystem, lock, or unexpected internal state
// failure. It always carries a cause chain for postmortem.
type InternalError struct {
	cause error
}

// NewInternalError wraps cause as an InternalError with additional context.
func NewInternalError(cause error, format string, args ...interface{}) error {
	return &InternalError{cause: errors.Annotatef(cause, format, args...)}
}

func (e *InternalError) Error() string { return e.cause.Error() }
func (e *InternalError) Unwrap() error { return e.cause }

// IsInternalError reports whether err is, or wraps, an InternalError.
func IsInternalError(err error) bool {
	_, ok := errors.Cause(err).(*InternalError)
	return ok
}
