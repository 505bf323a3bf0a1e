// Package gofererr defines the engine's single error taxonomy.
//
// Ports keep their own small sentinel errors (storage.ErrNotFound and
// friends); the engine layer wraps those at its boundary into a *gofererr.Error
// so that every caller above the engine pattern-matches on Kind rather than
// string contents.
package gofererr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
	KindInvalidArgument    Kind = "INVALID_ARGUMENT"
	KindFailedPrecondition Kind = "FAILED_PRECONDITION"
	KindPermissionDenied   Kind = "PERMISSION_DENIED"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindTimeout            Kind = "TIMEOUT"
	KindLagged             Kind = "LAGGED"
	KindUnavailable        Kind = "UNAVAILABLE"
	KindInternal           Kind = "INTERNAL"
)

// Error is the rich, kind-carrying error returned by the engine.
type Error struct {
	Kind   Kind
	Field  string // populated for KindInvalidArgument
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Reason, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, gofererr.NotFound("")) style kind comparisons.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Kind == e.Kind
	}
	return false
}

func NotFound(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

func AlreadyExists(reason string) *Error {
	return &Error{Kind: KindAlreadyExists, Reason: reason}
}

func InvalidArgument(field, reason string) *Error {
	return &Error{Kind: KindInvalidArgument, Field: field, Reason: reason}
}

func FailedPrecondition(reason string) *Error {
	return &Error{Kind: KindFailedPrecondition, Reason: reason}
}

func PermissionDenied(reason string) *Error {
	return &Error{Kind: KindPermissionDenied, Reason: reason}
}

func Unauthenticated(reason string) *Error {
	return &Error{Kind: KindUnauthenticated, Reason: reason}
}

func Timeout(reason string) *Error {
	return &Error{Kind: KindTimeout, Reason: reason}
}

func Lagged(reason string) *Error {
	return &Error{Kind: KindLagged, Reason: reason}
}

func Unavailable(reason string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Reason: reason, Cause: cause}
}

func Internal(reason string, cause error) *Error {
	return &Error{Kind: KindInternal, Reason: reason, Cause: cause}
}

// Wrap classifies a port-level error into the engine taxonomy. notFoundErr and
// existsErr are the port's own sentinels (e.g. storage.ErrNotFound); reason is
// used as the message when neither sentinel matches, producing KindInternal.
func Wrap(err error, notFoundErr, existsErr error, reason string) *Error {
	if err == nil {
		return nil
	}
	if notFoundErr != nil && errors.Is(err, notFoundErr) {
		return NotFound(reason)
	}
	if existsErr != nil && errors.Is(err, existsErr) {
		return AlreadyExists(reason)
	}
	return Internal(reason, err)
}
