// Package errors provides error handling for the DID finder library.
//
// It re-exports github.com/cockroachdb/errors so every package gets stack
// traces, wrapping, hints and details from one import, and it defines the
// sentinel errors that make up the DID finder failure taxonomy.
//
// Usage:
//
//	if err := parse(uri); err != nil {
//	    return errors.Wrap(err, "failed to parse DID")
//	}
//
//	if errors.Is(err, errors.ErrInvalidDID) {
//	    // reject before the resolver runs
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors for the DID finder. Wrap them to add context; check them
// with errors.Is.
var (
	// ErrInvalidDID marks a dataset identifier whose query string cannot be
	// interpreted (bad "get" mode, non-integer "files").
	ErrInvalidDID = New("invalid DID")

	// ErrInvalidInput marks something handed to the accumulator that is
	// neither a single file record nor a batch of them.
	ErrInvalidInput = New("invalid input")

	// ErrResolver marks a failure raised by the user resolver.
	ErrResolver = New("resolver failed")

	// ErrMalformedRequest marks a queue message that cannot be decoded into a
	// lookup request.
	ErrMalformedRequest = New("malformed request")

	// ErrUnknownTask marks a request routed to a task name with no handler.
	ErrUnknownTask = New("unknown task")

	// ErrInvalidConfig marks configuration that failed validation.
	ErrInvalidConfig = New("invalid configuration")
)

// IsInvalidDIDError checks if an error is or wraps ErrInvalidDID
func IsInvalidDIDError(err error) bool {
	return err != nil && Is(err, ErrInvalidDID)
}

// IsResolverError checks if an error is or wraps ErrResolver
func IsResolverError(err error) bool {
	return err != nil && Is(err, ErrResolver)
}

// IsInvalidInputError checks if an error is or wraps ErrInvalidInput
func IsInvalidInputError(err error) bool {
	return err != nil && Is(err, ErrInvalidInput)
}

// NewInvalidDIDError creates an invalid-DID error with a formatted message.
// The message is kept verbatim so callers can surface the offending value.
func NewInvalidDIDError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidDID)
}

// NewInvalidInputError creates an invalid-input error with a formatted message
func NewInvalidInputError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidInput)
}

// WrapResolver marks err as a resolver failure while keeping its message
func WrapResolver(err error, did string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrapf(err, "resolver failed for %s", did), ErrResolver)
}

// WrapMalformedRequest marks err as an undecodable request
func WrapMalformedRequest(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrMalformedRequest)
}
