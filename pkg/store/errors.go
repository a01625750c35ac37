package store

import (
	"errors"
	"fmt"
)

// Kind classifies a storage error. Backends map their native failures onto
// exactly one kind; the client propagates kinds unmodified and never retries
// or downgrades.
type Kind uint8

const (
	// KindGeneric is the catch-all for backend errors with no closer match.
	KindGeneric Kind = iota
	// KindNotFound: the object does not exist.
	KindNotFound
	// KindAlreadyExists: a create-mode write hit an occupied path.
	KindAlreadyExists
	// KindPrecondition: an if-match / version condition was not met.
	KindPrecondition
	// KindNotModified: an if-none-match / if-modified-since condition held.
	KindNotModified
	// KindPermissionDenied: authenticated but not authorized.
	KindPermissionDenied
	// KindUnauthenticated: missing or rejected credentials.
	KindUnauthenticated
	// KindInvalidPath: the object path is malformed for the backend.
	KindInvalidPath
	// KindNotSupported: the backend cannot express the operation.
	KindNotSupported
	// KindUnknownConfigurationKey: backend construction saw an unrecognized
	// option key.
	KindUnknownConfigurationKey
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindPrecondition:
		return "precondition failed"
	case KindNotModified:
		return "not modified"
	case KindPermissionDenied:
		return "permission denied"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidPath:
		return "invalid path"
	case KindNotSupported:
		return "not supported"
	case KindUnknownConfigurationKey:
		return "unknown configuration key"
	default:
		return "generic"
	}
}

// Error is the error type surfaced by every backend operation.
type Error struct {
	Kind  Kind
	Store string // backend scheme
	Path  string // object path, when applicable
	Err   error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Store != "" {
		msg = e.Store + ": " + msg
	}
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified storage error.
func NewError(kind Kind, scheme, path string, err error) *Error {
	return &Error{Kind: kind, Store: scheme, Path: path, Err: err}
}

// Errorf builds a classified storage error from a format string.
func Errorf(kind Kind, scheme, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Store: scheme, Path: path, Err: fmt.Errorf(format, args...)}
}

// HasKind reports whether any error in err's chain is a storage Error of the
// given kind.
func HasKind(err error, k Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == k
}

// IsNotFound reports whether err is a KindNotFound storage error.
func IsNotFound(err error) bool { return HasKind(err, KindNotFound) }

// IsAlreadyExists reports whether err is a KindAlreadyExists storage error.
func IsAlreadyExists(err error) bool { return HasKind(err, KindAlreadyExists) }

// IsPrecondition reports whether err is a KindPrecondition storage error.
func IsPrecondition(err error) bool { return HasKind(err, KindPrecondition) }

// IsNotModified reports whether err is a KindNotModified storage error.
func IsNotModified(err error) bool { return HasKind(err, KindNotModified) }

// IsNotSupported reports whether err is a KindNotSupported storage error.
func IsNotSupported(err error) bool { return HasKind(err, KindNotSupported) }
