package irf

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a serializer failure.
type ErrorKind string

const (
	// UnresolvedRef means the tree still holds a reference.
	UnresolvedRef ErrorKind = "UnresolvedRef"

	// BadMagic means the data does not start with the IRF magic bytes.
	BadMagic ErrorKind = "BadMagic"

	// UnsupportedVersion means the header names a format version this
	// package cannot read.
	UnsupportedVersion ErrorKind = "UnsupportedVersion"

	// FingerprintMismatch means the body does not hash to the header
	// fingerprint.
	FingerprintMismatch ErrorKind = "FingerprintMismatch"

	// Malformed means the body is not a canonical encoding.
	Malformed ErrorKind = "Malformed"

	// IOFailure means the output file could not be written. It is the only
	// retryable kind.
	IOFailure ErrorKind = "IOFailure"
)

// Error is a serializer failure.
type Error struct {
	Kind ErrorKind

	// Path is the key path of the offending value, when known.
	Path string

	// Offset is the body offset of a decoding failure.
	Offset int

	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Err.Error()
	}
	switch {
	case e.Path != "":
		return fmt.Sprintf("irf: %s at %s: %s", e.Kind, e.Path, msg)
	case e.Kind == Malformed:
		return fmt.Sprintf("irf: %s at offset %d: %s", e.Kind, e.Offset, msg)
	default:
		return fmt.Sprintf("irf: %s: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the operation may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == IOFailure
}

// IsKind reports whether err wraps an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
