package compiler

import (
	"errors"
	"fmt"

	"github.com/civa-shell/irfc/pkg/diag"
	"github.com/civa-shell/irfc/pkg/irf"
)

// ErrorClass represents the classification of a stage failure for retry
// logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a failure that may succeed on retry.
	// Only output I/O fails this way.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a failure caused by the configuration
	// itself. Retrying without editing the sources gives the same result.
	ErrorClassPermanent ErrorClass = "permanent"
)

// StageError is returned when a pipeline stage fails. It carries every
// diagnostic the stage produced.
type StageError struct {
	// Stage names the failing stage (see the diag.Stage constants).
	Stage string `json:"stage"`

	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Diagnostics are the errors reported by the stage.
	Diagnostics []diag.Diagnostic `json:"diagnostics"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *StageError) Error() string {
	switch len(e.Diagnostics) {
	case 0:
		if e.Err != nil {
			return fmt.Sprintf("[%s] %s failed: %v", e.Class, e.Stage, e.Err)
		}
		return fmt.Sprintf("[%s] %s failed", e.Class, e.Stage)
	case 1:
		return fmt.Sprintf("[%s] %s failed: %s", e.Class, e.Stage, e.Diagnostics[0])
	default:
		return fmt.Sprintf("[%s] %s failed with %d errors", e.Class, e.Stage, diag.Count(e.Diagnostics, diag.SeverityError))
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is: two stage errors
// match when stage and class match.
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return e.Stage == t.Stage && e.Class == t.Class
}

func newStageError(stage string, err error, ds []diag.Diagnostic) *StageError {
	return &StageError{
		Stage:       stage,
		Class:       classify(err),
		Diagnostics: ds,
		Err:         err,
	}
}

func classify(err error) ErrorClass {
	var irfErr *irf.Error
	if errors.As(err, &irfErr) && irfErr.Retryable() {
		return ErrorClassTransient
	}
	return ErrorClassPermanent
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *StageError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *StageError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// StageOf returns the failing stage of err, or "" when err is not a stage
// failure.
func StageOf(err error) string {
	var e *StageError
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
