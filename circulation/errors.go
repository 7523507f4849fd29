package circulation

import (
	"errors"
	"fmt"
)

// Store-level sentinel errors. Engines join these with the driver cause.
var (
	// ErrNoSuchEntity is returned by find operations when the id does not resolve.
	ErrNoSuchEntity = errors.New("no such entity")

	// ErrStaleState is returned by conditional updates when the record's current
	// state did not match the expected prior state, i.e. no rows were affected.
	// A concurrent caller won the transition.
	ErrStaleState = errors.New("stale state, no rows were affected")

	// ErrNilDatabaseConnection is returned by store constructors for a nil handle.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyTableName is returned when a store option supplies an empty table name.
	ErrEmptyTableName = errors.New("empty table name supplied")
)

// FailureCode categorizes the typed failures an engine operation can return.
type FailureCode string

const (
	// FailureNotFound means an entity id did not resolve.
	FailureNotFound FailureCode = "NOT_FOUND"

	// FailureConflict means a precondition on entity state was violated:
	// book not available, reservation not active, no renewals left, duplicate
	// reservation, or a lost conditional update.
	FailureConflict FailureCode = "CONFLICT"

	// FailureValidation means the input was malformed, e.g. a missing id.
	FailureValidation FailureCode = "VALIDATION"

	// FailureDependency means the entity store or another collaborator was
	// unreachable; no partial mutation is left behind.
	FailureDependency FailureCode = "DEPENDENCY"
)

// FailureError is the typed failure returned by all engine operations.
// Engine operations return either a success payload or a FailureError, never
// a partially applied mutation.
type FailureError struct {
	Code    FailureCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause.Error())
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *FailureError) Unwrap() error {
	return e.Cause
}

// NotFoundf builds a NOT_FOUND failure.
func NotFoundf(format string, args ...any) *FailureError {
	return &FailureError{Code: FailureNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a CONFLICT failure.
func Conflictf(format string, args ...any) *FailureError {
	return &FailureError{Code: FailureConflict, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a VALIDATION failure.
func Validationf(format string, args ...any) *FailureError {
	return &FailureError{Code: FailureValidation, Message: fmt.Sprintf(format, args...)}
}

// DependencyFailure builds a DEPENDENCY failure wrapping the unreachable
// collaborator's error.
func DependencyFailure(msg string, cause error) *FailureError {
	return &FailureError{Code: FailureDependency, Message: msg, Cause: cause}
}

// IsNotFound reports whether err is a NOT_FOUND failure.
func IsNotFound(err error) bool {
	return hasFailureCode(err, FailureNotFound)
}

// IsConflict reports whether err is a CONFLICT failure.
func IsConflict(err error) bool {
	return hasFailureCode(err, FailureConflict)
}

// IsValidation reports whether err is a VALIDATION failure.
func IsValidation(err error) bool {
	return hasFailureCode(err, FailureValidation)
}

// IsDependencyFailure reports whether err is a DEPENDENCY failure.
func IsDependencyFailure(err error) bool {
	return hasFailureCode(err, FailureDependency)
}

func hasFailureCode(err error, code FailureCode) bool {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Code == code
	}

	return false
}
