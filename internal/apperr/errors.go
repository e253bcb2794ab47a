package apperr

import (
	"fmt"
	"net/http"
)

// DomainError carries an HTTP-style status plus a stable code so transports
// (REST and RTM alike) can map failures without string matching.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Invalid reports a failed precondition. Raised before any side effect; the
// message names the specific missing or malformed field.
func Invalid(message string) *DomainError {
	return &DomainError{
		Status:  http.StatusUnprocessableEntity,
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
}

func Invalidf(format string, args ...any) *DomainError {
	return Invalid(fmt.Sprintf(format, args...))
}

// Conflict reports an explicit-id create colliding with an existing record.
func Conflict(message string) *DomainError {
	return &DomainError{
		Status:  http.StatusConflict,
		Code:    "ALREADY_EXISTS",
		Message: message,
	}
}

func Conflictf(format string, args ...any) *DomainError {
	return Conflict(fmt.Sprintf(format, args...))
}

// NotFound reports a lookup that yielded no record where one was expected.
func NotFound(message string) *DomainError {
	return &DomainError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: message,
	}
}

func NotFoundf(format string, args ...any) *DomainError {
	return NotFound(fmt.Sprintf(format, args...))
}
