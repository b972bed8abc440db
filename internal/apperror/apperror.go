// Package apperror defines the domain errors shared by every layer.
//
// Services return these; handlers translate them to HTTP status codes.
// Nothing below the handler layer knows about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("Validation Error")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrBadRequest       = errors.New("bad request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMethodNotAllowed = errors.New("method not allowed")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error

	// Fields holds per-field messages for validation errors that
	// involve more than one input. Field/Message mirror the first entry.
	Fields map[string]string
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound is used both for missing records and for records the caller
// does not own. The two cases must stay indistinguishable to clients.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Fields:  map[string]string{field: message},
	}
}

// ValidationFields builds a validation error covering several fields.
// The first field in sorted order becomes Field/Message so single-field
// consumers still get something sensible.
func ValidationFields(fields map[string]string) *AppError {
	err := &AppError{
		Err:     ErrValidation,
		Message: "invalid input",
		Fields:  fields,
	}
	for name, msg := range fields {
		if err.Field == "" || name < err.Field {
			err.Field = name
			err.Message = msg
		}
	}
	return err
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// BadRequest is for missing required input that is not tied to a
// model field, e.g. a shared-link password.
func BadRequest(message string) *AppError {
	return &AppError{
		Err:     ErrBadRequest,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// MethodNotAllowed marks an operation that is intentionally disabled on
// a resource (e.g. creating users outside of registration).
func MethodNotAllowed(message string) *AppError {
	return &AppError{
		Err:     ErrMethodNotAllowed,
		Message: message,
	}
}
