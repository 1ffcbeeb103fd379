package domain

import (
	"errors"
	"net/http"
	"sort"
)

// Result is the uniform shape every account operation is reported in.
type Result[T any] struct {
	Success  bool         `json:"success"`
	Status   int          `json:"status"`
	Message  string       `json:"message,omitempty"`
	Response *T           `json:"response,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func OK[T any](v T, message string) Result[T] {
	return Result[T]{Success: true, Status: http.StatusOK, Message: message, Response: &v}
}

func Created[T any](v T, message string) Result[T] {
	return Result[T]{Success: true, Status: http.StatusCreated, Message: message, Response: &v}
}

func Done(message string) Result[struct{}] {
	return Result[struct{}]{Success: true, Status: http.StatusOK, Message: message}
}

// FromError converts a failure into a Result. Unknown errors collapse into a
// generic 500 so internal detail never reaches the caller.
func FromError[T any](err error) Result[T] {
	res := Result[T]{Status: StatusFor(err), Message: MessageFor(err)}

	var ve *ValidationError
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		keys := make([]string, 0, len(ve.Fields))
		for k := range ve.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			res.Errors = append(res.Errors, FieldError{Field: k, Message: ve.Fields[k]})
		}
	}
	return res
}

func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnprocessable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func MessageFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "invalid request"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid token"
	case errors.Is(err, ErrTokenExpired):
		return "token expired"
	case errors.Is(err, ErrUnprocessable):
		return "no valid fields were provided"
	case errors.Is(err, ErrEmailTaken):
		return "email already registered"
	case errors.Is(err, ErrInvalidCredentials):
		return "incorrect email or password"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not found"
	default:
		return "internal server error"
	}
}
