package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-chatengine/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(code int) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    lower(http.StatusText(code)),
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound)
}

func NewInternalServerError(err error) *ApiError {
	e := newApiError(http.StatusInternalServerError)
	e.Err = err
	return e
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized)
}

func NewForbiddenError() *ApiError {
	return newApiError(http.StatusForbidden)
}

func NewConflictError() *ApiError {
	return newApiError(http.StatusConflict)
}

// NewEngineError maps a chat server error to its HTTP form. The engine's
// message replaces the generic status text so callers see what was wrong.
func NewEngineError(err error) *ApiError {
	var e *server.Error
	if !errors.As(err, &e) {
		return NewInternalServerError(err)
	}

	var apiErr *ApiError
	switch e.Kind {
	case server.KindNotFound:
		apiErr = NewNotFoundError()
	case server.KindInvalidRequest:
		apiErr = NewBadRequestError()
	case server.KindConflict:
		apiErr = NewConflictError()
	case server.KindUnauthorized:
		apiErr = NewForbiddenError()
	default:
		return NewInternalServerError(err)
	}

	apiErr.Message = e.Error()
	return apiErr
}
