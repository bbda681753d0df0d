package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/stretchr/testify/assert"
)

func TestNewEngineError(t *testing.T) {
	tcases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", server.ErrNotFound(server.EntityRoom, 1), http.StatusNotFound},
		{"invalid request", server.ErrInvalidRequest("bad"), http.StatusBadRequest},
		{"conflict", server.ErrConflict(server.EntityRoom, errors.New("dup")), http.StatusConflict},
		{"unauthorized", server.ErrUnauthorized("not a member"), http.StatusForbidden},
		{"wrapped", fmt.Errorf("join: %w", server.ErrInvalidRequest("bad")), http.StatusBadRequest},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			apiErr := NewEngineError(tc.err)
			assert.Equal(t, tc.status, apiErr.StatusCode)
			if tc.status != http.StatusInternalServerError {
				assert.NotEqual(t, http.StatusText(tc.status), apiErr.Message)
			}
		})
	}
}

func TestApiError(t *testing.T) {
	err := NewInternalServerError(errors.New("db down"))
	assert.Equal(t, "internal server error: db down", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "db down")

	assert.Equal(t, "not found", NewNotFoundError().Error())
}
