package ws

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/stretchr/testify/assert"
)

func TestErrFromEngine(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", server.ErrNotFound(server.EntityRoom, 1), http.StatusNotFound},
		{"invalid request", server.ErrInvalidRequest("bad"), http.StatusBadRequest},
		{"conflict", server.ErrConflict(server.EntityRoom, errors.New("dup")), http.StatusConflict},
		{"unauthorized", fmt.Errorf("send: %w", server.ErrUnauthorized("not a member")), http.StatusForbidden},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			msg := ErrFromEngine(7, tc.err)
			assert.Equal(t, 7, msg.Id)
			assert.Equal(t, tc.code, msg.Response.ResponseCode)
			assert.NotEmpty(t, msg.Response.Error)
			assert.Nil(t, msg.Event)
		})
	}
}

func TestResponses(t *testing.T) {
	ok := NoErrOK(1, map[string]any{"changed": true})
	assert.Equal(t, 1, ok.Id)
	assert.Equal(t, http.StatusOK, ok.Response.ResponseCode)
	assert.Equal(t, true, ok.Response.Data["changed"])
	assert.Empty(t, ok.Response.Error)

	assert.Equal(t, http.StatusAccepted, NoErrAccepted(2).Response.ResponseCode)

	invalid := ErrInvalidMessage(-1)
	assert.Equal(t, 0, invalid.Id, "expected unknown ids to be omitted")
	assert.Equal(t, "invalid message format", invalid.Response.Error)

	internal := ErrInternalError(3)
	assert.Equal(t, http.StatusInternalServerError, internal.Response.ResponseCode)
	assert.False(t, internal.Timestamp.IsZero())
}
