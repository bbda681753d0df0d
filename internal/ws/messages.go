package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-chatengine/internal/server"
	"github.com/npezzotti/go-chatengine/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Subscribe   *Topic   `json:"subscribe,omitempty"`
	Unsubscribe *Topic   `json:"unsubscribe,omitempty"`
	Publish     *Publish `json:"publish,omitempty"`
	Typing      *Typing  `json:"typing,omitempty"`
	Read        *Read    `json:"read,omitempty"`
}

type Topic struct {
	Topic string `json:"topic"`
}

type Publish struct {
	RoomId  int               `json:"room_id"`
	Content string            `json:"content"`
	Type    types.MessageType `json:"type,omitempty"`
}

type Typing struct {
	RoomId int  `json:"room_id"`
	Typing bool `json:"typing"`
}

type Read struct {
	MessageId int `json:"message_id"`
}

type ServerMessage struct {
	BaseMessage
	Response *Response `json:"response,omitempty"`
	Event    *Event    `json:"event,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Event carries one published event. Chat and system messages are sent as
// the bare message; every other event is sent as is.
type Event struct {
	Topic   string          `json:"topic"`
	Type    types.EventType `json:"type"`
	Payload any             `json:"payload"`
}

func NewEvent(env *server.Envelope) *ServerMessage {
	var payload any = env.Event
	if m, ok := env.Event.(types.MessageEvent); ok {
		payload = m.Message
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: env.Timestamp,
		},
		Event: &Event{
			Topic:   env.Topic,
			Type:    env.Event.Type(),
			Payload: payload,
		},
	}
}

func newResponse(id, code int, errMsg string, data map[string]any) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: server.Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return newResponse(id, http.StatusOK, "", data)
}

func NoErrAccepted(id int) *ServerMessage {
	return newResponse(id, http.StatusAccepted, "", nil)
}

func ErrInvalidMessage(id int) *ServerMessage {
	return newResponse(id, http.StatusBadRequest, "invalid message format", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return newResponse(id, http.StatusInternalServerError, "internal server error", nil)
}

// ErrFromEngine maps an engine error to a response. Errors the caller
// cannot act on are reported as internal errors.
func ErrFromEngine(id int, err error) *ServerMessage {
	var e *server.Error
	if !errors.As(err, &e) {
		return ErrInternalError(id)
	}

	code := http.StatusInternalServerError
	switch e.Kind {
	case server.KindNotFound:
		code = http.StatusNotFound
	case server.KindInvalidRequest:
		code = http.StatusBadRequest
	case server.KindConflict:
		code = http.StatusConflict
	case server.KindUnauthorized:
		code = http.StatusForbidden
	}

	return newResponse(id, code, e.Error(), nil)
}
