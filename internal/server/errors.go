package server

import (
	"database/sql"
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindInvalidRequest
	KindConflict
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidRequest:
		return "invalid request"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

type Entity string

const (
	EntityUser    Entity = "user"
	EntityRoom    Entity = "room"
	EntityMessage Entity = "message"
)

// Error is returned by every caller-facing operation that fails for a
// reason the caller can act on. Store failures are returned wrapped as-is.
type Error struct {
	Kind    ErrorKind
	Entity  Entity
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Entity != "" {
		msg = fmt.Sprintf("%s %s", e.Entity, msg)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func ErrNotFound(entity Entity, id int) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Message: fmt.Sprintf("id %d", id)}
}

func ErrInvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

func ErrUnauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func ErrConflict(entity Entity, err error) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Err: err}
}

// KindOf returns the kind of err if it is, or wraps, an *Error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsNotFound(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindNotFound
}

func IsUnauthorized(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindUnauthorized
}

func IsInvalidRequest(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindInvalidRequest
}

// lookupErr turns a store "no rows" into NotFound for entity.
func lookupErr(err error, entity Entity, id int) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound(entity, id)
	}
	return fmt.Errorf("get %s %d: %w", entity, id, err)
}
