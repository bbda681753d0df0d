package database

import (
	"errors"
	"time"
)

// ErrDuplicate is returned when an insert collides with a unique key,
// such as a second direct room for the same pair of users.
var ErrDuplicate = errors.New("duplicate key")

const defaultMessageLimit = 50

type GoChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	ListAccounts(excludeId int) ([]User, error)
	SearchAccounts(query string, excludeId int) ([]User, error)
	UpdatePresence(accountId int, online bool, lastSeen time.Time) error
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomById(roomId int) (Room, error)
	FindDirectRoom(accountA, accountB int) (Room, error)
	ListRoomsForAccount(accountId int) ([]Room, error)
	AddMember(roomId, accountId int) error
	RemoveMember(roomId, accountId int) (int, error)
	DeleteRoom(roomId int) error
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessageById(messageId int) (Message, error)
	GetMessages(roomId, after, before, limit int) ([]Message, error)
	GetLastMessage(roomId int) (Message, error)
	MarkMessageRead(messageId int, readAt time.Time) (bool, error)
	CountUnread(roomId, accountId int) (int, error)
}
