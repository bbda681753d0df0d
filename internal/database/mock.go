package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) ListAccounts(excludeId int) ([]User, error) {
	args := m.Called(excludeId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockGoChatRepository) SearchAccounts(query string, excludeId int) ([]User, error) {
	args := m.Called(query, excludeId)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockGoChatRepository) UpdatePresence(accountId int, online bool, lastSeen time.Time) error {
	args := m.Called(accountId, online, lastSeen)
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) GetRoomById(roomId int) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) FindDirectRoom(accountA, accountB int) (Room, error) {
	args := m.Called(accountA, accountB)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) ListRoomsForAccount(accountId int) ([]Room, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockGoChatRepository) AddMember(roomId, accountId int) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}
func (m *MockGoChatRepository) RemoveMember(roomId, accountId int) (int, error) {
	args := m.Called(roomId, accountId)
	return args.Int(0), args.Error(1)
}
func (m *MockGoChatRepository) DeleteRoom(roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessageById(messageId int) (Message, error) {
	args := m.Called(messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessages(roomId, after, before, limit int) ([]Message, error) {
	args := m.Called(roomId, after, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockGoChatRepository) GetLastMessage(roomId int) (Message, error) {
	args := m.Called(roomId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) MarkMessageRead(messageId int, readAt time.Time) (bool, error) {
	args := m.Called(messageId, readAt)
	return args.Bool(0), args.Error(1)
}
func (m *MockGoChatRepository) CountUnread(roomId, accountId int) (int, error) {
	args := m.Called(roomId, accountId)
	return args.Int(0), args.Error(1)
}
