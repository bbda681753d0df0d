package types

import (
	"strconv"
	"strings"
	"time"
)

const (
	TopicUserStatus     = "user-status"
	TopicChatroomCreate = "chatroom-created"
)

func RoomTopic(roomId int) string {
	return "room." + strconv.Itoa(roomId)
}

func RoomTypingTopic(roomId int) string {
	return RoomTopic(roomId) + ".typing"
}

func RoomStatusTopic(roomId int) string {
	return RoomTopic(roomId) + ".status"
}

// RoomTopics returns every topic scoped to a room.
func RoomTopics(roomId int) []string {
	return []string{RoomTopic(roomId), RoomTypingTopic(roomId), RoomStatusTopic(roomId)}
}

// ParseRoomTopic returns the room id of a room scoped topic.
func ParseRoomTopic(topic string) (int, bool) {
	rest, ok := strings.CutPrefix(topic, "room.")
	if !ok {
		return 0, false
	}
	rest = strings.TrimSuffix(strings.TrimSuffix(rest, ".typing"), ".status")

	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// IsGlobalTopic reports whether topic is delivered to every live session.
func IsGlobalTopic(topic string) bool {
	return topic == TopicUserStatus || topic == TopicChatroomCreate
}

type EventType string

const (
	EventTypeMessage     EventType = "message"
	EventTypeTyping      EventType = "typing"
	EventTypeReadStatus  EventType = "status"
	EventTypePresence    EventType = "presence"
	EventTypeRoomCreated EventType = "room_created"
)

// Event is the closed set of payloads published on the event bus.
type Event interface {
	Topic() string
	Type() EventType
}

type MessageEvent struct {
	Message Message `json:"message"`
}

func (e MessageEvent) Topic() string   { return RoomTopic(e.Message.RoomId) }
func (e MessageEvent) Type() EventType { return EventTypeMessage }

type TypingEvent struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
	RoomId   int    `json:"room_id"`
}

func (e TypingEvent) Topic() string   { return RoomTypingTopic(e.RoomId) }
func (e TypingEvent) Type() EventType { return EventTypeTyping }

// TypingKey identifies the (user, room) pair a typing event supersedes.
func (e TypingEvent) TypingKey() string {
	return strconv.Itoa(e.RoomId) + ":" + strconv.Itoa(e.UserId)
}

const StatusTypeRead = "READ"

type ReadStatusEvent struct {
	MessageId  int       `json:"message_id"`
	StatusType string    `json:"status_type"`
	ReadAt     time.Time `json:"read_at"`
	RoomId     int       `json:"room_id"`
}

func (e ReadStatusEvent) Topic() string   { return RoomStatusTopic(e.RoomId) }
func (e ReadStatusEvent) Type() EventType { return EventTypeReadStatus }

type PresenceEvent struct {
	UserId   int       `json:"user_id"`
	Username string    `json:"username"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

func (e PresenceEvent) Topic() string   { return TopicUserStatus }
func (e PresenceEvent) Type() EventType { return EventTypePresence }

type RoomCreatedEvent struct {
	Room            Room     `json:"room"`
	MemberUsernames []string `json:"member_usernames"`
}

func (e RoomCreatedEvent) Topic() string   { return TopicChatroomCreate }
func (e RoomCreatedEvent) Type() EventType { return EventTypeRoomCreated }
