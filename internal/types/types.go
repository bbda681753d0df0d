package types

import (
	"time"
)

type RoomKind string

const (
	RoomKindDirect RoomKind = "DIRECT"
	RoomKindGroup  RoomKind = "GROUP"
)

func (k RoomKind) Valid() bool {
	return k == RoomKindDirect || k == RoomKindGroup
}

type MessageType string

const (
	MessageTypeChat  MessageType = "CHAT"
	MessageTypeJoin  MessageType = "JOIN"
	MessageTypeLeave MessageType = "LEAVE"
)

func (mt MessageType) Valid() bool {
	switch mt {
	case MessageTypeChat, MessageTypeJoin, MessageTypeLeave:
		return true
	}
	return false
}

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	IsOnline     bool      `json:"is_online"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	Kind      RoomKind  `json:"type"`
	CreatorId int       `json:"creator_id"`
	Members   []User    `json:"members"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// HasMember reports whether userId is in the room's member set.
func (r Room) HasMember(userId int) bool {
	for _, m := range r.Members {
		if m.Id == userId {
			return true
		}
	}
	return false
}

// MemberIds returns the ids of the room's members in stored order.
func (r Room) MemberIds() []int {
	ids := make([]int, len(r.Members))
	for i, m := range r.Members {
		ids[i] = m.Id
	}
	return ids
}

type Message struct {
	Id             int         `json:"id"`
	SeqId          int         `json:"seq_id"`
	RoomId         int         `json:"room_id"`
	SenderId       int         `json:"sender_id"`
	SenderUsername string      `json:"sender_username"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	IsDelivered    bool        `json:"is_delivered"`
	DeliveredAt    *time.Time  `json:"delivered_at,omitempty"`
	IsRead         bool        `json:"is_read"`
	ReadAt         *time.Time  `json:"read_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// RoomSummary is a room as listed for one user.
type RoomSummary struct {
	Room        Room     `json:"room"`
	UnreadCount int      `json:"unread_count"`
	LastMessage *Message `json:"last_message,omitempty"`
}
