package server

import (
	"time"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/samber/lo"
)

// Now returns the current UTC time at millisecond precision.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func userFromDB(u database.User) types.User {
	return types.User{
		Id:           u.Id,
		Username:     u.Username,
		EmailAddress: u.EmailAddress,
		IsOnline:     u.IsOnline,
		LastSeen:     u.LastSeen,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func roomFromDB(r database.Room) types.Room {
	return types.Room{
		Id:        r.Id,
		Name:      r.Name,
		Kind:      types.RoomKind(r.Kind),
		CreatorId: r.CreatorId,
		Members:   lo.Map(r.Members, func(u database.User, _ int) types.User { return userFromDB(u) }),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func messageFromDB(m database.Message) types.Message {
	return types.Message{
		Id:             m.Id,
		SeqId:          m.SeqId,
		RoomId:         m.RoomId,
		SenderId:       m.UserId,
		SenderUsername: m.Username,
		Content:        m.Content,
		Type:           types.MessageType(m.Type),
		IsDelivered:    m.IsDelivered,
		DeliveredAt:    m.DeliveredAt,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}

func messagesFromDB(msgs []database.Message) []types.Message {
	return lo.Map(msgs, func(m database.Message, _ int) types.Message { return messageFromDB(m) })
}
