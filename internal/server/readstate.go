package server

import (
	"fmt"
	"log"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/types"
)

// ReadStateTracker keeps the read flag of messages. The flag is shared by
// all members of a room: once any non-sender marks a message read it is
// read for everyone, and it never goes back to unread.
type ReadStateTracker struct {
	log        *log.Logger
	db         database.GoChatRepository
	dispatcher *Dispatcher
}

func NewReadStateTracker(logger *log.Logger, db database.GoChatRepository, d *Dispatcher) *ReadStateTracker {
	return &ReadStateTracker{
		log:        logger,
		db:         db,
		dispatcher: d,
	}
}

// MarkRead flips the read flag of messageId on behalf of readerId and
// reports whether this call made the transition. Marking one's own message,
// or one that is already read, is a no-op.
func (t *ReadStateTracker) MarkRead(messageId, readerId int) (database.Message, bool, error) {
	msg, err := t.db.GetMessageById(messageId)
	if err != nil {
		return database.Message{}, false, lookupErr(err, EntityMessage, messageId)
	}

	room, err := t.db.GetRoomById(msg.RoomId)
	if err != nil {
		return database.Message{}, false, lookupErr(err, EntityRoom, msg.RoomId)
	}
	if !hasMember(room, readerId) {
		return database.Message{}, false, ErrUnauthorized(fmt.Sprintf("user %d is not a member of room %d", readerId, room.Id))
	}

	if msg.UserId == readerId || msg.IsRead {
		return msg, false, nil
	}

	readAt := Now()
	changed, err := t.db.MarkMessageRead(messageId, readAt)
	if err != nil {
		return database.Message{}, false, fmt.Errorf("mark read: %w", err)
	}
	if !changed {
		return msg, false, nil
	}

	msg.IsRead = true
	msg.ReadAt = &readAt

	t.dispatcher.Publish(msg.RoomId, types.ReadStatusEvent{
		MessageId:  msg.Id,
		StatusType: types.StatusTypeRead,
		ReadAt:     readAt,
		RoomId:     msg.RoomId,
	})

	return msg, true, nil
}

// UnreadCountFor counts the messages in roomId not sent by userId whose
// read flag is still false.
func (t *ReadStateTracker) UnreadCountFor(roomId, userId int) (int, error) {
	n, err := t.db.CountUnread(roomId, userId)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
