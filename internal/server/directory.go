package server

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/samber/lo"
)

// RoomState is the lifecycle state of a room. A room moves from RoomActive
// to RoomDeleted when its member set becomes empty and never comes back.
type RoomState int

const (
	RoomActive RoomState = iota
	RoomDeleted
)

func (s RoomState) String() string {
	return [...]string{"active", "deleted"}[s]
}

// RoomDirectory owns room lifecycle, membership and the order of messages
// within a room. Every mutation of a room runs inside that room's exclusive
// turn; direct rooms are additionally created under a turn keyed by the
// unordered user pair.
type RoomDirectory struct {
	log        *log.Logger
	db         database.GoChatRepository
	dispatcher *Dispatcher
	turns      *keyedMutex
	pairs      *keyedMutex

	// OnRoomDeleted is called inside the room's turn after a cascade delete.
	OnRoomDeleted func(roomId int)
}

func NewRoomDirectory(logger *log.Logger, db database.GoChatRepository, d *Dispatcher) *RoomDirectory {
	return &RoomDirectory{
		log:        logger,
		db:         db,
		dispatcher: d,
		turns:      newKeyedMutex(),
		pairs:      newKeyedMutex(),
	}
}

func roomKey(roomId int) string {
	return strconv.Itoa(roomId)
}

func pairKey(a, b int) string {
	lo, hi := database.OrderedPair(a, b)
	return fmt.Sprintf("%d:%d", lo, hi)
}

func (d *RoomDirectory) getUser(userId int) (database.User, error) {
	u, err := d.db.GetAccountById(userId)
	if err != nil {
		return database.User{}, lookupErr(err, EntityUser, userId)
	}
	return u, nil
}

func (d *RoomDirectory) getRoom(roomId int) (database.Room, error) {
	r, err := d.db.GetRoomById(roomId)
	if err != nil {
		return database.Room{}, lookupErr(err, EntityRoom, roomId)
	}
	return r, nil
}

// Room fetches a room with its members.
func (d *RoomDirectory) Room(roomId int) (database.Room, error) {
	return d.getRoom(roomId)
}

// CreateGroupRoom creates a group room. The creator is always a member.
func (d *RoomDirectory) CreateGroupRoom(name string, creatorId int, memberIds []int) (database.Room, error) {
	if name == "" {
		return database.Room{}, ErrInvalidRequest("room name is required")
	}

	ids := lo.Uniq(append([]int{creatorId}, memberIds...))
	for _, id := range ids {
		if _, err := d.getUser(id); err != nil {
			return database.Room{}, err
		}
	}

	room, err := d.db.CreateRoom(database.CreateRoomParams{
		Name:      name,
		Kind:      string(types.RoomKindGroup),
		CreatorId: creatorId,
		MemberIds: ids,
	})
	if err != nil {
		return database.Room{}, fmt.Errorf("create room: %w", err)
	}

	d.log.Printf("created group room %d %q with %d members", room.Id, room.Name, len(room.Members))
	return room, nil
}

// CreateOrGetDirectRoom returns the direct room of the pair, creating it on
// first use. created reports whether this call created it.
func (d *RoomDirectory) CreateOrGetDirectRoom(userA, userB int) (room database.Room, created bool, err error) {
	if userA == userB {
		return database.Room{}, false, ErrInvalidRequest("direct room needs two distinct users")
	}

	a, err := d.getUser(userA)
	if err != nil {
		return database.Room{}, false, err
	}
	b, err := d.getUser(userB)
	if err != nil {
		return database.Room{}, false, err
	}

	release := d.pairs.Lock(pairKey(userA, userB))
	defer release()

	room, err = d.db.FindDirectRoom(userA, userB)
	switch {
	case err == nil:
		room, err = d.restorePair(room, a, b)
		return room, false, err
	case !errors.Is(err, sql.ErrNoRows):
		return database.Room{}, false, fmt.Errorf("find direct room: %w", err)
	}

	room, err = d.db.CreateRoom(database.CreateRoomParams{
		Name:      b.Username,
		Kind:      string(types.RoomKindDirect),
		CreatorId: a.Id,
		MemberIds: []int{a.Id, b.Id},
	})
	if errors.Is(err, database.ErrDuplicate) {
		// another writer created the pair's room first
		d.log.Printf("direct room for %d and %d: %v", a.Id, b.Id, ErrConflict(EntityRoom, err))
		room, err = d.db.FindDirectRoom(userA, userB)
		if err != nil {
			return database.Room{}, false, fmt.Errorf("find direct room: %w", err)
		}
		room, err = d.restorePair(room, a, b)
		return room, false, err
	}
	if err != nil {
		return database.Room{}, false, fmt.Errorf("create direct room: %w", err)
	}

	d.log.Printf("created direct room %d for %q and %q", room.Id, a.Username, b.Username)
	return room, true, nil
}

// restorePair re-adds a pair member who had left the direct room.
func (d *RoomDirectory) restorePair(room database.Room, users ...database.User) (database.Room, error) {
	restored := false
	for _, u := range users {
		if hasMember(room, u.Id) {
			continue
		}
		if _, err := d.join(room.Id, u); err != nil {
			return database.Room{}, err
		}
		restored = true
	}

	if !restored {
		return room, nil
	}
	return d.getRoom(room.Id)
}

// Join adds userId to the room and emits a Join message. It returns a nil
// message when the user already was a member.
func (d *RoomDirectory) Join(roomId, userId int) (*database.Message, error) {
	user, err := d.getUser(userId)
	if err != nil {
		return nil, err
	}

	return d.join(roomId, user)
}

func (d *RoomDirectory) join(roomId int, user database.User) (*database.Message, error) {
	release := d.turns.Lock(roomKey(roomId))
	defer release()

	room, err := d.getRoom(roomId)
	if err != nil {
		return nil, err
	}

	if hasMember(room, user.Id) {
		return nil, nil
	}

	if room.Kind == string(types.RoomKindDirect) && user.Id != room.PairLo && user.Id != room.PairHi {
		return nil, ErrInvalidRequest("cannot join a direct room of other users")
	}

	if err := d.db.AddMember(roomId, user.Id); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}

	msg, err := d.appendLocked(roomId, user.Id, user.Username+" joined the chat", types.MessageTypeJoin)
	if err != nil {
		if _, rbErr := d.db.RemoveMember(roomId, user.Id); rbErr != nil {
			d.log.Printf("rollback join of %q to room %d: %v", user.Username, roomId, rbErr)
		}
		return nil, err
	}

	d.log.Printf("%q joined room %d", user.Username, roomId)
	return &msg, nil
}

// Leave removes userId from the room. The Leave message is emitted unless
// the room became empty, in which case the room is deleted instead.
func (d *RoomDirectory) Leave(roomId, userId int) (*database.Message, RoomState, error) {
	return d.remove(roomId, userId, true)
}

// DeleteForUser removes userId from the room without a Leave message.
func (d *RoomDirectory) DeleteForUser(roomId, userId int) (RoomState, error) {
	_, state, err := d.remove(roomId, userId, false)
	return state, err
}

func (d *RoomDirectory) remove(roomId, userId int, announce bool) (*database.Message, RoomState, error) {
	user, err := d.getUser(userId)
	if err != nil {
		return nil, RoomActive, err
	}

	release := d.turns.Lock(roomKey(roomId))
	defer release()

	room, err := d.getRoom(roomId)
	if err != nil {
		return nil, RoomActive, err
	}

	if !hasMember(room, userId) {
		return nil, RoomActive, nil
	}

	remaining, err := d.db.RemoveMember(roomId, userId)
	if err != nil {
		return nil, RoomActive, fmt.Errorf("remove member: %w", err)
	}

	if remaining == 0 {
		if err := d.deleteLocked(roomId); err != nil {
			if rbErr := d.db.AddMember(roomId, userId); rbErr != nil {
				d.log.Printf("rollback removal of %q from room %d: %v", user.Username, roomId, rbErr)
			}
			return nil, RoomActive, err
		}
		return nil, RoomDeleted, nil
	}

	if !announce {
		d.log.Printf("%q deleted room %d for themselves", user.Username, roomId)
		return nil, RoomActive, nil
	}

	msg, err := d.appendLocked(roomId, userId, user.Username+" left the chat", types.MessageTypeLeave)
	if err != nil {
		if rbErr := d.db.AddMember(roomId, userId); rbErr != nil {
			d.log.Printf("rollback leave of %q from room %d: %v", user.Username, roomId, rbErr)
		}
		return nil, RoomActive, err
	}

	d.log.Printf("%q left room %d", user.Username, roomId)
	return &msg, RoomActive, nil
}

// deleteLocked moves the room to RoomDeleted, removing it with its messages.
func (d *RoomDirectory) deleteLocked(roomId int) error {
	if err := d.db.DeleteRoom(roomId); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	d.log.Printf("room %d has no members left, deleted", roomId)
	if d.OnRoomDeleted != nil {
		d.OnRoomDeleted(roomId)
	}
	return nil
}

// AppendMessage stores a message from a member and publishes it to the
// room, both inside the room's turn.
func (d *RoomDirectory) AppendMessage(roomId, senderId int, content string, mt types.MessageType) (database.Message, error) {
	release := d.turns.Lock(roomKey(roomId))
	defer release()

	room, err := d.getRoom(roomId)
	if err != nil {
		return database.Message{}, err
	}

	if !hasMember(room, senderId) {
		return database.Message{}, ErrUnauthorized(fmt.Sprintf("user %d is not a member of room %d", senderId, roomId))
	}

	return d.appendLocked(roomId, senderId, content, mt)
}

// appendLocked must be called holding the room's turn.
func (d *RoomDirectory) appendLocked(roomId, senderId int, content string, mt types.MessageType) (database.Message, error) {
	msg, err := d.db.CreateMessage(database.CreateMessageParams{
		RoomId:    roomId,
		UserId:    senderId,
		Content:   content,
		Type:      string(mt),
		CreatedAt: Now(),
	})
	if err != nil {
		return database.Message{}, fmt.Errorf("create message: %w", err)
	}

	d.dispatcher.Publish(roomId, types.MessageEvent{Message: messageFromDB(msg)})
	return msg, nil
}

func hasMember(room database.Room, userId int) bool {
	return lo.ContainsBy(room.Members, func(u database.User) bool { return u.Id == userId })
}
