package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/samber/lo"
)

const (
	MetricSessions          = "Sessions"
	MetricSessionsDropped   = "SessionsDropped"
	MetricRoomsCreated      = "RoomsCreated"
	MetricRoomsDeleted      = "RoomsDeleted"
	MetricMessagesPublished = "MessagesPublished"
)

const shutdownPoll = 10 * time.Millisecond

// ChatServer is the entry point for every caller-facing chat operation. It
// wires the room directory, read state, session registry, dispatcher and
// event bus together.
type ChatServer struct {
	log        *log.Logger
	db         database.GoChatRepository
	stats      stats.StatsProvider
	bus        *EventBus
	dispatcher *Dispatcher
	registry   *SessionRegistry
	rooms      *RoomDirectory
	reads      *ReadStateTracker
}

func NewChatServer(logger *log.Logger, db database.GoChatRepository, su stats.StatsProvider, sendBuffer int) *ChatServer {
	for _, name := range []string{
		MetricSessions,
		MetricSessionsDropped,
		MetricRoomsCreated,
		MetricRoomsDeleted,
		MetricMessagesPublished,
	} {
		su.RegisterMetric(name)
	}

	bus := NewEventBus(logger, su)
	dispatcher := NewDispatcher(bus, su)

	cs := &ChatServer{
		log:        logger,
		db:         db,
		stats:      su,
		bus:        bus,
		dispatcher: dispatcher,
		registry:   NewSessionRegistry(logger, db, bus, su, sendBuffer),
		rooms:      NewRoomDirectory(logger, db, dispatcher),
		reads:      NewReadStateTracker(logger, db, dispatcher),
	}
	cs.rooms.OnRoomDeleted = cs.roomDeleted

	return cs
}

func (cs *ChatServer) roomDeleted(roomId int) {
	for _, topic := range types.RoomTopics(roomId) {
		cs.bus.DropTopic(topic)
	}
	cs.stats.Incr(MetricRoomsDeleted)
}

func (cs *ChatServer) user(userId int) (database.User, error) {
	u, err := cs.db.GetAccountById(userId)
	if err != nil {
		return database.User{}, lookupErr(err, EntityUser, userId)
	}
	return u, nil
}

// memberRoom loads roomId and checks that userId belongs to it.
func (cs *ChatServer) memberRoom(roomId, userId int) (database.Room, error) {
	room, err := cs.rooms.Room(roomId)
	if err != nil {
		return database.Room{}, err
	}

	if !hasMember(room, userId) {
		return database.Room{}, ErrUnauthorized(fmt.Sprintf("user %d is not a member of room %d", userId, roomId))
	}

	return room, nil
}

func (cs *ChatServer) subscribeUser(userId, roomId int) {
	for _, s := range cs.registry.SessionsFor(userId) {
		for _, topic := range types.RoomTopics(roomId) {
			cs.bus.Subscribe(s, topic)
		}
	}
}

func (cs *ChatServer) unsubscribeUser(userId, roomId int) {
	for _, s := range cs.registry.SessionsFor(userId) {
		for _, topic := range types.RoomTopics(roomId) {
			cs.bus.Unsubscribe(s, topic)
		}
	}
}

// Connect opens a session for user and subscribes it to all of the user's
// rooms.
func (cs *ChatServer) Connect(user types.User) (*Session, error) {
	s, err := cs.registry.Connect(user)
	if err != nil {
		return nil, err
	}

	rooms, err := cs.db.ListRoomsForAccount(user.Id)
	if err != nil {
		cs.registry.Disconnect(s)
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	for _, room := range rooms {
		for _, topic := range types.RoomTopics(room.Id) {
			cs.bus.Subscribe(s, topic)
		}
	}

	return s, nil
}

func (cs *ChatServer) Disconnect(s *Session) {
	cs.registry.Disconnect(s)
}

// Subscribe adds topic to the session. Room topics require membership.
func (cs *ChatServer) Subscribe(s *Session, topic string) error {
	if !types.IsGlobalTopic(topic) {
		roomId, ok := types.ParseRoomTopic(topic)
		if !ok {
			return ErrInvalidRequest(fmt.Sprintf("unknown topic %q", topic))
		}
		if _, err := cs.memberRoom(roomId, s.User.Id); err != nil {
			return err
		}
	}

	if !cs.bus.Subscribe(s, topic) {
		return ErrInvalidRequest("session is closed")
	}
	return nil
}

func (cs *ChatServer) Unsubscribe(s *Session, topic string) {
	cs.bus.Unsubscribe(s, topic)
}

// ListRoomsWithUnread returns every room of userId with its unread count
// and last message.
func (cs *ChatServer) ListRoomsWithUnread(userId int) ([]types.RoomSummary, error) {
	if _, err := cs.user(userId); err != nil {
		return nil, err
	}

	rooms, err := cs.db.ListRoomsForAccount(userId)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	summaries := make([]types.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		unread, err := cs.reads.UnreadCountFor(room.Id, userId)
		if err != nil {
			return nil, err
		}

		summary := types.RoomSummary{
			Room:        roomFromDB(room),
			UnreadCount: unread,
		}

		last, err := cs.db.GetLastMessage(room.Id)
		switch {
		case err == nil:
			m := messageFromDB(last)
			summary.LastMessage = &m
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("last message: %w", err)
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// CreateRoom creates a group room, or returns the direct room shared with
// the single other member, creating it if needed.
func (cs *ChatServer) CreateRoom(userId int, name string, kind types.RoomKind, memberIds []int) (types.Room, error) {
	if _, err := cs.user(userId); err != nil {
		return types.Room{}, err
	}

	others := lo.Uniq(lo.Without(memberIds, userId))

	var (
		room    database.Room
		created bool
		err     error
	)

	switch kind {
	case types.RoomKindDirect:
		if len(others) != 1 {
			return types.Room{}, ErrInvalidRequest("a direct room needs exactly one other member")
		}
		room, created, err = cs.rooms.CreateOrGetDirectRoom(userId, others[0])
	case types.RoomKindGroup:
		room, err = cs.rooms.CreateGroupRoom(name, userId, others)
		created = err == nil
	default:
		return types.Room{}, ErrInvalidRequest(fmt.Sprintf("invalid room type %q", kind))
	}
	if err != nil {
		return types.Room{}, err
	}

	for _, m := range room.Members {
		cs.subscribeUser(m.Id, room.Id)
	}

	result := roomFromDB(room)
	if created {
		cs.stats.Incr(MetricRoomsCreated)
		cs.dispatcher.Broadcast(types.RoomCreatedEvent{
			Room:            result,
			MemberUsernames: lo.Map(room.Members, func(u database.User, _ int) string { return u.Username }),
		})
	}

	return result, nil
}

func (cs *ChatServer) JoinRoom(roomId, userId int) error {
	if _, err := cs.rooms.Join(roomId, userId); err != nil {
		return err
	}

	cs.subscribeUser(userId, roomId)
	return nil
}

func (cs *ChatServer) LeaveRoom(roomId, userId int) error {
	_, state, err := cs.rooms.Leave(roomId, userId)
	if err != nil {
		return err
	}

	if state == RoomActive {
		cs.unsubscribeUser(userId, roomId)
	}
	return nil
}

// DeleteRoomForUser removes the room from userId's list without announcing
// it to the remaining members.
func (cs *ChatServer) DeleteRoomForUser(roomId, userId int) error {
	state, err := cs.rooms.DeleteForUser(roomId, userId)
	if err != nil {
		return err
	}

	if state == RoomActive {
		cs.unsubscribeUser(userId, roomId)
	}
	return nil
}

func (cs *ChatServer) SendMessage(roomId, userId int, content string, mt types.MessageType) (types.Message, error) {
	if content == "" {
		return types.Message{}, ErrInvalidRequest("message content is required")
	}
	if mt == "" {
		mt = types.MessageTypeChat
	}
	if !mt.Valid() {
		return types.Message{}, ErrInvalidRequest(fmt.Sprintf("invalid message type %q", mt))
	}

	if _, err := cs.user(userId); err != nil {
		return types.Message{}, err
	}

	msg, err := cs.rooms.AppendMessage(roomId, userId, content, mt)
	if err != nil {
		return types.Message{}, err
	}

	return messageFromDB(msg), nil
}

func (cs *ChatServer) MarkRead(messageId, userId int) (bool, error) {
	_, changed, err := cs.reads.MarkRead(messageId, userId)
	return changed, err
}

func (cs *ChatServer) UnreadCount(roomId, userId int) (int, error) {
	if _, err := cs.memberRoom(roomId, userId); err != nil {
		return 0, err
	}
	return cs.reads.UnreadCountFor(roomId, userId)
}

// SetTyping announces that userId started or stopped typing in roomId.
func (cs *ChatServer) SetTyping(roomId, userId int, typing bool) error {
	user, err := cs.user(userId)
	if err != nil {
		return err
	}
	if _, err := cs.memberRoom(roomId, userId); err != nil {
		return err
	}

	cs.dispatcher.PublishTyping(types.TypingEvent{
		UserId:   user.Id,
		Username: user.Username,
		Typing:   typing,
		RoomId:   roomId,
	})
	return nil
}

func (cs *ChatServer) SetOnline(userId int, online bool) error {
	return cs.registry.SetOnline(userId, online)
}

// GetMessages returns messages of roomId in sequence order, strictly
// between after and before when they are non-zero.
func (cs *ChatServer) GetMessages(roomId, userId, after, before, limit int) ([]types.Message, error) {
	if _, err := cs.memberRoom(roomId, userId); err != nil {
		return nil, err
	}

	msgs, err := cs.db.GetMessages(roomId, after, before, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	return messagesFromDB(msgs), nil
}

// GetLastMessage returns nil when the room has no messages.
func (cs *ChatServer) GetLastMessage(roomId, userId int) (*types.Message, error) {
	if _, err := cs.memberRoom(roomId, userId); err != nil {
		return nil, err
	}

	msg, err := cs.db.GetLastMessage(roomId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}

	m := messageFromDB(msg)
	return &m, nil
}

func (cs *ChatServer) GetUser(userId int) (types.User, error) {
	u, err := cs.user(userId)
	if err != nil {
		return types.User{}, err
	}
	return userFromDB(u), nil
}

// ListUsers returns every user except userId.
func (cs *ChatServer) ListUsers(userId int) ([]types.User, error) {
	users, err := cs.db.ListAccounts(userId)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return lo.Map(users, func(u database.User, _ int) types.User { return userFromDB(u) }), nil
}

func (cs *ChatServer) SearchUsers(query string, userId int) ([]types.User, error) {
	if query == "" {
		return cs.ListUsers(userId)
	}

	users, err := cs.db.SearchAccounts(query, userId)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return lo.Map(users, func(u database.User, _ int) types.User { return userFromDB(u) }), nil
}

// Shutdown closes every live session and waits until the registry has
// released them or ctx is done.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	for _, s := range cs.registry.All() {
		s.Close(CloseShutdown)
	}

	ticker := time.NewTicker(shutdownPoll)
	defer ticker.Stop()

	for cs.registry.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}
