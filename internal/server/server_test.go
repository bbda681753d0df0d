package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/testutil"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newTestStats returns a stats mock that accepts any metric update.
func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Maybe()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()
	return su
}

func newTestChatServer(t *testing.T, db database.GoChatRepository) *ChatServer {
	return NewChatServer(testutil.TestLogger(t), db, newTestStats(), 64)
}

func createUsers(t *testing.T, db database.GoChatRepository, names ...string) []database.User {
	t.Helper()

	users := make([]database.User, 0, len(names))
	for _, name := range names {
		u, err := db.CreateAccount(database.CreateAccountParams{
			Username:     name,
			EmailAddress: name + "@example.com",
			PasswordHash: "hash",
		})
		require.NoError(t, err)
		users = append(users, u)
	}
	return users
}

func toTypesUser(u database.User) types.User {
	return types.User{Id: u.Id, Username: u.Username}
}

// recvEnvelope waits for the next deliverable envelope on s.
func recvEnvelope(t *testing.T, s *Session) *Envelope {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case env := <-s.Outbound():
			if env = s.Resolve(env); env != nil {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event on session %q", s.Id)
			return nil
		}
	}
}

func assertNoEnvelope(t *testing.T, s *Session) {
	t.Helper()

	for {
		select {
		case env := <-s.Outbound():
			if env = s.Resolve(env); env != nil {
				t.Fatalf("unexpected event on %q: %+v", env.Topic, env.Event)
			}
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

// recvTopic skips events until one arrives on topic.
func recvTopic(t *testing.T, s *Session, topic string) *Envelope {
	t.Helper()

	for {
		env := recvEnvelope(t, s)
		if env.Topic == topic {
			return env
		}
	}
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockGoChatRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", mock.Anything).Return().Times(5)

	logger := testutil.TestLogger(t)
	cs := NewChatServer(logger, db, su, 16)

	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, db, cs.db, "expected database repository to be set")
	assert.NotNil(t, cs.bus)
	assert.NotNil(t, cs.dispatcher)
	assert.NotNil(t, cs.registry)
	assert.NotNil(t, cs.rooms)
	assert.NotNil(t, cs.reads)
	assert.NotNil(t, cs.rooms.OnRoomDeleted, "expected room deletion hook to be wired")
}

func TestChatServerCreateRoom(t *testing.T) {
	t.Run("group room subscribes members and announces it", func(t *testing.T) {
		db := database.NewMemGoChatRepository()
		cs := newTestChatServer(t, db)
		users := createUsers(t, db, "alice", "bob", "carol", "dave")

		bobSession, err := cs.Connect(toTypesUser(users[1]))
		require.NoError(t, err)
		daveSession, err := cs.Connect(toTypesUser(users[3]))
		require.NoError(t, err)

		room, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, []int{users[1].Id, users[2].Id, users[1].Id})
		require.NoError(t, err)

		assert.Equal(t, types.RoomKindGroup, room.Kind)
		assert.ElementsMatch(t, []int{users[0].Id, users[1].Id, users[2].Id}, room.MemberIds())

		env := recvTopic(t, daveSession, types.TopicChatroomCreate)
		created := env.Event.(types.RoomCreatedEvent)
		assert.Equal(t, room.Id, created.Room.Id)
		assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, created.MemberUsernames)

		assert.True(t, cs.bus.Subscribed(bobSession, types.RoomTopic(room.Id)), "expected member session to be subscribed")
		assert.False(t, cs.bus.Subscribed(daveSession, types.RoomTopic(room.Id)), "expected non-member session not to be subscribed")

		msgs, err := cs.GetMessages(room.Id, users[0].Id, 0, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs, "expected new room to have no messages")
	})

	t.Run("direct room is deduplicated", func(t *testing.T) {
		db := database.NewMemGoChatRepository()
		cs := newTestChatServer(t, db)
		users := createUsers(t, db, "alice", "bob")

		first, err := cs.CreateRoom(users[0].Id, "", types.RoomKindDirect, []int{users[1].Id})
		require.NoError(t, err)
		second, err := cs.CreateRoom(users[1].Id, "", types.RoomKindDirect, []int{users[0].Id, users[1].Id})
		require.NoError(t, err)

		assert.Equal(t, first.Id, second.Id)
		assert.Equal(t, "bob", first.Name, "expected direct room named after the counterpart")

		rooms, err := db.ListRoomsForAccount(users[0].Id)
		require.NoError(t, err)
		assert.Len(t, rooms, 1)
	})

	tests := []struct {
		name    string
		kind    types.RoomKind
		members func(users []database.User) []int
		check   func(error) bool
	}{
		{
			name:    "direct room with two others",
			kind:    types.RoomKindDirect,
			members: func(u []database.User) []int { return []int{u[1].Id, u[2].Id} },
			check:   IsInvalidRequest,
		},
		{
			name:    "direct room with nobody else",
			kind:    types.RoomKindDirect,
			members: func(u []database.User) []int { return []int{u[0].Id} },
			check:   IsInvalidRequest,
		},
		{
			name:    "unknown kind",
			kind:    types.RoomKind("CHANNEL"),
			members: func(u []database.User) []int { return nil },
			check:   IsInvalidRequest,
		},
		{
			name:    "unknown member",
			kind:    types.RoomKindGroup,
			members: func(u []database.User) []int { return []int{999} },
			check:   IsNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := database.NewMemGoChatRepository()
			cs := newTestChatServer(t, db)
			users := createUsers(t, db, "alice", "bob", "carol")

			_, err := cs.CreateRoom(users[0].Id, "room", tt.kind, tt.members(users))
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestChatServerConnectSubscribesRooms(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob")

	room, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, []int{users[1].Id})
	require.NoError(t, err)

	s, err := cs.Connect(toTypesUser(users[1]))
	require.NoError(t, err)

	for _, topic := range types.RoomTopics(room.Id) {
		assert.True(t, cs.bus.Subscribed(s, topic), "expected subscription to %q", topic)
	}
}

func TestChatServerMessageOrdering(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob", "carol")

	room, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, []int{users[1].Id, users[2].Id})
	require.NoError(t, err)

	bob, err := cs.Connect(toTypesUser(users[1]))
	require.NoError(t, err)
	carol, err := cs.Connect(toTypesUser(users[2]))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, sender := range []database.User{users[0], users[1]} {
		wg.Add(1)
		go func(u database.User) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := cs.SendMessage(room.Id, u.Id, fmt.Sprintf("%s %d", u.Username, i), types.MessageTypeChat)
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	seqs := func(s *Session) []int {
		var out []int
		for len(out) < 20 {
			env := recvTopic(t, s, types.RoomTopic(room.Id))
			out = append(out, env.Event.(types.MessageEvent).Message.SeqId)
		}
		return out
	}

	bobSeqs := seqs(bob)
	carolSeqs := seqs(carol)
	assert.Equal(t, bobSeqs, carolSeqs, "expected both sessions to see the same order")
	assert.IsIncreasing(t, bobSeqs, "expected delivery in sequence order")

	history, err := cs.GetMessages(room.Id, users[2].Id, 0, 0, 100)
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i, m := range history {
		assert.Equal(t, bobSeqs[i], m.SeqId, "expected replay in delivery order")
	}
}

func TestChatServerSendMessage(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob")

	room, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, nil)
	require.NoError(t, err)

	t.Run("defaults to chat", func(t *testing.T) {
		msg, err := cs.SendMessage(room.Id, users[0].Id, "hello", "")
		require.NoError(t, err)
		assert.Equal(t, types.MessageTypeChat, msg.Type)
		assert.True(t, msg.IsDelivered, "expected message to be accepted by the room")
		assert.False(t, msg.IsRead)
		assert.Equal(t, "alice", msg.SenderUsername)
	})

	t.Run("empty content", func(t *testing.T) {
		_, err := cs.SendMessage(room.Id, users[0].Id, "", types.MessageTypeChat)
		assert.True(t, IsInvalidRequest(err))
	})

	t.Run("invalid type", func(t *testing.T) {
		_, err := cs.SendMessage(room.Id, users[0].Id, "hi", types.MessageType("SHOUT"))
		assert.True(t, IsInvalidRequest(err))
	})

	t.Run("non member", func(t *testing.T) {
		_, err := cs.SendMessage(room.Id, users[1].Id, "hi", types.MessageTypeChat)
		assert.True(t, IsUnauthorized(err))
	})

	t.Run("unknown room", func(t *testing.T) {
		_, err := cs.SendMessage(999, users[0].Id, "hi", types.MessageTypeChat)
		assert.True(t, IsNotFound(err))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := cs.SendMessage(room.Id, 999, "hi", types.MessageTypeChat)
		assert.True(t, IsNotFound(err))
	})
}

func TestChatServerListRoomsWithUnread(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob")

	team, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, []int{users[1].Id})
	require.NoError(t, err)
	solo, err := cs.CreateRoom(users[1].Id, "Solo", types.RoomKindGroup, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := cs.SendMessage(team.Id, users[0].Id, fmt.Sprintf("msg %d", i), types.MessageTypeChat)
		require.NoError(t, err)
	}

	summaries, err := cs.ListRoomsWithUnread(users[1].Id)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byId := make(map[int]types.RoomSummary)
	for _, s := range summaries {
		byId[s.Room.Id] = s
	}
	assert.Equal(t, 3, byId[team.Id].UnreadCount)
	require.NotNil(t, byId[team.Id].LastMessage)
	assert.Equal(t, "msg 2", byId[team.Id].LastMessage.Content)
	assert.Equal(t, 0, byId[solo.Id].UnreadCount)
	assert.Nil(t, byId[solo.Id].LastMessage)

	require.NoError(t, cs.LeaveRoom(solo.Id, users[1].Id))

	summaries, err = cs.ListRoomsWithUnread(users[1].Id)
	require.NoError(t, err)
	require.Len(t, summaries, 1, "expected deleted room to be omitted")
	assert.Equal(t, team.Id, summaries[0].Room.Id)

	_, err = cs.ListRoomsWithUnread(999)
	assert.True(t, IsNotFound(err))
}

func TestChatServerJoinAndLeave(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob")

	room, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, nil)
	require.NoError(t, err)

	alice, err := cs.Connect(toTypesUser(users[0]))
	require.NoError(t, err)
	bob, err := cs.Connect(toTypesUser(users[1]))
	require.NoError(t, err)

	require.NoError(t, cs.JoinRoom(room.Id, users[1].Id))
	assert.True(t, cs.bus.Subscribed(bob, types.RoomTopic(room.Id)))

	env := recvTopic(t, alice, types.RoomTopic(room.Id))
	joined := env.Event.(types.MessageEvent).Message
	assert.Equal(t, types.MessageTypeJoin, joined.Type)
	assert.Equal(t, "bob joined the chat", joined.Content)

	require.NoError(t, cs.LeaveRoom(room.Id, users[1].Id))
	assert.False(t, cs.bus.Subscribed(bob, types.RoomTopic(room.Id)))

	env = recvTopic(t, alice, types.RoomTopic(room.Id))
	left := env.Event.(types.MessageEvent).Message
	assert.Equal(t, types.MessageTypeLeave, left.Type)
	assert.Equal(t, "bob left the chat", left.Content)

	require.NoError(t, cs.DeleteRoomForUser(room.Id, users[0].Id))
	assert.False(t, cs.bus.Subscribed(alice, types.RoomTopic(room.Id)))

	_, err = db.GetRoomById(room.Id)
	assert.Error(t, err, "expected emptied room to be deleted")
}

func TestChatServerSubscribe(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob")

	room, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, nil)
	require.NoError(t, err)

	bob, err := cs.Connect(toTypesUser(users[1]))
	require.NoError(t, err)

	tests := []struct {
		name  string
		topic string
		check func(error) bool
	}{
		{"global topic", types.TopicUserStatus, func(err error) bool { return err == nil }},
		{"non member room", types.RoomTopic(room.Id), IsUnauthorized},
		{"unknown room", types.RoomTopic(999), IsNotFound},
		{"malformed topic", "rooms/1", IsInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cs.Subscribe(bob, tt.topic)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	t.Run("member room", func(t *testing.T) {
		require.NoError(t, cs.JoinRoom(room.Id, users[1].Id))
		cs.Unsubscribe(bob, types.RoomTopic(room.Id))
		assert.False(t, cs.bus.Subscribed(bob, types.RoomTopic(room.Id)))

		require.NoError(t, cs.Subscribe(bob, types.RoomTopic(room.Id)))
		assert.True(t, cs.bus.Subscribed(bob, types.RoomTopic(room.Id)))
	})
}

func TestChatServerSetTyping(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob", "carol")

	room, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, []int{users[1].Id})
	require.NoError(t, err)

	bob, err := cs.Connect(toTypesUser(users[1]))
	require.NoError(t, err)

	require.NoError(t, cs.SetTyping(room.Id, users[0].Id, true))

	env := recvTopic(t, bob, types.RoomTypingTopic(room.Id))
	assert.Equal(t, types.TypingEvent{UserId: users[0].Id, Username: "alice", Typing: true, RoomId: room.Id}, env.Event)

	assert.True(t, IsUnauthorized(cs.SetTyping(room.Id, users[2].Id, true)))
	assert.True(t, IsNotFound(cs.SetTyping(room.Id, 999, true)))
}

func TestChatServerGetLastMessage(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob")

	room, err := cs.CreateRoom(users[0].Id, "Team", types.RoomKindGroup, nil)
	require.NoError(t, err)

	last, err := cs.GetLastMessage(room.Id, users[0].Id)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = cs.SendMessage(room.Id, users[0].Id, "first", types.MessageTypeChat)
	require.NoError(t, err)
	_, err = cs.SendMessage(room.Id, users[0].Id, "second", types.MessageTypeChat)
	require.NoError(t, err)

	last, err = cs.GetLastMessage(room.Id, users[0].Id)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "second", last.Content)

	_, err = cs.GetLastMessage(room.Id, users[1].Id)
	assert.True(t, IsUnauthorized(err))
}

func TestChatServerUsers(t *testing.T) {
	db := database.NewMemGoChatRepository()
	cs := newTestChatServer(t, db)
	users := createUsers(t, db, "alice", "bob", "bobby")

	all, err := cs.ListUsers(users[0].Id)
	require.NoError(t, err)
	assert.Len(t, all, 2, "expected caller to be excluded")

	found, err := cs.SearchUsers("bob", users[1].Id)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bobby", found[0].Username)

	u, err := cs.GetUser(users[0].Id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = cs.GetUser(999)
	assert.True(t, IsNotFound(err))
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("closes every session", func(t *testing.T) {
		db := database.NewMemGoChatRepository()
		cs := newTestChatServer(t, db)
		users := createUsers(t, db, "alice", "bob")

		var sessions []*Session
		for _, u := range users {
			s, err := cs.Connect(toTypesUser(u))
			require.NoError(t, err)
			sessions = append(sessions, s)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		require.NoError(t, cs.Shutdown(ctx))
		for _, s := range sessions {
			assert.True(t, s.Closed())
			assert.Equal(t, CloseShutdown, s.CloseReason())
		}
		assert.Equal(t, 0, cs.registry.Count())
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		db := database.NewMemGoChatRepository()
		cs := newTestChatServer(t, db)
		users := createUsers(t, db, "alice")

		_, err := cs.Connect(toTypesUser(users[0]))
		require.NoError(t, err)

		// hold the user's turn so the disconnect cannot finish
		release := cs.registry.turns.Lock(userKey(users[0].Id))
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
