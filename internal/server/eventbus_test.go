package server

import (
	"fmt"
	"testing"

	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/testutil"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, userId int, buf int) *Session {
	return newSession(fmt.Sprintf("s%d", userId), types.User{Id: userId, Username: fmt.Sprintf("user%d", userId)}, buf, testutil.TestLogger(t))
}

func chatEvent(roomId, seq int) types.MessageEvent {
	return types.MessageEvent{Message: types.Message{RoomId: roomId, SeqId: seq, Content: "hi", Type: types.MessageTypeChat}}
}

func TestEventBusSubscribe(t *testing.T) {
	bus := NewEventBus(testutil.TestLogger(t), newTestStats())
	s := newTestSession(t, 1, 8)

	assert.False(t, bus.Subscribe(s, types.RoomTopic(1)), "expected unattached session to be rejected")
	assert.False(t, bus.Subscribe(s, types.TopicUserStatus), "expected unattached session to be rejected")

	bus.Attach(s)
	assert.True(t, bus.Subscribe(s, types.RoomTopic(1)))
	assert.True(t, bus.Subscribed(s, types.RoomTopic(1)))
	assert.True(t, bus.Subscribed(s, types.TopicUserStatus), "expected attached session to receive global topics")

	bus.Unsubscribe(s, types.RoomTopic(1))
	assert.False(t, bus.Subscribed(s, types.RoomTopic(1)))
}

func TestEventBusPublish(t *testing.T) {
	t.Run("room events reach subscribers only", func(t *testing.T) {
		bus := NewEventBus(testutil.TestLogger(t), newTestStats())
		sub := newTestSession(t, 1, 8)
		other := newTestSession(t, 2, 8)
		bus.Attach(sub)
		bus.Attach(other)
		bus.Subscribe(sub, types.RoomTopic(1))

		n := bus.Publish(chatEvent(1, 1))
		assert.Equal(t, 1, n)

		env := recvEnvelope(t, sub)
		assert.Equal(t, types.RoomTopic(1), env.Topic)
		assertNoEnvelope(t, other)
	})

	t.Run("global events reach every attached session", func(t *testing.T) {
		bus := NewEventBus(testutil.TestLogger(t), newTestStats())
		a := newTestSession(t, 1, 8)
		b := newTestSession(t, 2, 8)
		bus.Attach(a)
		bus.Attach(b)

		n := bus.Publish(types.PresenceEvent{UserId: 3, IsOnline: true})
		assert.Equal(t, 2, n)
		assert.Equal(t, types.TopicUserStatus, recvEnvelope(t, a).Topic)
		assert.Equal(t, types.TopicUserStatus, recvEnvelope(t, b).Topic)
	})

	t.Run("no subscribers is not an error", func(t *testing.T) {
		bus := NewEventBus(testutil.TestLogger(t), newTestStats())
		assert.Equal(t, 0, bus.Publish(chatEvent(1, 1)))
	})

	t.Run("late subscriber gets no replay", func(t *testing.T) {
		bus := NewEventBus(testutil.TestLogger(t), newTestStats())
		s := newTestSession(t, 1, 8)
		bus.Attach(s)

		bus.Publish(chatEvent(1, 1))
		bus.Subscribe(s, types.RoomTopic(1))
		assertNoEnvelope(t, s)

		bus.Publish(chatEvent(1, 2))
		env := recvEnvelope(t, s)
		assert.Equal(t, 2, env.Event.(types.MessageEvent).Message.SeqId)
	})

	t.Run("full queue drops the session", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		su.On("Incr", MetricSessionsDropped).Return().Once()

		bus := NewEventBus(testutil.TestLogger(t), su)
		slow := newTestSession(t, 1, 1)
		fast := newTestSession(t, 2, 8)
		for _, s := range []*Session{slow, fast} {
			bus.Attach(s)
			bus.Subscribe(s, types.RoomTopic(1))
		}

		assert.Equal(t, 2, bus.Publish(chatEvent(1, 1)))
		assert.Equal(t, 1, bus.Publish(chatEvent(1, 2)))

		assert.True(t, slow.Closed())
		assert.Equal(t, CloseOverflow, slow.CloseReason())
		assert.False(t, fast.Closed())
		assert.Len(t, fast.send, 2)
	})
}

func TestEventBusDropTopic(t *testing.T) {
	bus := NewEventBus(testutil.TestLogger(t), newTestStats())
	s := newTestSession(t, 1, 8)
	bus.Attach(s)
	bus.Subscribe(s, types.RoomTopic(1))
	bus.Subscribe(s, types.RoomTopic(2))

	bus.DropTopic(types.RoomTopic(1))

	assert.False(t, bus.Subscribed(s, types.RoomTopic(1)))
	assert.True(t, bus.Subscribed(s, types.RoomTopic(2)))
	assert.Equal(t, 0, bus.Publish(chatEvent(1, 1)))
}

func TestEventBusDetach(t *testing.T) {
	bus := NewEventBus(testutil.TestLogger(t), newTestStats())
	s := newTestSession(t, 1, 8)
	bus.Attach(s)
	bus.Subscribe(s, types.RoomTopic(1))

	bus.Detach(s)

	assert.False(t, bus.Subscribed(s, types.RoomTopic(1)))
	assert.False(t, bus.Subscribed(s, types.TopicUserStatus))
	assert.Equal(t, 0, bus.Publish(types.PresenceEvent{UserId: 2}))
}

func TestDispatcherPublish(t *testing.T) {
	su := newTestStats()
	bus := NewEventBus(testutil.TestLogger(t), su)
	d := NewDispatcher(bus, su)

	a := newTestSession(t, 1, 64)
	b := newTestSession(t, 2, 64)
	for _, s := range []*Session{a, b} {
		bus.Attach(s)
		bus.Subscribe(s, types.RoomTopic(7))
	}

	for i := 1; i <= 20; i++ {
		d.Publish(7, chatEvent(7, i))
	}

	for _, s := range []*Session{a, b} {
		for i := 1; i <= 20; i++ {
			env := recvEnvelope(t, s)
			require.Equal(t, i, env.Event.(types.MessageEvent).Message.SeqId, "expected publish order")
		}
	}

	su.AssertNumberOfCalls(t, "Incr", 20)
}

func TestDispatcherPublishTyping(t *testing.T) {
	su := newTestStats()
	bus := NewEventBus(testutil.TestLogger(t), su)
	d := NewDispatcher(bus, su)

	s := newTestSession(t, 1, 8)
	bus.Attach(s)
	bus.Subscribe(s, types.RoomTypingTopic(3))

	d.PublishTyping(types.TypingEvent{UserId: 2, RoomId: 3, Typing: true})
	d.PublishTyping(types.TypingEvent{UserId: 2, RoomId: 3, Typing: false})

	env := recvEnvelope(t, s)
	assert.False(t, env.Event.(types.TypingEvent).Typing, "expected last typing state to win")
	assertNoEnvelope(t, s)
}
