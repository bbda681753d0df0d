package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRoomTopic(t *testing.T) {
	tcases := []struct {
		topic string
		id    int
		ok    bool
	}{
		{RoomTopic(7), 7, true},
		{RoomTypingTopic(7), 7, true},
		{RoomStatusTopic(12), 12, true},
		{"room.", 0, false},
		{"room.abc", 0, false},
		{"room.0", 0, false},
		{"room.-3", 0, false},
		{"room.7.other", 0, false},
		{TopicUserStatus, 0, false},
		{"", 0, false},
	}

	for _, tc := range tcases {
		t.Run(tc.topic, func(t *testing.T) {
			id, ok := ParseRoomTopic(tc.topic)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.id, id)
		})
	}
}

func TestIsGlobalTopic(t *testing.T) {
	assert.True(t, IsGlobalTopic(TopicUserStatus))
	assert.True(t, IsGlobalTopic(TopicChatroomCreate))
	assert.False(t, IsGlobalTopic(RoomTopic(1)))
}

func TestEventTopics(t *testing.T) {
	assert.Equal(t, "room.3", MessageEvent{Message: Message{RoomId: 3}}.Topic())
	assert.Equal(t, "room.3.typing", TypingEvent{RoomId: 3}.Topic())
	assert.Equal(t, "room.3.status", ReadStatusEvent{RoomId: 3}.Topic())
	assert.Equal(t, TopicUserStatus, PresenceEvent{}.Topic())
	assert.Equal(t, TopicChatroomCreate, RoomCreatedEvent{}.Topic())
}

func TestTypingKey(t *testing.T) {
	a := TypingEvent{RoomId: 1, UserId: 2, Typing: true}
	b := TypingEvent{RoomId: 1, UserId: 2, Typing: false}
	c := TypingEvent{RoomId: 1, UserId: 3, Typing: true}

	assert.Equal(t, a.TypingKey(), b.TypingKey())
	assert.NotEqual(t, a.TypingKey(), c.TypingKey())
}

func TestRoomHelpers(t *testing.T) {
	r := Room{Members: []User{{Id: 4}, {Id: 9}}}

	assert.True(t, r.HasMember(9))
	assert.False(t, r.HasMember(5))
	assert.Equal(t, []int{4, 9}, r.MemberIds())
	assert.True(t, RoomKindDirect.Valid())
	assert.False(t, RoomKind("PUBLIC").Valid())
	assert.True(t, MessageTypeLeave.Valid())
	assert.False(t, MessageType("").Valid())
}
