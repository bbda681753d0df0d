package database

import (
	"database/sql"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemGoChatRepository is a GoChatRepository kept in process memory. It
// follows the same semantics as the Postgres repository and is used for
// tests and for running without a database.
type MemGoChatRepository struct {
	mu          sync.RWMutex
	nextId      int
	accounts    map[int]User
	rooms       map[int]Room
	members     map[int][]int
	directRooms map[[2]int]int
	messages    map[int]Message
	roomMsgs    map[int][]int
}

func NewMemGoChatRepository() *MemGoChatRepository {
	return &MemGoChatRepository{
		accounts:    make(map[int]User),
		rooms:       make(map[int]Room),
		members:     make(map[int][]int),
		directRooms: make(map[[2]int]int),
		messages:    make(map[int]Message),
		roomMsgs:    make(map[int][]int),
	}
}

func (m *MemGoChatRepository) id() int {
	m.nextId++
	return m.nextId
}

func (m *MemGoChatRepository) Ping() error { return nil }

func (m *MemGoChatRepository) Close() error { return nil }

func (m *MemGoChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.accounts {
		if u.Username == params.Username || u.EmailAddress == params.EmailAddress {
			return User{}, ErrDuplicate
		}
	}

	now := time.Now().UTC()
	u := User{
		Id:           m.id(),
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.accounts[u.Id] = u

	u.PasswordHash = ""
	return u, nil
}

func (m *MemGoChatRepository) GetAccountById(accountId int) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.accounts[accountId]
	if !ok {
		return User{}, sql.ErrNoRows
	}

	u.PasswordHash = ""
	return u, nil
}

func (m *MemGoChatRepository) GetAccountByEmail(email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.accounts {
		if u.EmailAddress == email {
			return u, nil
		}
	}

	return User{}, sql.ErrNoRows
}

func (m *MemGoChatRepository) filterAccounts(keep func(User) bool) []User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]User, 0)
	for _, u := range m.accounts {
		if keep(u) {
			u.PasswordHash = ""
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	return users
}

func (m *MemGoChatRepository) ListAccounts(excludeId int) ([]User, error) {
	return m.filterAccounts(func(u User) bool { return u.Id != excludeId }), nil
}

func (m *MemGoChatRepository) SearchAccounts(query string, excludeId int) ([]User, error) {
	q := strings.ToLower(query)
	return m.filterAccounts(func(u User) bool {
		return u.Id != excludeId &&
			(strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.EmailAddress), q))
	}), nil
}

func (m *MemGoChatRepository) UpdatePresence(accountId int, online bool, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.accounts[accountId]
	if !ok {
		return sql.ErrNoRows
	}

	u.IsOnline = online
	u.LastSeen = lastSeen
	u.UpdatedAt = time.Now().UTC()
	m.accounts[accountId] = u

	return nil
}

func (m *MemGoChatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range params.MemberIds {
		if _, ok := m.accounts[id]; !ok {
			return Room{}, sql.ErrNoRows
		}
	}

	var pair [2]int
	isDirect := params.Kind == "DIRECT" && len(params.MemberIds) == 2
	if isDirect {
		pair[0], pair[1] = OrderedPair(params.MemberIds[0], params.MemberIds[1])
		if _, ok := m.directRooms[pair]; ok {
			return Room{}, ErrDuplicate
		}
	}

	now := time.Now().UTC()
	room := Room{
		Id:        m.id(),
		Name:      params.Name,
		Kind:      params.Kind,
		CreatorId: params.CreatorId,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if isDirect {
		room.PairLo, room.PairHi = pair[0], pair[1]
		m.directRooms[pair] = room.Id
	}

	m.rooms[room.Id] = room
	for _, id := range params.MemberIds {
		if !slices.Contains(m.members[room.Id], id) {
			m.members[room.Id] = append(m.members[room.Id], id)
		}
	}

	return m.roomLocked(room.Id)
}

// roomLocked must be called with mu held.
func (m *MemGoChatRepository) roomLocked(roomId int) (Room, error) {
	room, ok := m.rooms[roomId]
	if !ok {
		return Room{}, sql.ErrNoRows
	}

	room.Members = make([]User, 0, len(m.members[roomId]))
	for _, id := range m.members[roomId] {
		u := m.accounts[id]
		u.PasswordHash = ""
		room.Members = append(room.Members, u)
	}

	return room, nil
}

func (m *MemGoChatRepository) GetRoomById(roomId int) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.roomLocked(roomId)
}

func (m *MemGoChatRepository) FindDirectRoom(accountA, accountB int) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lo, hi := OrderedPair(accountA, accountB)
	roomId, ok := m.directRooms[[2]int{lo, hi}]
	if !ok {
		return Room{}, sql.ErrNoRows
	}

	return m.roomLocked(roomId)
}

func (m *MemGoChatRepository) ListRoomsForAccount(accountId int) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]Room, 0)
	for roomId, members := range m.members {
		if slices.Contains(members, accountId) {
			room, err := m.roomLocked(roomId)
			if err != nil {
				return nil, err
			}
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].UpdatedAt.Equal(rooms[j].UpdatedAt) {
			return rooms[i].Id > rooms[j].Id
		}
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})

	return rooms, nil
}

func (m *MemGoChatRepository) AddMember(roomId, accountId int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomId]; !ok {
		return sql.ErrNoRows
	}
	if _, ok := m.accounts[accountId]; !ok {
		return sql.ErrNoRows
	}

	if !slices.Contains(m.members[roomId], accountId) {
		m.members[roomId] = append(m.members[roomId], accountId)
	}

	return nil
}

func (m *MemGoChatRepository) RemoveMember(roomId, accountId int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomId]; !ok {
		return 0, sql.ErrNoRows
	}

	m.members[roomId] = slices.DeleteFunc(m.members[roomId], func(id int) bool { return id == accountId })

	return len(m.members[roomId]), nil
}

func (m *MemGoChatRepository) DeleteRoom(roomId int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomId]
	if !ok {
		return nil
	}

	for _, id := range m.roomMsgs[roomId] {
		delete(m.messages, id)
	}
	delete(m.roomMsgs, roomId)
	delete(m.members, roomId)
	if room.PairLo != 0 {
		delete(m.directRooms, [2]int{room.PairLo, room.PairHi})
	}
	delete(m.rooms, roomId)

	return nil
}

func (m *MemGoChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[params.RoomId]
	if !ok {
		return Message{}, sql.ErrNoRows
	}
	sender, ok := m.accounts[params.UserId]
	if !ok {
		return Message{}, sql.ErrNoRows
	}

	room.SeqId++
	room.UpdatedAt = params.CreatedAt
	m.rooms[room.Id] = room

	deliveredAt := params.CreatedAt
	msg := Message{
		Id:          m.id(),
		SeqId:       room.SeqId,
		RoomId:      room.Id,
		UserId:      sender.Id,
		Username:    sender.Username,
		Content:     params.Content,
		Type:        params.Type,
		IsDelivered: true,
		DeliveredAt: &deliveredAt,
		CreatedAt:   params.CreatedAt,
	}
	m.messages[msg.Id] = msg
	m.roomMsgs[room.Id] = append(m.roomMsgs[room.Id], msg.Id)

	return msg, nil
}

func (m *MemGoChatRepository) GetMessageById(messageId int) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[messageId]
	if !ok {
		return Message{}, sql.ErrNoRows
	}

	return msg, nil
}

func (m *MemGoChatRepository) GetMessages(roomId, after, before, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = defaultMessageLimit
	}

	ids := m.roomMsgs[roomId]
	messages := make([]Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(messages) < limit; i-- {
		msg := m.messages[ids[i]]
		if after > 0 && msg.SeqId <= after {
			continue
		}
		if before > 0 && msg.SeqId >= before {
			continue
		}
		messages = append(messages, msg)
	}

	slices.Reverse(messages)
	return messages, nil
}

func (m *MemGoChatRepository) GetLastMessage(roomId int) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.roomMsgs[roomId]
	if len(ids) == 0 {
		return Message{}, sql.ErrNoRows
	}

	return m.messages[ids[len(ids)-1]], nil
}

func (m *MemGoChatRepository) MarkMessageRead(messageId int, readAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageId]
	if !ok || msg.IsRead {
		return false, nil
	}

	msg.IsRead = true
	msg.ReadAt = &readAt
	m.messages[messageId] = msg

	return true, nil
}

func (m *MemGoChatRepository) CountUnread(roomId, accountId int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, id := range m.roomMsgs[roomId] {
		msg := m.messages[id]
		if msg.UserId != accountId && !msg.IsRead {
			count++
		}
	}

	return count, nil
}
