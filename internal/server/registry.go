package server

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/npezzotti/go-chatengine/internal/database"
	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/types"
	"github.com/teris-io/shortid"
)

type presence struct {
	online   bool
	lastSeen time.Time
}

// SessionRegistry tracks the live sessions of each user and derives
// presence from them. A user is online while at least one session is live.
type SessionRegistry struct {
	log        *log.Logger
	db         database.GoChatRepository
	bus        *EventBus
	stats      stats.StatsProvider
	sendBuffer int
	turns      *keyedMutex
	newId      func() (string, error)

	mu       sync.RWMutex
	sessions map[int]map[*Session]struct{}
	presence map[int]presence
}

func NewSessionRegistry(logger *log.Logger, db database.GoChatRepository, bus *EventBus, su stats.StatsProvider, sendBuffer int) *SessionRegistry {
	return &SessionRegistry{
		log:        logger,
		db:         db,
		bus:        bus,
		stats:      su,
		sendBuffer: sendBuffer,
		turns:      newKeyedMutex(),
		newId:      shortid.Generate,
		sessions:   make(map[int]map[*Session]struct{}),
		presence:   make(map[int]presence),
	}
}

func userKey(userId int) string {
	return strconv.Itoa(userId)
}

// Connect registers a new session for user. The user's first live session
// flips presence to online.
func (r *SessionRegistry) Connect(user types.User) (*Session, error) {
	id, err := r.newId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	release := r.turns.Lock(userKey(user.Id))
	defer release()

	s := newSession(id, user, r.sendBuffer, r.log)
	s.onClose = r.Disconnect

	r.mu.Lock()
	if r.sessions[user.Id] == nil {
		r.sessions[user.Id] = make(map[*Session]struct{})
	}
	r.sessions[user.Id][s] = struct{}{}
	wasOnline := r.presence[user.Id].online
	r.mu.Unlock()

	r.bus.Attach(s)
	r.stats.Incr(MetricSessions)
	r.log.Printf("registered session %q for %q", s.Id, user.Username)

	if !wasOnline {
		r.transition(user, true)
	}

	return s, nil
}

// Disconnect removes s. When it was the user's last session the user goes
// offline with last-seen stamped now. Calling it twice is a no-op.
func (r *SessionRegistry) Disconnect(s *Session) {
	release := r.turns.Lock(userKey(s.User.Id))
	defer release()

	r.mu.Lock()
	userSessions, ok := r.sessions[s.User.Id]
	if _, live := userSessions[s]; !ok || !live {
		r.mu.Unlock()
		return
	}
	delete(userSessions, s)
	remaining := len(userSessions)
	if remaining == 0 {
		delete(r.sessions, s.User.Id)
	}
	online := r.presence[s.User.Id].online
	r.mu.Unlock()

	r.bus.Detach(s)
	s.Close(CloseDisconnected)
	r.stats.Decr(MetricSessions)
	r.log.Printf("removed session %q for %q, %d remaining", s.Id, s.User.Username, remaining)

	if remaining == 0 && online {
		r.transition(s.User, false)
	}
}

// SetOnline overrides the user's presence flag. It emits only when the
// flag actually changes.
func (r *SessionRegistry) SetOnline(userId int, online bool) error {
	dbUser, err := r.db.GetAccountById(userId)
	if err != nil {
		return lookupErr(err, EntityUser, userId)
	}

	release := r.turns.Lock(userKey(userId))
	defer release()

	r.mu.RLock()
	current := r.presence[userId].online
	r.mu.RUnlock()

	if current == online {
		return nil
	}

	r.transition(userFromDB(dbUser), online)
	return nil
}

// transition must be called holding the user's turn.
func (r *SessionRegistry) transition(user types.User, online bool) {
	now := Now()

	r.mu.Lock()
	r.presence[user.Id] = presence{online: online, lastSeen: now}
	r.mu.Unlock()

	if err := r.db.UpdatePresence(user.Id, online, now); err != nil {
		r.log.Printf("UpdatePresence for %q: %v", user.Username, err)
	}

	r.bus.Publish(types.PresenceEvent{
		UserId:   user.Id,
		Username: user.Username,
		IsOnline: online,
		LastSeen: now,
	})
}

// Presence returns the user's current flag and last-seen time.
func (r *SessionRegistry) Presence(userId int) (bool, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p := r.presence[userId]
	return p.online, p.lastSeen
}

// SessionsFor returns the live sessions of userId.
func (r *SessionRegistry) SessionsFor(userId int) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions[userId]))
	for s := range r.sessions[userId] {
		sessions = append(sessions, s)
	}
	return sessions
}

// All returns every live session.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*Session
	for _, userSessions := range r.sessions {
		for s := range userSessions {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, userSessions := range r.sessions {
		n += len(userSessions)
	}
	return n
}
