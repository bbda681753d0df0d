package server

import (
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-chatengine/internal/types"
)

const defaultSendBuffer = 256

type CloseReason int

const (
	CloseDisconnected CloseReason = iota
	CloseOverflow
	CloseShutdown
)

func (r CloseReason) String() string {
	return [...]string{
		"disconnected",
		"overflow",
		"shutdown",
	}[r]
}

// Envelope is one queued delivery for a session.
type Envelope struct {
	Topic     string
	Event     types.Event
	Timestamp time.Time
	// typingKey marks a placeholder whose event lives in the session's
	// pending typing slot until it is written.
	typingKey string
}

// Session is one live connection of a user. Deliveries are queued on a
// bounded channel drained by the transport; a session that falls behind
// is closed instead of blocking publishers.
type Session struct {
	Id   string
	User types.User

	log     *log.Logger
	send    chan *Envelope
	done    chan struct{}
	onClose func(*Session)

	mu          sync.Mutex
	closed      bool
	closeReason CloseReason
	typing      map[string]*Envelope
}

func newSession(id string, user types.User, bufSize int, l *log.Logger) *Session {
	if bufSize <= 0 {
		bufSize = defaultSendBuffer
	}

	return &Session{
		Id:     id,
		User:   user,
		log:    l,
		send:   make(chan *Envelope, bufSize),
		done:   make(chan struct{}),
		typing: make(map[string]*Envelope),
	}
}

// Outbound is the queue the transport drains. Every envelope read from it
// must be passed through Resolve before it is written.
func (s *Session) Outbound() <-chan *Envelope {
	return s.send
}

// Done is closed once the session stops accepting deliveries.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Resolve returns the envelope to write for a dequeued one, or nil if there
// is nothing to write.
func (s *Session) Resolve(env *Envelope) *Envelope {
	if env == nil || env.typingKey == "" {
		return env
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest, ok := s.typing[env.typingKey]
	if !ok {
		return nil
	}
	delete(s.typing, env.typingKey)

	return latest
}

// push enqueues env without blocking and reports whether it was accepted.
func (s *Session) push(env *Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.send <- env:
		return true
	default:
		return false
	}
}

// pushTyping replaces an undelivered typing event for the same key, or
// queues a placeholder for it.
func (s *Session) pushTyping(key string, env *Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	if _, pending := s.typing[key]; pending {
		s.typing[key] = env
		return true
	}

	select {
	case s.send <- &Envelope{Topic: env.Topic, Timestamp: env.Timestamp, typingKey: key}:
		s.typing[key] = env
		return true
	default:
		return false
	}
}

// Close stops deliveries to the session. The first call wins and schedules
// the registry's disconnect handling.
func (s *Session) Close(reason CloseReason) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeReason = reason
	close(s.done)
	onClose := s.onClose
	s.mu.Unlock()

	if s.log != nil {
		s.log.Printf("closing session %q of %q: %s", s.Id, s.User.Username, reason)
	}

	if onClose != nil {
		go onClose(s)
	}
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}
