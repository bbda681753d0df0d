package server

import (
	"log"
	"sync"

	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/types"
)

// EventBus routes typed events to the sessions subscribed to their topic.
// Global topics reach every attached session. It is the only component
// that hands events to the transport.
type EventBus struct {
	log   *log.Logger
	stats stats.StatsProvider

	mu       sync.RWMutex
	sessions map[*Session]map[string]struct{}
	topics   map[string]map[*Session]struct{}
}

func NewEventBus(logger *log.Logger, su stats.StatsProvider) *EventBus {
	return &EventBus{
		log:      logger,
		stats:    su,
		sessions: make(map[*Session]map[string]struct{}),
		topics:   make(map[string]map[*Session]struct{}),
	}
}

// Attach makes s a receiver of global topics.
func (b *EventBus) Attach(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[s]; !ok {
		b.sessions[s] = make(map[string]struct{})
	}
}

// Detach removes s from every topic.
func (b *EventBus) Detach(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic := range b.sessions[s] {
		b.removeLocked(s, topic)
	}
	delete(b.sessions, s)
}

// Subscribe adds s to topic. It reports false if s is not attached.
func (b *EventBus) Subscribe(s *Session, topic string) bool {
	if types.IsGlobalTopic(topic) {
		b.mu.RLock()
		_, ok := b.sessions[s]
		b.mu.RUnlock()
		return ok
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.sessions[s]
	if !ok {
		return false
	}
	subs[topic] = struct{}{}

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Session]struct{})
	}
	b.topics[topic][s] = struct{}{}

	return true
}

func (b *EventBus) Unsubscribe(s *Session, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(s, topic)
}

// DropTopic unsubscribes every session from topic.
func (b *EventBus) DropTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.topics[topic] {
		delete(b.sessions[s], topic)
	}
	delete(b.topics, topic)
}

func (b *EventBus) removeLocked(s *Session, topic string) {
	if subs, ok := b.sessions[s]; ok {
		delete(subs, topic)
	}

	if subscribers, ok := b.topics[topic]; ok {
		delete(subscribers, s)
		if len(subscribers) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Subscribed reports whether s currently receives topic.
func (b *EventBus) Subscribed(s *Session, topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if types.IsGlobalTopic(topic) {
		_, ok := b.sessions[s]
		return ok
	}
	_, ok := b.topics[topic][s]
	return ok
}

func (b *EventBus) subscribers(topic string) []*Session {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if types.IsGlobalTopic(topic) {
		targets := make([]*Session, 0, len(b.sessions))
		for s := range b.sessions {
			targets = append(targets, s)
		}
		return targets
	}

	set := b.topics[topic]
	targets := make([]*Session, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	return targets
}

// Publish pushes ev to the sessions subscribed to its topic at the time of
// the call and returns how many accepted it. A session whose queue is full
// is closed.
func (b *EventBus) Publish(ev types.Event) int {
	topic := ev.Topic()
	targets := b.subscribers(topic)
	if len(targets) == 0 {
		return 0
	}

	env := &Envelope{
		Topic:     topic,
		Event:     ev,
		Timestamp: Now(),
	}

	typing, isTyping := ev.(types.TypingEvent)

	delivered := 0
	for _, s := range targets {
		var ok bool
		if isTyping {
			ok = s.pushTyping(typing.TypingKey(), env)
		} else {
			ok = s.push(env)
		}

		if !ok {
			b.log.Printf("send queue full for session %q of %q, dropping session", s.Id, s.User.Username)
			b.stats.Incr(MetricSessionsDropped)
			s.Close(CloseOverflow)
			continue
		}
		delivered++
	}

	return delivered
}
