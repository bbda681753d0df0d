package server

import (
	"strconv"

	"github.com/npezzotti/go-chatengine/internal/stats"
	"github.com/npezzotti/go-chatengine/internal/types"
)

// Dispatcher fans room events out to live sessions. Publishes for one room
// are serialized on that room's lane so every subscriber sees them in
// publish order; different rooms never wait on each other.
type Dispatcher struct {
	bus   *EventBus
	lanes *keyedMutex
	stats stats.StatsProvider
}

func NewDispatcher(bus *EventBus, su stats.StatsProvider) *Dispatcher {
	return &Dispatcher{
		bus:   bus,
		lanes: newKeyedMutex(),
		stats: su,
	}
}

// Publish delivers ev to the sessions subscribed to its topic right now.
// Sessions subscribing after Publish returns never see ev.
func (d *Dispatcher) Publish(roomId int, ev types.Event) int {
	release := d.lanes.Lock(strconv.Itoa(roomId))
	defer release()

	n := d.bus.Publish(ev)
	if _, ok := ev.(types.MessageEvent); ok {
		d.stats.Incr(MetricMessagesPublished)
	}
	return n
}

// PublishTyping skips the room lane. A newer typing event for the same
// user and room replaces an undelivered older one.
func (d *Dispatcher) PublishTyping(ev types.TypingEvent) int {
	return d.bus.Publish(ev)
}

// Broadcast delivers a global event to every live session.
func (d *Dispatcher) Broadcast(ev types.Event) int {
	return d.bus.Publish(ev)
}
