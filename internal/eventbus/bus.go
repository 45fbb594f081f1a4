package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/serialmon/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventLines carries framed console lines.
	EventLines EventType = "lines"
	// EventMessage carries a user-visible warning or error.
	EventMessage EventType = "message"
	// EventState carries a connection lifecycle transition.
	EventState EventType = "state"
	// EventClear reports that the console was emptied.
	EventClear EventType = "clear"
)

// Event represents a display-facing event emitted by a monitor.
type Event struct {
	Type    EventType
	Lines   schema.LinesEvent
	Message schema.MessageEvent
	State   schema.StateEvent
	Clear   schema.ClearEvent
	// LostLines counts framed lines this subscriber missed since the
	// previous event it received.
	LostLines int
}

type subscriber struct {
	ch   chan Event
	lost int
}

// Bus fans out events to per-monitor subscribers. A full subscriber loses
// the event instead of blocking the monitor loop; lost lines are reported
// on the next event it does receive.
type Bus struct {
	mu      sync.Mutex
	subs    map[schema.MonitorID]map[*subscriber]struct{}
	dropped map[schema.MonitorID]map[EventType]int
	log     pslog.Logger
	depth   int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:    make(map[schema.MonitorID]map[*subscriber]struct{}),
		dropped: make(map[schema.MonitorID]map[EventType]int),
		log:     logger,
		depth:   1024,
	}
}

// Subscribe registers a subscriber for the monitor. The returned cancel
// closes the channel and is safe to call more than once.
func (b *Bus) Subscribe(id schema.MonitorID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	sub := &subscriber{ch: make(chan Event, b.depth)}
	b.mu.Lock()
	if b.subs[id] == nil {
		b.subs[id] = make(map[*subscriber]struct{})
	}
	b.subs[id][sub] = struct{}{}
	count := len(b.subs[id])
	b.mu.Unlock()
	log := b.log.With("monitor", id)
	log.Debug("eventbus subscribe", "subs", count)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[id], sub)
			if len(b.subs[id]) == 0 {
				delete(b.subs, id)
			}
			b.mu.Unlock()
			close(sub.ch)
			log.Debug("eventbus unsubscribe", "lost_lines", sub.lost)
		})
	}
}

// Dropped returns how many events of each type subscribers of id failed
// to receive.
func (b *Bus) Dropped(id schema.MonitorID) map[EventType]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[EventType]int, len(b.dropped[id]))
	for typ, n := range b.dropped[id] {
		out[typ] = n
	}
	return out
}

// OnLines publishes framed lines.
func (b *Bus) OnLines(event schema.LinesEvent) {
	b.publish(event.MonitorID, Event{Type: EventLines, Lines: event})
}

// OnMessage publishes a user-visible message.
func (b *Bus) OnMessage(event schema.MessageEvent) {
	b.publish(event.MonitorID, Event{Type: EventMessage, Message: event})
}

// OnState publishes a lifecycle transition.
func (b *Bus) OnState(event schema.StateEvent) {
	b.publish(event.MonitorID, Event{Type: EventState, State: event})
}

// OnClear publishes a console clear. Lines lost before a clear no longer
// matter, so the clear resets each subscriber's gap.
func (b *Bus) OnClear(event schema.ClearEvent) {
	b.publish(event.MonitorID, Event{Type: EventClear, Clear: event})
}

func (b *Bus) publish(id schema.MonitorID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[id] {
		out := event
		if event.Type != EventClear {
			out.LostLines = sub.lost
		}
		select {
		case sub.ch <- out:
			sub.lost = 0
		default:
			b.drop(id, sub, event)
		}
	}
}

func (b *Bus) drop(id schema.MonitorID, sub *subscriber, event Event) {
	if b.dropped[id] == nil {
		b.dropped[id] = make(map[EventType]int)
	}
	b.dropped[id][event.Type]++
	if event.Type == EventLines {
		sub.lost += len(event.Lines.Lines)
	}
	b.log.With("monitor", id).Trace("eventbus dropped", "type", event.Type, "lost_lines", sub.lost)
}
