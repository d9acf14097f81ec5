package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventDisplay carries one display line.
	EventDisplay EventType = "display"
	// EventState carries a session state transition.
	EventState EventType = "state"
	// EventCredential asks the collaborator for a new credential.
	EventCredential EventType = "credential"
)

// DefaultDepth is the per-subscriber buffer used when none is configured.
const DefaultDepth = 256

// Event is a collaborator-facing event emitted by a session.
type Event struct {
	Type   EventType
	Line   schema.DisplayLine
	Change schema.StateChange
	Reason string
}

// Bus fans session events out to subscribers and tracks the connected flag.
// Publishing never blocks and never loses events: each subscriber has its own
// queue that a pump drains into the subscriber channel in publish order.
type Bus struct {
	mu        sync.Mutex
	subs      map[*subscriber]struct{}
	log       pslog.Logger
	depth     int
	state     atomic.Int32
	connected atomic.Bool
	dropped   atomic.Uint64
}

type subscriber struct {
	out     chan Event
	wake    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	pending []Event
}

// New constructs a Bus. depth <= 0 uses DefaultDepth.
func New(logger pslog.Logger, depth int) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Bus{
		subs:  make(map[*subscriber]struct{}),
		log:   logger,
		depth: depth,
	}
}

// Subscribe registers a subscriber and returns a channel + cancel. Events
// still queued when cancel runs are discarded and the channel is closed.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	sub := &subscriber{
		out:  make(chan Event, b.depth),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()
	go b.pump(sub)
	b.log.Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.done)
			b.log.Debug("eventbus unsubscribe")
		})
	}
}
// Connected reports whether the last observed transition landed in Connected.
func (b *Bus) Connected() bool {
	return b != nil && b.connected.Load()
}

// State returns the last observed session state.
func (b *Bus) State() schema.SessionState {
	if b == nil {
		return schema.StateDisconnected
	}
	return schema.SessionState(b.state.Load())
}

// Dropped reports how many queued deliveries were discarded by unsubscribe.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// OnDisplay publishes a display line.
func (b *Bus) OnDisplay(line schema.DisplayLine) {
	b.publish(Event{Type: EventDisplay, Line: line})
}

// OnStateChange records the transition and publishes it.
func (b *Bus) OnStateChange(change schema.StateChange) {
	if b == nil {
		return
	}
	b.state.Store(int32(change.To))
	b.connected.Store(change.Connected())
	b.publish(Event{Type: EventState, Change: change})
}

// OnCredentialRequired publishes a credential request.
func (b *Bus) OnCredentialRequired(reason string) {
	b.publish(Event{Type: EventCredential, Reason: reason})
}

func (b *Bus) publish(event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	for sub := range b.subs {
		sub.push(event)
	}
	b.mu.Unlock()
}

func (s *subscriber) push(event Event) {
	s.mu.Lock()
	s.pending = append(s.pending, event)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) take() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.pending
	s.pending = nil
	return batch
}

// pump moves queued events into the subscriber channel until unsubscribe.
func (b *Bus) pump(sub *subscriber) {
	defer close(sub.out)
	for {
		batch := sub.take()
		if len(batch) == 0 {
			select {
			case <-sub.wake:
				continue
			case <-sub.done:
				return
			}
		}
		for i, event := range batch {
			select {
			case sub.out <- event:
			case <-sub.done:
				lost := len(batch) - i + len(sub.take())
				b.dropped.Add(uint64(lost))
				b.log.Debug("eventbus discarded on unsubscribe", "count", lost)
				return
			}
		}
	}
}
