package httpapi

import (
	"context"
	"sync"

	"pkt.systems/poiconsole/internal/logx"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

const subscriberDepth = 256

// LogEvent is one manager log line with its sequence number.
type LogEvent struct {
	Seq   uint64
	Entry schema.HistoryEntry
}

// Hub keeps the manager's bounded log history and fans new lines out to
// live subscribers.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	history     []LogEvent
	historySize int
	subs        map[chan LogEvent]struct{}
	log         pslog.Logger
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = defaultHistoryLines
	}
	return &Hub{
		historySize: historySize,
		subs:        make(map[chan LogEvent]struct{}),
		log:         logx.OrCtx(context.Background(), logger),
	}
}

// Publish appends entry to the history and delivers it to every subscriber.
// Slow subscribers miss the line rather than stall the publisher.
func (h *Hub) Publish(entry schema.HistoryEntry) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	event := LogEvent{Seq: h.seq, Entry: entry}
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.log.Warn("hub event dropped", "type", entry.Category, "seq", event.Seq, "dropped", dropped)
	}
	h.log.Trace("hub publish", "type", entry.Category, "seq", event.Seq, "subs", len(h.subs))
	return event.Seq
}

// Subscribe registers a live subscriber. The returned channel is closed by
// the cancel function, which is safe to call more than once.
func (h *Hub) Subscribe() (<-chan LogEvent, func()) {
	h.mu.Lock()
	ch := make(chan LogEvent, subscriberDepth)
	h.subs[ch] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()
	h.log.Debug("hub subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			remaining := len(h.subs)
			h.mu.Unlock()
			h.log.Debug("hub unsubscribe", "subs", remaining)
		})
	}
}

// History returns the buffered entries, oldest first.
func (h *Hub) History() []schema.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schema.HistoryEntry, 0, len(h.history))
	for _, event := range h.history {
		out = append(out, event.Entry)
	}
	return out
}
