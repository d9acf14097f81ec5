package httpapi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

const peerSendDepth = 256

// peer is one authenticated channel connection.
type peer struct {
	id   string
	conn *websocket.Conn
	log  pslog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, log pslog.Logger) *peer {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &peer{
		id:   id.String(),
		conn: conn,
		log:  log.With("peer", id.String()),
		send: make(chan []byte, peerSendDepth),
		done: make(chan struct{}),
	}
}

// writeNow writes a frame directly. Only valid before writePump starts.
func (p *peer) writeNow(frame schema.WireFrame, timeout time.Duration) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue queues a frame for writePump. A full queue drops the frame.
func (p *peer) enqueue(frame schema.WireFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		p.log.Warn("peer frame encode failed", "err", err)
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	case <-p.done:
		return false
	default:
		p.log.Warn("peer send queue full", "type", frame.Type)
		return false
	}
}

func (p *peer) writePump(timeout time.Duration) {
	defer func() { _ = p.conn.Close() }()
	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.log.Debug("peer write failed", "err", err)
				p.close()
				return
			}
		case <-p.done:
			p.drain(timeout)
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(timeout))
			return
		}
	}
}

// drain flushes frames queued before close.
func (p *peer) drain(timeout time.Duration) {
	for {
		select {
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// forward relays hub lines to the peer until either side ends.
func (p *peer) forward(events <-chan LogEvent) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.enqueue(schema.WireFrame{
				Code:   schema.CodeOK,
				Type:   ev.Entry.Category,
				Msg:    ev.Entry.Text,
				Status: true,
			})
		case <-p.done:
			return
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

type peerSet struct {
	mu    sync.Mutex
	items map[string]*peer
}

func newPeerSet() *peerSet {
	return &peerSet{items: make(map[string]*peer)}
}

func (s *peerSet) add(p *peer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[p.id] = p
	return len(s.items)
}

func (s *peerSet) remove(p *peer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, p.id)
	return len(s.items)
}

func (s *peerSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *peerSet) closeAll() int {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.items))
	for _, p := range s.items {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
	return len(peers)
}
