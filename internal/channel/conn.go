package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// ErrClosed is returned when writing to a closed channel.
var ErrClosed = errors.New("channel closed")

// Conn is one open duplex channel. Writes are serialized; Close is idempotent.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	log          pslog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Authenticate writes the auth frame. It must be the first frame on the channel.
func (c *Conn) Authenticate(cred schema.Credential) error {
	return c.Send(schema.AuthFrame{Credential: cred})
}

// Send serializes and writes one outbound frame.
func (c *Conn) Send(frame schema.OutboundFrame) error {
	if c == nil || c.closed.Load() {
		return ErrClosed
	}
	data, err := schema.EncodeOutboundFrame(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrTransport, err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrTransport, err)
	}
	c.log.Trace("channel frame sent", "bytes", len(data))
	return nil
}

// Close sends a close frame and releases the socket. It returns once the
// underlying connection is closed.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "console disconnect")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		err = c.ws.Close()
		c.log.Debug("channel closed locally")
	})
	return err
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	return c == nil || c.closed.Load()
}

func (c *Conn) readLoop(attempt schema.AttemptID, handle Handler) {
	for {
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			reason := closeReason(err, c.Closed())
			c.log.Info("channel closed", "reason", reason)
			_ = c.Close()
			handle(Event{Attempt: attempt, Kind: EventClosed, Conn: c, Reason: reason})
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		frame, err := schema.DecodeInboundFrame(payload)
		if err != nil {
			c.log.Warn("channel frame dropped", "err", err, "bytes", len(payload))
			continue
		}
		if !handle(Event{Attempt: attempt, Kind: EventFrame, Conn: c, Frame: frame}) {
			_ = c.Close()
			return
		}
	}
}

func closeReason(err error, local bool) string {
	if local {
		return "closed locally"
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return fmt.Sprintf("closed by peer (%d: %s)", closeErr.Code, closeErr.Text)
		}
		return fmt.Sprintf("closed by peer (%d)", closeErr.Code)
	}
	return err.Error()
}
