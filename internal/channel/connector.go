package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/poiconsole/internal/logx"
	"pkt.systems/poiconsole/internal/version"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// DefaultPath is the manager's duplex channel endpoint.
const DefaultPath = "/ws"

const defaultReadLimit = 1 << 20

// EventKind identifies a channel lifecycle event.
type EventKind int

const (
	// EventOpened is delivered once the upgrade succeeded.
	EventOpened EventKind = iota
	// EventFrame carries one decoded inbound frame.
	EventFrame
	// EventClosed is delivered once, when the channel (or the dial) ends.
	EventClosed
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventFrame:
		return "frame"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is the session-facing side of an open duplex channel.
type Channel interface {
	Authenticate(cred schema.Credential) error
	Send(frame schema.OutboundFrame) error
	Close() error
}

// Event is delivered to the session for one attempt. Conn is nil for a
// Closed event raised by a failed dial.
type Event struct {
	Attempt schema.AttemptID
	Kind    EventKind
	Conn    Channel
	Frame   schema.InboundFrame
	Reason  string
}

// Handler receives channel events. It returns false when the receiver no
// longer wants events for this attempt; the connector then closes the channel.
type Handler func(Event) bool

// Config configures the connector.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

// Connector dials the manager's duplex channel.
type Connector struct {
	cfg    Config
	dialer *websocket.Dialer
	log    pslog.Logger
}

// New constructs a connector for cfg.URL (ws or wss).
func New(cfg Config, logger pslog.Logger) (*Connector, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("channel url must be ws or wss, got %q", cfg.URL)
	}
	cfg.URL = parsed.String()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &Connector{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		log: logger,
	}, nil
}

// URL returns the channel endpoint.
func (c *Connector) URL() string {
	return c.cfg.URL
}

// ChannelURL derives the channel endpoint from the manager base URL: http
// becomes ws, https becomes wss.
func ChannelURL(baseURL, path string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("base url must include a host")
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.JoinPath(path).String(), nil
}

// Dial opens the channel and delivers Opened, Frame and Closed events to
// handle until the channel ends. It blocks for the lifetime of the channel;
// callers run it on its own goroutine. Canceling ctx aborts a pending dial.
func (c *Connector) Dial(ctx context.Context, attempt schema.AttemptID, handle Handler) {
	log := logx.WithAttempt(ctx, c.log, attempt).With("url", c.cfg.URL)
	log.Debug("channel dial start")
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		reason := err.Error()
		if resp != nil {
			reason = fmt.Sprintf("%s (status %d)", reason, resp.StatusCode)
		}
		log.Warn("channel dial failed", "err", err)
		handle(Event{Attempt: attempt, Kind: EventClosed, Reason: reason})
		return
	}
	ws.SetReadLimit(c.cfg.ReadLimit)
	conn := &Conn{ws: ws, writeTimeout: c.cfg.WriteTimeout, log: log}
	log.Info("channel opened")
	if !handle(Event{Attempt: attempt, Kind: EventOpened, Conn: conn}) {
		_ = conn.Close()
		return
	}
	conn.readLoop(attempt, handle)
}
