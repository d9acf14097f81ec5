package poiconsole

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pkt.systems/poiconsole/core"
	"pkt.systems/poiconsole/internal/channel"
	"pkt.systems/poiconsole/internal/eventbus"
	"pkt.systems/poiconsole/internal/history"
	"pkt.systems/poiconsole/internal/logx"
	"pkt.systems/pslog"
)

// ClientConfig configures the manager client.
type ClientConfig struct {
	BaseURL        string
	HistoryPath    string
	ChannelPath    string
	RequestTimeout time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	Session        core.SessionConfig
	// EventBuffer is the per-subscriber depth of the event bus.
	EventBuffer int
}

// ClientDeps captures optional collaborators.
type ClientDeps struct {
	// Sink receives session events in addition to the event bus.
	Sink       core.Sink
	HTTPClient *http.Client
	Logger     pslog.Logger
}

// ClientOption toggles client components.
type ClientOption func(*clientOptions)

type clientOptions struct {
	enableBus bool
}

// WithEventBus enables the channel-based event bus.
func WithEventBus() ClientOption {
	return func(o *clientOptions) { o.enableBus = true }
}

// Client wires a session to the manager's history endpoint and channel.
type Client struct {
	session   *core.Session
	bus       *eventbus.Bus
	fetcher   *history.Fetcher
	connector *channel.Connector
	log       pslog.Logger
}

// NewClient constructs a client. Without WithEventBus, deps.Sink is the only
// event receiver.
func NewClient(cfg ClientConfig, deps ClientDeps, opts ...ClientOption) (*Client, error) {
	options := clientOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableBus && deps.Sink == nil {
		return nil, errors.New("no event receivers configured")
	}
	log := logx.OrCtx(context.Background(), deps.Logger)

	fetcher, err := history.New(history.Config{
		BaseURL: cfg.BaseURL,
		Path:    cfg.HistoryPath,
		Timeout: cfg.RequestTimeout,
	}, deps.HTTPClient, log)
	if err != nil {
		return nil, err
	}
	wsURL, err := channel.ChannelURL(cfg.BaseURL, cfg.ChannelPath)
	if err != nil {
		return nil, err
	}
	connector, err := channel.New(channel.Config{
		URL:          wsURL,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	var bus *eventbus.Bus
	sinks := make([]core.Sink, 0, 2)
	if deps.Sink != nil {
		sinks = append(sinks, deps.Sink)
	}
	if options.enableBus {
		bus = eventbus.New(log, cfg.EventBuffer)
		sinks = append(sinks, bus)
	}
	var sink core.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else {
		sink = sinkFanout{sinks: sinks}
	}

	session, err := core.NewSession(cfg.Session, core.SessionDeps{
		Fetcher:   fetcher,
		Connector: connector,
		Sink:      sink,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	log.Info("client ready", "history", fetcher.Endpoint(), "channel", connector.URL(), "bus", options.enableBus)
	return &Client{
		session:   session,
		bus:       bus,
		fetcher:   fetcher,
		connector: connector,
		log:       log,
	}, nil
}

// Session returns the operator session.
func (c *Client) Session() *core.Session {
	return c.session
}

// Events returns the event bus, or nil when it was not enabled.
func (c *Client) Events() *eventbus.Bus {
	return c.bus
}

// Fetcher returns the history fetcher for one-shot replays.
func (c *Client) Fetcher() *history.Fetcher {
	return c.fetcher
}

// Close shuts the session down, closing any open channel.
func (c *Client) Close() error {
	err := c.session.Close()
	c.log.Info("client closed")
	return err
}
