package core

import (
	"context"

	"pkt.systems/poiconsole/internal/channel"
	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// HistoryFetcher retrieves buffered history for a credential.
type HistoryFetcher interface {
	Fetch(ctx context.Context, cred schema.Credential) ([]schema.HistoryEntry, error)
}

// ChannelConnector dials the duplex channel for one attempt and delivers its
// events to handle. Dial blocks until the channel ends.
type ChannelConnector interface {
	Dial(ctx context.Context, attempt schema.AttemptID, handle channel.Handler)
}

// SessionDeps captures the collaborators of a Session. Fetcher and Connector
// are required.
type SessionDeps struct {
	Fetcher   HistoryFetcher
	Connector ChannelConnector
	Sink      Sink
	Logger    pslog.Logger
}
