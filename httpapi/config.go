package httpapi

import "time"

const (
	defaultHistoryLines = 500
	defaultWriteTimeout = 5 * time.Second
	defaultAuthTimeout  = 10 * time.Second
	defaultReadLimit    = 64 << 10
	shutdownTimeout     = 5 * time.Second
	readHeaderTimeout   = 10 * time.Second
)

// Config defines the manager emulator settings.
type Config struct {
	Addr string
	// HistoryLines bounds the replay buffer served by the history endpoint.
	HistoryLines int
	WriteTimeout time.Duration
	// AuthTimeout is how long a fresh channel may stay silent before the
	// auth frame arrives.
	AuthTimeout time.Duration
	ReadLimit   int64
}

func (c Config) withDefaults() Config {
	if c.HistoryLines <= 0 {
		c.HistoryLines = defaultHistoryLines
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	return c
}
