package schema

import (
	"crypto/sha256"
	"encoding/hex"
)

// Credential is the operator-supplied token that authenticates a session.
// An empty credential sends an unauthenticated request.
type Credential string

// Fingerprint returns a short, non-reversible identifier suitable for logs.
func (c Credential) Fingerprint() string {
	if c == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:4])
}

// AttemptID identifies one connect attempt (fetch, dial, auth).
type AttemptID string

// HistoryEntry is one buffered log line replayed before the live channel opens.
type HistoryEntry struct {
	Category string `json:"type"`
	Text     string `json:"log"`
}

// DisplayLine is a line handed to the output sink.
type DisplayLine struct {
	Category string `json:"category,omitempty"`
	Text     string `json:"text"`
}

// String renders the line as category:text, the console's native format.
func (l DisplayLine) String() string {
	if l.Category == "" {
		return l.Text
	}
	return l.Category + ":" + l.Text
}

// SessionState is the connection state of an operator session.
type SessionState int

const (
	// StateDisconnected is the initial state and the landing state for closes.
	StateDisconnected SessionState = iota
	// StateFetchingHistory is waiting for the history replay request.
	StateFetchingHistory
	// StateConnecting is dialing the duplex channel.
	StateConnecting
	// StateAuthenticating has sent the auth frame and awaits the result.
	StateAuthenticating
	// StateConnected accepts commands.
	StateConnected
	// StateFailed is entered when history replay failed for a non-auth reason.
	StateFailed
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateFetchingHistory:
		return "fetching_history"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HoldsChannel reports whether a channel handle must exist in this state.
func (s SessionState) HoldsChannel() bool {
	switch s {
	case StateConnecting, StateAuthenticating, StateConnected:
		return true
	default:
		return false
	}
}

// InFlight reports whether a connect attempt is still in progress.
func (s SessionState) InFlight() bool {
	switch s {
	case StateFetchingHistory, StateConnecting, StateAuthenticating:
		return true
	default:
		return false
	}
}

// StateChange describes one transition.
type StateChange struct {
	Attempt AttemptID
	From    SessionState
	To      SessionState
}

// Connected reports whether the change lands in StateConnected.
func (c StateChange) Connected() bool {
	return c.To == StateConnected
}
