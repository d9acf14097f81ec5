package core

import "pkt.systems/poiconsole/schema"

// Sink receives display, state and credential events from a Session. Calls
// are made from the session loop, in order; implementations must not block.
type Sink interface {
	OnDisplay(line schema.DisplayLine)
	OnStateChange(change schema.StateChange)
	OnCredentialRequired(reason string)
}

type noopSink struct{}

func (noopSink) OnDisplay(schema.DisplayLine) {}
func (noopSink) OnStateChange(schema.StateChange) {}
func (noopSink) OnCredentialRequired(string) {}
