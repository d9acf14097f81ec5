package poiconsole

import (
	"pkt.systems/poiconsole/core"
	"pkt.systems/poiconsole/schema"
)

type sinkFanout struct {
	sinks []core.Sink
}

func (f sinkFanout) OnDisplay(line schema.DisplayLine) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnDisplay(line)
	}
}

func (f sinkFanout) OnStateChange(change schema.StateChange) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnStateChange(change)
	}
}

func (f sinkFanout) OnCredentialRequired(reason string) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnCredentialRequired(reason)
	}
}
