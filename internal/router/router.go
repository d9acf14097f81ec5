package router

import (
	"context"
	"fmt"

	"pkt.systems/poiconsole/schema"
	"pkt.systems/pslog"
)

// LineSink receives routed display lines.
type LineSink func(schema.DisplayLine)

// Router forwards inbound frames of a connected session to the display sink.
type Router struct {
	sink LineSink
	log  pslog.Logger
}

// New constructs a Router. logger may be nil.
func New(sink LineSink, logger pslog.Logger) *Router {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Router{sink: sink, log: logger}
}

// Route forwards echo and broadcast frames verbatim, tagged with their
// category, and reports whether the frame reached the sink. Auth results are
// ignored with a warning.
func (r *Router) Route(frame schema.InboundFrame) bool {
	switch f := frame.(type) {
	case schema.AuthResult:
		r.log.Warn("router ignored auth frame", "err", schema.ErrProtocolViolation, "ok", f.OK)
		return false
	case schema.CommandEcho:
		return r.emit(schema.DisplayLine{Category: f.Category, Text: f.Message})
	case schema.Broadcast:
		return r.emit(schema.DisplayLine{Category: f.Category, Text: f.Message})
	default:
		r.log.Warn("router dropped frame", "err", schema.ErrProtocolViolation, "frame", fmt.Sprintf("%T", frame))
		return false
	}
}

func (r *Router) emit(line schema.DisplayLine) bool {
	if r.sink == nil {
		return false
	}
	r.log.Trace("router line", "category", line.Category)
	r.sink(line)
	return true
}
