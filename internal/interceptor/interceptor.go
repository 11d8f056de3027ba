// Package interceptor classifies inbound gateway frames exactly once and
// dispatches each to its single downstream queue.
package interceptor

import (
	"context"

	"github.com/mysensors/gwproxy/internal/nodeid"
	"github.com/mysensors/gwproxy/internal/protocol"
	"go.uber.org/zap"
)

// Queues are the downstream destinations a gateway frame can be routed to.
// Each is a many-producer, single-consumer channel; the interceptor is one
// producer for all four, and ControllerOut is also fed by other workers.
type Queues struct {
	OTA           chan<- protocol.LineMessage
	NodeReq       chan<- protocol.LineMessage
	Presentation  chan<- protocol.LineMessage
	ControllerOut chan<- protocol.LineMessage
}

// Run classifies every message received on in and sends it to exactly one
// of q's channels, until in is closed or ctx is done.
func Run(ctx context.Context, in <-chan protocol.LineMessage, q Queues, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "interceptor"))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			route(ctx, msg, q, log)
		}
	}
}

func route(ctx context.Context, msg protocol.LineMessage, q Queues, log *zap.Logger) {
	var dest chan<- protocol.LineMessage

	switch msg.Command {
	case protocol.Presentation:
		dest = q.Presentation
	case protocol.Internal:
		if nodeid.IsIDRequest(msg) {
			dest = q.NodeReq
		} else {
			dest = q.ControllerOut
		}
	case protocol.Stream:
		dest = q.OTA
	case protocol.Set, protocol.Req:
		dest = q.ControllerOut
	default:
		log.Warn("dropping message with unroutable command", zap.Stringer("command", msg.Command))
		return
	}

	select {
	case dest <- msg:
	case <-ctx.Done():
	}
}
