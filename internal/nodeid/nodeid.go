// Package nodeid assigns fresh node ids in response to the gateway's
// reserved I_ID_REQUEST internal message.
package nodeid

import (
	"strconv"

	"github.com/mysensors/gwproxy/internal/protocol"
	"github.com/mysensors/gwproxy/internal/store"
	"go.uber.org/zap"
)

// Reserved INTERNAL sub-types for the node-id handshake (MySensors wire
// constants I_ID_REQUEST / I_ID_RESPONSE).
const (
	IIDRequest  uint8 = 3
	IIDResponse uint8 = 4
)

// IsIDRequest reports whether msg is the gateway's reserved node-id
// request, per the interceptor's routing table.
func IsIDRequest(msg protocol.LineMessage) bool {
	return msg.Command == protocol.Internal && msg.ChildSensorID == 255 && msg.SubType == IIDRequest
}

// Allocator hands out fresh node ids via a PersistenceHook. It keeps no
// state of its own.
type Allocator struct {
	hook store.PersistenceHook
	log  *zap.Logger
}

func NewAllocator(hook store.PersistenceHook, log *zap.Logger) *Allocator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Allocator{hook: hook, log: log.With(zap.String("component", "nodeid"))}
}

// Handle answers an I_ID_REQUEST message. On allocation overflow it logs
// and reports ok=false: the node will retry, per the native protocol's own
// retry behavior.
func (a *Allocator) Handle(msg protocol.LineMessage) (reply protocol.LineMessage, ok bool) {
	id, err := a.hook.AllocateNodeID()
	if err != nil {
		a.log.Warn("node id allocation failed", zap.Error(err))
		return protocol.LineMessage{}, false
	}

	a.log.Info("assigned node id", zap.Uint8("node_id", id))

	return protocol.LineMessage{
		NodeID:        msg.NodeID,
		ChildSensorID: 255,
		Command:       protocol.Internal,
		Ack:           0,
		SubType:       IIDResponse,
		Payload:       strconv.Itoa(int(id)),
	}, true
}
