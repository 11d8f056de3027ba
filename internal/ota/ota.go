// Package ota answers firmware-config and firmware-block requests from a
// local firmware repository. It keeps no per-node session state.
package ota

import (
	"errors"

	"github.com/mysensors/gwproxy/internal/firmware"
	"github.com/mysensors/gwproxy/internal/protocol"
	"github.com/mysensors/gwproxy/internal/protocol/stream"
	"go.uber.org/zap"
)

// FirmwareStore is the lookup C4 needs from C3.
type FirmwareStore interface {
	Get(fwType, fwVersion uint16) (*firmware.Firmware, error)
}

// Action tells the caller where to route Handle's reply.
type Action int

const (
	// ActionDrop: the request could not be answered; nothing to send.
	ActionDrop Action = iota
	// ActionReplyGateway: send Reply back to the node via the gateway.
	ActionReplyGateway
	// ActionForwardController: Reply is the original message, unchanged,
	// bound for the controller (firmware responses and opaque STREAM
	// sub-types never originate here).
	ActionForwardController
)

// Handler is a stateless request/response translator for STREAM messages.
type Handler struct {
	store FirmwareStore
	log   *zap.Logger
}

func NewHandler(store FirmwareStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{store: store, log: log.With(zap.String("component", "ota"))}
}

// Handle classifies one STREAM message and returns the action the caller
// should take on msg.
func (h *Handler) Handle(msg protocol.LineMessage) (protocol.LineMessage, Action) {
	payload, err := stream.Decode(msg.SubType, msg.Payload)
	if err != nil {
		h.log.Warn("dropping malformed STREAM message", zap.Uint8("node_id", msg.NodeID), zap.Error(err))
		return protocol.LineMessage{}, ActionDrop
	}

	switch p := payload.(type) {
	case *stream.FwConfigRequestPayload:
		return h.handleConfigRequest(msg, p)
	case *stream.FwRequestPayload:
		return h.handleBlockRequest(msg, p)
	case *stream.FwConfigResponsePayload, *stream.FwResponsePayload, stream.Opaque:
		// These originate upstream; the core never synthesizes them.
		return msg, ActionForwardController
	default:
		return msg, ActionForwardController
	}
}

func (h *Handler) handleConfigRequest(msg protocol.LineMessage, req *stream.FwConfigRequestPayload) (protocol.LineMessage, Action) {
	fw, err := h.store.Get(req.FwType, req.FwVersion)
	if err != nil {
		h.logNotFound(msg.NodeID, req.FwType, req.FwVersion, err)
		return protocol.LineMessage{}, ActionDrop
	}

	respPayload := &stream.FwConfigResponsePayload{
		FwType:    fw.FwType,
		FwVersion: fw.FwVersion,
		Blocks:    fw.Blocks,
		Crc:       fw.Crc,
	}
	encoded, err := stream.Encode(respPayload)
	if err != nil {
		h.log.Error("failed to encode firmware config response", zap.Error(err))
		return protocol.LineMessage{}, ActionDrop
	}

	return protocol.LineMessage{
		NodeID:        msg.NodeID,
		ChildSensorID: 255,
		Command:       protocol.Stream,
		Ack:           0,
		SubType:       uint8(stream.FwConfigResponse),
		Payload:       encoded,
	}, ActionReplyGateway
}

func (h *Handler) handleBlockRequest(msg protocol.LineMessage, req *stream.FwRequestPayload) (protocol.LineMessage, Action) {
	fw, err := h.store.Get(req.FwType, req.FwVersion)
	if err != nil {
		h.logNotFound(msg.NodeID, req.FwType, req.FwVersion, err)
		return protocol.LineMessage{}, ActionDrop
	}

	data := fw.Block(req.Block)
	respPayload := &stream.FwResponsePayload{
		FwType:    req.FwType,
		FwVersion: req.FwVersion,
		Block:     req.Block,
		Data:      data,
	}
	encoded, err := stream.Encode(respPayload)
	if err != nil {
		h.log.Error("failed to encode firmware block response", zap.Error(err))
		return protocol.LineMessage{}, ActionDrop
	}

	return protocol.LineMessage{
		NodeID:        msg.NodeID,
		ChildSensorID: 255,
		Command:       protocol.Stream,
		Ack:           0,
		SubType:       uint8(stream.FwResponse),
		Payload:       encoded,
	}, ActionReplyGateway
}

func (h *Handler) logNotFound(nodeID uint8, fwType, fwVersion uint16, err error) {
	if errors.Is(err, firmware.ErrNotFound) {
		h.log.Info("firmware not found, dropping request (node will retry)",
			zap.Uint8("node_id", nodeID), zap.Uint16("fw_type", fwType), zap.Uint16("fw_version", fwVersion))
		return
	}
	h.log.Error("firmware lookup failed",
		zap.Uint8("node_id", nodeID), zap.Uint16("fw_type", fwType), zap.Uint16("fw_version", fwVersion), zap.Error(err))
}
