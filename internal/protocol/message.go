// Package protocol implements the six-field MySensors-style line protocol:
// the framed unit exchanged with the gateway and the controller.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CommandType is the third field of a LineMessage.
type CommandType uint8

const (
	Presentation CommandType = 0
	Set          CommandType = 1
	Req          CommandType = 2
	Internal     CommandType = 3
	Stream       CommandType = 4
)

func (c CommandType) String() string {
	switch c {
	case Presentation:
		return "PRESENTATION"
	case Set:
		return "SET"
	case Req:
		return "REQ"
	case Internal:
		return "INTERNAL"
	case Stream:
		return "STREAM"
	default:
		return fmt.Sprintf("CommandType(%d)", uint8(c))
	}
}

// ParseCommandType maps the wire's decimal command field onto CommandType.
func ParseCommandType(v uint8) (CommandType, error) {
	switch v {
	case 0, 1, 2, 3, 4:
		return CommandType(v), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownCommand, v)
	}
}

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrBadField       = errors.New("bad field")
	ErrUnknownCommand = errors.New("unknown command")
)

// LineMessage is the framed unit on the wire:
// "node_id;child_sensor_id;command;ack;sub_type;payload\n".
type LineMessage struct {
	NodeID        uint8
	ChildSensorID uint8
	Command       CommandType
	Ack           uint8
	SubType       uint8
	Payload       string
}

// Parse splits a line (with or without its trailing newline) into a LineMessage.
func Parse(line string) (LineMessage, error) {
	trimmed := strings.TrimSpace(line)
	parts := strings.Split(trimmed, ";")
	if len(parts) != 6 {
		return LineMessage{}, fmt.Errorf("%w: expected 6 fields separated by ';', got %d", ErrMalformedFrame, len(parts))
	}

	nodeID, err := parseU8(parts[0], "node_id")
	if err != nil {
		return LineMessage{}, err
	}
	childSensorID, err := parseU8(parts[1], "child_sensor_id")
	if err != nil {
		return LineMessage{}, err
	}
	commandRaw, err := parseU8(parts[2], "command")
	if err != nil {
		return LineMessage{}, err
	}
	command, err := ParseCommandType(commandRaw)
	if err != nil {
		return LineMessage{}, err
	}
	ack, err := parseU8(parts[3], "ack")
	if err != nil {
		return LineMessage{}, err
	}
	subType, err := parseU8(parts[4], "sub_type")
	if err != nil {
		return LineMessage{}, err
	}

	return LineMessage{
		NodeID:        nodeID,
		ChildSensorID: childSensorID,
		Command:       command,
		Ack:           ack,
		SubType:       subType,
		Payload:       parts[5],
	}, nil
}

func parseU8(field, name string) (uint8, error) {
	n, err := strconv.ParseUint(field, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q", ErrBadField, name, field)
	}
	return uint8(n), nil
}

// Serialize renders the message back onto the wire, newline-terminated.
// STREAM payloads are canonicalized to uppercase hex.
func (m LineMessage) Serialize() string {
	payload := m.Payload
	if m.Command == Stream {
		payload = strings.ToUpper(payload)
	}
	return fmt.Sprintf("%d;%d;%d;%d;%d;%s\n",
		m.NodeID, m.ChildSensorID, uint8(m.Command), m.Ack, m.SubType, payload)
}

func (m LineMessage) String() string {
	return strings.TrimSuffix(m.Serialize(), "\n")
}
