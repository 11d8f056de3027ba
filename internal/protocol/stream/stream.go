// Package stream decodes and encodes the binary sub-payloads carried by
// STREAM (sub_type-tagged) line messages: firmware config and firmware
// block request/response.
package stream

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SubType is the numeric STREAM sub-type (field 4 of the line message
// when command == STREAM).
type SubType uint8

const (
	FwConfigRequest  SubType = 0
	FwConfigResponse SubType = 1
	FwRequest        SubType = 2
	FwResponse       SubType = 3
)

var (
	ErrBadHex       = errors.New("bad hex payload")
	ErrBadPayload   = errors.New("payload longer than expected")
	ErrShortPayload = errors.New("payload shorter than expected")
)

// FwConfigRequestPayload is sub_type 0: a node announcing the firmware it
// is currently running and asking whether an update is available.
type FwConfigRequestPayload struct {
	FwType    uint16
	FwVersion uint16
	Blocks    uint16
	Crc       uint16
	BlVersion uint16
}

// FwConfigResponsePayload is sub_type 1: the proxy's answer describing the
// firmware image a node should pull.
type FwConfigResponsePayload struct {
	FwType    uint16
	FwVersion uint16
	Blocks    uint16
	Crc       uint16
}

// FwRequestPayload is sub_type 2: a request for one 16-byte firmware block.
type FwRequestPayload struct {
	FwType    uint16
	FwVersion uint16
	Block     uint16
}

// FwResponsePayload is sub_type 3: one 16-byte firmware block.
type FwResponsePayload struct {
	FwType    uint16
	FwVersion uint16
	Block     uint16
	Data      [16]byte
}

// Opaque carries an unrecognized STREAM sub-type's payload bytes verbatim.
type Opaque struct {
	SubType SubType
	Data    []byte
}

// Decode hex-decodes payload and interprets it according to subType.
// Returns one of *FwConfigRequestPayload, *FwConfigResponsePayload,
// *FwRequestPayload, *FwResponsePayload, or Opaque.
func Decode(subType uint8, payload string) (interface{}, error) {
	data, err := hex.DecodeString(strings.ToLower(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHex, err)
	}

	switch SubType(subType) {
	case FwConfigRequest:
		if err := checkLen(data, 10); err != nil {
			return nil, err
		}
		return &FwConfigRequestPayload{
			FwType:    le16(data[0:2]),
			FwVersion: le16(data[2:4]),
			Blocks:    le16(data[4:6]),
			Crc:       le16(data[6:8]),
			BlVersion: le16(data[8:10]),
		}, nil
	case FwConfigResponse:
		if err := checkLen(data, 8); err != nil {
			return nil, err
		}
		return &FwConfigResponsePayload{
			FwType:    le16(data[0:2]),
			FwVersion: le16(data[2:4]),
			Blocks:    le16(data[4:6]),
			Crc:       le16(data[6:8]),
		}, nil
	case FwRequest:
		if err := checkLen(data, 6); err != nil {
			return nil, err
		}
		return &FwRequestPayload{
			FwType:    le16(data[0:2]),
			FwVersion: le16(data[2:4]),
			Block:     le16(data[4:6]),
		}, nil
	case FwResponse:
		if err := checkLen(data, 22); err != nil {
			return nil, err
		}
		resp := &FwResponsePayload{
			FwType:    le16(data[0:2]),
			FwVersion: le16(data[2:4]),
			Block:     le16(data[4:6]),
		}
		copy(resp.Data[:], data[6:22])
		return resp, nil
	default:
		return Opaque{SubType: SubType(subType), Data: data}, nil
	}
}

// Encode renders payload back to uppercase hex for the wire.
func Encode(payload interface{}) (string, error) {
	var data []byte
	switch p := payload.(type) {
	case *FwConfigRequestPayload:
		data = make([]byte, 10)
		putLe16(data[0:2], p.FwType)
		putLe16(data[2:4], p.FwVersion)
		putLe16(data[4:6], p.Blocks)
		putLe16(data[6:8], p.Crc)
		putLe16(data[8:10], p.BlVersion)
	case *FwConfigResponsePayload:
		data = make([]byte, 8)
		putLe16(data[0:2], p.FwType)
		putLe16(data[2:4], p.FwVersion)
		putLe16(data[4:6], p.Blocks)
		putLe16(data[6:8], p.Crc)
	case *FwRequestPayload:
		data = make([]byte, 6)
		putLe16(data[0:2], p.FwType)
		putLe16(data[2:4], p.FwVersion)
		putLe16(data[4:6], p.Block)
	case *FwResponsePayload:
		data = make([]byte, 22)
		putLe16(data[0:2], p.FwType)
		putLe16(data[2:4], p.FwVersion)
		putLe16(data[4:6], p.Block)
		copy(data[6:22], p.Data[:])
	case Opaque:
		data = p.Data
	default:
		return "", fmt.Errorf("stream: unsupported payload type %T", payload)
	}
	return strings.ToUpper(hex.EncodeToString(data)), nil
}

func checkLen(data []byte, want int) error {
	switch {
	case len(data) < want:
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortPayload, len(data), want)
	case len(data) > want:
		return fmt.Errorf("%w: got %d bytes, want %d", ErrBadPayload, len(data), want)
	default:
		return nil
	}
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

func putLe16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
