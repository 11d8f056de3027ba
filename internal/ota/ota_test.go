package ota

import (
	"testing"

	"github.com/mysensors/gwproxy/internal/firmware"
	"github.com/mysensors/gwproxy/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	firmwares map[[2]uint16]*firmware.Firmware
}

func (f *fakeStore) Get(fwType, fwVersion uint16) (*firmware.Firmware, error) {
	fw, ok := f.firmwares[[2]uint16{fwType, fwVersion}]
	if !ok {
		return nil, firmware.ErrNotFound
	}
	return fw, nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{firmwares: make(map[[2]uint16]*firmware.Firmware)}
}

func (f *fakeStore) put(fwType, fwVersion uint16, data []byte) {
	f.putWithCrc(fwType, fwVersion, data, firmware.CRC16Modbus(data))
}

// putWithCrc lets a test pin the firmware's reported CRC independent of
// its actual data bytes, to match a fixed wire test vector.
func (f *fakeStore) putWithCrc(fwType, fwVersion uint16, data []byte, crc uint16) {
	f.firmwares[[2]uint16{fwType, fwVersion}] = &firmware.Firmware{
		FwType:    fwType,
		FwVersion: fwVersion,
		Blocks:    uint16(len(data) / 16),
		Crc:       crc,
		Data:      data,
	}
}

// TestHandle_FwConfigRequest covers spec §8 scenario 1.
func TestHandle_FwConfigRequest(t *testing.T) {
	fs := newFakeStore()
	data := make([]byte, 80*16) // blocks=80
	fs.putWithCrc(10, 1, data, 0x46D4)

	h := NewHandler(fs, zap.NewNop())
	msg, err := protocol.Parse("1;255;4;0;0;0A0001005000D4460102\n")
	require.NoError(t, err)

	reply, action := h.Handle(msg)
	require.Equal(t, ActionReplyGateway, action)
	assert.Equal(t, "1;255;4;0;1;0A0001005000D446\n", reply.Serialize())
}

// TestHandle_FwRequest covers spec §8 scenario 2.
func TestHandle_FwRequest(t *testing.T) {
	fs := newFakeStore()
	data := make([]byte, 128)
	block7 := []byte{0x00, 0x03, 0x04, 0x07, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x02, 0x04, 0x08}
	copy(data[112:128], block7)
	fs.put(10, 2, data)

	h := NewHandler(fs, zap.NewNop())
	msg, err := protocol.Parse("1;255;4;0;2;0A0002000700\n")
	require.NoError(t, err)

	reply, action := h.Handle(msg)
	require.Equal(t, ActionReplyGateway, action)
	assert.Equal(t, "1;255;4;0;3;0A000200070000030407000000000000000001020408\n", reply.Serialize())
}

func TestHandle_FwRequest_OutOfRangeBlockReturnsFF(t *testing.T) {
	fs := newFakeStore()
	fs.put(10, 1, make([]byte, 16))

	h := NewHandler(fs, zap.NewNop())
	msg, err := protocol.Parse("1;255;4;0;2;0A000100FF00\n")
	require.NoError(t, err)

	reply, action := h.Handle(msg)
	require.Equal(t, ActionReplyGateway, action)
	assert.Equal(t, "1;255;4;0;3;0A000100FF00FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF\n", reply.Serialize())
}

func TestHandle_NotFoundDropsRequest(t *testing.T) {
	fs := newFakeStore()
	h := NewHandler(fs, zap.NewNop())
	msg, err := protocol.Parse("1;255;4;0;0;0A0001005000D4460102\n")
	require.NoError(t, err)

	_, action := h.Handle(msg)
	assert.Equal(t, ActionDrop, action)
}

// TestHandle_UnknownStreamSubtypeForwardsUnchanged covers spec §8 scenario 6.
func TestHandle_UnknownStreamSubtypeForwardsUnchanged(t *testing.T) {
	h := NewHandler(newFakeStore(), zap.NewNop())
	msg, err := protocol.Parse("1;255;4;0;9;ABCD\n")
	require.NoError(t, err)

	reply, action := h.Handle(msg)
	require.Equal(t, ActionForwardController, action)
	assert.Equal(t, msg, reply)
}

func TestHandle_ConfigAndBlockResponsesForwardUnchanged(t *testing.T) {
	h := NewHandler(newFakeStore(), zap.NewNop())

	cfgResp, err := protocol.Parse("1;255;4;0;1;0A0001005000D446\n")
	require.NoError(t, err)
	reply, action := h.Handle(cfgResp)
	assert.Equal(t, ActionForwardController, action)
	assert.Equal(t, cfgResp, reply)

	blockResp, err := protocol.Parse("1;255;4;0;3;0A000200070000030407000000000000000001020408\n")
	require.NoError(t, err)
	reply, action = h.Handle(blockResp)
	assert.Equal(t, ActionForwardController, action)
	assert.Equal(t, blockResp, reply)
}

func TestHandle_MalformedStreamPayloadDrops(t *testing.T) {
	h := NewHandler(newFakeStore(), zap.NewNop())
	msg, err := protocol.Parse("1;255;4;0;0;ZZ\n")
	require.NoError(t, err)

	_, action := h.Handle(msg)
	assert.Equal(t, ActionDrop, action)
}
