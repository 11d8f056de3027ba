package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test vectors taken from the native implementation's own round-trip
// tests: fw_type=10, fw_version=1/2, blocks=80, crc=18132 (0x46D4).

func TestDecode_FwConfigRequest(t *testing.T) {
	v, err := Decode(uint8(FwConfigRequest), "0A0001005000D4460102")
	require.NoError(t, err)

	req, ok := v.(*FwConfigRequestPayload)
	require.True(t, ok)
	assert.Equal(t, uint16(10), req.FwType)
	assert.Equal(t, uint16(1), req.FwVersion)
	assert.Equal(t, uint16(80), req.Blocks)
	assert.Equal(t, uint16(18132), req.Crc)
	assert.Equal(t, uint16(513), req.BlVersion)
}

func TestDecode_FwConfigResponse(t *testing.T) {
	v, err := Decode(uint8(FwConfigResponse), "0A0002005000D446")
	require.NoError(t, err)

	resp, ok := v.(*FwConfigResponsePayload)
	require.True(t, ok)
	assert.Equal(t, uint16(10), resp.FwType)
	assert.Equal(t, uint16(2), resp.FwVersion)
	assert.Equal(t, uint16(80), resp.Blocks)
	assert.Equal(t, uint16(18132), resp.Crc)
}

func TestEncode_FwConfigRequest_RoundTrips(t *testing.T) {
	req := &FwConfigRequestPayload{FwType: 10, FwVersion: 1, Blocks: 80, Crc: 18132, BlVersion: 513}
	encoded, err := Encode(req)
	require.NoError(t, err)
	assert.Equal(t, "0A0001005000D4460102", encoded)

	decoded, err := Decode(uint8(FwConfigRequest), encoded)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestDecode_RejectsBadHex(t *testing.T) {
	_, err := Decode(uint8(FwConfigResponse), "not-hex")
	assert.ErrorIs(t, err, ErrBadHex)
}

func TestDecode_RejectsWrongLength(t *testing.T) {
	_, err := Decode(uint8(FwConfigResponse), "0A00")
	assert.ErrorIs(t, err, ErrShortPayload)
}

func TestDecode_UnknownSubTypePassesThroughOpaque(t *testing.T) {
	v, err := Decode(250, "AABB")
	require.NoError(t, err)
	opaque, ok := v.(Opaque)
	require.True(t, ok)
	assert.Equal(t, SubType(250), opaque.SubType)
	assert.Equal(t, []byte{0xAA, 0xBB}, opaque.Data)
}
