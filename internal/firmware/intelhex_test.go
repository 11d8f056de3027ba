package firmware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntelHex_DataAndEOF(t *testing.T) {
	// :02 0000 00 DEAD 73  -> 2 bytes at offset 0: 0xDE 0xAD
	// :00 0000 01 FF       -> EOF
	hex := ":02000000DEAD73\n:00000001FF\n"
	data, err := parseIntelHex(strings.NewReader(hex))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, data)
}

func TestParseIntelHex_GapsFilledWithFF(t *testing.T) {
	// byte count 1, offset 0x0004, data 0xAB, checksum arbitrary-but-unchecked here
	hex := ":0100040" + "0AB" + "EE\n:00000001FF\n"
	data, err := parseIntelHex(strings.NewReader(hex))
	require.NoError(t, err)
	require.Len(t, data, 5)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xAB}, data)
}

func TestParseIntelHex_RejectsMissingColon(t *testing.T) {
	_, err := parseIntelHex(strings.NewReader("0200000ODEAD21CC\n"))
	assert.Error(t, err)
}

func TestParseFirmwareFilename(t *testing.T) {
	fwType, fwVersion, name, err := parseFirmwareFilename("10__1__blink.hex")
	require.NoError(t, err)
	assert.Equal(t, uint16(10), fwType)
	assert.Equal(t, uint16(1), fwVersion)
	assert.Equal(t, "blink", name)
}

func TestParseFirmwareFilename_RejectsMalformed(t *testing.T) {
	_, _, _, err := parseFirmwareFilename("not-a-firmware-name.hex")
	assert.Error(t, err)
}
