package transport

import (
	"testing"

	"github.com/mysensors/gwproxy/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageToTopic(t *testing.T) {
	msg, err := protocol.Parse("1;0;1;0;2;23.5\n")
	require.NoError(t, err)
	assert.Equal(t, "mysensors/1/0/1/0/2", messageToTopic(msg, "mysensors"))
}

func TestTopicToMessage_RoundTripsFields(t *testing.T) {
	msg, err := topicToMessage("mysensors/1/0/1/0/2", []byte("23.5"), "mysensors")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), msg.NodeID)
	assert.Equal(t, uint8(0), msg.ChildSensorID)
	assert.Equal(t, protocol.Set, msg.Command)
	assert.Equal(t, uint8(0), msg.Ack)
	assert.Equal(t, uint8(2), msg.SubType)
	assert.Equal(t, "23.5", msg.Payload)
}

func TestTopicToMessage_RejectsWrongSegmentCount(t *testing.T) {
	_, err := topicToMessage("mysensors/1/0/1", []byte(""), "mysensors")
	assert.Error(t, err)
}

func TestTopicToMessage_RejectsNonNumericField(t *testing.T) {
	_, err := topicToMessage("mysensors/x/0/1/0/2", []byte(""), "mysensors")
	assert.Error(t, err)
}
