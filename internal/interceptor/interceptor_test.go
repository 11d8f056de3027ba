package interceptor

import (
	"context"
	"testing"
	"time"

	"github.com/mysensors/gwproxy/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newQueues() (Queues, map[string]chan protocol.LineMessage) {
	ota := make(chan protocol.LineMessage, 4)
	nodeReq := make(chan protocol.LineMessage, 4)
	presentation := make(chan protocol.LineMessage, 4)
	ctrlOut := make(chan protocol.LineMessage, 4)
	return Queues{
			OTA:           ota,
			NodeReq:       nodeReq,
			Presentation:  presentation,
			ControllerOut: ctrlOut,
		}, map[string]chan protocol.LineMessage{
			"ota": ota, "node_req": nodeReq, "presentation": presentation, "ctrl_out": ctrlOut,
		}
}

func runOne(t *testing.T, line string) map[string]chan protocol.LineMessage {
	t.Helper()
	in := make(chan protocol.LineMessage, 1)
	q, chans := newQueues()

	msg, err := protocol.Parse(line)
	require.NoError(t, err)
	in <- msg
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	Run(ctx, in, q, zap.NewNop())
	return chans
}

// TestRun_SetForwardsToController covers spec §8 scenario 4.
func TestRun_SetForwardsToController(t *testing.T) {
	chans := runOne(t, "1;0;1;0;2;23.5\n")

	select {
	case msg := <-chans["ctrl_out"]:
		assert.Equal(t, "1;0;1;0;2;23.5\n", msg.Serialize())
	default:
		t.Fatal("expected a message on ctrl_out")
	}
	assertEmpty(t, chans["ota"], chans["node_req"], chans["presentation"])
}

// TestRun_PresentationGoesOnlyToPresentationHook covers spec §8 scenario 5.
func TestRun_PresentationGoesOnlyToPresentationHook(t *testing.T) {
	chans := runOne(t, "1;1;0;0;6;humidity\n")

	select {
	case msg := <-chans["presentation"]:
		assert.Equal(t, uint8(1), msg.NodeID)
		assert.Equal(t, uint8(1), msg.ChildSensorID)
		assert.Equal(t, uint8(6), msg.SubType)
		assert.Equal(t, "humidity", msg.Payload)
	default:
		t.Fatal("expected a message on presentation")
	}
	assertEmpty(t, chans["ota"], chans["node_req"], chans["ctrl_out"])
}

func TestRun_StreamGoesOnlyToOTA(t *testing.T) {
	chans := runOne(t, "1;255;4;0;9;ABCD\n")

	select {
	case <-chans["ota"]:
	default:
		t.Fatal("expected a message on ota")
	}
	assertEmpty(t, chans["node_req"], chans["presentation"], chans["ctrl_out"])
}

func TestRun_IDRequestGoesOnlyToNodeReq(t *testing.T) {
	chans := runOne(t, "1;255;3;0;3;\n")

	select {
	case <-chans["node_req"]:
	default:
		t.Fatal("expected a message on node_req")
	}
	assertEmpty(t, chans["ota"], chans["presentation"], chans["ctrl_out"])
}

func TestRun_OtherInternalForwardsToController(t *testing.T) {
	chans := runOne(t, "1;255;3;0;5;hello\n")

	select {
	case <-chans["ctrl_out"]:
	default:
		t.Fatal("expected a message on ctrl_out")
	}
	assertEmpty(t, chans["ota"], chans["node_req"], chans["presentation"])
}

func assertEmpty(t *testing.T, chs ...chan protocol.LineMessage) {
	t.Helper()
	for _, ch := range chs {
		select {
		case msg := <-ch:
			t.Fatalf("expected channel to be empty, got %v", msg)
		default:
		}
	}
}
