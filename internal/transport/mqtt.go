package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mysensors/gwproxy/internal/protocol"
	"go.uber.org/zap"
)

// MQTT bridges the line protocol onto an MQTT broker. Inbound messages are
// assembled from a five-segment topic under PublishTopicPrefix plus the raw
// payload; outbound messages are published the same way.
//
// Topic shape: <prefix>/<nodeID>/<childSensorID>/<command>/<ack>/<subType>
type MQTT struct {
	Broker             string
	ClientID           string
	PublishTopicPrefix string
	Log                *zap.Logger

	client mqtt.Client
}

func (m *MQTT) log() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log.With(zap.String("transport", "mqtt"), zap.String("broker", m.Broker))
}

func (m *MQTT) subscribeTopic() string {
	return m.PublishTopicPrefix + "/+/+/+/+/+"
}

func (m *MQTT) connect(ctx context.Context, out chan<- protocol.LineMessage, log *zap.Logger) mqtt.Client {
	bo := newBackoff()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.Broker)
	clientID := m.ClientID
	if clientID == "" {
		clientID = "gwproxy"
	}
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(m.subscribeTopic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
			lm, err := topicToMessage(msg.Topic(), msg.Payload(), m.PublishTopicPrefix)
			if err != nil {
				log.Warn("dropping malformed mqtt message", zap.Error(err))
				return
			}
			select {
			case out <- lm:
			case <-ctx.Done():
			}
		})
		token.Wait()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})

	for {
		if ctx.Err() != nil {
			return nil
		}
		client := mqtt.NewClient(opts)
		token := client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			log.Warn("mqtt connect failed, retrying", zap.Error(err))
			bo.wait(ctx)
			continue
		}
		return client
	}
}

// ReadLoop connects to the broker and emits a LineMessage per received
// publish until ctx is done.
func (m *MQTT) ReadLoop(ctx context.Context, out chan<- protocol.LineMessage) {
	log := m.log()
	client := m.connect(ctx, out, log)
	if client == nil {
		return
	}
	m.client = client
	<-ctx.Done()
}

// WriteLoop publishes each message from in under the topic derived from
// its fields; messages received while the broker connection is not up are
// dropped.
func (m *MQTT) WriteLoop(ctx context.Context, in <-chan protocol.LineMessage) {
	log := m.log()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if m.client == nil || !m.client.IsConnected() {
				continue
			}
			topic := messageToTopic(msg, m.PublishTopicPrefix)
			token := m.client.Publish(topic, 1, false, msg.Payload)
			token.Wait()
			if err := token.Error(); err != nil {
				log.Warn("publish failed", zap.Error(err))
			}
		}
	}
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}

func messageToTopic(msg protocol.LineMessage, prefix string) string {
	return fmt.Sprintf("%s/%d/%d/%d/%d/%d", prefix,
		msg.NodeID, msg.ChildSensorID, uint8(msg.Command), msg.Ack, msg.SubType)
}

func topicToMessage(topic string, payload []byte, prefix string) (protocol.LineMessage, error) {
	rest := strings.TrimPrefix(topic, prefix+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 5 {
		return protocol.LineMessage{}, fmt.Errorf("mqtt topic %q: expected 5 segments after prefix, got %d", topic, len(parts))
	}

	fields := make([]uint8, 5)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return protocol.LineMessage{}, fmt.Errorf("mqtt topic %q: bad field %d: %w", topic, i, err)
		}
		fields[i] = uint8(v)
	}

	return protocol.LineMessage{
		NodeID:        fields[0],
		ChildSensorID: fields[1],
		Command:       protocol.CommandType(fields[2]),
		Ack:           fields[3],
		SubType:       fields[4],
		Payload:       string(payload),
	}, nil
}
