package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudpico-relay/internal/config"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func mqttConfig() config.Config {
	return config.Config{
		MQTTBroker:      "127.0.0.1",
		MQTTPort:        1883,
		MQTTClientID:    "relay-test",
		MQTTUplinkTopic: "relay/uplink",
		MQTTAckTopic:    "relay/ack",
	}
}

func TestNewMQTT_RequiresTopics(t *testing.T) {
	cfg := mqttConfig()
	cfg.MQTTAckTopic = ""
	_, err := NewMQTT(cfg, discard())
	assert.Error(t, err)
}

func TestMQTT_AckPayloadFeedsFIFO(t *testing.T) {
	c, err := NewMQTT(mqttConfig(), discard())
	require.NoError(t, err)

	c.handleAck(nil, fakeMessage{topic: "relay/ack", payload: []byte{0x06, 'K'}})

	b, ok := c.TryReceiveByte()
	require.True(t, ok)
	assert.Equal(t, byte(0x06), b)
	b, ok = c.TryReceiveByte()
	require.True(t, ok)
	assert.Equal(t, byte('K'), b)
	_, ok = c.TryReceiveByte()
	assert.False(t, ok)
}

func TestMQTT_SendRequiresConnection(t *testing.T) {
	c, err := NewMQTT(mqttConfig(), discard())
	require.NoError(t, err)

	assert.Error(t, c.Send([]byte("2&\x00")))
	assert.False(t, c.IsConnected())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
