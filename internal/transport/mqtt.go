package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"cloudpico-relay/internal/config"
	"cloudpico-relay/internal/link"
)

const publishTimeout = 5 * time.Second

// MQTT publishes uplink messages to a broker topic and treats every payload
// on the ack topic as inbound transport bytes.
type MQTT struct {
	client      mqtt.Client
	cfg         config.Config
	logger      *slog.Logger
	fifo        *link.ByteFIFO
	uplinkTopic string
	ackTopic    string

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ Link = (*MQTT)(nil)

func NewMQTT(cfg config.Config, logger *slog.Logger) (*MQTT, error) {
	if cfg.MQTTUplinkTopic == "" || cfg.MQTTAckTopic == "" {
		return nil, fmt.Errorf("mqtt uplink and ack topics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &MQTT{
		cfg:         cfg,
		logger:      logger,
		fifo:        link.NewByteFIFO(link.DefaultFIFOSize),
		uplinkTopic: cfg.MQTTUplinkTopic,
		ackTopic:    cfg.MQTTAckTopic,
		stopCh:      make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Subscriptions do not survive a clean session, so resubscribe on every connect.
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		token := cl.Subscribe(c.ackTopic, 1, c.handleAck)
		go func() {
			if !token.WaitTimeout(publishTimeout) {
				logger.Warn("mqtt subscribe timeout", "topic", c.ackTopic)
				return
			}
			if err := token.Error(); err != nil {
				logger.Error("mqtt subscribe failed", "topic", c.ackTopic, "error", err)
			}
		}()
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect waits for the initial broker connection while honoring ctx and
// Close.
func (c *MQTT) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// Send publishes p on the uplink topic at QoS 1 and returns without waiting
// for the broker; delivery is judged by the ack topic only. The trailing NUL
// of an uplink message is not part of the published payload.
func (c *MQTT) Send(p []byte) error {
	select {
	case <-c.stopCh:
		return link.ErrClosed
	default:
	}
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	payload := p
	if n := len(payload); n > 0 && payload[n-1] == 0 {
		payload = payload[:n-1]
	}

	token := c.client.Publish(c.uplinkTopic, 1, false, append([]byte(nil), payload...))
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			c.logger.Warn("mqtt publish timeout", "topic", c.uplinkTopic)
			return
		}
		if err := token.Error(); err != nil {
			c.logger.Error("failed to publish uplink", "topic", c.uplinkTopic, "error", err)
		}
	}()

	c.logger.Debug("published uplink", "topic", c.uplinkTopic, "bytes", len(payload))
	return nil
}

func (c *MQTT) TryReceiveByte() (byte, bool) {
	return c.fifo.Pop()
}

func (c *MQTT) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Close stops the client and disconnects from the broker. Safe to call more
// than once.
func (c *MQTT) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
	return nil
}

func (c *MQTT) handleAck(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	if w := c.fifo.Write(payload); w < len(payload) {
		c.logger.Warn("mqtt ack fifo overrun", "dropped", len(payload)-w)
	}
}

func (c *MQTT) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
