// Package mqtt publishes poll results to an MQTT broker, including the
// retained Home Assistant discovery documents that turn each sensor key into
// an entity.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rvlink/tpms-gateway/internal/config"
)

const publishTimeout = 5 * time.Second

// Client wraps a paho MQTT client with the gateway's topic layout.
type Client struct {
	client mqtt.Client
	cfg    config.MQTTConfig
	logger *slog.Logger

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient configures (but does not connect) the MQTT client.
func NewClient(cfg config.MQTTConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection. It waits for the initial
// connection and respects ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("mqtt client stopped")
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
			return fmt.Errorf("mqtt client stopped")
		default:
		}
	}
}

// PublishState publishes a poll result as a single JSON state document.
func (c *Client) PublishState(device string, values map[string]int) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return c.publish(StateTopic(c.cfg.TopicPrefix, device), payload, false)
}

// PublishAvailability publishes the retained online/offline marker.
func (c *Client) PublishAvailability(device string, online bool) error {
	payload := "offline"
	if online {
		payload = "online"
	}
	return c.publish(AvailabilityTopic(c.cfg.TopicPrefix, device), []byte(payload), true)
}

// PublishDiscovery publishes retained Home Assistant discovery configs for
// every sensor key the device can report. Disabled when no discovery prefix
// is configured.
func (c *Client) PublishDiscovery(device string, keys []string) error {
	if c.cfg.DiscoveryPrefix == "" {
		return nil
	}
	for _, key := range keys {
		doc, err := DiscoveryConfig(c.cfg.TopicPrefix, device, key)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal discovery config: %w", err)
		}
		topic := DiscoveryTopic(c.cfg.DiscoveryPrefix, device, key)
		if err := c.publish(topic, payload, true); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if token.Error() != nil {
		c.logger.Error("publish failed", "topic", topic, "error", token.Error())
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	c.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the broker connection. Idempotent.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
