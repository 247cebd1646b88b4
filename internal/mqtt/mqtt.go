package mqttc

import (
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler receives the topic and payload of one message.
type MessageHandler func(topic string, payload []byte)

// PubSub is the slice of a broker connection the action transport needs.
type PubSub interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

var errNoClient = errors.New("mqtt client not initialised")

const connectTimeout = 5 * time.Second

// Client wraps a paho connection. Subscriptions are remembered and replayed
// from the OnConnect handler, so they survive reconnects with a clean
// session and may be made before the broker is first reachable.
type Client struct {
	Client mqtt.Client
	log    *zap.Logger

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// NewClient creates a client using environment/default broker.
func NewClient(clientID string, logger *zap.Logger) *Client {
	return NewClientWithBroker(clientID, "", logger)
}

// NewClientWithBroker lets callers override the MQTT broker address.
func NewClientWithBroker(clientID, broker string, logger *zap.Logger) *Client {
	return NewClientWithHandler(clientID, broker, nil, logger)
}

// NewClientWithHandler lets callers provide an OnConnect handler. It runs
// after recorded subscriptions were restored. The initial connect is retried
// in the background when the broker is down.
func NewClientWithHandler(clientID, broker string, onConnect mqtt.OnConnectHandler, logger *zap.Logger) *Client {
	c := newClient(nil, logger)
	if broker == "" {
		broker = os.Getenv("MQTT_BROKER")
		if broker == "" {
			broker = "tcp://127.0.0.1:1883"
		}
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetOrderMatters(true)

	opts.SetOnConnectHandler(func(pc mqtt.Client) {
		c.log.Info("connected", zap.String("broker", broker))
		c.restoreSubscriptions(pc)
		if onConnect != nil {
			onConnect(pc)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn("connection lost", zap.Error(err))
	})

	c.Client = mqtt.NewClient(opts)
	token := c.Client.Connect()
	switch {
	case !token.WaitTimeout(connectTimeout):
		c.log.Warn("broker not reachable yet, retrying in background", zap.String("broker", broker))
	case token.Error() != nil:
		c.log.Error("connect", zap.String("broker", broker), zap.Error(token.Error()))
	}
	return c
}

func newClient(pc mqtt.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{Client: pc, log: logger.Named("mqtt"), subs: make(map[string]MessageHandler)}
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.publish(topic, payload, false)
}

// PublishRetained keeps the payload on the broker for late subscribers.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, payload, true)
}

func (c *Client) publish(topic string, payload []byte, retained bool) error {
	if c == nil || c.Client == nil {
		return errNoClient
	}
	token := c.Client.Publish(topic, 1, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe records handler for topic and subscribes now if connected.
// While disconnected the subscription is deferred to the next connect.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if c == nil || c.Client == nil {
		return errNoClient
	}
	c.mu.Lock()
	c.subs[topic] = handler
	connected := c.Client.IsConnected()
	c.mu.Unlock()
	if !connected {
		c.log.Debug("subscription deferred until connected", zap.String("topic", topic))
		return nil
	}
	return c.subscribe(c.Client, topic, handler)
}

func (c *Client) subscribe(pc mqtt.Client, topic string, handler MessageHandler) error {
	token := pc.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Warn("subscribe", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}

// restoreSubscriptions replays every recorded subscription on pc.
func (c *Client) restoreSubscriptions(pc mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()
	for topic, h := range subs {
		if err := c.subscribe(pc, topic, h); err == nil {
			c.log.Debug("subscribed", zap.String("topic", topic))
		}
	}
}

// Subscriptions lists the recorded topics.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

func (c *Client) Unsubscribe(topic string) error {
	if c == nil || c.Client == nil {
		return errNoClient
	}
	c.mu.Lock()
	delete(c.subs, topic)
	connected := c.Client.IsConnected()
	c.mu.Unlock()
	if !connected {
		return nil
	}
	token := c.Client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

func (c *Client) IsConnected() bool {
	return c != nil && c.Client != nil && c.Client.IsConnected()
}

func (c *Client) Disconnect() {
	if c == nil || c.Client == nil {
		return
	}
	c.Client.Disconnect(250)
}
