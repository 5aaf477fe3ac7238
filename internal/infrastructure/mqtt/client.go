package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hearthlab/hearth-core/internal/infrastructure/config"
)

// MessageHandler receives one inbound message. Paho invokes handlers on
// its own goroutines; a handler that blocks stalls delivery for its
// subscription. A returned error is logged and the message is still
// acknowledged.
type MessageHandler func(topic string, payload []byte) error

// Logger is the slice of logging.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription remembers what to re-subscribe after a reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client is the core's connection to the broker. It carries the hearth
// presence protocol on top of paho: a retained status message on the
// system topic announces the core as online, the broker's last-will
// flips it to offline if the core dies, and a graceful Close flips it
// to offline with a shutdown reason.
//
// Subscriptions are tracked and silently restored on reconnect. All
// methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	subMu sync.RWMutex
	subs  map[string]subscription

	mu        sync.RWMutex
	connected bool
	onUp      func()
	onDown    func(err error)
	logger    Logger
}

// Connect dials the broker and waits for the session to come up. The
// last-will is registered before dialing so an early crash still flips
// the presence topic.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}

	opts := clientOptions(cfg)
	opts.SetBinaryWill(Topics{}.SystemStatus(), presencePayload(cfg.Broker.ClientID, statusOffline, reasonLostConnection), 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionDown(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if log := c.getLogger(); log != nil {
			log.Warn("MQTT reconnecting")
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the session up here
	// so IsConnected holds the moment Connect returns.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// sessionUp runs on every (re)connect: restore subscriptions, announce
// presence, notify the owner.
func (c *Client) sessionUp() {
	c.mu.Lock()
	c.connected = true
	cb := c.onUp
	c.mu.Unlock()

	c.subMu.RLock()
	for _, sub := range c.subs {
		// Failures here are retried on the next reconnect cycle.
		c.client.Subscribe(sub.topic, sub.qos, c.dispatch(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		presencePayload(c.cfg.Broker.ClientID, statusOnline, ""))

	if cb != nil {
		cb()
	}
}

func (c *Client) sessionDown(err error) {
	c.mu.Lock()
	c.connected = false
	cb := c.onDown
	c.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

// Close announces a graceful shutdown on the presence topic, then
// disconnects with a quiesce window for in-flight operations. Safe on a
// client that never connected.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			presencePayload(c.cfg.Broker.ClientID, statusOffline, reasonShutdown))
		token.WaitTimeout(publishTimeout)
	}

	c.client.Disconnect(disconnectQuiesceMs)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	return nil
}

// HealthCheck reports whether the session is currently up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect registers a callback for every connect and reconnect.
func (c *Client) SetOnConnect(cb func()) {
	c.mu.Lock()
	c.onUp = cb
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for lost connections.
func (c *Client) SetOnDisconnect(cb func(err error)) {
	c.mu.Lock()
	c.onDown = cb
	c.mu.Unlock()
}

// SetLogger routes handler panics and reconnect notices somewhere
// visible. Without one they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// dispatch adapts a MessageHandler to paho, containing panics and
// logging handler errors. One broken payload must not take the core
// down.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if log := c.getLogger(); log != nil {
					log.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if log := c.getLogger(); log != nil {
				log.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
