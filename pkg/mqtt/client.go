// Package mqtt publishes location events to a broker and accepts setting
// changes from it.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/markus-lassfolk/locationd/pkg/eventloop"
	"github.com/markus-lassfolk/locationd/pkg/location"
	"github.com/markus-lassfolk/locationd/pkg/logx"
	"github.com/markus-lassfolk/locationd/pkg/settings"
)

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
	// MaxRate caps event publishes per second; zero means unlimited
	MaxRate float64 `json:"max_rate"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "locationd",
		TopicPrefix: "locationd",
		QoS:         1,
		MaxRate:     10,
	}
}

// publishQueue bounds the events waiting for the publisher goroutine
const publishQueue = 64

// transport is the part of a broker connection the client uses
type transport interface {
	publish(topic string, qos byte, retain bool, payload []byte) error
	subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	disconnect()
}

// Client publishes location events and applies remote setting writes
type Client struct {
	config  *Config
	logger  *logx.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	transport   transport
	connected   bool
	lastPublish time.Time
	dropped     int
	routes      map[string]func(topic string, payload []byte)

	queue     chan location.Event
	stop      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	done      sync.WaitGroup
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logx.Discard()
	}
	limit := rate.Inf
	if config.MaxRate > 0 {
		limit = rate.Limit(config.MaxRate)
	}
	return &Client{
		config:  config,
		logger:  logger.WithComponent("mqtt"),
		limiter: rate.NewLimiter(limit, int(config.MaxRate)+1),
		routes:  make(map[string]func(string, []byte)),
		queue:   make(chan location.Event, publishQueue),
		stop:    make(chan struct{}),
	}
}

// Connect establishes connection to the MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("mqtt_disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetWill(c.topic("status"), "offline", byte(c.config.QoS), true)
	opts.SetOnConnectHandler(func(MQTT.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) { c.onConnectionLost(err) })

	client := MQTT.NewClient(opts)
	c.mu.Lock()
	c.transport = &pahoTransport{client: client}
	c.mu.Unlock()

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	c.logger.Info("mqtt_connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

// Disconnect stops the publisher, publishes the offline status and closes
// the connection. Queued events that were not sent yet are discarded.
func (c *Client) Disconnect() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.done.Wait()

	c.mu.Lock()
	t, connected := c.transport, c.connected
	c.connected = false
	c.mu.Unlock()
	if t == nil || !connected {
		return nil
	}
	_ = t.publish(c.topic("status"), byte(c.config.QoS), true, []byte("offline"))
	t.disconnect()
	c.logger.Info("mqtt_disconnected")
	return nil
}

// onConnect marks the client online and restores subscriptions
func (c *Client) onConnect() {
	c.mu.Lock()
	c.connected = true
	t := c.transport
	routes := make(map[string]func(string, []byte), len(c.routes))
	for topic, h := range c.routes {
		routes[topic] = h
	}
	c.mu.Unlock()

	if err := t.publish(c.topic("status"), byte(c.config.QoS), true, []byte("online")); err != nil {
		c.logger.Warn("mqtt_status_publish_failed", "error", err)
	}
	for topic, h := range routes {
		if err := t.subscribe(topic, byte(c.config.QoS), h); err != nil {
			c.logger.Warn("mqtt_resubscribe_failed", "topic", topic, "error", err)
		}
	}
	c.logger.Info("mqtt_connection_established", "subscriptions", len(routes))
}

func (c *Client) onConnectionLost(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Error("mqtt_connection_lost", "error", err)
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// GetLastPublish returns the timestamp of the last publish
func (c *Client) GetLastPublish() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPublish
}

// Dropped returns how many events were discarded by the rate limit or a full
// publish queue
func (c *Client) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Client) topic(parts ...string) string {
	return strings.Join(append([]string{c.config.TopicPrefix}, parts...), "/")
}

// PublishEvent publishes ev to <prefix>/events. Position updates are also
// retained under <prefix>/position so late subscribers see the last fix.
func (c *Client) PublishEvent(ev location.Event) error {
	if !c.IsConnected() {
		return nil
	}
	if !c.limiter.Allow() {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.logger.Trace("mqtt_event_rate_limited", "event", ev.Type.String())
		return nil
	}
	if err := c.publishJSON(c.topic("events"), ev, c.config.Retain); err != nil {
		return err
	}
	if ev.Type == location.EventUpdated && ev.Kind == location.DataPosition {
		return c.publishJSON(c.topic("position"), ev, true)
	}
	return nil
}

// Listener adapts PublishEvent for Provider.Subscribe. Events are handed to
// a publisher goroutine so the caller never waits on the broker; when the
// queue is full the event is dropped and counted.
func (c *Client) Listener() location.Listener {
	c.startOnce.Do(func() {
		c.done.Add(1)
		go c.publisher()
	})
	return func(ev location.Event) {
		select {
		case <-c.stop:
			return
		default:
		}
		select {
		case c.queue <- ev:
		default:
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
			c.logger.Trace("mqtt_event_queue_full", "event", ev.Type.String())
		}
	}
}

func (c *Client) publisher() {
	defer c.done.Done()
	for {
		select {
		case <-c.stop:
			return
		case ev := <-c.queue:
			if err := c.PublishEvent(ev); err != nil {
				c.logger.Warn("mqtt_event_publish_failed", "event", ev.Type.String(), "error", err)
			}
		}
	}
}

// PublishSetting publishes the retained state of one setting
func (c *Client) PublishSetting(key settings.Key, value bool) error {
	if !c.IsConnected() {
		return nil
	}
	return c.publish(c.topic("settings", string(key)), true, []byte(strconv.FormatBool(value)))
}

// BindSettings mirrors store to <prefix>/settings/<key> and applies writes
// received on <prefix>/settings/<key>/set. Writes are posted to d.
func (c *Client) BindSettings(store settings.Store, d eventloop.Dispatcher) error {
	for _, key := range settings.Keys {
		key := key
		if v, err := store.Bool(key); err == nil {
			if err := c.PublishSetting(key, v); err != nil {
				c.logger.Warn("mqtt_setting_publish_failed", "key", string(key), "error", err)
			}
		}
		if err := store.Subscribe(key, "mqtt", func(k settings.Key, v bool) {
			if err := c.PublishSetting(k, v); err != nil {
				c.logger.Warn("mqtt_setting_publish_failed", "key", string(k), "error", err)
			}
		}); err != nil {
			return err
		}
	}
	return c.Subscribe(c.topic("settings", "+", "set"), func(topic string, payload []byte) {
		key, value, err := c.parseSettingWrite(topic, payload)
		if err != nil {
			c.logger.Warn("mqtt_setting_write_rejected", "topic", topic, "error", err)
			return
		}
		d.Post(func() {
			if err := store.SetBool(key, value); err != nil {
				c.logger.Warn("mqtt_setting_write_failed", "key", string(key), "error", err)
				return
			}
			c.logger.Info("mqtt_setting_written", "key", string(key), "value", value)
		})
	})
}

func (c *Client) parseSettingWrite(topic string, payload []byte) (settings.Key, bool, error) {
	rest := strings.TrimPrefix(topic, c.topic("settings")+"/")
	name := strings.TrimSuffix(rest, "/set")
	key, err := settings.ParseKey(name)
	if err != nil {
		return "", false, err
	}
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "1", "true", "on", "yes":
		return key, true, nil
	case "0", "false", "off", "no":
		return key, false, nil
	}
	return "", false, fmt.Errorf("invalid boolean %q", payload)
}

// Subscribe registers handler for topic; it is restored on every reconnect
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.routes[topic] = handler
	t, connected := c.transport, c.connected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	if err := t.subscribe(topic, byte(c.config.QoS), handler); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	c.logger.Info("mqtt_subscription_created", "topic", topic)
	return nil
}

func (c *Client) publishJSON(topic string, payload interface{}, retain bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.publish(topic, retain, data)
}

func (c *Client) publish(topic string, retain bool, data []byte) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if err := t.publish(topic, byte(c.config.QoS), retain, data); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()
	c.logger.Trace("mqtt_message_published", "topic", topic, "size", len(data))
	return nil
}

// pahoTransport sends through a paho client. A publish waits at most two
// seconds for the broker acknowledgement.
type pahoTransport struct {
	client MQTT.Client
}

func (p *pahoTransport) publish(topic string, qos byte, retain bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish timed out")
	}
	return token.Error()
}

func (p *pahoTransport) subscribe(topic string, qos byte, handler func(string, []byte)) error {
	token := p.client.Subscribe(topic, qos, func(_ MQTT.Client, msg MQTT.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timed out")
	}
	return token.Error()
}

func (p *pahoTransport) disconnect() {
	p.client.Disconnect(250)
}
