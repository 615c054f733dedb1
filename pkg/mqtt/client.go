package mqtt

import (
	"fmt"
	"path"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const QOS byte = 0

const (
	Online  string = "online"
	Offline string = "offline"
)

// Topics.
const (
	State        string = "state"
	Command      string = "command"
	serverStatus string = "server/status"
)

type Client interface {
	// Connect to the broker and mark the bridge online.
	Connect() error
	// Mark the bridge offline and disconnect from the broker.
	Disconnect() error

	// Publish queues a message under the topic prefix and returns without
	// waiting for the broker. Delivery failures are logged.
	Publish(topic string, message interface{}) error
	// PublishAndRetain publishes a retained message and waits for the broker.
	PublishAndRetain(topic string, message interface{}) error
	// Subscribe routes the messages of a topic under the prefix to the
	// handler. Subscribing again to a topic replaces its handler.
	Subscribe(topic string, messageHandler mqtt.MessageHandler) error

	// Return the full topic for a given subpath.
	GetFullTopic(topic string) string
	// Returns the topic used to publish the server status.
	ServerStatusTopic() string

	RawClient() mqtt.Client
}

type client struct {
	mqttClient mqtt.Client
	options    ClientOptions

	// Topics to subscribe again after a reconnection, handlers stay in the
	// paho router.
	topics      map[string]struct{}
	topicsMutex sync.Mutex
}

func NewClient(options *ClientOptions) Client {
	c := &client{
		options: *options,
		topics:  map[string]struct{}{},
	}
	mqttOptions := mqtt.NewClientOptions().
		AddBroker(options.MqttUrl).
		SetClientID("wiser-mqtt-" + uuid.New().String()).
		SetOrderMatters(false).
		SetUsername(options.Username).
		SetPassword(options.Password).
		SetAutoReconnect(true).
		SetWill(c.ServerStatusTopic(), Offline, options.QoS, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Str("url", options.MqttUrl).Msg("Connection to MQTT server lost.")
		}).
		SetOnConnectHandler(c.onConnect)
	c.mqttClient = mqtt.NewClient(mqttOptions)
	return c
}

// onConnect restores the subscriptions, the session is not kept by the
// broker.
func (c *client) onConnect(mqttClient mqtt.Client) {
	log.Info().Str("url", c.options.MqttUrl).Msg("Connected to MQTT server.")

	filters := c.subscribedFilters()
	if len(filters) == 0 {
		return
	}
	log.Info().Int("count", len(filters)).Msg("Restoring MQTT subscriptions.")
	// A nil callback keeps the handlers already registered for the topics.
	t := mqttClient.SubscribeMultiple(filters, nil)
	go func() {
		if err := c.wait(t); err != nil {
			log.Error().Err(err).Msg("Error restoring MQTT subscriptions.")
		}
	}()
}

func (c *client) subscribedFilters() map[string]byte {
	c.topicsMutex.Lock()
	defer c.topicsMutex.Unlock()

	filters := make(map[string]byte, len(c.topics))
	for topic := range c.topics {
		filters[topic] = c.options.QoS
	}
	return filters
}

// wait blocks until the broker acknowledges the token, at most PublishTimeout.
func (c *client) wait(t mqtt.Token) error {
	if !t.WaitTimeout(c.options.PublishTimeout) {
		return fmt.Errorf("no answer from MQTT broker after %s", c.options.PublishTimeout)
	}
	return t.Error()
}

func (c *client) Connect() error {
	if err := c.wait(c.mqttClient.Connect()); err != nil {
		return fmt.Errorf("error connecting to MQTT broker: %w", err)
	}
	return c.publishServerStatus(Online)
}

func (c *client) Disconnect() error {
	if err := c.publishServerStatus(Offline); err != nil {
		return err
	}
	c.mqttClient.Disconnect(uint(c.options.DisconnectTimeout.Milliseconds()))
	log.Info().Msg("Disconnected from MQTT server.")
	return nil
}

func (c *client) Publish(topic string, message interface{}) error {
	fullTopic := c.GetFullTopic(topic)
	t := c.mqttClient.Publish(fullTopic, c.options.QoS, c.options.Retain, message)
	select {
	case <-t.Done():
		// Failed before reaching the network, like when not connected.
		return t.Error()
	default:
	}
	go func() {
		if err := c.wait(t); err != nil {
			log.Error().Err(err).Str("topic", fullTopic).Msg("Error publishing MQTT message.")
		}
	}()
	return nil
}

func (c *client) PublishAndRetain(topic string, message interface{}) error {
	fullTopic := c.GetFullTopic(topic)
	if err := c.wait(c.mqttClient.Publish(fullTopic, c.options.QoS, true, message)); err != nil {
		return fmt.Errorf("error publishing to '%s': %w", fullTopic, err)
	}
	return nil
}

func (c *client) Subscribe(topic string, messageHandler mqtt.MessageHandler) error {
	fullTopic := c.GetFullTopic(topic)
	c.topicsMutex.Lock()
	c.topics[fullTopic] = struct{}{}
	c.topicsMutex.Unlock()

	log.Debug().Str("topic", fullTopic).Msg("Subscribing to topic.")
	return c.wait(c.mqttClient.Subscribe(fullTopic, c.options.QoS, messageHandler))
}

func (c *client) publishServerStatus(status string) error {
	log.Info().Str("status", status).Str("topic", c.ServerStatusTopic()).Msg("Updating server status.")
	return c.PublishAndRetain(serverStatus, status)
}

func (c *client) ServerStatusTopic() string {
	return c.GetFullTopic(serverStatus)
}

func (c *client) GetFullTopic(topic string) string {
	return path.Join(c.options.TopicPrefix, topic)
}

func (c *client) RawClient() mqtt.Client {
	return c.mqttClient
}

// NormalizeForTopicName keeps the characters allowed in a topic level and
// replaces spaces and slashes with underscores.
func NormalizeForTopicName(item string) string {
	var output []byte
	for i := 0; i < len(item); i++ {
		switch c := item[i]; {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-':
			output = append(output, c)
		case c == ' ' || c == '/':
			output = append(output, '_')
		}
	}
	return string(output)
}
