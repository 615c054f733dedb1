package modules

import (
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	mqtt_base "github.com/eclipse/paho.mqtt.golang"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/stretchr/testify/require"
)

var testGroups = []wiser.ProjectGroup{
	{Name: "Living Light", Address: wiser.NewAccessoryAddress(254, 1), DeviceType: wiser.DeviceTypeDimmer, Dimmable: true, Application: 56},
	{Name: "Porch Switch", Address: wiser.NewAccessoryAddress(254, 2), DeviceType: wiser.DeviceTypeSwitch, Application: 56},
	{Name: "Bedroom Blind", Address: wiser.NewAccessoryAddress(254, 3), DeviceType: wiser.DeviceTypeBlind, Application: 56},
	{Name: "Bedroom Fan", Address: wiser.NewAccessoryAddress(254, 4), DeviceType: wiser.DeviceTypeFan, FanSpeeds: []int{10, 20}, Application: 56},
	{Name: "Air", Address: wiser.NewAccessoryAddress(254, 5), DeviceType: wiser.DeviceTypeAC, Application: 56},
	{Name: "Other Network Light", Address: wiser.NewAccessoryAddress(253, 1), DeviceType: wiser.DeviceTypeSwitch, Application: 56},
}

type setLevelCall struct {
	address wiser.AccessoryAddress
	level   int
	ramp    int
}

// fakeWiserClient records the commands and lets the tests emit events.
type fakeWiserClient struct {
	mutex            sync.Mutex
	state            wiser.State
	setLevelCalls    []setLevelCall
	liveCallbacks    map[string]wiser.GroupSetCallback
	scanCallbacks    map[string]wiser.GroupSetCallback
	stateCallbacks   map[string]wiser.StateCallback
	projectCallbacks map[string]wiser.ProjectCallback
}

func newFakeWiserClient() *fakeWiserClient {
	return &fakeWiserClient{
		liveCallbacks:    map[string]wiser.GroupSetCallback{},
		scanCallbacks:    map[string]wiser.GroupSetCallback{},
		stateCallbacks:   map[string]wiser.StateCallback{},
		projectCallbacks: map[string]wiser.ProjectCallback{},
	}
}

func (c *fakeWiserClient) Connect() error    { return nil }
func (c *fakeWiserClient) Disconnect() error { return nil }

func (c *fakeWiserClient) SetGroupLevel(address wiser.AccessoryAddress, level int, ramp int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.setLevelCalls = append(c.setLevelCalls, setLevelCall{address: address, level: level, ramp: ramp})
	return nil
}

func (c *fakeWiserClient) GetAllLevels() error       { return nil }
func (c *fakeWiserClient) Send(command string) error { return nil }

func subscribe[T any](callbacks map[string]T, id string, callback T) error {
	if _, exists := callbacks[id]; exists {
		return errors.New("already subscribed: " + id)
	}
	callbacks[id] = callback
	return nil
}

func unsubscribe[T any](callbacks map[string]T, id string) error {
	if _, exists := callbacks[id]; !exists {
		return errors.New("not subscribed: " + id)
	}
	delete(callbacks, id)
	return nil
}

func (c *fakeWiserClient) GroupSetSubscribe(id string, callback wiser.GroupSetCallback) error {
	return subscribe(c.liveCallbacks, id, callback)
}

func (c *fakeWiserClient) GroupSetUnsubscribe(id string) error {
	return unsubscribe(c.liveCallbacks, id)
}

func (c *fakeWiserClient) GroupScanSubscribe(id string, callback wiser.GroupSetCallback) error {
	return subscribe(c.scanCallbacks, id, callback)
}

func (c *fakeWiserClient) GroupScanUnsubscribe(id string) error {
	return unsubscribe(c.scanCallbacks, id)
}

func (c *fakeWiserClient) ProjectSubscribe(id string, callback wiser.ProjectCallback) error {
	return subscribe(c.projectCallbacks, id, callback)
}

func (c *fakeWiserClient) ProjectUnsubscribe(id string) error {
	return unsubscribe(c.projectCallbacks, id)
}

func (c *fakeWiserClient) StateSubscribe(id string, callback wiser.StateCallback) error {
	return subscribe(c.stateCallbacks, id, callback)
}

func (c *fakeWiserClient) StateUnsubscribe(id string) error {
	return unsubscribe(c.stateCallbacks, id)
}

func (c *fakeWiserClient) State() wiser.State { return c.state }
func (c *fakeWiserClient) IsConnected() bool  { return c.state == wiser.StateConnected }

func (c *fakeWiserClient) emitLive(event wiser.GroupSetEvent) {
	for _, callback := range c.liveCallbacks {
		callback(event)
	}
}

func (c *fakeWiserClient) emitScan(event wiser.GroupSetEvent) {
	for _, callback := range c.scanCallbacks {
		callback(event)
	}
}

func (c *fakeWiserClient) emitProject(groups []wiser.ProjectGroup) {
	for _, callback := range c.projectCallbacks {
		callback(groups)
	}
}

func (c *fakeWiserClient) setLevels() []setLevelCall {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]setLevelCall{}, c.setLevelCalls...)
}

func (c *fakeWiserClient) setState(state wiser.State) {
	c.state = state
	for _, callback := range c.stateCallbacks {
		callback(state)
	}
}

type publication struct {
	topic   string
	message string
	retain  bool
}

// fakeMqttClient records the publications and the subscriptions.
type fakeMqttClient struct {
	mutex         sync.Mutex
	prefix        string
	publications  []publication
	subscriptions map[string]mqtt_base.MessageHandler
}

func newFakeMqttClient() *fakeMqttClient {
	return &fakeMqttClient{
		prefix:        "wiser",
		subscriptions: map[string]mqtt_base.MessageHandler{},
	}
}

func (c *fakeMqttClient) Connect() error    { return nil }
func (c *fakeMqttClient) Disconnect() error { return nil }

func (c *fakeMqttClient) publish(topic string, message interface{}, retain bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.publications = append(c.publications, publication{topic: topic, message: message.(string), retain: retain})
	return nil
}

func (c *fakeMqttClient) Publish(topic string, message interface{}) error {
	return c.publish(topic, message, false)
}

func (c *fakeMqttClient) PublishAndRetain(topic string, message interface{}) error {
	return c.publish(topic, message, true)
}

func (c *fakeMqttClient) Subscribe(topic string, messageHandler mqtt_base.MessageHandler) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.subscriptions[topic] = messageHandler
	return nil
}

func (c *fakeMqttClient) published() []publication {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]publication{}, c.publications...)
}

// waitPublished waits for count publications and returns them.
func (c *fakeMqttClient) waitPublished(t *testing.T, count int) []publication {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.published()) >= count
	}, time.Second, 5*time.Millisecond)
	return c.published()
}

func (c *fakeMqttClient) GetFullTopic(topic string) string {
	return path.Join(c.prefix, topic)
}

func (c *fakeMqttClient) ServerStatusTopic() string {
	return path.Join(c.prefix, "server/status")
}

func (c *fakeMqttClient) RawClient() mqtt_base.Client { return nil }

func (c *fakeMqttClient) receive(t *testing.T, topic string, payload string) {
	t.Helper()
	c.mutex.Lock()
	handler, ok := c.subscriptions[topic]
	c.mutex.Unlock()
	require.True(t, ok, "no subscription for topic %s", topic)
	handler(nil, &fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// newTestRegistry returns a registry loaded with testGroups.
func newTestRegistry(t *testing.T, wiserClient *fakeWiserClient) wiser.Registry {
	registry := wiser.NewRegistry(wiserClient)
	require.NoError(t, registry.Start())
	wiserClient.emitProject(testGroups)
	return registry
}
