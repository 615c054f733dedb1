package modules

import (
	"testing"

	"github.com/gaetancollaud/wiser-mqtt/pkg/config"
	"github.com/gaetancollaud/wiser-mqtt/pkg/homeassistant"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroupsModule(t *testing.T) (*GroupsModule, *fakeMqttClient, *fakeWiserClient) {
	mqttClient := newFakeMqttClient()
	wiserClient := newFakeWiserClient()
	cfg := &config.Config{Mqtt: config.ConfigMqtt{NormalizeDeviceName: true}}
	module := NewGroupsModule(mqttClient, wiserClient, newTestRegistry(t, wiserClient), cfg).(*GroupsModule)
	require.NoError(t, module.Start())
	t.Cleanup(func() { module.Stop() })
	return module, mqttClient, wiserClient
}

func TestGroupsPublishLevels(t *testing.T) {
	_, mqttClient, wiserClient := newTestGroupsModule(t)

	wiserClient.emitLive(wiser.GroupSetEvent{GroupAddress: 1, Level: 200})
	wiserClient.emitScan(wiser.GroupSetEvent{GroupAddress: 3, Level: 0})
	wiserClient.emitLive(wiser.GroupSetEvent{GroupAddress: 99, Level: 10})

	assert.Equal(t, []publication{
		{topic: "groups/Living_Light/state", message: "200"},
		{topic: "groups/Other_Network_Light/state", message: "200"},
		{topic: "groups/Bedroom_Blind/state", message: "0"},
	}, mqttClient.waitPublished(t, 3))
}

// blockingMqttClient holds every publication until released.
type blockingMqttClient struct {
	*fakeMqttClient
	release chan struct{}
}

func (c *blockingMqttClient) Publish(topic string, message interface{}) error {
	<-c.release
	return c.fakeMqttClient.Publish(topic, message)
}

func TestGroupsSlowBrokerDoesNotBlockEvents(t *testing.T) {
	mqttClient := &blockingMqttClient{fakeMqttClient: newFakeMqttClient(), release: make(chan struct{})}
	wiserClient := newFakeWiserClient()
	module := NewGroupsModule(mqttClient, wiserClient, newTestRegistry(t, wiserClient), &config.Config{}).(*GroupsModule)
	require.NoError(t, module.Start())

	// A full scan is queued while the broker does not answer.
	for i := 0; i < 256; i++ {
		wiserClient.emitScan(wiser.GroupSetEvent{GroupAddress: 3, Level: i})
	}
	assert.Empty(t, mqttClient.published())

	close(mqttClient.release)
	publications := mqttClient.waitPublished(t, 256)
	assert.Equal(t, publication{topic: "groups/Bedroom Blind/state", message: "0"}, publications[0])
	assert.Equal(t, publication{topic: "groups/Bedroom Blind/state", message: "255"}, publications[255])
	require.NoError(t, module.Stop())
}

func TestGroupsCommands(t *testing.T) {
	_, mqttClient, wiserClient := newTestGroupsModule(t)

	mqttClient.receive(t, "groups/Living_Light/command", "128")
	mqttClient.receive(t, "groups/Bedroom_Blind/command", " 255 , 4 ")
	mqttClient.receive(t, "groups/Living_Light/command", "abc")
	mqttClient.receive(t, "groups/Living_Light/command", "256")
	mqttClient.receive(t, "groups/Living_Light/command", "10,x")

	assert.Equal(t, []setLevelCall{
		{address: wiser.NewAccessoryAddress(254, 1), level: 128, ramp: 0},
		{address: wiser.NewAccessoryAddress(254, 3), level: 255, ramp: 4},
	}, wiserClient.setLevels())
	assert.Len(t, mqttClient.subscriptions, len(testGroups))
}

func TestGroupsFollowProject(t *testing.T) {
	mqttClient := newFakeMqttClient()
	wiserClient := newFakeWiserClient()
	registry := wiser.NewRegistry(wiserClient)
	require.NoError(t, registry.Start())
	module := NewGroupsModule(mqttClient, wiserClient, registry, &config.Config{}).(*GroupsModule)

	// Started before the project is fetched.
	require.NoError(t, module.Start())
	defer module.Stop()
	assert.Empty(t, mqttClient.subscriptions)

	wiserClient.emitProject(testGroups[:2])
	assert.Len(t, mqttClient.subscriptions, 2)
	mqttClient.receive(t, "groups/Porch Switch/command", "255")

	// The porch switch moved to another address, the kitchen light is new.
	moved := testGroups[1]
	moved.Address = wiser.NewAccessoryAddress(254, 20)
	kitchen := wiser.ProjectGroup{Name: "Kitchen Light", Address: wiser.NewAccessoryAddress(254, 21), DeviceType: wiser.DeviceTypeSwitch}
	wiserClient.emitProject([]wiser.ProjectGroup{moved, kitchen})
	assert.Len(t, mqttClient.subscriptions, 3)

	mqttClient.receive(t, "groups/Porch Switch/command", "0")
	mqttClient.receive(t, "groups/Kitchen Light/command", "255")
	// Not in the project anymore.
	mqttClient.receive(t, "groups/Living Light/command", "255")

	assert.Equal(t, []setLevelCall{
		{address: wiser.NewAccessoryAddress(254, 2), level: 255, ramp: 0},
		{address: wiser.NewAccessoryAddress(254, 20), level: 0, ramp: 0},
		{address: wiser.NewAccessoryAddress(254, 21), level: 255, ramp: 0},
	}, wiserClient.setLevels())
}

func TestGroupsTopicsWithoutNormalization(t *testing.T) {
	module := &GroupsModule{normalizeDeviceName: false}

	assert.Equal(t, "groups/Living Light/state", module.groupStateTopic("Living Light"))
	assert.Equal(t, "groups/Living Light/command", module.groupCommandTopic("Living Light"))
}

func TestParseLevelCommand(t *testing.T) {
	cases := []struct {
		payload string
		level   int
		ramp    int
		valid   bool
	}{
		{"0", 0, 0, true},
		{"255", 255, 0, true},
		{"100,8", 100, 8, true},
		{" 12 ", 12, 0, true},
		{"-1", 0, 0, false},
		{"256", 0, 0, false},
		{"", 0, 0, false},
		{"ON", 0, 0, false},
		{"10,-1", 0, 0, false},
		{"10,", 0, 0, false},
	}
	for _, c := range cases {
		level, ramp, err := parseLevelCommand(c.payload)
		if !c.valid {
			assert.Error(t, err, "payload %q", c.payload)
			continue
		}
		if assert.NoError(t, err, "payload %q", c.payload) {
			assert.Equal(t, c.level, level, "payload %q", c.payload)
			assert.Equal(t, c.ramp, ramp, "payload %q", c.payload)
		}
	}
}

func TestGroupsHomeAssistantEntities(t *testing.T) {
	module, _, _ := newTestGroupsModule(t)

	configs, err := module.GetHomeAssistantEntities()
	require.NoError(t, err)
	// The ac group has no entity.
	require.Len(t, configs, 5)

	dimmer := configs[0]
	assert.Equal(t, homeassistant.Light, dimmer.Domain)
	assert.Equal(t, "wiser_254_1", dimmer.DeviceId)
	light := dimmer.Config.(*homeassistant.LightConfig)
	assert.Equal(t, "wiser/groups/Living_Light/command", light.CommandTopic)
	assert.Equal(t, "wiser/groups/Living_Light/state", light.StateTopic)
	assert.Equal(t, "brightness", light.OnCommandType)
	assert.Equal(t, 255, light.BrightnessScale)
	assert.Equal(t, "wiser_254_1_light", light.UniqueId)

	switchLight := configs[1].Config.(*homeassistant.LightConfig)
	assert.Equal(t, "255", switchLight.PayloadOn)
	assert.Equal(t, "0", switchLight.PayloadOff)
	assert.Empty(t, switchLight.BrightnessCommandTopic)

	assert.Equal(t, homeassistant.Cover, configs[2].Domain)
	cover := configs[2].Config.(*homeassistant.CoverConfig)
	assert.Equal(t, 255, cover.PositionOpen)
	assert.Equal(t, "wiser/groups/Bedroom_Blind/command", cover.SetPositionTopic)

	assert.Equal(t, homeassistant.Fan, configs[3].Domain)
	fan := configs[3].Config.(*homeassistant.FanConfig)
	assert.Equal(t, 1, fan.SpeedRangeMin)
	assert.Equal(t, 255, fan.SpeedRangeMax)

	assert.Equal(t, "wiser_253_1", configs[4].DeviceId)
}

func TestGroupsStop(t *testing.T) {
	mqttClient := newFakeMqttClient()
	wiserClient := newFakeWiserClient()
	module := NewGroupsModule(mqttClient, wiserClient, newTestRegistry(t, wiserClient), &config.Config{})
	require.NoError(t, module.Start())

	require.NoError(t, module.Stop())
	wiserClient.emitLive(wiser.GroupSetEvent{GroupAddress: 1, Level: 200})
	assert.Empty(t, mqttClient.published())
	assert.Error(t, module.Stop(), "already stopped")
}
