package modules

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	mqtt_base "github.com/eclipse/paho.mqtt.golang"
	"github.com/gaetancollaud/wiser-mqtt/pkg/config"
	"github.com/gaetancollaud/wiser-mqtt/pkg/homeassistant"
	"github.com/gaetancollaud/wiser-mqtt/pkg/mqtt"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/rs/zerolog/log"
)

const (
	groups         string = "groups"
	groupsModuleId string = "groups"

	minLevel int = 0
	maxLevel int = 255

	levelOn  string = "255"
	levelOff string = "0"

	// Any level above zero is on.
	onOffTemplate string = "{% if value | int > 0 %}" + levelOn + "{% else %}" + levelOff + "{% endif %}"

	// Room for two full scans.
	levelQueueSize int = 512
)

type groupLevel struct {
	group wiser.ProjectGroup
	level int
}

// GroupsModule bridges the groups of the project with MQTT. Every level
// received from the hub, live or scanned, is published on the state topic of
// the group. Levels published on the command topic of a group are sent to the
// hub.
//
// Levels are published from a separate goroutine so a slow broker never holds
// the connection with the hub.
type GroupsModule struct {
	mqttClient  mqtt.Client
	wiserClient wiser.Client
	registry    wiser.Registry

	normalizeDeviceName bool

	levels chan groupLevel
	stop   chan struct{}
	done   chan struct{}

	// Groups whose command topic is subscribed, by name.
	commandTopics      map[string]struct{}
	commandTopicsMutex sync.Mutex
}

func (c *GroupsModule) Start() error {
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.publishLevels()

	if err := c.wiserClient.GroupSetSubscribe(groupsModuleId, func(event wiser.GroupSetEvent) {
		c.onGroupSet(event)
	}); err != nil {
		return err
	}
	if err := c.wiserClient.GroupScanSubscribe(groupsModuleId, func(event wiser.GroupSetEvent) {
		c.onGroupSet(event)
	}); err != nil {
		return err
	}
	if err := c.registry.ProjectSubscribe(groupsModuleId, c.onProject); err != nil {
		return err
	}

	// The project can already be loaded.
	c.onProject(c.registry.GetGroups())
	return nil
}

func (c *GroupsModule) Stop() error {
	if err := c.wiserClient.GroupSetUnsubscribe(groupsModuleId); err != nil {
		return err
	}
	if err := c.wiserClient.GroupScanUnsubscribe(groupsModuleId); err != nil {
		return err
	}
	if err := c.registry.ProjectUnsubscribe(groupsModuleId); err != nil {
		return err
	}
	close(c.stop)
	<-c.done
	return nil
}

// onProject subscribes to the command topic of the groups not seen yet.
func (c *GroupsModule) onProject(projectGroups []wiser.ProjectGroup) {
	c.commandTopicsMutex.Lock()
	defer c.commandTopicsMutex.Unlock()

	for _, group := range projectGroups {
		if _, ok := c.commandTopics[group.Name]; ok {
			continue
		}
		if err := c.subscribeCommands(group.Name); err != nil {
			log.Error().Err(err).Str("group", group.Name).Msg("Error subscribing to group commands.")
			continue
		}
		c.commandTopics[group.Name] = struct{}{}
	}
}

func (c *GroupsModule) subscribeCommands(name string) error {
	topic := c.groupCommandTopic(name)
	log.Trace().
		Str("topic", topic).
		Str("group", name).
		Msg("Subscribing for topic.")
	err := c.mqttClient.Subscribe(topic, func(client mqtt_base.Client, message mqtt_base.Message) {
		payload := string(message.Payload())
		log.Trace().
			Str("topic", topic).
			Str("group", name).
			Str("payload", payload).
			Msg("Message Received.")
		// The group is looked up each time, the project can change on reconnection.
		group, err := c.registry.GetGroupByName(name)
		if err != nil {
			log.Warn().Str("topic", topic).Err(err).Msg("Ignoring command for a group removed from the project.")
			return
		}
		if err := c.onMqttMessage(group, payload); err != nil {
			log.Error().
				Str("topic", topic).
				Err(err).
				Msg("Error handling MQTT Message.")
		}
	})
	if err != nil {
		return fmt.Errorf("error subscribing to '%s': %w", topic, err)
	}
	return nil
}

// onGroupSet queues the level of every group matching the event. Levels are
// dropped when the queue is full.
func (c *GroupsModule) onGroupSet(event wiser.GroupSetEvent) {
	matching := c.registry.GetGroupsByGroupAddress(event.GroupAddress)
	if len(matching) == 0 {
		log.Trace().Int("group", event.GroupAddress).Msg("No group in the project for level.")
		return
	}
	for _, group := range matching {
		select {
		case c.levels <- groupLevel{group: group, level: event.Level}:
		default:
			log.Warn().Str("group", group.Name).Int("level", event.Level).Msg("Level queue full, dropping level.")
		}
	}
}

func (c *GroupsModule) publishLevels() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case l := <-c.levels:
			if err := c.publishGroupLevel(l.group, l.level); err != nil {
				log.Error().Err(err).Str("group", l.group.Name).Msg("Error publishing group level.")
			}
		}
	}
}

func (c *GroupsModule) onMqttMessage(group wiser.ProjectGroup, payload string) error {
	level, ramp, err := parseLevelCommand(payload)
	if err != nil {
		return err
	}
	log.Info().
		Str("group", group.Name).
		Str("address", group.Address.String()).
		Int("level", level).
		Int("ramp", ramp).
		Msg("Setting level.")
	return c.wiserClient.SetGroupLevel(group.Address, level, ramp)
}

// parseLevelCommand parses "<level>" or "<level>,<ramp>".
func parseLevelCommand(payload string) (level int, ramp int, err error) {
	levelPart, rampPart, hasRamp := strings.Cut(strings.TrimSpace(payload), ",")
	level, err = strconv.Atoi(strings.TrimSpace(levelPart))
	if err != nil {
		return 0, 0, fmt.Errorf("error parsing level '%s': %w", payload, err)
	}
	if level < minLevel || level > maxLevel {
		return 0, 0, fmt.Errorf("level %d out of range [%d, %d]", level, minLevel, maxLevel)
	}
	if hasRamp {
		ramp, err = strconv.Atoi(strings.TrimSpace(rampPart))
		if err != nil {
			return 0, 0, fmt.Errorf("error parsing ramp '%s': %w", payload, err)
		}
		if ramp < 0 {
			return 0, 0, fmt.Errorf("negative ramp %d", ramp)
		}
	}
	return level, ramp, nil
}

func (c *GroupsModule) publishGroupLevel(group wiser.ProjectGroup, level int) error {
	return c.mqttClient.Publish(c.groupStateTopic(group.Name), strconv.Itoa(level))
}

func (c *GroupsModule) groupStateTopic(groupName string) string {
	if c.normalizeDeviceName {
		groupName = mqtt.NormalizeForTopicName(groupName)
	}
	return path.Join(groups, groupName, mqtt.State)
}

func (c *GroupsModule) groupCommandTopic(groupName string) string {
	if c.normalizeDeviceName {
		groupName = mqtt.NormalizeForTopicName(groupName)
	}
	return path.Join(groups, groupName, mqtt.Command)
}

func (c *GroupsModule) GetHomeAssistantEntities() ([]homeassistant.DiscoveryConfig, error) {
	configs := []homeassistant.DiscoveryConfig{}

	for _, group := range c.registry.GetGroups() {
		deviceId := fmt.Sprintf("wiser_%d_%d", group.Address.Network, group.Address.GroupAddress)
		commandTopic := c.mqttClient.GetFullTopic(c.groupCommandTopic(group.Name))
		stateTopic := c.mqttClient.GetFullTopic(c.groupStateTopic(group.Name))
		baseConfig := func(suffix string) homeassistant.BaseConfig {
			return homeassistant.BaseConfig{
				Device: homeassistant.Device{
					Identifiers: []string{deviceId},
					Model:       string(group.DeviceType),
					Name:        group.Name,
				},
				Name:     group.Name,
				UniqueId: deviceId + "_" + suffix,
			}
		}

		switch group.DeviceType {
		case wiser.DeviceTypeSwitch, wiser.DeviceTypeDimmer:
			entityConfig := &homeassistant.LightConfig{
				BaseConfig:         baseConfig("light"),
				CommandTopic:       commandTopic,
				StateTopic:         stateTopic,
				StateValueTemplate: onOffTemplate,
				PayloadOn:          levelOn,
				PayloadOff:         levelOff,
			}
			if group.DeviceType == wiser.DeviceTypeDimmer {
				entityConfig.OnCommandType = "brightness"
				entityConfig.BrightnessScale = maxLevel
				entityConfig.BrightnessStateTopic = stateTopic
				entityConfig.BrightnessCommandTopic = commandTopic
			}
			configs = append(configs, homeassistant.DiscoveryConfig{
				Domain:   homeassistant.Light,
				DeviceId: deviceId,
				ObjectId: "light",
				Config:   entityConfig,
			})
		case wiser.DeviceTypeBlind:
			entityConfig := &homeassistant.CoverConfig{
				BaseConfig:       baseConfig("cover"),
				CommandTopic:     commandTopic,
				PayloadOpen:      levelOn,
				PayloadClose:     levelOff,
				PositionTopic:    stateTopic,
				SetPositionTopic: commandTopic,
				PositionOpen:     maxLevel,
				PositionClosed:   minLevel,
				PositionTemplate: "{{ value | int }}",
			}
			configs = append(configs, homeassistant.DiscoveryConfig{
				Domain:   homeassistant.Cover,
				DeviceId: deviceId,
				ObjectId: "blind",
				Config:   entityConfig,
			})
		case wiser.DeviceTypeFan:
			entityConfig := &homeassistant.FanConfig{
				BaseConfig:              baseConfig("fan"),
				CommandTopic:            commandTopic,
				StateTopic:              stateTopic,
				StateValueTemplate:      onOffTemplate,
				PayloadOn:               levelOn,
				PayloadOff:              levelOff,
				PercentageCommandTopic:  commandTopic,
				PercentageStateTopic:    stateTopic,
				SpeedRangeMin:           1,
				SpeedRangeMax:           maxLevel,
				PercentageValueTemplate: "{{ value | int }}",
			}
			configs = append(configs, homeassistant.DiscoveryConfig{
				Domain:   homeassistant.Fan,
				DeviceId: deviceId,
				ObjectId: "fan",
				Config:   entityConfig,
			})
		default:
			log.Debug().
				Str("group", group.Name).
				Str("deviceType", string(group.DeviceType)).
				Msg("No Home Assistant entity for device type.")
		}
	}
	return configs, nil
}

func NewGroupsModule(mqttClient mqtt.Client, wiserClient wiser.Client, registry wiser.Registry, config *config.Config) Module {
	return &GroupsModule{
		mqttClient:          mqttClient,
		wiserClient:         wiserClient,
		registry:            registry,
		normalizeDeviceName: config.Mqtt.NormalizeDeviceName,
		levels:              make(chan groupLevel, levelQueueSize),
		commandTopics:       map[string]struct{}{},
	}
}

func init() {
	Register("groups", NewGroupsModule)
}
