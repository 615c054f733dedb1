package controller

import (
	"fmt"
	"sort"

	"github.com/gaetancollaud/wiser-mqtt/pkg/config"
	"github.com/gaetancollaud/wiser-mqtt/pkg/controller/modules"
	"github.com/gaetancollaud/wiser-mqtt/pkg/health"
	"github.com/gaetancollaud/wiser-mqtt/pkg/homeassistant"
	"github.com/gaetancollaud/wiser-mqtt/pkg/mqtt"
	"github.com/gaetancollaud/wiser-mqtt/pkg/utils"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/rs/zerolog/log"
)

const controllerId = "controller"

type Controller struct {
	wiserClient   wiser.Client
	wiserRegistry wiser.Registry
	mqttClient    mqtt.Client
	hass          *homeassistant.HomeAssistantDiscovery
	health        health.Health

	modules map[string]modules.Module
}

func NewController(config *config.Config) *Controller {
	// Create Wiser client.
	deviceTypes := []wiser.DeviceTypeOverride{}
	for _, deviceType := range config.Wiser.DeviceTypes {
		deviceTypes = append(deviceTypes, wiser.DeviceTypeOverride{
			Name: deviceType.Name,
			Type: deviceType.Type,
		})
	}
	wiserOptions := wiser.NewClientOptions().
		SetHost(config.Wiser.Host).
		SetPort(config.Wiser.Port).
		SetHttpPort(config.Wiser.HttpPort).
		SetScheme(config.Wiser.Scheme).
		SetUsername(config.Wiser.Username).
		SetPassword(config.Wiser.Password).
		SetDeviceTypes(deviceTypes).
		SetRetryDelays(config.Wiser.InitialRetryDelay, config.Wiser.MaxRetryDelay)
	wiserClient := wiser.NewClient(wiserOptions)

	mqttOptions := mqtt.NewClientOptions().
		SetMqttUrl(config.Mqtt.MqttUrl).
		SetUsername(config.Mqtt.Username).
		SetPassword(config.Mqtt.Password).
		SetTopicPrefix(config.Mqtt.TopicPrefix).
		SetRetain(config.Mqtt.Retain)
	mqttClient := mqtt.NewClient(mqttOptions)

	controller := newController(config, wiserClient, mqttClient)
	if config.HealthCheck.Enabled {
		controller.health = health.NewHealth(config.HealthCheck, mqttClient, wiserClient)
	}
	return controller
}

func newController(config *config.Config, wiserClient wiser.Client, mqttClient mqtt.Client) *Controller {
	wiserRegistry := wiser.NewRegistry(wiserClient)
	controller := Controller{
		wiserClient:   wiserClient,
		wiserRegistry: wiserRegistry,
		mqttClient:    mqttClient,
		hass:          homeassistant.NewHomeAssistantDiscovery(mqttClient, &config.HomeAssistant),
		modules:       map[string]modules.Module{},
	}
	for name, builder := range modules.Modules {
		module := builder(mqttClient, wiserClient, wiserRegistry, config)
		controller.modules[name] = module
	}
	return &controller
}

// Start connects to the broker and starts the modules. The connection with the
// hub is made in the background, retrying until it succeeds, so Start does not
// fail when the hub is unreachable.
func (c *Controller) Start() error {
	log.Info().Msg("Starting controller.")
	if err := c.mqttClient.Connect(); err != nil {
		return fmt.Errorf("error connecting to MQTT client: %w", err)
	}
	if err := c.wiserRegistry.Start(); err != nil {
		return fmt.Errorf("error starting Wiser registry: %w", err)
	}

	// Modules subscribe before the connection so the first scan is not missed.
	for _, name := range c.moduleNames() {
		log.Info().Str("module", name).Msg("Starting module.")
		if err := c.modules[name].Start(); err != nil {
			return fmt.Errorf("error starting module '%s': %w", name, err)
		}
	}
	if err := c.wiserRegistry.ProjectSubscribe(controllerId, c.onProject); err != nil {
		return fmt.Errorf("error subscribing to the Wiser project: %w", err)
	}

	if err := c.wiserClient.Connect(); err != nil {
		return fmt.Errorf("error connecting to Wiser client: %w", err)
	}

	if c.health != nil {
		if err := c.health.Start(); err != nil {
			return fmt.Errorf("error starting health check server: %w", err)
		}
	}

	return nil
}

func (c *Controller) Stop() error {
	log.Info().Msg("Stopping controller.")

	if c.health != nil {
		if err := c.health.Stop(); err != nil {
			return fmt.Errorf("error stopping health check server: %w", err)
		}
	}

	if err := c.wiserClient.Disconnect(); err != nil {
		return fmt.Errorf("error disconnecting to Wiser client: %w", err)
	}
	if err := c.wiserRegistry.ProjectUnsubscribe(controllerId); err != nil {
		return fmt.Errorf("error unsubscribing from the Wiser project: %w", err)
	}

	for _, name := range c.moduleNames() {
		log.Info().Str("module", name).Msg("Stopping module.")
		if err := c.modules[name].Stop(); err != nil {
			return fmt.Errorf("error stopping module '%s': %w", name, err)
		}
	}

	if err := c.wiserRegistry.Stop(); err != nil {
		return fmt.Errorf("error stopping Wiser registry: %w", err)
	}
	if err := c.mqttClient.Disconnect(); err != nil {
		return fmt.Errorf("error disconnecting to MQTT client: %w", err)
	}

	return nil
}

// onProject publishes the Home Assistant entities of the new project.
func (c *Controller) onProject(groups []wiser.ProjectGroup) {
	log.Debug().Str("groups", utils.PrettyPrint(groups)).Msg("Wiser groups.")
	if err := c.publishDiscovery(); err != nil {
		log.Error().Err(err).Msg("Error publishing Home Assistant discovery messages.")
	}
}

func (c *Controller) publishDiscovery() error {
	c.hass.Reset()
	for _, name := range c.moduleNames() {
		discovery, ok := c.modules[name].(homeassistant.HomeAssistantDiscoveryInterface)
		if !ok {
			continue
		}
		configs, err := discovery.GetHomeAssistantEntities()
		if err != nil {
			return fmt.Errorf("error getting Home Assistant entities of module '%s': %w", name, err)
		}
		c.hass.AddConfigs(configs)
	}
	return c.hass.PublishDiscoveryMessages()
}

// WiserClient exposes the client to the debug server.
func (c *Controller) WiserClient() wiser.Client {
	return c.wiserClient
}

func (c *Controller) moduleNames() []string {
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
