package modules

import (
	"path"

	"github.com/gaetancollaud/wiser-mqtt/pkg/config"
	"github.com/gaetancollaud/wiser-mqtt/pkg/homeassistant"
	"github.com/gaetancollaud/wiser-mqtt/pkg/mqtt"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	"github.com/rs/zerolog/log"
)

const (
	hub         string = "hub"
	hubStatus   string = "status"
	hubModuleId string = "hub"
)

// HubModule publishes the state of the connection with the hub each time it
// changes.
type HubModule struct {
	mqttClient  mqtt.Client
	wiserClient wiser.Client
	wiserHost   string
}

func (c *HubModule) Start() error {
	if err := c.wiserClient.StateSubscribe(hubModuleId, func(state wiser.State) {
		if err := c.publishState(state); err != nil {
			log.Error().Err(err).Str("state", state.String()).Msg("Error publishing hub state.")
		}
	}); err != nil {
		return err
	}
	return c.publishState(c.wiserClient.State())
}

func (c *HubModule) Stop() error {
	return c.wiserClient.StateUnsubscribe(hubModuleId)
}

func (c *HubModule) publishState(state wiser.State) error {
	return c.mqttClient.PublishAndRetain(hubStatusTopic(), state.String())
}

func hubStatusTopic() string {
	return path.Join(hub, hubStatus)
}

func (c *HubModule) GetHomeAssistantEntities() ([]homeassistant.DiscoveryConfig, error) {
	return []homeassistant.DiscoveryConfig{
		{
			Domain:   homeassistant.Sensor,
			DeviceId: "wiser_hub",
			ObjectId: "status",
			Config: &homeassistant.SensorConfig{
				BaseConfig: homeassistant.BaseConfig{
					Device: homeassistant.Device{
						Identifiers: []string{"wiser_hub", c.wiserHost},
						Model:       "Wiser",
						Name:        "Wiser Hub",
					},
					Name:     "Wiser Hub Status",
					UniqueId: "wiser_hub_status",
				},
				StateTopic: c.mqttClient.GetFullTopic(hubStatusTopic()),
				Icon:       "mdi:lan-connect",
			},
		},
	}, nil
}

func NewHubModule(mqttClient mqtt.Client, wiserClient wiser.Client, registry wiser.Registry, config *config.Config) Module {
	return &HubModule{
		mqttClient:  mqttClient,
		wiserClient: wiserClient,
		wiserHost:   config.Wiser.Host,
	}
}

func init() {
	Register("hub", NewHubModule)
}
