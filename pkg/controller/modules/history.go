package modules

import (
	"strconv"
	"time"

	"github.com/gaetancollaud/wiser-mqtt/pkg/config"
	"github.com/gaetancollaud/wiser-mqtt/pkg/mqtt"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"
)

const (
	historyModuleId    string = "history"
	historyMeasurement string = "group_level"

	historyBatchSize     uint = 100
	historyFlushInterval uint = 10_000 // milliseconds
)

// HistoryModule writes every level received from the hub to InfluxDB. It does
// nothing when no InfluxDB url is configured.
type HistoryModule struct {
	wiserClient wiser.Client
	registry    wiser.Registry
	config      config.ConfigInfluxDb

	influxClient influxdb2.Client
	writeAPI     api.WriteAPI
}

func (c *HistoryModule) enabled() bool {
	return c.config.Url != ""
}

func (c *HistoryModule) Start() error {
	if !c.enabled() {
		log.Info().Msg("No InfluxDB url configured, level history disabled.")
		return nil
	}

	c.influxClient = influxdb2.NewClientWithOptions(
		c.config.Url,
		c.config.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(historyBatchSize).
			SetFlushInterval(historyFlushInterval))
	c.writeAPI = c.influxClient.WriteAPI(c.config.Org, c.config.Bucket)

	go func(errorsCh <-chan error) {
		for err := range errorsCh {
			log.Error().Err(err).Str("url", c.config.Url).Msg("Error writing level history.")
		}
	}(c.writeAPI.Errors())

	if err := c.wiserClient.GroupSetSubscribe(historyModuleId, func(event wiser.GroupSetEvent) {
		c.record(event, time.Now())
	}); err != nil {
		return err
	}
	if err := c.wiserClient.GroupScanSubscribe(historyModuleId, func(event wiser.GroupSetEvent) {
		c.record(event, time.Now())
	}); err != nil {
		return err
	}
	log.Info().Str("url", c.config.Url).Str("bucket", c.config.Bucket).Msg("Writing level history to InfluxDB.")
	return nil
}

func (c *HistoryModule) Stop() error {
	if !c.enabled() {
		return nil
	}
	if err := c.wiserClient.GroupSetUnsubscribe(historyModuleId); err != nil {
		return err
	}
	if err := c.wiserClient.GroupScanUnsubscribe(historyModuleId); err != nil {
		return err
	}
	c.writeAPI.Flush()
	c.influxClient.Close()
	return nil
}

func (c *HistoryModule) record(event wiser.GroupSetEvent, at time.Time) {
	for _, point := range c.points(event, at) {
		c.writeAPI.WritePoint(point)
	}
}

// points returns one point per group of the project matching the event.
func (c *HistoryModule) points(event wiser.GroupSetEvent, at time.Time) []*write.Point {
	points := []*write.Point{}
	for _, group := range c.registry.GetGroupsByGroupAddress(event.GroupAddress) {
		points = append(points, influxdb2.NewPoint(
			historyMeasurement,
			map[string]string{
				"network": strconv.Itoa(group.Address.Network),
				"group":   strconv.Itoa(group.Address.GroupAddress),
				"name":    group.Name,
			},
			map[string]interface{}{
				"level": event.Level,
			},
			at))
	}
	return points
}

func NewHistoryModule(mqttClient mqtt.Client, wiserClient wiser.Client, registry wiser.Registry, config *config.Config) Module {
	return &HistoryModule{
		wiserClient: wiserClient,
		registry:    registry,
		config:      config.InfluxDb,
	}
}

func init() {
	Register("history", NewHistoryModule)
}
