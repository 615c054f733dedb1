package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type ConfigWiser struct {
	Host              string
	Port              int
	HttpPort          int
	Scheme            string
	Username          string
	Password          string
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	DeviceTypes       []ConfigDeviceType
}

// ConfigDeviceType forces the device type of the group with the given name.
type ConfigDeviceType struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

type ConfigMqtt struct {
	MqttUrl             string
	Username            string
	Password            string
	TopicPrefix         string
	NormalizeDeviceName bool
	Retain              bool
}
type ConfigHomeAssistant struct {
	DiscoveryEnabled     bool
	DiscoveryTopicPrefix string
	RemoveRegexpFromName string
	WiserHost            string
	Retain               bool
}
type HealthCheckConfig struct {
	Enabled bool
	Port    int
}
type ConfigInfluxDb struct {
	Url    string
	Token  string
	Org    string
	Bucket string
}
type Config struct {
	Wiser         ConfigWiser
	Mqtt          ConfigMqtt
	HomeAssistant ConfigHomeAssistant
	HealthCheck   HealthCheckConfig
	InfluxDb      ConfigInfluxDb
	DebugAddress  string
	LogLevel      string
}

const (
	undefined                               string = "__undefined__"
	configName                              string = "config"
	envKeyWiserHost                         string = "wiser_host"
	envKeyWiserPort                         string = "wiser_port"
	envKeyWiserHttpPort                     string = "wiser_http_port"
	envKeyWiserScheme                       string = "wiser_scheme"
	envKeyWiserUsername                     string = "wiser_username"
	envKeyWiserPassword                     string = "wiser_password"
	envKeyWiserInitialRetryDelay            string = "wiser_initial_retry_delay"
	envKeyWiserMaxRetryDelay                string = "wiser_max_retry_delay"
	envKeyDeviceTypes                       string = "device_types"
	envKeyMqttUrl                           string = "mqtt_url"
	envKeyMqttUsername                      string = "mqtt_username"
	envKeyMqttPassword                      string = "mqtt_password"
	envKeyMqttTopicPrefix                   string = "mqtt_topic_prefix"
	envKeyMqttNormalizeTopicName            string = "mqtt_normalize_device_name"
	envKeyMqttRetain                        string = "mqtt_retain"
	envKeyLogLevel                          string = "log_level"
	envKeyHomeAssistantDiscoveryEnabled     string = "home_assistant_discovery_enabled"
	envKeyHomeAssistantDiscoveryPrefix      string = "home_assistant_discovery_prefix"
	envKeyHomeAssistantRemoveRegexpFromName string = "home_assistant_remove_regexp_from_name"
	envKeyHealthCheckEnabled                string = "health_check_enabled"
	envKeyHealthCheckPort                   string = "health_check_port"
	envKeyDebugAddress                      string = "debug_address"
	envKeyInfluxDbUrl                       string = "influxdb_url"
	envKeyInfluxDbToken                     string = "influxdb_token"
	envKeyInfluxDbOrg                       string = "influxdb_org"
	envKeyInfluxDbBucket                    string = "influxdb_bucket"
)

var defaultConfig = map[string]interface{}{
	envKeyWiserHost:                         undefined,
	envKeyWiserPort:                         8888,
	envKeyWiserHttpPort:                     80,
	envKeyWiserScheme:                       "http",
	envKeyWiserUsername:                     undefined,
	envKeyWiserPassword:                     undefined,
	envKeyWiserInitialRetryDelay:            "5s",
	envKeyWiserMaxRetryDelay:                "5m",
	envKeyDeviceTypes:                       []interface{}{},
	envKeyMqttUrl:                           undefined,
	envKeyMqttUsername:                      "",
	envKeyMqttPassword:                      "",
	envKeyMqttTopicPrefix:                   "wiser",
	envKeyMqttNormalizeTopicName:            true,
	envKeyMqttRetain:                        false,
	envKeyLogLevel:                          "INFO",
	envKeyHomeAssistantDiscoveryEnabled:     false,
	envKeyHomeAssistantDiscoveryPrefix:      "homeassistant",
	envKeyHomeAssistantRemoveRegexpFromName: "",
	envKeyHealthCheckEnabled:                true,
	envKeyHealthCheckPort:                   8080,
	envKeyDebugAddress:                      ":6060",
	envKeyInfluxDbUrl:                       "",
	envKeyInfluxDbToken:                     "",
	envKeyInfluxDbOrg:                       "",
	envKeyInfluxDbBucket:                    "wiser",
}

// ReadConfig returns a Config built from the optional config.yaml file of the
// current directory and the env variables.
func ReadConfig() (*Config, error) {
	return readConfig(".")
}

func readConfig(configPaths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	for _, configPath := range configPaths {
		v.AddConfigPath(configPath)
	}
	v.AutomaticEnv()
	for key, value := range defaultConfig {
		if value != undefined {
			v.SetDefault(key, value)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ReadInConfig error: %w", err)
		}
	}

	// Check for undefined fields.
	for fieldName, defaultValue := range defaultConfig {
		if defaultValue == undefined && !v.IsSet(fieldName) {
			return nil, fmt.Errorf("required field not found in config: %s", fieldName)
		}
	}

	deviceTypes, err := decodeDeviceTypes(v.Get(envKeyDeviceTypes))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Wiser: ConfigWiser{
			Host:              v.GetString(envKeyWiserHost),
			Port:              v.GetInt(envKeyWiserPort),
			HttpPort:          v.GetInt(envKeyWiserHttpPort),
			Scheme:            v.GetString(envKeyWiserScheme),
			Username:          v.GetString(envKeyWiserUsername),
			Password:          v.GetString(envKeyWiserPassword),
			InitialRetryDelay: v.GetDuration(envKeyWiserInitialRetryDelay),
			MaxRetryDelay:     v.GetDuration(envKeyWiserMaxRetryDelay),
			DeviceTypes:       deviceTypes,
		},
		Mqtt: ConfigMqtt{
			MqttUrl:             v.GetString(envKeyMqttUrl),
			Username:            v.GetString(envKeyMqttUsername),
			Password:            v.GetString(envKeyMqttPassword),
			TopicPrefix:         v.GetString(envKeyMqttTopicPrefix),
			NormalizeDeviceName: v.GetBool(envKeyMqttNormalizeTopicName),
			Retain:              v.GetBool(envKeyMqttRetain),
		},
		HomeAssistant: ConfigHomeAssistant{
			DiscoveryEnabled:     v.GetBool(envKeyHomeAssistantDiscoveryEnabled),
			DiscoveryTopicPrefix: v.GetString(envKeyHomeAssistantDiscoveryPrefix),
			RemoveRegexpFromName: v.GetString(envKeyHomeAssistantRemoveRegexpFromName),
			WiserHost:            v.GetString(envKeyWiserHost),
			Retain:               v.GetBool(envKeyMqttRetain),
		},
		HealthCheck: HealthCheckConfig{
			Enabled: v.GetBool(envKeyHealthCheckEnabled),
			Port:    v.GetInt(envKeyHealthCheckPort),
		},
		InfluxDb: ConfigInfluxDb{
			Url:    v.GetString(envKeyInfluxDbUrl),
			Token:  v.GetString(envKeyInfluxDbToken),
			Org:    v.GetString(envKeyInfluxDbOrg),
			Bucket: v.GetString(envKeyInfluxDbBucket),
		},
		DebugAddress: v.GetString(envKeyDebugAddress),
		LogLevel:     v.GetString(envKeyLogLevel),
	}

	return config, nil
}

// decodeDeviceTypes accepts the list of {name, type} maps of the config file,
// or the "name=type;name=type" form used in env variables.
func decodeDeviceTypes(raw interface{}) ([]ConfigDeviceType, error) {
	deviceTypes := []ConfigDeviceType{}
	if s, ok := raw.(string); ok {
		for _, entry := range strings.Split(s, ";") {
			if strings.TrimSpace(entry) == "" {
				continue
			}
			name, deviceType, found := strings.Cut(entry, "=")
			if !found {
				return nil, fmt.Errorf("invalid %s entry '%s', expected name=type", envKeyDeviceTypes, entry)
			}
			deviceTypes = append(deviceTypes, ConfigDeviceType{
				Name: strings.TrimSpace(name),
				Type: strings.TrimSpace(deviceType),
			})
		}
		return deviceTypes, nil
	}
	if err := mapstructure.Decode(raw, &deviceTypes); err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", envKeyDeviceTypes, err)
	}
	return deviceTypes, nil
}

func (c *Config) String() string {
	return fmt.Sprintf("wiser=%s:%d mqtt=%s prefix=%s\n", c.Wiser.Host, c.Wiser.Port, c.Mqtt.MqttUrl, c.Mqtt.TopicPrefix)
}
