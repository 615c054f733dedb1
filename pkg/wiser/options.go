package wiser

import (
	"time"
)

// ClientOptions contains configurable options for a Wiser Client.
type ClientOptions struct {
	Host              string
	Port              int
	HttpPort          int
	Scheme            string
	Username          string
	Password          string
	DeviceTypes       []DeviceTypeOverride
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
}

// NewClientOptions will create a new ClientOptions type with some default
// values.
//
//	Host: wiser.local
//	Port: 8888
//	HttpPort: 80
//	Scheme: http
//	InitialRetryDelay: 5 seconds
//	MaxRetryDelay: 5 minutes
//	ConnectTimeout: 10 seconds
//	WriteTimeout: 5 seconds
func NewClientOptions() *ClientOptions {
	return &ClientOptions{
		Host:              "wiser.local",
		Port:              8888,
		HttpPort:          80,
		Scheme:            "http",
		Username:          "",
		Password:          "",
		DeviceTypes:       []DeviceTypeOverride{},
		InitialRetryDelay: 5 * time.Second,
		MaxRetryDelay:     5 * time.Minute,
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// SetHost will set the address of the Wiser hub.
func (o *ClientOptions) SetHost(host string) *ClientOptions {
	o.Host = host
	return o
}

// SetPort will set the TCP port of the control connection.
func (o *ClientOptions) SetPort(port int) *ClientOptions {
	o.Port = port
	return o
}

// SetHttpPort will set the port used to fetch the auth key and the project.
func (o *ClientOptions) SetHttpPort(port int) *ClientOptions {
	o.HttpPort = port
	return o
}

func (o *ClientOptions) SetScheme(scheme string) *ClientOptions {
	o.Scheme = scheme
	return o
}

// SetUsername will set the username used for the HTTP requests to the hub.
func (o *ClientOptions) SetUsername(u string) *ClientOptions {
	o.Username = u
	return o
}

// SetPassword will set the password used for the HTTP requests to the hub.
func (o *ClientOptions) SetPassword(p string) *ClientOptions {
	o.Password = p
	return o
}

// SetDeviceTypes will set the device type overrides applied when decoding the
// project.
func (o *ClientOptions) SetDeviceTypes(deviceTypes []DeviceTypeOverride) *ClientOptions {
	o.DeviceTypes = deviceTypes
	return o
}

// SetRetryDelays will set the first delay before reconnecting and the maximum
// it can grow to. A max of zero means no limit.
func (o *ClientOptions) SetRetryDelays(initial time.Duration, max time.Duration) *ClientOptions {
	o.InitialRetryDelay = initial
	o.MaxRetryDelay = max
	return o
}
