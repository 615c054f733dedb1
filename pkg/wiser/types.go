package wiser

import (
	"fmt"
	"strconv"
)

// AccessoryAddress identifies a group on a given C-Bus network. It is used as
// the key for all the device addressing.
type AccessoryAddress struct {
	Network      int
	GroupAddress int
}

func NewAccessoryAddress(network int, groupAddress int) AccessoryAddress {
	return AccessoryAddress{Network: network, GroupAddress: groupAddress}
}

func (a AccessoryAddress) String() string {
	return strconv.Itoa(a.Network) + ":" + strconv.Itoa(a.GroupAddress)
}

type DeviceType string

const (
	DeviceTypeSwitch          DeviceType = "switch"
	DeviceTypeDimmer          DeviceType = "dimmer"
	DeviceTypeFan             DeviceType = "fan"
	DeviceTypeBlind           DeviceType = "blind"
	DeviceTypeAC              DeviceType = "ac"
	DeviceTypeThreeColorLight DeviceType = "threeColorLight"
)

// Widget type codes found in the project description.
const (
	widgetTypeDimmer = "1"
	widgetTypeBlind  = "10"
	widgetTypeFan    = "25"
)

// ParseDeviceType returns the device type for the given name. Used to resolve
// the operator overrides.
func ParseDeviceType(name string) (DeviceType, error) {
	switch DeviceType(name) {
	case DeviceTypeSwitch, DeviceTypeDimmer, DeviceTypeFan, DeviceTypeBlind, DeviceTypeAC, DeviceTypeThreeColorLight:
		return DeviceType(name), nil
	default:
		return "", fmt.Errorf("%w: unknown device type %s", ErrConfig, name)
	}
}

// deviceTypeFromWidget maps the numeric widget type of the project to a
// device type. There is no code for ac and threeColorLight, those are only
// reachable through an override.
func deviceTypeFromWidget(widgetType string) DeviceType {
	switch widgetType {
	case widgetTypeDimmer:
		return DeviceTypeDimmer
	case widgetTypeBlind:
		return DeviceTypeBlind
	case widgetTypeFan:
		return DeviceTypeFan
	default:
		return DeviceTypeSwitch
	}
}

// DeviceTypeOverride forces the device type of the widget with the given
// label.
type DeviceTypeOverride struct {
	Name string
	Type string
}

// ProjectGroup is one controllable group discovered in the project of the
// hub.
type ProjectGroup struct {
	Name        string
	Address     AccessoryAddress
	DeviceType  DeviceType
	FanSpeeds   []int
	Application int
	Dimmable    bool
	// RampRate is kept as found in the project, empty when absent.
	RampRate string
}

// GroupSetEvent reports the level of a group address, either pushed by the
// hub or read from the level scan done after each connection.
type GroupSetEvent struct {
	GroupAddress int
	Level        int
}

type GroupSetCallback func(event GroupSetEvent)

type StateCallback func(state State)

type ProjectCallback func(groups []ProjectGroup)

// State of the connection with the hub.
type State uint32

const (
	StateIdle State = iota
	StateFetchingAuth
	StateFetchingProject
	StateConnectingSocket
	StateAuthenticating
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingAuth:
		return "fetching_auth"
	case StateFetchingProject:
		return "fetching_project"
	case StateConnectingSocket:
		return "connecting_socket"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Tag is a self-closing element read from the control socket.
type Tag struct {
	Name       string
	Attributes map[string]string
}
