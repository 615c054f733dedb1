package wiser

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Parameters of a widget read from its first params block.
const (
	paramApplication  = "app"
	paramGroupAddress = "ga"
	paramLabel        = "label"
	paramNetwork      = "network"
	paramRampRate     = "ramprate"
	paramSpeeds       = "speeds"
	speedsSeparator   = "|"
)

var defaultFanSpeeds = []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

type projectDocument struct {
	XMLName xml.Name        `xml:"Project"`
	Widgets []projectWidget `xml:"Widgets>widget"`
}

type projectWidget struct {
	Type   string         `xml:"type,attr"`
	Params []widgetParams `xml:"params"`
}

type widgetParams struct {
	Attributes []xml.Attr `xml:",any,attr"`
}

func (p widgetParams) toMap() map[string]string {
	params := make(map[string]string, len(p.Attributes))
	for _, attribute := range p.Attributes {
		params[attribute.Name.Local] = attribute.Value
	}
	return params
}

// FetchProject retrieves the project of the hub and decodes it into the list
// of groups. See DecodeProject for the groups returned along an ErrConfig.
func FetchProject(ctx context.Context, httpClient *http.Client, options *ClientOptions) ([]ProjectGroup, error) {
	body, err := doRequest(ctx, httpClient, options, projectPath)
	if err != nil {
		return nil, fmt.Errorf("error fetching project: %w", err)
	}
	return DecodeProject(body, options.DeviceTypes)
}

// DecodeProject decodes the project description into the list of groups, in
// the order the widgets appear in the document. Widgets without application,
// group address, label or network are skipped.
//
// An override with an unknown type is ignored, the widget keeps the type of
// the project. The groups are still returned, together with an error wrapping
// ErrConfig for every invalid override.
func DecodeProject(body []byte, overrides []DeviceTypeOverride) ([]ProjectGroup, error) {
	var document projectDocument
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&document); err != nil {
		return nil, fmt.Errorf("%w: error decoding project: %w", ErrParse, err)
	}

	groups := []ProjectGroup{}
	var overrideErrors []error
	for _, widget := range document.Widgets {
		if len(widget.Params) == 0 {
			continue
		}
		group, ok, err := decodeWidget(widget, overrides)
		if err != nil {
			log.Error().Err(err).Str("name", group.Name).Msg("Ignoring device type override")
			overrideErrors = append(overrideErrors, err)
		}
		if !ok {
			continue
		}
		log.Debug().
			Str("address", group.Address.String()).
			Str("name", group.Name).
			Str("type", string(group.DeviceType)).
			Msg("New group")
		groups = append(groups, group)
	}
	return groups, errors.Join(overrideErrors...)
}

func decodeWidget(widget projectWidget, overrides []DeviceTypeOverride) (ProjectGroup, bool, error) {
	params := widget.Params[0].toMap()

	app, hasApp := params[paramApplication]
	ga, hasGa := params[paramGroupAddress]
	name, hasName := params[paramLabel]
	network, hasNetwork := params[paramNetwork]
	if !hasApp || !hasGa || !hasName || !hasNetwork {
		return ProjectGroup{}, false, nil
	}

	application, err := strconv.ParseInt(strings.TrimSpace(app), 0, 32)
	if err != nil {
		log.Debug().Str("name", name).Str("app", app).Msg("Skipping widget with invalid application")
		return ProjectGroup{}, false, nil
	}
	groupAddress, err := strconv.Atoi(strings.TrimSpace(ga))
	if err != nil {
		log.Debug().Str("name", name).Str("ga", ga).Msg("Skipping widget with invalid group address")
		return ProjectGroup{}, false, nil
	}
	networkId, err := strconv.Atoi(strings.TrimSpace(network))
	if err != nil {
		log.Debug().Str("name", name).Str("network", network).Msg("Skipping widget with invalid network")
		return ProjectGroup{}, false, nil
	}

	// An invalid override still leaves a usable group.
	deviceType, overrideErr := resolveDeviceType(name, widget.Type, overrides)
	if overrideErr != nil {
		deviceType = deviceTypeFromWidget(widget.Type)
	}

	fanSpeeds := []int{}
	if deviceType == DeviceTypeFan {
		fanSpeeds = parseFanSpeeds(params)
	}

	return ProjectGroup{
		Name:        name,
		Address:     NewAccessoryAddress(networkId, groupAddress),
		DeviceType:  deviceType,
		FanSpeeds:   fanSpeeds,
		Application: int(application),
		Dimmable:    widget.Type == widgetTypeDimmer,
		RampRate:    params[paramRampRate],
	}, true, overrideErr
}

// resolveDeviceType looks for an override matching the label first, then
// falls back to the widget type.
func resolveDeviceType(name string, widgetType string, overrides []DeviceTypeOverride) (DeviceType, error) {
	for _, override := range overrides {
		if override.Name != name {
			continue
		}
		deviceType, err := ParseDeviceType(override.Type)
		if err != nil {
			return "", fmt.Errorf("invalid override for '%s': %w", name, err)
		}
		log.Warn().
			Str("name", name).
			Str("type", string(deviceType)).
			Msg("Device type overridden")
		return deviceType, nil
	}
	return deviceTypeFromWidget(widgetType), nil
}

// parseFanSpeeds reads the pipe separated speeds, dropping whatever is not a
// number. The result is sorted numerically.
func parseFanSpeeds(params map[string]string) []int {
	value, ok := params[paramSpeeds]
	if !ok {
		speeds := make([]int, len(defaultFanSpeeds))
		copy(speeds, defaultFanSpeeds)
		return speeds
	}

	speeds := []int{}
	for _, token := range strings.Split(value, speedsSeparator) {
		speed, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil {
			continue
		}
		speeds = append(speeds, speed)
	}
	sort.Ints(speeds)
	return speeds
}
