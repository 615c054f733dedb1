package wiser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tags and attributes understood by the router.
const (
	tagEvent          = "cbus_event"
	tagResponse       = "cbus_resp"
	commandSetLevel   = "cbusSetLevel"
	commandGetLevel   = "cbusGetLevel"
	attributeName     = "name"
	attributeCommand  = "command"
	attributeGroup    = "group"
	attributeLevel    = "level"
	levelListSplitter = ","
)

type EventKind string

const (
	// EventKindLive is a level change pushed by the hub.
	EventKindLive EventKind = "live"
	// EventKindScan is a level read from the scan response.
	EventKindScan EventKind = "scan"
)

// router turns tags into GroupSetEvents and hands them to the subscribers.
// Callbacks are called synchronously, in the order the tags were received.
type router struct {
	mutex         sync.RWMutex
	liveCallbacks map[string]GroupSetCallback
	scanCallbacks map[string]GroupSetCallback
}

func newRouter() *router {
	return &router{
		liveCallbacks: map[string]GroupSetCallback{},
		scanCallbacks: map[string]GroupSetCallback{},
	}
}

func (r *router) subscribe(kind EventKind, id string, callback GroupSetCallback) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	callbacks := r.callbacks(kind)
	if _, exists := callbacks[id]; exists {
		return errors.New("Group set callback with id " + id + " already exists")
	}
	callbacks[id] = callback
	return nil
}

func (r *router) unsubscribe(kind EventKind, id string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	callbacks := r.callbacks(kind)
	if _, exists := callbacks[id]; !exists {
		return errors.New("Group set callback with id " + id + " does not exist")
	}
	delete(callbacks, id)
	return nil
}

func (r *router) callbacks(kind EventKind) map[string]GroupSetCallback {
	if kind == EventKindScan {
		return r.scanCallbacks
	}
	return r.liveCallbacks
}

// OnTag dispatches a tag received on the control connection.
func (r *router) OnTag(tag Tag) {
	log.Trace().Str("tag", tag.Name).Interface("attributes", tag.Attributes).Msg("Tag received")
	tagsReceived.WithLabelValues(tag.Name).Inc()

	var err error
	switch {
	case tag.Name == tagEvent && tag.Attributes[attributeName] == commandSetLevel:
		err = r.onSetLevel(tag)
	case tag.Name == tagResponse && tag.Attributes[attributeCommand] == commandGetLevel:
		err = r.onGetLevel(tag)
	default:
		log.Debug().Str("tag", tag.Name).Msg("Ignoring unknown tag")
	}
	if err != nil {
		log.Warn().Err(err).Str("tag", tag.Name).Interface("attributes", tag.Attributes).Msg("Dropping tag")
	}
}

func (r *router) onSetLevel(tag Tag) error {
	group, err := intAttribute(tag, attributeGroup)
	if err != nil {
		return err
	}
	level, err := intAttribute(tag, attributeLevel)
	if err != nil {
		return err
	}
	log.Debug().Int("group", group).Int("level", level).Msg("Group level set")
	r.emit(EventKindLive, GroupSetEvent{GroupAddress: group, Level: level})
	return nil
}

// onGetLevel handles the scan response. Its level attribute lists the levels
// of the groups 0..N-1 in order, with a trailing separator.
func (r *router) onGetLevel(tag Tag) error {
	levelList, ok := tag.Attributes[attributeLevel]
	if !ok {
		return fmt.Errorf("%w: missing attribute %s", ErrProtocol, attributeLevel)
	}
	levels := strings.Split(levelList, levelListSplitter)
	if len(levels) > 0 && levels[len(levels)-1] == "" {
		levels = levels[:len(levels)-1]
	}
	for group, value := range levels {
		level, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			log.Warn().Int("group", group).Str("value", value).Msg("Skipping invalid level in scan response")
			continue
		}
		log.Trace().Int("group", group).Int("level", level).Msg("Group level scanned")
		r.emit(EventKindScan, GroupSetEvent{GroupAddress: group, Level: level})
	}
	return nil
}

func (r *router) emit(kind EventKind, event GroupSetEvent) {
	groupEvents.WithLabelValues(string(kind)).Inc()

	r.mutex.RLock()
	callbacks := make([]GroupSetCallback, 0, len(r.callbacks(kind)))
	for _, callback := range r.callbacks(kind) {
		callbacks = append(callbacks, callback)
	}
	r.mutex.RUnlock()

	for _, callback := range callbacks {
		callback(event)
	}
}

func intAttribute(tag Tag, name string) (int, error) {
	value, ok := tag.Attributes[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing attribute %s", ErrProtocol, name)
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: attribute %s is not a number: %w", ErrProtocol, name, err)
	}
	return i, nil
}
