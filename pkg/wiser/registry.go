package wiser

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

const registryId = "registry"

// Registry keeps the catalog of groups found in the project of the hub. The
// catalog is replaced each time the client fetches the project, which happens
// before every connection.
type Registry interface {
	Start() error

	Stop() error

	// GetGroups returns the groups in the order of the project.
	GetGroups() []ProjectGroup

	// GetGroupsByGroupAddress returns the groups with the given group address
	// on any network. Events from the hub only carry the group address.
	GetGroupsByGroupAddress(groupAddress int) []ProjectGroup

	GetGroupByName(name string) (ProjectGroup, error)

	// ProjectSubscribe registers a callback called with the new catalog once
	// the lookups are updated.
	ProjectSubscribe(id string, callback ProjectCallback) error
	ProjectUnsubscribe(id string) error
}

type registry struct {
	wiserClient Client

	groups []ProjectGroup

	groupAddressLookup map[int][]ProjectGroup
	nameLookup         map[string]ProjectGroup

	registryLoading sync.RWMutex

	callbacks     map[string]ProjectCallback
	callbackMutex sync.Mutex
}

func NewRegistry(wiserClient Client) Registry {
	return &registry{
		wiserClient:        wiserClient,
		groups:             []ProjectGroup{},
		groupAddressLookup: map[int][]ProjectGroup{},
		nameLookup:         map[string]ProjectGroup{},
		callbacks:          map[string]ProjectCallback{},
	}
}

func (r *registry) Start() error {
	return r.wiserClient.ProjectSubscribe(registryId, r.updateProject)
}

func (r *registry) Stop() error {
	return r.wiserClient.ProjectUnsubscribe(registryId)
}

func (r *registry) GetGroups() []ProjectGroup {
	r.registryLoading.RLock()
	defer r.registryLoading.RUnlock()
	return r.groups
}

func (r *registry) GetGroupsByGroupAddress(groupAddress int) []ProjectGroup {
	r.registryLoading.RLock()
	defer r.registryLoading.RUnlock()
	return r.groupAddressLookup[groupAddress]
}

func (r *registry) GetGroupByName(name string) (ProjectGroup, error) {
	r.registryLoading.RLock()
	defer r.registryLoading.RUnlock()

	group, ok := r.nameLookup[name]
	if ok {
		return group, nil
	}
	return ProjectGroup{}, errors.New("No group found with name " + name)
}

func (r *registry) ProjectSubscribe(id string, callback ProjectCallback) error {
	r.callbackMutex.Lock()
	defer r.callbackMutex.Unlock()

	if _, exists := r.callbacks[id]; exists {
		return errors.New("Project callback with id " + id + " already exists")
	}
	r.callbacks[id] = callback
	return nil
}

func (r *registry) ProjectUnsubscribe(id string) error {
	r.callbackMutex.Lock()
	defer r.callbackMutex.Unlock()

	if _, exists := r.callbacks[id]; !exists {
		return errors.New("Project callback with id " + id + " does not exist")
	}
	delete(r.callbacks, id)
	return nil
}

func (r *registry) updateProject(groups []ProjectGroup) {
	r.registryLoading.Lock()
	r.groups = groups
	r.groupAddressLookup = make(map[int][]ProjectGroup)
	r.nameLookup = make(map[string]ProjectGroup)

	// Create lookup tables for fast access.
	for _, group := range groups {
		r.groupAddressLookup[group.Address.GroupAddress] = append(r.groupAddressLookup[group.Address.GroupAddress], group)
		r.nameLookup[group.Name] = group
	}
	r.registryLoading.Unlock()
	log.Info().Int("groups", len(groups)).Msg("Wiser project loaded.")

	r.callbackMutex.Lock()
	callbacks := make([]ProjectCallback, 0, len(r.callbacks))
	for _, callback := range r.callbacks {
		callbacks = append(callbacks, callback)
	}
	r.callbackMutex.Unlock()

	for _, callback := range callbacks {
		callback(groups)
	}
}
