package modules

import (
	"github.com/gaetancollaud/wiser-mqtt/pkg/config"
	"github.com/gaetancollaud/wiser-mqtt/pkg/mqtt"
	"github.com/gaetancollaud/wiser-mqtt/pkg/wiser"
)

// Interface for the different modules being run by the controller.
type Module interface {
	Start() error
	Stop() error
}

type ModuleBuilder func(mqtt.Client, wiser.Client, wiser.Registry, *config.Config) Module

// Register stores a builder function into the registy for external access.
// Register() can be called from init() on a module in this package and will
// automatically register a module.
func Register(name string, builder ModuleBuilder) {
	Modules[name] = builder
}

var Modules = map[string]ModuleBuilder{}
