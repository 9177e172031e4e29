package endpoints

import (
	"github.com/jackzampolin/scriptorium/internal/api"
	"github.com/jackzampolin/scriptorium/internal/container"
)

// Config holds dependencies that are not carried in request context.
type Config struct {
	Container       *container.Manager
	SwaggerSpecPath string
}

// All returns every endpoint.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		&HealthEndpoint{},
		&StatusEndpoint{Container: cfg.Container},

		&GetQueueEndpoint{},
		&QueueStatsEndpoint{},
		&AddItemEndpoint{},
		&GetItemEndpoint{},
		&UpdateItemEndpoint{},
		&RemoveItemEndpoint{},
		&ItemActionEndpoint{Action: "pause"},
		&ItemActionEndpoint{Action: "resume"},
		&MoveItemEndpoint{},
		&ControlEndpoint{Action: "start"},
		&ControlEndpoint{Action: "stop"},
		&ControlEndpoint{Action: "pause"},
		&ControlEndpoint{Action: "resume"},
		&ClearEndpoint{},
		&GetSettingsEndpoint{},
		&UpdateSettingsEndpoint{},
		&StreamEndpoint{},

		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},
	}
}
