package endpoints

import (
	"github.com/jackzampolin/narrator/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	voices := &ListVoicesEndpoint{}
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Book endpoints
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&ConvertBookEndpoint{},
		&ConvertBatchEndpoint{},
		&ConvertAllEndpoint{},

		// Job endpoints
		&ListJobsEndpoint{},
		&GetJobEndpoint{},

		// Queue endpoints
		&QueueEndpoint{},
		&PauseQueueEndpoint{},
		&ResumeQueueEndpoint{},
		&CancelJobEndpoint{},
		&RetryJobEndpoint{},
		&ReorderQueueEndpoint{},
		&QueueEventsEndpoint{},

		// Voice endpoints
		voices,
		&RefreshVoicesEndpoint{List: voices},

		// Settings endpoints
		&GetSettingsEndpoint{},
		&UpdateSettingsEndpoint{},

		// System endpoints
		&ScanEndpoint{},
		&StatsEndpoint{},
	}
}
