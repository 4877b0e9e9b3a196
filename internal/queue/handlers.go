package queue

import (
	"github.com/hibiken/asynq"
)

// Handlers holds one handler per task type produced by the API.
type Handlers struct {
	UsageRecord asynq.Handler
}

// NewMux routes tasks to h. Unknown task types fail with asynq's not-found error.
func NewMux(h Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	if h.UsageRecord != nil {
		mux.Handle(TypeUsageRecord, h.UsageRecord)
	}
	return mux
}

// ServerConfig is the worker's asynq configuration. It listens only on the
// queues the API produces to.
func ServerConfig(concurrency int) asynq.Config {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueUsage: 1},
	}
}
