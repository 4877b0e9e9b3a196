package queue

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestNewMux_RoutesUsageRecord(t *testing.T) {
	var handled string
	mux := NewMux(Handlers{
		UsageRecord: asynq.HandlerFunc(func(_ context.Context, t *asynq.Task) error {
			handled = t.Type()
			return nil
		}),
	})

	assert.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TypeUsageRecord, nil)))
	assert.Equal(t, TypeUsageRecord, handled)
	assert.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("other:task", nil)))
}

func TestServerConfig_ListensOnUsageQueue(t *testing.T) {
	cfg := ServerConfig(0)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, map[string]int{QueueUsage: 1}, cfg.Queues)
}
