package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/dictation/internal/usage"
)

// UsageWorker drains usage:record tasks into a synchronous sink.
type UsageWorker struct {
	sink usage.Recorder
}

func NewUsageWorker(sink usage.Recorder) *UsageWorker {
	return &UsageWorker{sink: sink}
}

func (w *UsageWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var e usage.Event
	if err := json.Unmarshal(t.Payload(), &e); err != nil {
		// A payload that cannot be decoded will never succeed.
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := w.sink.Record(ctx, e); err != nil {
		return fmt.Errorf("record usage %s: %w", e.RequestID, err)
	}
	return nil
}
