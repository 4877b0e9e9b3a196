// Package usage records one metering event per completed dictation.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/dictation/internal/metrics"
)

type Event struct {
	RequestID        string    `json:"request_id"`
	UserID           string    `json:"user_id"`
	AuthSource       string    `json:"auth_source"`
	ClientLabel      string    `json:"client_label,omitempty"`
	STTProvider      string    `json:"stt_provider"`
	STTModel         string    `json:"stt_model"`
	RewriteProvider  string    `json:"rewrite_provider"`
	RewriteModel     string    `json:"rewrite_model"`
	RewriteStatus    string    `json:"rewrite_status"`
	RewriteCached    bool      `json:"rewrite_cached"`
	InputTokens      int       `json:"rewrite_input_tokens"`
	OutputTokens     int       `json:"rewrite_output_tokens"`
	CostUSD          float64   `json:"rewrite_cost_usd"`
	AudioBytes       int       `json:"audio_bytes"`
	STTLatencyMs     int64     `json:"stt_latency_ms"`
	RewriteLatencyMs int64     `json:"rewrite_latency_ms"`
	TotalLatencyMs   int64     `json:"total_latency_ms"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Recorder is a sink for usage events.
type Recorder interface {
	Name() string
	Record(ctx context.Context, e Event) error
}

// LogRecorder writes events to the structured log.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Name() string { return "log" }

func (r *LogRecorder) Record(ctx context.Context, e Event) error {
	r.logger.InfoContext(ctx, "usage event",
		"request_id", e.RequestID,
		"user_id", e.UserID,
		"auth_source", e.AuthSource,
		"client_label", e.ClientLabel,
		"stt_provider", e.STTProvider,
		"stt_model", e.STTModel,
		"rewrite_provider", e.RewriteProvider,
		"rewrite_model", e.RewriteModel,
		"rewrite_status", e.RewriteStatus,
		"rewrite_cached", e.RewriteCached,
		"rewrite_input_tokens", e.InputTokens,
		"rewrite_output_tokens", e.OutputTokens,
		"rewrite_cost_usd", e.CostUSD,
		"audio_bytes", e.AudioBytes,
		"stt_latency_ms", e.STTLatencyMs,
		"rewrite_latency_ms", e.RewriteLatencyMs,
		"total_latency_ms", e.TotalLatencyMs,
		"occurred_at", e.OccurredAt,
	)
	return nil
}

// Enqueuer hands an event to a background queue.
type Enqueuer interface {
	EnqueueUsageRecord(ctx context.Context, e Event) error
}

// QueueRecorder defers events to the worker process.
type QueueRecorder struct {
	q Enqueuer
}

func NewQueueRecorder(q Enqueuer) *QueueRecorder {
	return &QueueRecorder{q: q}
}

func (r *QueueRecorder) Name() string { return "queue" }

func (r *QueueRecorder) Record(ctx context.Context, e Event) error {
	return r.q.EnqueueUsageRecord(ctx, e)
}

// Record sends e to rec and swallows the error after logging it. Metering
// must never fail the request it describes.
func Record(ctx context.Context, rec Recorder, e Event) {
	if rec == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	err := rec.Record(ctx, e)
	metrics.RecordUsageEvent(rec.Name(), err)
	if err != nil {
		slog.WarnContext(ctx, "failed to record usage event",
			"sink", rec.Name(),
			"request_id", e.RequestID,
			"error", err,
		)
	}
}
