package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/nikhilbhutani/dictation/internal/config"
	"github.com/nikhilbhutani/dictation/internal/logging"
	"github.com/nikhilbhutani/dictation/internal/queue"
	"github.com/nikhilbhutani/dictation/internal/queue/workers"
	"github.com/nikhilbhutani/dictation/internal/usage"
	"github.com/nikhilbhutani/dictation/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.LogLevel))

	if cfg.Redis.Addr == "" {
		slog.Error("REDIS_ADDR is required for the worker")
		os.Exit(1)
	}

	const concurrency = 10
	srv := asynq.NewServer(queue.RedisOpt(cfg.Redis), queue.ServerConfig(concurrency))

	var sink usage.Recorder = usage.NewLogRecorder(slog.Default())
	if cfg.Usage.WebhookURL != "" {
		sink = webhook.NewSender(cfg.Usage.WebhookURL, cfg.Usage.WebhookSecret, 10*time.Second)
	}
	usageWorker := workers.NewUsageWorker(sink)
	mux := queue.NewMux(queue.Handlers{
		UsageRecord: asynq.HandlerFunc(usageWorker.ProcessTask),
	})

	slog.Info("starting worker", "concurrency", concurrency, "usage_sink", sink.Name())
	if err := srv.Run(mux); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
