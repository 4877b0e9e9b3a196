package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/dictation/internal/api"
	"github.com/nikhilbhutani/dictation/internal/auth"
	"github.com/nikhilbhutani/dictation/internal/cache"
	"github.com/nikhilbhutani/dictation/internal/config"
	"github.com/nikhilbhutani/dictation/internal/identity"
	"github.com/nikhilbhutani/dictation/internal/llm"
	"github.com/nikhilbhutani/dictation/internal/logging"
	"github.com/nikhilbhutani/dictation/internal/pipeline"
	"github.com/nikhilbhutani/dictation/internal/queue"
	"github.com/nikhilbhutani/dictation/internal/ratelimit"
	"github.com/nikhilbhutani/dictation/internal/rewrite"
	"github.com/nikhilbhutani/dictation/internal/stt"
	"github.com/nikhilbhutani/dictation/internal/usage"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		slog.Error("refusing to start", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Redis connection (optional)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable at startup", "error", err)
		}
		defer rdb.Close()
	}

	verifier, accounts, err := buildIdentity(cfg)
	if err != nil {
		slog.Error("failed to configure identity provider", "error", err)
		os.Exit(1)
	}
	resolver := auth.NewResolver(auth.ResolverConfig{
		Mode:          cfg.Auth.Mode,
		IngressAPIKey: cfg.Auth.IngressAPIKey,
		AllowOpenBYOK: cfg.Auth.AllowOpenBYOK,
	}, verifier)

	rewriteCfg := rewrite.Config{
		Model:   cfg.Rewrite.Model,
		Timeout: cfg.Rewrite.Timeout,
	}
	if rdb != nil && cfg.Rewrite.CacheTTL > 0 {
		rewriteCfg.Cache = cache.NewCache(rdb, "dictation:rewrite:")
		rewriteCfg.CacheTTL = cfg.Rewrite.CacheTTL
	}
	orchestrator := pipeline.New(buildTranscriber(cfg), rewrite.NewService(llm.NewGateway(cfg.Rewrite), rewriteCfg))

	var recorder usage.Recorder = usage.NewLogRecorder(slog.Default())
	if cfg.Usage.Sink == "queue" {
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		recorder = usage.NewQueueRecorder(qc)
	}

	router := api.NewRouter(api.Deps{
		Resolver:       resolver,
		Accounts:       accounts,
		Pipeline:       orchestrator,
		Usage:          recorder,
		VoiceLimiter:   buildLimiter(cfg, rdb, cfg.RateLimit.VoiceMax, cfg.RateLimit.VoiceWindow),
		AuthLimiter:    buildLimiter(cfg, rdb, cfg.RateLimit.AuthMax, cfg.RateLimit.AuthWindow),
		Redis:          rdb,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		CORSOrigins:    cfg.Server.CORSOrigins,
	})
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server",
			"addr", cfg.Addr(),
			"auth_mode", cfg.Auth.Mode,
			"identity_backend", cfg.Identity.Backend,
			"stt_backend", cfg.STT.Backend,
			"rewrite_provider", cfg.Rewrite.Provider,
			"rate_limit_store", cfg.RateLimit.Store,
			"usage_sink", cfg.Usage.Sink,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// buildIdentity returns the bearer verifier and the account backend. Either
// may be nil when the configuration does not call for it.
func buildIdentity(cfg *config.Config) (identity.Verifier, identity.Accounts, error) {
	ic := cfg.Identity

	if ic.Backend == config.IdentityBackendLocal {
		local, err := identity.NewLocalAccounts(ic.JWTSecret, ic.Issuer)
		if err != nil {
			return nil, nil, err
		}
		slog.Warn("using in-memory local identity backend; accounts are lost on restart")
		return identity.NewHMACVerifier(ic.JWTSecret, local.Issuer(), local.Audience()), local, nil
	}

	var verifier identity.Verifier
	switch {
	case ic.JWTSecret != "":
		verifier = identity.NewHMACVerifier(ic.JWTSecret, ic.Issuer, ic.Audience)
	case ic.JWKSURL != "":
		verifier = identity.NewJWKSVerifier(ic.JWKSURL, ic.Issuer, ic.Audience, &http.Client{Timeout: ic.Timeout})
	}

	var accounts identity.Accounts
	if ic.URL != "" {
		sa, err := identity.NewSupabaseAccounts(ic.URL, ic.AnonKey, ic.Timeout)
		if err != nil {
			return nil, nil, err
		}
		accounts = sa
	} else {
		slog.Warn("IDENTITY_URL not set, auth routes are disabled")
	}
	return verifier, accounts, nil
}

func buildTranscriber(cfg *config.Config) *stt.Gateway {
	var provider stt.Provider
	apiKey := cfg.STT.APIKey
	switch cfg.STT.Backend {
	case "openai":
		provider = stt.NewOpenAI(stt.OpenAIConfig{BaseURL: cfg.STT.BaseURL, Model: cfg.STT.Model})
		if apiKey == "" {
			apiKey = cfg.Rewrite.OpenAIKey
		}
	default:
		provider = stt.NewElevenLabs(stt.ElevenLabsConfig{BaseURL: cfg.STT.BaseURL, Model: cfg.STT.Model})
	}
	if apiKey == "" {
		slog.Warn("no server speech-to-text key configured; only requests with caller keys will succeed")
	}
	return stt.NewGateway(provider, stt.GatewayConfig{
		APIKey:      apiKey,
		Timeout:     cfg.STT.Timeout,
		MaxAttempts: cfg.STT.MaxAttempts,
		BaseDelay:   cfg.STT.RetryBaseDelay,
		MaxRPS:      cfg.STT.MaxRPS,
		Burst:       cfg.STT.Burst,
	})
}

// buildLimiter picks the limiter store. Keys already carry the route scope.
func buildLimiter(cfg *config.Config, rdb *redis.Client, max int, window time.Duration) ratelimit.Limiter {
	if cfg.RateLimit.Store == "redis" && rdb != nil {
		return ratelimit.NewRedisLimiter(rdb, ratelimit.RedisKeyPrefix, max, window)
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{
		Max:     max,
		Window:  window,
		MaxKeys: cfg.RateLimit.MaxKeys,
	})
}
