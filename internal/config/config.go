package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Identity  IdentityConfig
	STT       STTConfig
	Rewrite   RewriteConfig
	RateLimit RateLimitConfig
	Usage     UsageConfig
	LogLevel  string
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	CORSOrigins     []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Auth modes accepted by AUTH_MODE.
const (
	AuthModeOff      = "off"
	AuthModeOptional = "optional"
	AuthModeRequired = "required"
)

type AuthConfig struct {
	Mode          string
	IngressAPIKey string
	AllowOpenBYOK bool
}

// Identity backends accepted by IDENTITY_BACKEND.
const (
	IdentityBackendSupabase = "supabase"
	IdentityBackendLocal    = "local"
)

type IdentityConfig struct {
	Backend   string
	URL       string
	AnonKey   string
	JWTSecret string
	JWKSURL   string
	Issuer    string
	Audience  string
	Timeout   time.Duration
}

type STTConfig struct {
	Backend        string // "elevenlabs" or "openai"
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	MaxRPS         float64
	Burst          int
}

type RewriteConfig struct {
	Provider     string // "openai", "anthropic" or "ollama"
	OpenAIKey    string
	OpenAIBase   string
	AnthropicKey string
	OllamaURL    string
	Model        string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

type RateLimitConfig struct {
	Store       string // "memory" or "redis"
	VoiceMax    int
	VoiceWindow time.Duration
	AuthMax     int
	AuthWindow  time.Duration
	MaxKeys     int
}

type UsageConfig struct {
	Sink string // "log" or "queue"
	// Webhook settings apply to the worker, which delivers queued events.
	WebhookURL    string
	WebhookSecret string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxUploadMB, err := getEnvInt("MAX_UPLOAD_MB", 25)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	allowOpen, err := getEnvBool("AUTH_ALLOW_OPEN_BYOK", false)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_ALLOW_OPEN_BYOK: %w", err)
	}

	sttAttempts, err := getEnvInt("STT_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid STT_MAX_ATTEMPTS: %w", err)
	}

	sttMaxRPS, err := getEnvFloat("STT_MAX_RPS", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid STT_MAX_RPS: %w", err)
	}
	sttBurst, err := getEnvInt("STT_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid STT_BURST: %w", err)
	}

	voiceMax, err := getEnvInt("RATE_LIMIT_VOICE_MAX", 30)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_VOICE_MAX: %w", err)
	}
	authMax, err := getEnvInt("RATE_LIMIT_AUTH_MAX", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_AUTH_MAX: %w", err)
	}
	maxKeys, err := getEnvInt("RATE_LIMIT_MAX_KEYS", 10000)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_MAX_KEYS: %w", err)
	}

	var (
		shutdownTimeout, identityTimeout, sttTimeout, sttDelay  time.Duration
		rewriteTimeout, rewriteCacheTTL, voiceWindow, authWindow time.Duration
	)
	for key, opt := range map[string]struct {
		dst      *time.Duration
		fallback time.Duration
	}{
		"SHUTDOWN_TIMEOUT":        {&shutdownTimeout, 30 * time.Second},
		"IDENTITY_TIMEOUT":        {&identityTimeout, 10 * time.Second},
		"STT_TIMEOUT":             {&sttTimeout, 30 * time.Second},
		"STT_RETRY_BASE_DELAY":    {&sttDelay, 250 * time.Millisecond},
		"REWRITE_TIMEOUT":         {&rewriteTimeout, 800 * time.Millisecond},
		"REWRITE_CACHE_TTL":       {&rewriteCacheTTL, 0},
		"RATE_LIMIT_VOICE_WINDOW": {&voiceWindow, time.Minute},
		"RATE_LIMIT_AUTH_WINDOW":  {&authWindow, time.Minute},
	} {
		d, err := getEnvDuration(key, opt.fallback)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*opt.dst = d
	}

	identityURL := strings.TrimRight(getEnv("IDENTITY_URL", ""), "/")

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            port,
			ShutdownTimeout: shutdownTimeout,
			MaxUploadBytes:  int64(maxUploadMB) << 20,
			CORSOrigins:     splitList(getEnv("CORS_ORIGINS", "*")),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			Mode:          strings.ToLower(getEnv("AUTH_MODE", AuthModeOptional)),
			IngressAPIKey: getEnv("INGRESS_API_KEY", ""),
			AllowOpenBYOK: allowOpen,
		},
		Identity: IdentityConfig{
			Backend:   strings.ToLower(getEnv("IDENTITY_BACKEND", IdentityBackendSupabase)),
			URL:       identityURL,
			AnonKey:   getEnv("IDENTITY_ANON_KEY", ""),
			JWTSecret: getEnv("IDENTITY_JWT_SECRET", ""),
			JWKSURL:   getEnv("IDENTITY_JWKS_URL", ""),
			Issuer:    getEnv("IDENTITY_ISSUER", ""),
			Audience:  getEnv("IDENTITY_AUDIENCE", "authenticated"),
			Timeout:   identityTimeout,
		},
		STT: STTConfig{
			Backend:        strings.ToLower(getEnv("STT_BACKEND", "elevenlabs")),
			APIKey:         getEnv("ELEVENLABS_API_KEY", getEnv("STT_API_KEY", "")),
			BaseURL:        getEnv("STT_BASE_URL", ""),
			Model:          getEnv("STT_MODEL", ""),
			Timeout:        sttTimeout,
			MaxAttempts:    sttAttempts,
			RetryBaseDelay: sttDelay,
			MaxRPS:         sttMaxRPS,
			Burst:          sttBurst,
		},
		Rewrite: RewriteConfig{
			Provider:     strings.ToLower(getEnv("REWRITE_PROVIDER", "openai")),
			OpenAIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIBase:   getEnv("OPENAI_BASE_URL", ""),
			AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:    getEnv("OLLAMA_URL", ""),
			Model:        getEnv("REWRITE_MODEL", ""),
			Timeout:      rewriteTimeout,
			CacheTTL:     rewriteCacheTTL,
		},
		RateLimit: RateLimitConfig{
			Store:       strings.ToLower(getEnv("RATE_LIMIT_STORE", "memory")),
			VoiceMax:    voiceMax,
			VoiceWindow: voiceWindow,
			AuthMax:     authMax,
			AuthWindow:  authWindow,
			MaxKeys:     maxKeys,
		},
		Usage: UsageConfig{
			Sink:          strings.ToLower(getEnv("USAGE_SINK", "log")),
			WebhookURL:    getEnv("USAGE_WEBHOOK_URL", ""),
			WebhookSecret: getEnv("USAGE_WEBHOOK_SECRET", ""),
		},
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if cfg.Identity.Backend == IdentityBackendSupabase && identityURL != "" {
		if cfg.Identity.Issuer == "" {
			cfg.Identity.Issuer = identityURL + "/auth/v1"
		}
		if cfg.Identity.JWTSecret == "" && cfg.Identity.JWKSURL == "" {
			cfg.Identity.JWKSURL = identityURL + "/auth/v1/.well-known/jwks.json"
		}
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// VerifierConfigured reports whether bearer tokens can be verified at all.
func (c *Config) VerifierConfigured() bool {
	return c.Identity.JWTSecret != "" || c.Identity.JWKSURL != ""
}

// Validate rejects configurations that would silently degrade at request time.
func (c *Config) Validate() error {
	var problems []string

	switch c.Auth.Mode {
	case AuthModeOff, AuthModeOptional, AuthModeRequired:
	default:
		problems = append(problems, fmt.Sprintf("AUTH_MODE must be off, optional or required (got %q)", c.Auth.Mode))
	}

	switch c.Identity.Backend {
	case IdentityBackendSupabase:
		if c.Identity.URL != "" {
			if err := RequireSecureURL(c.Identity.URL); err != nil {
				problems = append(problems, "IDENTITY_URL: "+err.Error())
			}
		}
		if c.Identity.JWKSURL != "" && c.Identity.JWTSecret == "" {
			if err := RequireSecureURL(c.Identity.JWKSURL); err != nil {
				problems = append(problems, "IDENTITY_JWKS_URL: "+err.Error())
			}
			if c.Identity.Issuer == "" {
				problems = append(problems, "IDENTITY_ISSUER is required for key-set verification")
			}
		}
	case IdentityBackendLocal:
		if c.Identity.JWTSecret == "" {
			problems = append(problems, "IDENTITY_JWT_SECRET is required for the local identity backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("IDENTITY_BACKEND must be supabase or local (got %q)", c.Identity.Backend))
	}

	if c.Auth.Mode != AuthModeOff && !c.VerifierConfigured() {
		problems = append(problems, "AUTH_MODE "+c.Auth.Mode+" needs IDENTITY_JWT_SECRET or IDENTITY_JWKS_URL")
	}

	switch c.STT.Backend {
	case "elevenlabs", "openai":
	default:
		problems = append(problems, fmt.Sprintf("STT_BACKEND must be elevenlabs or openai (got %q)", c.STT.Backend))
	}
	if c.STT.MaxAttempts < 1 {
		problems = append(problems, "STT_MAX_ATTEMPTS must be at least 1")
	}

	switch c.Rewrite.Provider {
	case "openai", "anthropic":
	case "ollama":
		if c.Rewrite.OllamaURL == "" {
			problems = append(problems, "REWRITE_PROVIDER=ollama needs OLLAMA_URL")
		}
	default:
		problems = append(problems, fmt.Sprintf("REWRITE_PROVIDER must be openai, anthropic or ollama (got %q)", c.Rewrite.Provider))
	}

	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			problems = append(problems, "RATE_LIMIT_STORE=redis needs REDIS_ADDR")
		}
	default:
		problems = append(problems, fmt.Sprintf("RATE_LIMIT_STORE must be memory or redis (got %q)", c.RateLimit.Store))
	}

	switch c.Usage.Sink {
	case "log":
	case "queue":
		if c.Redis.Addr == "" {
			problems = append(problems, "USAGE_SINK=queue needs REDIS_ADDR")
		}
	default:
		problems = append(problems, fmt.Sprintf("USAGE_SINK must be log or queue (got %q)", c.Usage.Sink))
	}
	if c.Usage.WebhookURL != "" {
		if err := RequireSecureURL(c.Usage.WebhookURL); err != nil {
			problems = append(problems, "USAGE_WEBHOOK_URL: "+err.Error())
		}
		if c.Usage.WebhookSecret == "" {
			problems = append(problems, "USAGE_WEBHOOK_URL needs USAGE_WEBHOOK_SECRET")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RequireSecureURL accepts https URLs anywhere and http URLs only for loopback hosts.
func RequireSecureURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if IsLoopbackHost(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("plain http is only allowed for loopback hosts (got %q)", u.Host)
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}
