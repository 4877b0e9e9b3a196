package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_HOST", "SERVER_PORT", "MAX_UPLOAD_MB", "CORS_ORIGINS", "AUTH_MODE",
		"IDENTITY_BACKEND", "IDENTITY_URL", "IDENTITY_JWT_SECRET", "IDENTITY_JWKS_URL",
		"IDENTITY_ISSUER", "IDENTITY_AUDIENCE", "STT_BACKEND", "STT_MAX_ATTEMPTS",
		"STT_RETRY_BASE_DELAY", "REWRITE_TIMEOUT", "RATE_LIMIT_STORE", "USAGE_SINK",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, int64(25<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, AuthModeOptional, cfg.Auth.Mode)
	assert.Equal(t, IdentityBackendSupabase, cfg.Identity.Backend)
	assert.Equal(t, "authenticated", cfg.Identity.Audience)
	assert.Equal(t, "elevenlabs", cfg.STT.Backend)
	assert.Equal(t, 3, cfg.STT.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.STT.RetryBaseDelay)
	assert.Equal(t, 800*time.Millisecond, cfg.Rewrite.Timeout)
	assert.Equal(t, "memory", cfg.RateLimit.Store)
	assert.Equal(t, "log", cfg.Usage.Sink)
}

func TestLoad_DerivesSupabaseEndpoints(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDENTITY_URL", "https://proj.supabase.co/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://proj.supabase.co", cfg.Identity.URL)
	assert.Equal(t, "https://proj.supabase.co/auth/v1", cfg.Identity.Issuer)
	assert.Equal(t, "https://proj.supabase.co/auth/v1/.well-known/jwks.json", cfg.Identity.JWKSURL)
	assert.True(t, cfg.VerifierConfigured())
}

func TestLoad_ParsesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("REWRITE_TIMEOUT", "1500")
	t.Setenv("RATE_LIMIT_VOICE_WINDOW", "2m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AUTH_MODE", "REQUIRED")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 1500*time.Millisecond, cfg.Rewrite.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.VoiceWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, AuthModeRequired, cfg.Auth.Mode)
}

func TestLoad_RejectsMalformedNumbers(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	_, err := Load()
	assert.ErrorContains(t, err, "SERVER_PORT")
}

func validConfig() *Config {
	return &Config{
		Auth:      AuthConfig{Mode: AuthModeOff},
		Identity:  IdentityConfig{Backend: IdentityBackendSupabase},
		STT:       STTConfig{Backend: "elevenlabs", MaxAttempts: 3},
		Rewrite:   RewriteConfig{Provider: "openai"},
		RateLimit: RateLimitConfig{Store: "memory"},
		Usage:     UsageConfig{Sink: "log"},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "sometimes" }, "AUTH_MODE must be"},
		{"required without verifier", func(c *Config) { c.Auth.Mode = AuthModeRequired }, "needs IDENTITY_JWT_SECRET or IDENTITY_JWKS_URL"},
		{"insecure identity url", func(c *Config) { c.Identity.URL = "http://auth.example.com" }, "IDENTITY_URL"},
		{"local without secret", func(c *Config) { c.Identity.Backend = IdentityBackendLocal }, "local identity backend"},
		{"unknown stt backend", func(c *Config) { c.STT.Backend = "whisper" }, "STT_BACKEND"},
		{"zero attempts", func(c *Config) { c.STT.MaxAttempts = 0 }, "STT_MAX_ATTEMPTS"},
		{"ollama without url", func(c *Config) { c.Rewrite.Provider = "ollama" }, "OLLAMA_URL"},
		{"redis limiter without redis", func(c *Config) { c.RateLimit.Store = "redis" }, "REDIS_ADDR"},
		{"queue sink without redis", func(c *Config) { c.Usage.Sink = "queue" }, "USAGE_SINK=queue"},
		{"unsigned webhook", func(c *Config) { c.Usage.WebhookURL = "https://hooks.example.com/usage" }, "USAGE_WEBHOOK_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestRequireSecureURL(t *testing.T) {
	assert.NoError(t, RequireSecureURL("https://proj.supabase.co"))
	assert.NoError(t, RequireSecureURL("http://localhost:54321"))
	assert.NoError(t, RequireSecureURL("http://127.0.0.1:54321"))
	assert.Error(t, RequireSecureURL("http://proj.supabase.co"))
	assert.Error(t, RequireSecureURL("ftp://proj.supabase.co"))
}
