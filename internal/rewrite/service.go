// Package rewrite polishes raw transcripts with a text-completion provider
// under a strict latency budget.
package rewrite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/cache"
	"github.com/nikhilbhutani/dictation/internal/guardrails"
	"github.com/nikhilbhutani/dictation/internal/llm"
	"github.com/nikhilbhutani/dictation/pkg/tokenizer"
)

// Status is the outcome of the rewrite stage.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusFallbackRaw Status = "fallback_raw"
	StatusSkipped     Status = "skipped"
)

type Options struct {
	LanguageCode string
	// APIKey is the caller's OpenAI key, if any.
	APIKey string
}

type Result struct {
	CleanText string
	Provider  string
	Model     string
	Status    Status
	Cached    bool
	Usage     *llm.ChatResponse
}

// ResultCache remembers completed rewrites. *cache.Cache satisfies it.
type ResultCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// OutputGuard vets a rewrite against its transcript.
type OutputGuard interface {
	Check(ctx context.Context, raw, clean string) *guardrails.Result
}

type Config struct {
	Model   string
	Timeout time.Duration
	// Guard defaults to guardrails.DefaultPipeline.
	Guard OutputGuard
	// Cache is optional. Entries live for CacheTTL.
	Cache    ResultCache
	CacheTTL time.Duration
}

type cachedRewrite struct {
	CleanText string `json:"clean_text"`
	Model     string `json:"model"`
}

type Service struct {
	gw  llm.Gateway
	cfg Config
}

func NewService(gw llm.Gateway, cfg Config) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 800 * time.Millisecond
	}
	if cfg.Guard == nil {
		cfg.Guard = guardrails.DefaultPipeline()
	}
	return &Service{gw: gw, cfg: cfg}
}

// ProviderName is the provider a request with opts would be sent to.
func (s *Service) ProviderName(opts Options) string {
	if opts.APIKey != "" {
		return "openai"
	}
	return s.gw.DefaultProvider()
}

// ModelName is the model a request with opts would use.
func (s *Service) ModelName(opts Options) string {
	if opts.APIKey == "" && s.cfg.Model != "" {
		return s.cfg.Model
	}
	p, err := s.gw.Provider(s.ProviderName(opts))
	if err != nil {
		return ""
	}
	return p.DefaultModel()
}

// Rewrite returns the polished transcript. Empty input is returned as-is
// without an upstream call. Every failure is returned as an error; deciding
// what to do about it is the caller's business.
func (s *Service) Rewrite(ctx context.Context, raw string, opts Options) (*Result, error) {
	provider := s.ProviderName(opts)
	model := s.ModelName(opts)

	if strings.TrimSpace(raw) == "" {
		return &Result{CleanText: "", Provider: provider, Model: model, Status: StatusSkipped}, nil
	}

	system, user, err := buildPrompt(raw, opts.LanguageCode)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("build rewrite prompt: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	key := cacheKey(provider, model, opts.LanguageCode, raw)
	if hit, ok := s.lookup(ctx, key); ok {
		return &Result{CleanText: hit.CleanText, Provider: provider, Model: hit.Model, Status: StatusCompleted, Cached: true}, nil
	}

	req := llm.ChatRequest{
		Provider: provider,
		Model:    model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   maxTokensFor(raw),
		APIKey:      opts.APIKey,
	}

	resp, err := s.gw.Chat(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperror.Timeout(fmt.Sprintf("rewrite timed out after %s", s.cfg.Timeout)).WithCause(err)
		}
		return nil, apperror.Upstream("rewrite provider failed").WithCause(err)
	}

	clean := cleanOutput(resp.Content)
	if clean == "" {
		return nil, apperror.UpstreamContract("rewrite provider returned empty text")
	}
	if verdict := s.cfg.Guard.Check(ctx, raw, clean); !verdict.Allowed {
		slog.WarnContext(ctx, "rewrite rejected by guardrails", "reason", verdict.Reason, "flags", verdict.Flags)
		return nil, apperror.UpstreamContract("rewrite provider returned unusable text").WithCause(errors.New(verdict.Reason))
	}

	if resp.Model != "" {
		model = resp.Model
	}
	s.store(ctx, key, cachedRewrite{CleanText: clean, Model: model})
	return &Result{
		CleanText: clean,
		Provider:  provider,
		Model:     model,
		Status:    StatusCompleted,
		Usage:     resp,
	}, nil
}

func (s *Service) lookup(ctx context.Context, key string) (cachedRewrite, bool) {
	var hit cachedRewrite
	if s.cfg.Cache == nil || s.cfg.CacheTTL <= 0 {
		return hit, false
	}
	err := s.cfg.Cache.Get(ctx, key, &hit)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			slog.WarnContext(ctx, "rewrite cache lookup failed", "error", err)
		}
		return hit, false
	}
	return hit, hit.CleanText != ""
}

// store runs outside the request deadline so a slow rewrite still gets cached.
func (s *Service) store(ctx context.Context, key string, v cachedRewrite) {
	if s.cfg.Cache == nil || s.cfg.CacheTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 200*time.Millisecond)
	defer cancel()
	if err := s.cfg.Cache.Set(ctx, key, v, s.cfg.CacheTTL); err != nil {
		slog.WarnContext(ctx, "rewrite cache store failed", "error", err)
	}
}

// cacheKey hashes the transcript so raw text never appears in the store.
func cacheKey(provider, model, language, raw string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + model + "\x00" + language + "\x00" + raw))
	return hex.EncodeToString(sum[:])
}

// maxTokensFor leaves room for the rewrite to be somewhat longer than the input.
func maxTokensFor(raw string) int {
	return tokenizer.Budget(raw, 64, 4096)
}
