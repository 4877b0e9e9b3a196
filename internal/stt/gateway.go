package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/metrics"
)

var errOutboundBudget = errors.New("no outbound capacity before deadline")

type GatewayConfig struct {
	// APIKey is the server default, used when the request carries no override.
	APIKey string
	// Timeout bounds each attempt, not the whole call.
	Timeout time.Duration
	// MaxAttempts includes the first attempt.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number between attempts.
	BaseDelay time.Duration
	// MaxRPS caps outbound attempts per second across all callers. Zero disables it.
	MaxRPS float64
	Burst  int
}

// Gateway wraps a Provider with key precedence, per-attempt timeouts and a
// fixed retry budget.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewGateway(p Provider, cfg GatewayConfig) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	g := &Gateway{provider: p, cfg: cfg, sleep: sleepCtx}
	if cfg.MaxRPS > 0 {
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), cfg.Burst)
	}
	return g
}

func (g *Gateway) ProviderName() string { return g.provider.Name() }

func (g *Gateway) Transcribe(ctx context.Context, req Request) (*Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, apperror.BadRequest("audio file is empty")
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = g.cfg.APIKey
	}
	if apiKey == "" {
		return nil, apperror.Config("speech-to-text provider key is not configured")
	}

	model := req.Options.ModelID
	if model == "" {
		model = g.provider.DefaultModel()
	}

	start := time.Now()
	defer func() { metrics.RecordSTT(g.provider.Name(), time.Since(start).Seconds()) }()

	var (
		lastErr      error
		lastStatus   int
		lastTimedOut bool
	)
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := g.cfg.BaseDelay * time.Duration(attempt-1)
			if err := g.sleep(ctx, delay); err != nil {
				return nil, parentError(ctx, attempt-1)
			}
			slog.Debug("retrying speech-to-text call",
				"provider", g.provider.Name(),
				"attempt", attempt,
				"last_error", lastErr,
			)
		}

		payload, err := g.attempt(ctx, req, apiKey, model)
		if err == nil {
			text, ok := extractText(payload)
			if !ok {
				metrics.RecordSTTAttempt(g.provider.Name(), "contract")
				return nil, apperror.UpstreamContract("speech-to-text provider returned no transcript").
					WithDetail("attempts", attempt).
					WithCause(fmt.Errorf("no transcript among %v", transcriptFields))
			}
			metrics.RecordSTTAttempt(g.provider.Name(), "ok")
			return &Transcript{RawText: text, ModelID: model, Payload: payload}, nil
		}

		if ctx.Err() != nil {
			metrics.RecordSTTAttempt(g.provider.Name(), "canceled")
			return nil, parentError(ctx, attempt)
		}
		if errors.Is(err, errOutboundBudget) {
			metrics.RecordSTTAttempt(g.provider.Name(), "throttled")
			return nil, apperror.Timeout("speech-to-text provider capacity exhausted").
				WithDetail("attempts", attempt-1).
				WithCause(err)
		}

		lastErr = err
		lastTimedOut = errors.Is(err, context.DeadlineExceeded)
		lastStatus = 0

		var se *StatusError
		var ce *contractError
		switch {
		case errors.As(err, &ce):
			metrics.RecordSTTAttempt(g.provider.Name(), "contract")
			return nil, apperror.UpstreamContract("speech-to-text provider returned an unusable response").
				WithDetail("attempts", attempt).
				WithCause(err)
		case errors.As(err, &se):
			lastStatus = se.StatusCode
			if !IsRetryableStatus(se.StatusCode) {
				metrics.RecordSTTAttempt(g.provider.Name(), "rejected")
				return nil, apperror.Upstream("speech-to-text provider rejected the request").
					WithDetail("attempts", attempt).
					WithDetail("upstream_status", se.StatusCode).
					WithCause(err)
			}
			metrics.RecordSTTAttempt(g.provider.Name(), "retryable_status")
		case lastTimedOut:
			metrics.RecordSTTAttempt(g.provider.Name(), "timeout")
		default:
			metrics.RecordSTTAttempt(g.provider.Name(), "transport")
		}
	}

	var final *apperror.Error
	if lastTimedOut {
		final = apperror.Timeout("speech-to-text provider timed out")
	} else {
		final = apperror.Upstream("speech-to-text provider failed")
	}
	final = final.WithDetail("attempts", g.cfg.MaxAttempts)
	if lastStatus != 0 {
		final = final.WithDetail("upstream_status", lastStatus)
	}
	return nil, final.WithCause(fmt.Errorf("%s after %d attempts: %w", g.provider.Name(), g.cfg.MaxAttempts, lastErr))
}

func (g *Gateway) attempt(ctx context.Context, req Request, apiKey, model string) (map[string]any, error) {
	// Queueing for the outbound budget does not count against the attempt timeout.
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", errOutboundBudget, err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	payload, err := g.provider.Send(attemptCtx, req, apiKey, model)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("attempt timed out after %s: %w", g.cfg.Timeout, context.DeadlineExceeded)
	}
	return payload, err
}

// parentError maps cancellation of the caller's context, which is never retried.
func parentError(ctx context.Context, attempts int) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.Timeout("speech-to-text request exceeded its deadline").
			WithDetail("attempts", attempts).
			WithCause(ctx.Err())
	}
	return apperror.Canceled().WithCause(ctx.Err())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
