// Package pipeline runs one dictation request: transcription, then rewrite.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/metrics"
	"github.com/nikhilbhutani/dictation/internal/rewrite"
	"github.com/nikhilbhutani/dictation/internal/stt"
)

// State is a step of a single run. Runs move strictly forward.
type State string

const (
	StateStart           State = "start"
	StateSTTInFlight     State = "stt_in_flight"
	StateSTTDone         State = "stt_done"
	StateRewriteInFlight State = "rewrite_in_flight"
	StateRewriteDone     State = "rewrite_done"
	StateRewriteFallback State = "rewrite_fallback"
	StateResponseReady   State = "response_ready"
)

type Transcriber interface {
	ProviderName() string
	Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error)
}

type Rewriter interface {
	ProviderName(opts rewrite.Options) string
	ModelName(opts rewrite.Options) string
	Rewrite(ctx context.Context, raw string, opts rewrite.Options) (*rewrite.Result, error)
}

type Input struct {
	Audio    []byte
	FileName string
	MimeType string
	Options  stt.Options
	// Caller-supplied provider keys; empty means server keys.
	OpenAIKey     string
	ElevenLabsKey string
}

// sttKey picks the caller key matching the transcription backend.
func (in Input) sttKey(provider string) string {
	if provider == "openai" {
		return in.OpenAIKey
	}
	return in.ElevenLabsKey
}

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Result struct {
	RawText   string
	CleanText string

	STTProvider string
	STTModelID  string

	RewriteProvider string
	RewriteModel    string
	RewriteStatus   rewrite.Status
	RewriteError    string

	// RewriteCached is set when the rewrite came from the result cache and
	// cost nothing upstream.
	RewriteCached       bool
	RewriteInputTokens  int
	RewriteOutputTokens int
	RewriteCostUSD      float64

	STTLatencyMs     int64
	RewriteLatencyMs int64
	TotalLatencyMs   int64

	Warnings []Warning
	// States lists every state the run passed through, in order.
	States []State
}

type Orchestrator struct {
	stt     Transcriber
	rewrite Rewriter
	now     func() time.Time
}

func New(t Transcriber, r Rewriter) *Orchestrator {
	return &Orchestrator{stt: t, rewrite: r, now: time.Now}
}

// Run returns an error only when transcription fails. A failed rewrite
// degrades to the raw transcript with a warning.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	start := o.now()
	res := &Result{
		STTProvider: o.stt.ProviderName(),
		Warnings:    []Warning{},
	}
	res.advance(StateStart)

	res.advance(StateSTTInFlight)
	transcript, err := o.stt.Transcribe(ctx, stt.Request{
		Audio:    in.Audio,
		FileName: in.FileName,
		MimeType: in.MimeType,
		Options:  in.Options,
		APIKey:   in.sttKey(res.STTProvider),
	})
	sttElapsed := o.now().Sub(start)
	if err != nil {
		return nil, err
	}
	res.advance(StateSTTDone)
	res.RawText = transcript.RawText
	res.STTModelID = transcript.ModelID
	res.STTLatencyMs = sttElapsed.Milliseconds()

	opts := rewrite.Options{LanguageCode: in.Options.LanguageCode, APIKey: in.OpenAIKey}
	res.RewriteProvider = o.rewrite.ProviderName(opts)
	res.RewriteModel = o.rewrite.ModelName(opts)

	res.advance(StateRewriteInFlight)
	rewriteStart := o.now()
	rewritten, err := o.rewrite.Rewrite(ctx, transcript.RawText, opts)
	rewriteElapsed := o.now().Sub(rewriteStart)
	res.RewriteLatencyMs = rewriteElapsed.Milliseconds()

	if err != nil {
		// A caller that went away gets nothing; there is nobody to fall back for.
		if ctx.Err() != nil {
			return nil, apperror.Canceled().WithCause(ctx.Err())
		}
		res.fallback(err)
		slog.Warn("rewrite failed, returning raw transcript",
			"provider", res.RewriteProvider,
			"error", err,
		)
	} else {
		res.advance(StateRewriteDone)
		res.CleanText = rewritten.CleanText
		res.RewriteStatus = rewritten.Status
		if rewritten.Model != "" {
			res.RewriteModel = rewritten.Model
		}
		if rewritten.Provider != "" {
			res.RewriteProvider = rewritten.Provider
		}
		res.RewriteCached = rewritten.Cached
		if u := rewritten.Usage; u != nil {
			res.RewriteInputTokens = u.InputTokens
			res.RewriteOutputTokens = u.OutputTokens
			res.RewriteCostUSD = u.CostUSD
		}
	}
	metrics.RecordRewrite(res.RewriteProvider, string(res.RewriteStatus), rewriteElapsed.Seconds())

	res.TotalLatencyMs = o.now().Sub(start).Milliseconds()
	res.advance(StateResponseReady)
	return res, nil
}

func (r *Result) advance(s State) {
	r.States = append(r.States, s)
}

func (r *Result) fallback(err error) {
	r.advance(StateRewriteFallback)
	r.CleanText = r.RawText
	r.RewriteStatus = rewrite.StatusFallbackRaw
	r.RewriteError = apperror.From(err).Message
	r.Warnings = append(r.Warnings, Warning{
		Code:    FallbackWarningCode(r.RewriteProvider),
		Message: fmt.Sprintf("rewrite unavailable (%s); returned raw transcript", r.RewriteError),
	})
}

// FallbackWarningCode names the warning attached when provider's rewrite fails.
func FallbackWarningCode(provider string) string {
	if provider == "" {
		provider = "unknown"
	}
	return strings.ToUpper(provider) + "_REWRITE_FALLBACK"
}
