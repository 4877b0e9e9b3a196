package pipeline

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/llm"
	"github.com/nikhilbhutani/dictation/internal/rewrite"
	"github.com/nikhilbhutani/dictation/internal/stt"
)

type fakeSTT struct {
	text string
	err  error
	last stt.Request
}

func (f *fakeSTT) ProviderName() string { return "elevenlabs" }

func (f *fakeSTT) Transcribe(_ context.Context, req stt.Request) (*stt.Transcript, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &stt.Transcript{RawText: f.text, ModelID: "scribe_v1"}, nil
}

type fakeRewriter struct {
	clean  string
	err    error
	calls  int
	opts   rewrite.Options
	cancel context.CancelFunc
	usage  *llm.ChatResponse
	cached bool
}

func (f *fakeRewriter) ProviderName(rewrite.Options) string { return "openai" }
func (f *fakeRewriter) ModelName(rewrite.Options) string    { return "gpt-4o-mini" }

func (f *fakeRewriter) Rewrite(_ context.Context, raw string, opts rewrite.Options) (*rewrite.Result, error) {
	f.calls++
	f.opts = opts
	if f.cancel != nil {
		f.cancel()
	}
	if f.err != nil {
		return nil, f.err
	}
	if raw == "" {
		return &rewrite.Result{Status: rewrite.StatusSkipped}, nil
	}
	return &rewrite.Result{
		CleanText: f.clean,
		Provider:  "openai",
		Model:     "gpt-4o-mini-2024",
		Status:    rewrite.StatusCompleted,
		Cached:    f.cached,
		Usage:     f.usage,
	}, nil
}

func TestRun_Completed(t *testing.T) {
	s := &fakeSTT{text: "um hello there"}
	r := &fakeRewriter{clean: "Hello there."}
	o := New(s, r)

	res, err := o.Run(context.Background(), Input{
		Audio:         []byte("RIFF"),
		FileName:      "a.wav",
		Options:       stt.Options{LanguageCode: "en"},
		ElevenLabsKey: "xi-key",
		OpenAIKey:     "sk-key",
	})
	require.NoError(t, err)

	assert.Equal(t, "um hello there", res.RawText)
	assert.Equal(t, "Hello there.", res.CleanText)
	assert.Equal(t, rewrite.StatusCompleted, res.RewriteStatus)
	assert.Equal(t, "gpt-4o-mini-2024", res.RewriteModel)
	assert.Equal(t, "scribe_v1", res.STTModelID)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "xi-key", s.last.APIKey)
	assert.Equal(t, rewrite.Options{LanguageCode: "en", APIKey: "sk-key"}, r.opts)
	assert.Equal(t, []State{StateStart, StateSTTInFlight, StateSTTDone, StateRewriteInFlight, StateRewriteDone, StateResponseReady}, res.States)
	assert.GreaterOrEqual(t, res.TotalLatencyMs, res.STTLatencyMs)
}

func TestRun_CarriesRewriteUsage(t *testing.T) {
	r := &fakeRewriter{clean: "Hello there.", usage: &llm.ChatResponse{
		InputTokens:  120,
		OutputTokens: 30,
		CostUSD:      llm.CalculateCost("gpt-4o-mini", 120, 30),
	}}
	res, err := New(&fakeSTT{text: "um hello there"}, r).Run(context.Background(), Input{Audio: []byte("x")})
	require.NoError(t, err)

	assert.False(t, res.RewriteCached)
	assert.Equal(t, 120, res.RewriteInputTokens)
	assert.Equal(t, 30, res.RewriteOutputTokens)
	assert.InDelta(t, 0.000036, res.RewriteCostUSD, 1e-9)

	r = &fakeRewriter{clean: "Hello there.", cached: true}
	res, err = New(&fakeSTT{text: "um hello there"}, r).Run(context.Background(), Input{Audio: []byte("x")})
	require.NoError(t, err)
	assert.True(t, res.RewriteCached)
	assert.Zero(t, res.RewriteInputTokens)
	assert.Zero(t, res.RewriteCostUSD)
}

func TestRun_RewriteFailureFallsBackToRaw(t *testing.T) {
	r := &fakeRewriter{err: apperror.Timeout("rewrite timed out after 800ms")}
	o := New(&fakeSTT{text: "raw words"}, r)

	res, err := o.Run(context.Background(), Input{Audio: []byte("x")})
	require.NoError(t, err)

	assert.Equal(t, res.RawText, res.CleanText)
	assert.Equal(t, rewrite.StatusFallbackRaw, res.RewriteStatus)
	assert.Equal(t, "rewrite timed out after 800ms", res.RewriteError)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "OPENAI_REWRITE_FALLBACK", res.Warnings[0].Code)
	assert.Contains(t, res.States, StateRewriteFallback)
	assert.NotContains(t, res.States, StateRewriteDone)
}

func TestRun_EmptyTranscriptIsSkipped(t *testing.T) {
	o := New(&fakeSTT{text: ""}, &fakeRewriter{})

	res, err := o.Run(context.Background(), Input{Audio: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "", res.RawText)
	assert.Equal(t, "", res.CleanText)
	assert.Equal(t, rewrite.StatusSkipped, res.RewriteStatus)
	assert.Empty(t, res.Warnings)
}

func TestRun_TranscriptionFailureIsFatal(t *testing.T) {
	r := &fakeRewriter{}
	o := New(&fakeSTT{err: apperror.Upstream("speech-to-text provider failed")}, r)

	_, err := o.Run(context.Background(), Input{Audio: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, apperror.StatusOf(err))
	assert.Zero(t, r.calls)
}

func TestRun_CallerGoneDuringRewrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeRewriter{err: context.Canceled, cancel: cancel}
	o := New(&fakeSTT{text: "hello"}, r)

	_, err := o.Run(ctx, Input{Audio: []byte("x")})
	require.Error(t, err)
	assert.Equal(t, apperror.StatusClientClosedRequest, apperror.StatusOf(err))
}

func TestFallbackWarningCode(t *testing.T) {
	assert.Equal(t, "ANTHROPIC_REWRITE_FALLBACK", FallbackWarningCode("anthropic"))
	assert.Equal(t, "UNKNOWN_REWRITE_FALLBACK", FallbackWarningCode(""))
}
