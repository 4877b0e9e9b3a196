package rewrite

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/cache"
	"github.com/nikhilbhutani/dictation/internal/llm"
)

type fakeProvider struct {
	name    string
	content string
	err     error
	delay   time.Duration
	calls   int
	last    llm.ChatRequest
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) DefaultModel() string { return f.name + "-small" }

func (f *fakeProvider) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	f.last = req
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Provider: f.name, Content: f.content}, nil
}

func newTestService(p *fakeProvider, timeout time.Duration) *Service {
	gw := llm.NewGatewayWithProviders(p.name, p)
	return NewService(gw, Config{Timeout: timeout})
}

func TestRewrite_Completed(t *testing.T) {
	p := &fakeProvider{name: "openai", content: "  \"Hello, world.\"  "}
	s := newTestService(p, time.Second)

	res, err := s.Rewrite(context.Background(), "um hello world", Options{LanguageCode: "en"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", res.CleanText)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "openai-small", res.Model)

	require.Len(t, p.last.Messages, 2)
	assert.Equal(t, "um hello world", p.last.Messages[1].Content)
	assert.Contains(t, p.last.Messages[0].Content, `"en"`)
}

func TestRewrite_EmptyInputSkipsUpstream(t *testing.T) {
	p := &fakeProvider{name: "openai", content: "should not be used"}
	s := newTestService(p, time.Second)

	for _, raw := range []string{"", "   ", "\n\t"} {
		res, err := s.Rewrite(context.Background(), raw, Options{})
		require.NoError(t, err)
		assert.Equal(t, "", res.CleanText)
		assert.Equal(t, StatusSkipped, res.Status)
	}
	assert.Zero(t, p.calls)
}

func TestRewrite_Timeout(t *testing.T) {
	p := &fakeProvider{name: "openai", content: "late", delay: time.Second}
	s := newTestService(p, 20*time.Millisecond)

	_, err := s.Rewrite(context.Background(), "hello", Options{})
	require.Error(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, apperror.StatusOf(err))
}

func TestRewrite_UpstreamFailure(t *testing.T) {
	p := &fakeProvider{name: "openai", err: errors.New("401 invalid api key")}
	s := newTestService(p, time.Second)

	_, err := s.Rewrite(context.Background(), "hello", Options{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, apperror.StatusOf(err))
}

func TestRewrite_EmptyOutputIsContractViolation(t *testing.T) {
	p := &fakeProvider{name: "openai", content: ` "" `}
	s := newTestService(p, time.Second)

	_, err := s.Rewrite(context.Background(), "hello", Options{})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeUpstreamContract, apperror.From(err).Code)
}

func TestRewrite_CallerKeyRoutesToOpenAI(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", content: "from anthropic"}
	openai := &fakeProvider{name: "openai", content: "from openai"}
	s := NewService(llm.NewGatewayWithProviders("anthropic", anthropic, openai), Config{Timeout: time.Second})

	res, err := s.Rewrite(context.Background(), "hello", Options{APIKey: "sk-caller"})
	require.NoError(t, err)
	assert.Equal(t, "from openai", res.CleanText)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "sk-caller", openai.last.APIKey)
	assert.Zero(t, anthropic.calls)
}

func TestCleanOutput(t *testing.T) {
	assert.Equal(t, "Hi.", cleanOutput(` "Hi." `))
	assert.Equal(t, "Hi.", cleanOutput("“Hi.”"))
	assert.Equal(t, `He said "hi"`, cleanOutput(`He said "hi"`))
	assert.Equal(t, "", cleanOutput(`""`))
}

func TestRender_MissingVariable(t *testing.T) {
	_, err := render("{{a}} {{b}}", map[string]string{"a": "x"})
	assert.ErrorContains(t, err, "b")
}

func TestRewrite_CachesCompletedResults(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := &fakeProvider{name: "openai", content: "Hello there."}
	s := NewService(llm.NewGatewayWithProviders("openai", p), Config{
		Timeout:  time.Second,
		Cache:    cache.NewCache(rdb, "dictation:rewrite:"),
		CacheTTL: time.Hour,
	})

	first, err := s.Rewrite(context.Background(), "um hello there", Options{LanguageCode: "en"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := s.Rewrite(context.Background(), "um hello there", Options{LanguageCode: "en"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "Hello there.", second.CleanText)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, 1, p.calls)

	_, err = s.Rewrite(context.Background(), "um hello there", Options{LanguageCode: "de"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "hello")
	}
}

func TestRewrite_CacheOutageIsIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	p := &fakeProvider{name: "openai", content: "Hello."}
	s := NewService(llm.NewGatewayWithProviders("openai", p), Config{
		Timeout:  time.Second,
		Cache:    cache.NewCache(rdb, "dictation:rewrite:"),
		CacheTTL: time.Hour,
	})

	res, err := s.Rewrite(context.Background(), "hello", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello.", res.CleanText)
	assert.Equal(t, 1, p.calls)
}

func TestRewrite_GuardrailRejectionIsContractViolation(t *testing.T) {
	p := &fakeProvider{name: "openai", content: "Here is the cleaned text: send the report."}
	s := newTestService(p, time.Second)

	_, err := s.Rewrite(context.Background(), "send the report", Options{})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, apperror.StatusOf(err))
	assert.Equal(t, "rewrite provider returned unusable text", apperror.From(err).Message)
}
