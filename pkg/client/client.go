// Package client is a Go SDK for the dictation HTTP API.
//
// A Client holds at most one account session. Calls that need a bearer
// token refresh the session first when the access token is about to expire.
package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nikhilbhutani/dictation/internal/auth"
	"github.com/nikhilbhutani/dictation/internal/identity"
)

// DefaultRefreshLeeway is how long before expiry a session is refreshed.
const DefaultRefreshLeeway = 60 * time.Second

type (
	Session = identity.Session
	Account = identity.Account
)

type Client struct {
	http   *resty.Client
	leeway time.Duration
	now    func() time.Time

	// onSession is called whenever the stored session changes.
	onSession func(*Session)

	mu      sync.Mutex
	session *Session
}

type Option func(*Client)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http.SetTransport(hc.Transport)
		if hc.Timeout > 0 {
			c.http.SetTimeout(hc.Timeout)
		}
	}
}

// WithAPIKey sends the shared ingress secret on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.http.SetHeader(auth.HeaderAPIKey, key) }
}

// WithProviderKeys sends the caller's own provider keys. The service rejects
// a request carrying only one of them.
func WithProviderKeys(openAIKey, elevenLabsKey string) Option {
	return func(c *Client) {
		if openAIKey != "" {
			c.http.SetHeader(auth.HeaderOpenAIKey, openAIKey)
		}
		if elevenLabsKey != "" {
			c.http.SetHeader(auth.HeaderElevenLabsKey, elevenLabsKey)
		}
	}
}

// WithSession starts the client with a previously stored session.
func WithSession(s *Session) Option {
	return func(c *Client) { c.session = s }
}

// WithSessionHook registers fn to observe session changes, e.g. to persist them.
func WithSessionHook(fn func(*Session)) Option {
	return func(c *Client) { c.onSession = fn }
}

func WithRefreshLeeway(d time.Duration) Option {
	return func(c *Client) { c.leeway = d }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Accept", "application/json").
			SetTimeout(2 * time.Minute),
		leeway: DefaultRefreshLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the current session, nil when signed out.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	hook := c.onSession
	c.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("dictation api: %d %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("dictation api: %d %s", e.StatusCode, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func apiError(resp *resty.Response) error {
	env, _ := resp.Error().(*errorEnvelope)
	e := &APIError{StatusCode: resp.StatusCode(), RequestID: resp.Header().Get("X-Request-Id")}
	if env != nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		e.Details = env.Error.Details
		if env.RequestID != "" {
			e.RequestID = env.RequestID
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(e.StatusCode)
	}
	return e
}

// AuthResponse mirrors every /v1/auth answer except logout.
type AuthResponse struct {
	Account                   Account  `json:"account"`
	Session                   *Session `json:"session"`
	RequiresEmailConfirmation bool     `json:"requires_email_confirmation"`
}

func (c *Client) auth(ctx context.Context, path string, body any) (*AuthResponse, error) {
	var out AuthResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&errorEnvelope{}).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	if out.Session != nil {
		c.setSession(out.Session)
	}
	return &out, nil
}

func (c *Client) SignUp(ctx context.Context, email, password, profileName string) (*AuthResponse, error) {
	return c.auth(ctx, "/v1/auth/signup", map[string]string{
		"email":        email,
		"password":     password,
		"profile_name": profileName,
	})
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.auth(ctx, "/v1/auth/login", map[string]string{"email": email, "password": password})
}

// Refresh exchanges the stored refresh token for a new session.
func (c *Client) Refresh(ctx context.Context) (*AuthResponse, error) {
	s := c.Session()
	if s == nil || s.RefreshToken == "" {
		return nil, fmt.Errorf("no session to refresh")
	}
	return c.auth(ctx, "/v1/auth/refresh", map[string]string{"refresh_token": s.RefreshToken})
}

// SignOut revokes the session server-side and forgets it locally.
func (c *Client) SignOut(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"access_token": s.AccessToken}).
		SetError(&errorEnvelope{}).
		Post("/v1/auth/logout")
	if err != nil {
		return fmt.Errorf("post /v1/auth/logout: %w", err)
	}
	c.setSession(nil)
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

// bearer returns a usable access token, refreshing first when needed.
// It returns "" when there is no session.
func (c *Client) bearer(ctx context.Context) (string, error) {
	s := c.Session()
	if s == nil {
		return "", nil
	}
	if s.NeedsRefresh(c.now(), c.leeway) {
		if _, err := c.Refresh(ctx); err != nil {
			return "", fmt.Errorf("refresh session: %w", err)
		}
		s = c.Session()
	}
	return s.AccessToken, nil
}

type TranscribeOptions struct {
	ModelID        string
	LanguageCode   string
	Temperature    *float64
	Diarize        *bool
	TagAudioEvents *bool
	Keyterms       []string
}

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TranscribeResult struct {
	RequestID  string `json:"request_id"`
	Transcript struct {
		RawText   string `json:"raw_text"`
		CleanText string `json:"clean_text"`
	} `json:"transcript"`
	Provider struct {
		STT struct {
			Name    string `json:"name"`
			ModelID string `json:"model_id"`
		} `json:"stt"`
		Rewrite struct {
			Name    string `json:"name"`
			ModelID string `json:"model_id"`
			Status  string `json:"status"`
			Error   string `json:"error,omitempty"`
		} `json:"rewrite"`
	} `json:"provider"`
	Timing struct {
		STTLatencyMs     int64 `json:"stt_latency_ms"`
		RewriteLatencyMs int64 `json:"rewrite_latency_ms"`
		TotalLatencyMs   int64 `json:"total_latency_ms"`
	} `json:"timing"`
	Warnings []Warning `json:"warnings"`
}

// Transcribe uploads audio and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, fileName string, audio []byte, opts TranscribeOptions) (*TranscribeResult, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	var out TranscribeResult
	req := c.http.R().
		SetContext(ctx).
		SetFileReader("file", fileName, bytes.NewReader(audio)).
		SetFormDataFromValues(formValues(opts)).
		SetResult(&out).
		SetError(&errorEnvelope{})
	if token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Post("/v1/voice-to-text")
	if err != nil {
		return nil, fmt.Errorf("post /v1/voice-to-text: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return &out, nil
}

func formValues(opts TranscribeOptions) url.Values {
	v := url.Values{}
	if opts.ModelID != "" {
		v.Set("model_id", opts.ModelID)
	}
	if opts.LanguageCode != "" {
		v.Set("language_code", opts.LanguageCode)
	}
	if opts.Temperature != nil {
		v.Set("temperature", strconv.FormatFloat(*opts.Temperature, 'f', -1, 64))
	}
	if opts.Diarize != nil {
		v.Set("diarize", strconv.FormatBool(*opts.Diarize))
	}
	if opts.TagAudioEvents != nil {
		v.Set("tag_audio_events", strconv.FormatBool(*opts.TagAudioEvents))
	}
	for _, k := range opts.Keyterms {
		v.Add("keyterms", k)
	}
	return v
}
